package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mlenz/resell-scout/config"
	"github.com/mlenz/resell-scout/internal/storage"
)

func main() {
	dbPath := flag.String("db", "", "Database path (defaults to RESELL_DB_PATH or resell.db)")
	limit := flag.Int("n", 20, "Number of runs to show")
	flag.Parse()

	config.LoadEnvFile()
	path := *dbPath
	if path == "" {
		path = os.Getenv("RESELL_DB_PATH")
	}
	if path == "" {
		path = config.DefaultDBPath
	}

	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	runs, err := store.RecentRuns(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return
	}

	for _, r := range runs {
		median := "n/a"
		if r.Median != nil {
			median = fmt.Sprintf("%.2f EUR", *r.Median)
		}
		marker := " "
		if !r.Sufficient {
			marker = "?"
		}
		fmt.Printf("%s %s  %-40s  median %-12s  %d samples, %d iterations  (%q)\n",
			marker, r.StartedAt.Format("2006-01-02 15:04"), truncate(r.ProductName, 40), median, r.SampleCount, r.Iterations, r.Query)
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
