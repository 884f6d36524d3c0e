package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mlenz/resell-scout/internal/kleinanzeigen"
	"github.com/mlenz/resell-scout/internal/pipeline"
)

func main() {
	query := flag.String("q", "", "Search query")
	minItems := flag.Int("min-items", 10, "Stop paginating after this many listings")
	baseURL := flag.String("base-url", kleinanzeigen.DefaultBaseURL, "Marketplace base URL")
	rawJSON := flag.Bool("json", false, "Output raw JSON only")
	flag.Parse()

	if *query == "" {
		fmt.Fprintln(os.Stderr, "Usage: search-test -q <query> [-min-items N] [-json]")
		os.Exit(2)
	}

	client := kleinanzeigen.NewClient(kleinanzeigen.ClientOpts{
		BaseURL:  *baseURL,
		MinItems: *minItems,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	listings, err := client.Search(ctx, pipeline.SearchQuery{Query: *query, Iteration: 1})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *rawJSON {
		jsonBytes, _ := json.MarshalIndent(listings, "", "  ")
		fmt.Println(string(jsonBytes))
		return
	}

	fmt.Printf("Found %d listings\n\n", len(listings))
	for i, l := range listings {
		price := "N/A"
		if l.Price != nil {
			price = fmt.Sprintf("%.2f %s", l.Price.Amount, l.Price.Currency)
		}
		fmt.Printf("%d. %s - %s\n", i+1, l.Title, price)
		if l.Condition != "" {
			fmt.Printf("   condition: %s\n", l.Condition)
		}
		fmt.Printf("   %s\n", l.URL)
	}
}
