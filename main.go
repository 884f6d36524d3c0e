package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lithammer/dedent"
	"github.com/mlenz/resell-scout/config"
	"github.com/mlenz/resell-scout/internal/images"
	"github.com/mlenz/resell-scout/internal/kleinanzeigen"
	"github.com/mlenz/resell-scout/internal/llm"
	"github.com/mlenz/resell-scout/internal/persona"
	"github.com/mlenz/resell-scout/internal/pipeline"
	"github.com/mlenz/resell-scout/internal/report"
	"github.com/mlenz/resell-scout/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const logFileName = "resell-scout.log"

var usageText = dedent.Dedent(`
	Usage: resell-scout <image> [image...]

	Estimates a fair resale price for a used item from up to %d photos by
	searching kleinanzeigen.de for comparable listings. Images can be local
	file paths or http(s) URLs.

	Configuration is read from RESELL_* environment variables and from
	%s in the user config directory.`)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	config.LoadEnvFile()

	// JOURNAL_STREAM is set by systemd when running as a service.
	// Skip file logging under systemd (journald handles it, and ProtectSystem=strict
	// makes the working directory read-only).
	if _, underSystemd := os.LookupEnv("JOURNAL_STREAM"); underSystemd {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open log file")
		}
		defer logFile.Close()

		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}
		fileWriter := zerolog.ConsoleWriter{Out: logFile, NoColor: true}
		multiWriter := io.MultiWriter(consoleWriter, fileWriter)
		log.Logger = log.Output(multiWriter)
	}

	refs := os.Args[1:]
	if len(refs) == 0 {
		fmt.Fprintln(os.Stderr, strings.TrimSpace(fmt.Sprintf(usageText, images.MaxImages, config.EnvFileName)))
		os.Exit(2)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, refs); err != nil {
		var ce *pipeline.ConfigurationError
		if errors.As(err, &ce) {
			log.Fatal().Err(err).Msg("invalid configuration")
		}
		log.Fatal().Err(err).Msg("price estimation failed")
	}
}

func run(ctx context.Context, cfg *config.Config, refs []string) error {
	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer store.Close()
	log.Info().Str("dbPath", cfg.DBPath).Msg("store initialized")

	personas, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		return err
	}

	gemini, err := llm.NewGemini(ctx, llm.GeminiOpts{
		APIKey:        cfg.GeminiAPIKey,
		Personas:      personas,
		MinMatches:    cfg.MinMatches,
		MinMatchRatio: cfg.MinMatchRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize gemini: %w", err)
	}

	httpTimeout := time.Duration(cfg.HTTPTimeoutSec) * time.Second
	analyzer := llm.NewProductAnalyzer(
		images.NewFetcher(httpTimeout),
		llm.NewCachedAnalyzer(gemini, store),
	)

	scraper := kleinanzeigen.NewClient(kleinanzeigen.ClientOpts{
		BaseURL:  cfg.MarketplaceURL,
		Lang:     cfg.Lang,
		MinItems: cfg.MinItems,
		Timeout:  httpTimeout,
	})

	loop, err := pipeline.New(analyzer, gemini, scraper, gemini, pipeline.Config{
		MaxIterations: cfg.MaxIterations,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	result, err := loop.Run(ctx, refs)
	if err != nil {
		return err
	}

	runDir, err := report.NewWriter(cfg.OutputDir).WriteRun(result)
	if err != nil {
		return err
	}

	rec := &storage.RunRecord{
		StartedAt:   start,
		ProductName: result.Product.Name,
		Query:       result.FinalQuery.Query,
		Median:      result.Prices.Median,
		Min:         result.Prices.Min,
		Max:         result.Prices.Max,
		SampleCount: result.Prices.Count,
		Iterations:  result.Iterations,
		Sufficient:  result.Sufficient,
	}
	if _, err := store.SaveRun(rec); err != nil {
		log.Warn().Err(err).Msg("failed to record run in history")
	}

	printSummary(result, runDir)
	return nil
}

func printSummary(result *pipeline.RunResult, runDir string) {
	fmt.Printf("Item:       %s\n", result.Product.Name)
	if result.Product.Condition != "" {
		fmt.Printf("Condition:  %s\n", result.Product.Condition)
	}
	fmt.Printf("Query:      %s\n", result.FinalQuery.Query)
	fmt.Printf("Iterations: %d (best: %d)\n", result.Iterations, result.BestIteration)
	fmt.Printf("Matches:    %d\n", len(result.Matches))

	if result.Prices.Median != nil {
		fmt.Printf("Median:     %.2f EUR\n", *result.Prices.Median)
		fmt.Printf("Range:      %.2f - %.2f EUR\n", *result.Prices.Min, *result.Prices.Max)
	} else {
		fmt.Println("Median:     no comparable prices found")
	}
	if !result.Sufficient {
		fmt.Println("Note:       match confidence is low, treat the estimate with care")
	}
	fmt.Printf("Report:     %s\n", runDir)
}
