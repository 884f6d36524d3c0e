package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mlenz/resell-scout/config"
	"github.com/mlenz/resell-scout/internal/images"
	"github.com/mlenz/resell-scout/internal/llm"
	"github.com/mlenz/resell-scout/internal/persona"
)

func main() {
	flag.Parse()
	refs := flag.Args()
	if len(refs) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: vision-test <image> [image...]")
		os.Exit(2)
	}

	config.LoadEnvFile()
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY is not set")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	gemini, err := llm.NewGemini(ctx, llm.GeminiOpts{
		APIKey:   apiKey,
		Personas: persona.Defaults(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	analyzer := llm.NewProductAnalyzer(images.NewFetcher(15*time.Second), gemini)

	product, err := analyzer.Analyze(ctx, refs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	jsonBytes, _ := json.MarshalIndent(product, "", "  ")
	fmt.Println(string(jsonBytes))
}
