// Package report persists the artifacts of a pricing run as JSON files,
// one timestamped directory per run plus "latest" copies in the base
// directory for quick inspection.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mlenz/resell-scout/internal/pipeline"
	"github.com/rs/zerolog/log"
)

// Writer writes run artifacts under a base directory.
type Writer struct {
	baseDir string
	now     func() time.Time
}

// NewWriter creates a writer rooted at baseDir. The directory is created
// on the first write.
func NewWriter(baseDir string) *Writer {
	return &Writer{baseDir: baseDir, now: time.Now}
}

// ItemPrice is the compact price summary artifact.
type ItemPrice struct {
	ItemName    string   `json:"item_name"`
	Condition   string   `json:"condition"`
	Description string   `json:"description"`
	Range       *Range   `json:"range"`
	Median      *float64 `json:"median"`
}

// Range is the min/max price span of the matched listings.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// FinalResult is the full run artifact. Matches holds the best iteration's
// matched listings (the price sample); AllMatches additionally collects
// matches from every iteration, deduplicated by listing ID.
type FinalResult struct {
	Product       *pipeline.ProductDescription `json:"product"`
	FinalQuery    string                       `json:"final_query"`
	QueryHistory  []string                     `json:"query_history"`
	Matches       []pipeline.Listing           `json:"matches"`
	AllMatches    []pipeline.Listing           `json:"all_matches"`
	MatchCount    int                          `json:"match_count"`
	PriceCount    int                          `json:"price_count"`
	Median        *float64                     `json:"median"`
	Min           *float64                     `json:"min"`
	Max           *float64                     `json:"max"`
	Iterations    int                          `json:"iterations"`
	BestIteration int                          `json:"best_iteration"`
	Sufficient    bool                         `json:"sufficient"`
	CreatedAt     time.Time                    `json:"created_at"`
}

// WriteRun writes all artifacts for one finished run and returns the run
// directory path.
//
// Layout:
//
//	<base>/research_20060102_150405/image_analysis.json
//	<base>/research_20060102_150405/evaluation_1.json ... evaluation_N.json
//	<base>/research_20060102_150405/final_result.json
//	<base>/research_20060102_150405/item_price.json
//	<base>/final_result.json   (latest copy)
//	<base>/item_price.json     (latest copy)
func (w *Writer) WriteRun(result *pipeline.RunResult) (string, error) {
	runDir := filepath.Join(w.baseDir, w.now().Format("research_20060102_150405"))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}

	if err := writeJSON(filepath.Join(runDir, "image_analysis.json"), result.Product); err != nil {
		return "", err
	}

	for _, eval := range result.Evaluations {
		name := fmt.Sprintf("evaluation_%d.json", eval.Iteration)
		if err := writeJSON(filepath.Join(runDir, name), eval); err != nil {
			return "", err
		}
	}

	final := buildFinalResult(result, w.now())
	if err := writeJSON(filepath.Join(runDir, "final_result.json"), final); err != nil {
		return "", err
	}

	itemPrice := buildItemPrice(result)
	if err := writeJSON(filepath.Join(runDir, "item_price.json"), itemPrice); err != nil {
		return "", err
	}

	// Latest copies in the base directory, overwritten on each run.
	if err := writeJSON(filepath.Join(w.baseDir, "final_result.json"), final); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(w.baseDir, "item_price.json"), itemPrice); err != nil {
		return "", err
	}

	log.Info().Str("dir", runDir).Int("evaluations", len(result.Evaluations)).Msg("run report written")
	return runDir, nil
}

func buildFinalResult(result *pipeline.RunResult, now time.Time) *FinalResult {
	history := make([]string, 0, len(result.QueryHistory))
	for _, q := range result.QueryHistory {
		history = append(history, q.Query)
	}

	return &FinalResult{
		Product:       result.Product,
		FinalQuery:    result.FinalQuery.Query,
		QueryHistory:  history,
		Matches:       result.Matches,
		AllMatches:    accumulateMatches(result.Evaluations),
		MatchCount:    len(result.Matches),
		PriceCount:    result.Prices.Count,
		Median:        result.Prices.Median,
		Min:           result.Prices.Min,
		Max:           result.Prices.Max,
		Iterations:    result.Iterations,
		BestIteration: result.BestIteration,
		Sufficient:    result.Sufficient,
		CreatedAt:     now,
	}
}

// accumulateMatches collects matched listings across all iterations,
// deduplicated by listing ID, in iteration order.
func accumulateMatches(evaluations []pipeline.EvaluationResult) []pipeline.Listing {
	var out []pipeline.Listing
	seen := map[string]bool{}
	for _, eval := range evaluations {
		for _, m := range eval.Matches() {
			if m.ID != "" && seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	return out
}

func buildItemPrice(result *pipeline.RunResult) *ItemPrice {
	ip := &ItemPrice{
		ItemName:  result.Product.Name,
		Condition: result.Product.Condition,
		Median:    result.Prices.Median,
	}

	var details []string
	if result.Product.Brand != "" {
		details = append(details, result.Product.Brand)
	}
	if result.Product.Model != "" {
		details = append(details, result.Product.Model)
	}
	if result.Product.Color != "" {
		details = append(details, result.Product.Color)
	}
	keys := make([]string, 0, len(result.Product.Attributes))
	for k := range result.Product.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		details = append(details, fmt.Sprintf("%s: %s", k, result.Product.Attributes[k]))
	}
	ip.Description = joinNonEmpty(details)

	if result.Prices.Min != nil && result.Prices.Max != nil {
		ip.Range = &Range{Min: *result.Prices.Min, Max: *result.Prices.Max}
	}

	return ip
}

func joinNonEmpty(parts []string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += p
	}
	return out
}

// writeJSON writes v as indented JSON via a temp file and rename, so a
// crash mid-write never leaves a truncated artifact behind.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize %s: %w", filepath.Base(path), err)
	}
	return nil
}
