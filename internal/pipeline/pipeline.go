// Package pipeline implements the iterative refinement loop that drives a
// resale price estimate: analyze the product photos once, then repeatedly
// generate a search query, search the marketplace and evaluate the results
// until enough matching listings are found or the iteration cap is reached.
//
// The loop is strictly sequential and holds no state beyond the iteration
// count, the last feedback and the best-result pointer. All external work
// happens behind the collaborator interfaces below.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/mlenz/resell-scout/internal/price"
	"github.com/rs/zerolog/log"
)

// ImageAnalyzer turns image references (file paths or URLs) into a product
// description. Any failure is treated as fatal for the run.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, refs []string) (*ProductDescription, error)
}

// QueryGenerator produces a marketplace search query from the product
// description, optionally taking the previous iteration's evaluator feedback
// into account. Feedback is empty on the first iteration.
type QueryGenerator interface {
	Generate(ctx context.Context, product *ProductDescription, feedback string, iteration int) (SearchQuery, error)
}

// MarketSearcher runs a search query against the marketplace. Zero results
// is a valid outcome, not an error; network or parse failures return a
// *ScrapeError.
type MarketSearcher interface {
	Search(ctx context.Context, query SearchQuery) ([]Listing, error)
}

// MatchEvaluator scores listings against the product description and decides
// whether enough matches were found. Feedback must be non-empty whenever the
// verdict is insufficient so the query generator has signal to act on.
type MatchEvaluator interface {
	Evaluate(ctx context.Context, product *ProductDescription, listings []Listing, iteration int) (*EvaluationResult, error)
}

// Config holds the loop's own settings. Sufficiency thresholds live in the
// evaluator implementation; the loop only inspects its verdict.
type Config struct {
	MaxIterations int
}

// Loop coordinates one refinement run.
type Loop struct {
	analyzer      ImageAnalyzer
	queries       QueryGenerator
	market        MarketSearcher
	judge         MatchEvaluator
	maxIterations int
}

// New validates the configuration and builds a loop. An invalid iteration
// cap is a *ConfigurationError.
func New(analyzer ImageAnalyzer, queries QueryGenerator, market MarketSearcher, judge MatchEvaluator, cfg Config) (*Loop, error) {
	if cfg.MaxIterations <= 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("max iterations must be positive, got %d", cfg.MaxIterations)}
	}
	if analyzer == nil || queries == nil || market == nil || judge == nil {
		return nil, &ConfigurationError{Reason: "all collaborators must be set"}
	}
	return &Loop{
		analyzer:      analyzer,
		queries:       queries,
		market:        market,
		judge:         judge,
		maxIterations: cfg.MaxIterations,
	}, nil
}

// Run executes the full pipeline for the given image references.
//
// Only image analysis failures abort the run (as *AnalysisError). Search and
// evaluation failures are absorbed into the iteration's result; running out
// of iterations is normal termination with Sufficient=false, never an error.
func (l *Loop) Run(ctx context.Context, refs []string) (*RunResult, error) {
	product, err := l.analyzer.Analyze(ctx, refs)
	if err != nil {
		if ae, ok := err.(*AnalysisError); ok {
			return nil, ae
		}
		return nil, &AnalysisError{Err: err}
	}

	log.Info().
		Str("name", product.Name).
		Str("brand", product.Brand).
		Str("model", product.Model).
		Str("condition", product.Condition).
		Msg("product identified from images")

	var (
		evaluations  []EvaluationResult
		queryHistory []SearchQuery
		lastQuery    SearchQuery
		feedback     string
		bestIdx      = -1
		sufficient   bool
	)

	for i := 1; i <= l.maxIterations; i++ {
		query := l.generateQuery(ctx, product, feedback, i, lastQuery)
		lastQuery = query
		queryHistory = append(queryHistory, query)

		log.Info().Int("iteration", i).Str("query", query.Query).Msg("searching marketplace")

		eval := l.searchAndEvaluate(ctx, product, query, i)
		evaluations = append(evaluations, *eval)

		log.Info().
			Int("iteration", i).
			Int("listings", len(eval.Scores)).
			Int("matches", eval.MatchCount()).
			Bool("sufficient", eval.Sufficient).
			Msg("iteration evaluated")

		// Highest match count wins; ties go to the earliest iteration, so
		// only a strictly better count moves the pointer.
		if bestIdx == -1 || eval.MatchCount() > evaluations[bestIdx].MatchCount() {
			bestIdx = len(evaluations) - 1
		}

		if eval.Sufficient {
			bestIdx = len(evaluations) - 1
			sufficient = true
			break
		}

		feedback = eval.Feedback
		if feedback == "" {
			feedback = "no matching listings were identified; refine the query with the item's key attributes"
		}
	}

	best := evaluations[bestIdx]
	matches := best.Matches()

	var amounts []float64
	for _, m := range matches {
		if m.Price != nil {
			amounts = append(amounts, m.Price.Amount)
		}
	}

	result := &RunResult{
		Product:       product,
		FinalQuery:    queryHistory[bestIdx],
		QueryHistory:  queryHistory,
		Matches:       matches,
		Prices:        price.Summarize(amounts),
		Iterations:    len(evaluations),
		Sufficient:    sufficient,
		BestIteration: best.Iteration,
		Evaluations:   evaluations,
	}

	log.Info().
		Int("iterations", result.Iterations).
		Int("bestIteration", result.BestIteration).
		Bool("sufficient", result.Sufficient).
		Int("matches", len(result.Matches)).
		Msg("pipeline run finished")

	return result, nil
}

// generateQuery asks the generator for the next query, falling back to the
// previous query or a deterministic one built from the product fields when
// generation fails. Query generation is best effort; a failed generator must
// not cost an iteration.
func (l *Loop) generateQuery(ctx context.Context, product *ProductDescription, feedback string, iteration int, prev SearchQuery) SearchQuery {
	query, err := l.queries.Generate(ctx, product, feedback, iteration)
	if err == nil && strings.TrimSpace(query.Query) != "" {
		query.Iteration = iteration
		return query
	}
	if err != nil {
		log.Warn().Err(err).Int("iteration", iteration).Msg("query generation failed, using fallback")
	}
	if prev.Query != "" {
		return SearchQuery{Query: prev.Query, Iteration: iteration}
	}
	return SearchQuery{Query: FallbackQuery(product), Iteration: iteration}
}

// searchAndEvaluate runs one Search -> Evaluate cycle, absorbing scraper and
// evaluator failures into the returned result.
func (l *Loop) searchAndEvaluate(ctx context.Context, product *ProductDescription, query SearchQuery, iteration int) *EvaluationResult {
	listings, err := l.market.Search(ctx, query)
	if err != nil {
		log.Warn().Err(err).Int("iteration", iteration).Msg("marketplace search failed")
		return &EvaluationResult{
			Iteration:  iteration,
			Sufficient: false,
			Feedback:   fmt.Sprintf("the marketplace search failed (%v); try a simpler or slightly broader query", err),
		}
	}

	eval, err := l.judge.Evaluate(ctx, product, listings, iteration)
	if err != nil {
		log.Warn().Err(err).Int("iteration", iteration).Msg("listing evaluation failed")
		return &EvaluationResult{
			Iteration:  iteration,
			Sufficient: false,
			Feedback:   "the listings could not be evaluated; rephrase the query around the item's name, brand and model",
		}
	}

	eval.Iteration = iteration
	if !eval.Sufficient && eval.Feedback == "" {
		eval.Feedback = "not enough matching listings; make the query more specific to the exact model"
	}
	return eval
}

// FallbackQuery builds a search query directly from the product fields. Used
// when the query generator is unavailable or returns nothing usable.
func FallbackQuery(product *ProductDescription) string {
	parts := []string{product.Brand, product.Model}
	if product.Model == "" {
		parts = append(parts, product.Name)
	}
	var fields []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			fields = append(fields, p)
		}
	}
	if len(fields) == 0 {
		return strings.TrimSpace(product.Name)
	}
	return strings.Join(fields, " ")
}
