package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mlenz/resell-scout/internal/price"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeAnalyzer struct {
	product *ProductDescription
	err     error
	calls   int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, refs []string) (*ProductDescription, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.product, nil
}

type fakeGenerator struct {
	calls     int
	feedbacks []string
	err       error
}

func (f *fakeGenerator) Generate(ctx context.Context, product *ProductDescription, feedback string, iteration int) (SearchQuery, error) {
	f.calls++
	f.feedbacks = append(f.feedbacks, feedback)
	if f.err != nil {
		return SearchQuery{}, f.err
	}
	return SearchQuery{Query: fmt.Sprintf("query %d", iteration), Iteration: iteration}, nil
}

type fakeSearcher struct {
	// perIteration[i] is the result of call i+1; an entry with err set fails
	// that call with a ScrapeError.
	perIteration []searchStep
	calls        int
}

type searchStep struct {
	listings []Listing
	err      error
}

func (f *fakeSearcher) Search(ctx context.Context, query SearchQuery) ([]Listing, error) {
	step := searchStep{}
	if f.calls < len(f.perIteration) {
		step = f.perIteration[f.calls]
	}
	f.calls++
	if step.err != nil {
		return nil, &ScrapeError{Query: query.Query, Err: step.err}
	}
	return step.listings, nil
}

type fakeEvaluator struct {
	// results[i] is returned for call i+1; the last entry repeats.
	results []*EvaluationResult
	errs    []error
	calls   int
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, product *ProductDescription, listings []Listing, iteration int) (*EvaluationResult, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	res := *f.results[idx]
	return &res, nil
}

func matchListings(n int) []ListingScore {
	scores := make([]ListingScore, n)
	for i := range scores {
		amount := float64((i + 1) * 10)
		scores[i] = ListingScore{
			Listing: Listing{
				ID:    fmt.Sprintf("l%d", i+1),
				Title: "Test item",
				Price: &price.Price{Amount: amount, Currency: "EUR"},
			},
			Score: 0.9,
			Match: true,
		}
	}
	return scores
}

func insufficientEval(matches int, feedback string) *EvaluationResult {
	return &EvaluationResult{Scores: matchListings(matches), Sufficient: false, Feedback: feedback}
}

func sufficientEval(matches int) *EvaluationResult {
	return &EvaluationResult{Scores: matchListings(matches), Sufficient: true}
}

func testProduct() *ProductDescription {
	return &ProductDescription{Name: "Pelihiiri", Brand: "Logitech", Model: "G Pro X Superlight", Condition: "used"}
}

func newTestLoop(t *testing.T, gen *fakeGenerator, search *fakeSearcher, eval *fakeEvaluator, maxIterations int) *Loop {
	t.Helper()
	loop, err := New(&fakeAnalyzer{product: testProduct()}, gen, search, eval, Config{MaxIterations: maxIterations})
	require.NoError(t, err)
	return loop
}

// --- construction ---

func TestNew_InvalidMaxIterations(t *testing.T) {
	for _, n := range []int{0, -1} {
		_, err := New(&fakeAnalyzer{}, &fakeGenerator{}, &fakeSearcher{}, &fakeEvaluator{}, Config{MaxIterations: n})
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr, "max iterations %d", n)
	}
}

func TestNew_MissingCollaborator(t *testing.T) {
	_, err := New(nil, &fakeGenerator{}, &fakeSearcher{}, &fakeEvaluator{}, Config{MaxIterations: 3})
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

// --- analysis failures ---

func TestRun_AnalysisFailureAborts(t *testing.T) {
	analyzer := &fakeAnalyzer{err: &AnalysisError{Err: errors.New("no images provided")}}
	gen := &fakeGenerator{}
	loop, err := New(analyzer, gen, &fakeSearcher{}, &fakeEvaluator{results: []*EvaluationResult{sufficientEval(3)}}, Config{MaxIterations: 3})
	require.NoError(t, err)

	res, err := loop.Run(context.Background(), nil)

	assert.Nil(t, res)
	var analysisErr *AnalysisError
	require.ErrorAs(t, err, &analysisErr)
	// Zero iterations recorded: the generator was never consulted.
	assert.Equal(t, 0, gen.calls)
}

func TestRun_AnalysisFailureWrapsPlainError(t *testing.T) {
	analyzer := &fakeAnalyzer{err: errors.New("boom")}
	loop, err := New(analyzer, &fakeGenerator{}, &fakeSearcher{}, &fakeEvaluator{results: []*EvaluationResult{sufficientEval(3)}}, Config{MaxIterations: 3})
	require.NoError(t, err)

	_, err = loop.Run(context.Background(), []string{"a.jpg"})

	var analysisErr *AnalysisError
	require.ErrorAs(t, err, &analysisErr)
	assert.ErrorContains(t, err, "boom")
}

// --- termination ---

func TestRun_StopsOnSufficiency(t *testing.T) {
	gen := &fakeGenerator{}
	eval := &fakeEvaluator{results: []*EvaluationResult{
		insufficientEval(1, "broaden the query"),
		sufficientEval(4),
	}}
	loop := newTestLoop(t, gen, &fakeSearcher{}, eval, 5)

	res, err := loop.Run(context.Background(), []string{"a.jpg"})
	require.NoError(t, err)

	assert.True(t, res.Sufficient)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 2, res.BestIteration)
	// No further GenerateQuery calls after the sufficient iteration.
	assert.Equal(t, 2, gen.calls)
}

func TestRun_TerminatesAtCap(t *testing.T) {
	eval := &fakeEvaluator{results: []*EvaluationResult{insufficientEval(0, "nothing matched")}}
	loop := newTestLoop(t, &fakeGenerator{}, &fakeSearcher{}, eval, 3)

	res, err := loop.Run(context.Background(), []string{"a.jpg"})
	require.NoError(t, err)

	// Exhausting the cap is normal termination, not an error.
	assert.False(t, res.Sufficient)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, eval.calls)
}

func TestRun_FeedbackCarriedForward(t *testing.T) {
	gen := &fakeGenerator{}
	eval := &fakeEvaluator{results: []*EvaluationResult{
		insufficientEval(0, "add the model number"),
		insufficientEval(0, "drop the color"),
	}}
	loop := newTestLoop(t, gen, &fakeSearcher{}, eval, 3)

	_, err := loop.Run(context.Background(), []string{"a.jpg"})
	require.NoError(t, err)

	require.Len(t, gen.feedbacks, 3)
	assert.Equal(t, "", gen.feedbacks[0], "first iteration has no feedback")
	assert.Equal(t, "add the model number", gen.feedbacks[1])
	assert.Equal(t, "drop the color", gen.feedbacks[2])
}

// --- tie-break policy ---

func TestRun_TieBreak_HigherMatchCountWins(t *testing.T) {
	eval := &fakeEvaluator{results: []*EvaluationResult{
		insufficientEval(2, "feedback"),
		insufficientEval(3, "feedback"),
	}}
	loop := newTestLoop(t, &fakeGenerator{}, &fakeSearcher{}, eval, 2)

	res, err := loop.Run(context.Background(), []string{"a.jpg"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.BestIteration)
	assert.Len(t, res.Matches, 3)
	assert.Equal(t, "query 2", res.FinalQuery.Query)
}

func TestRun_TieBreak_EqualCountsEarliestWins(t *testing.T) {
	eval := &fakeEvaluator{results: []*EvaluationResult{
		insufficientEval(3, "feedback"),
		insufficientEval(3, "feedback"),
	}}
	loop := newTestLoop(t, &fakeGenerator{}, &fakeSearcher{}, eval, 2)

	res, err := loop.Run(context.Background(), []string{"a.jpg"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.BestIteration)
	assert.Equal(t, "query 1", res.FinalQuery.Query)
}

// --- empty searches and price summary ---

func TestRun_EmptySearchesYieldEmptySummary(t *testing.T) {
	eval := &fakeEvaluator{results: []*EvaluationResult{insufficientEval(0, "nothing found")}}
	loop := newTestLoop(t, &fakeGenerator{}, &fakeSearcher{}, eval, 3)

	res, err := loop.Run(context.Background(), []string{"a.jpg"})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Prices.Count)
	assert.Nil(t, res.Prices.Median)
	assert.Empty(t, res.Matches)
}

func TestRun_PriceSummaryFromMatches(t *testing.T) {
	eval := &fakeEvaluator{results: []*EvaluationResult{sufficientEval(3)}}
	loop := newTestLoop(t, &fakeGenerator{}, &fakeSearcher{}, eval, 3)

	res, err := loop.Run(context.Background(), []string{"a.jpg"})
	require.NoError(t, err)

	// Match prices are 10, 20, 30.
	assert.Equal(t, 3, res.Prices.Count)
	require.NotNil(t, res.Prices.Median)
	assert.Equal(t, 20.0, *res.Prices.Median)
}

func TestRun_NilPricesExcludedFromSummary(t *testing.T) {
	scores := matchListings(3)
	scores[1].Listing.Price = nil // unparseable price
	eval := &fakeEvaluator{results: []*EvaluationResult{{Scores: scores, Sufficient: true}}}
	loop := newTestLoop(t, &fakeGenerator{}, &fakeSearcher{}, eval, 3)

	res, err := loop.Run(context.Background(), []string{"a.jpg"})
	require.NoError(t, err)

	assert.Len(t, res.Matches, 3)
	assert.Equal(t, 2, res.Prices.Count)
}

// --- absorbed failures ---

func TestRun_ScrapeErrorDoesNotAbort(t *testing.T) {
	gen := &fakeGenerator{}
	search := &fakeSearcher{perIteration: []searchStep{
		{},
		{err: errors.New("connection refused")},
		{},
	}}
	eval := &fakeEvaluator{results: []*EvaluationResult{insufficientEval(0, "no matches yet")}}
	loop := newTestLoop(t, gen, search, eval, 3)

	res, err := loop.Run(context.Background(), []string{"a.jpg"})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 3, search.calls)
	// Iteration 2 was synthesized by the loop, not the evaluator.
	assert.Equal(t, 2, eval.calls)

	// Iteration 3's query generation saw feedback reflecting the failure.
	require.Len(t, gen.feedbacks, 3)
	assert.Contains(t, gen.feedbacks[2], "search failed")

	// The synthetic iteration is recorded with zero listings.
	assert.Empty(t, res.Evaluations[1].Scores)
	assert.False(t, res.Evaluations[1].Sufficient)
	assert.Contains(t, res.Evaluations[1].Feedback, "connection refused")
}

func TestRun_EvaluationErrorAbsorbed(t *testing.T) {
	eval := &fakeEvaluator{
		results: []*EvaluationResult{insufficientEval(0, ""), sufficientEval(3)},
		errs:    []error{&EvaluationError{Err: errors.New("model overloaded")}},
	}
	loop := newTestLoop(t, &fakeGenerator{}, &fakeSearcher{}, eval, 3)

	res, err := loop.Run(context.Background(), []string{"a.jpg"})
	require.NoError(t, err)

	// Iteration 1 absorbed the failure with generic feedback, iteration 2
	// came from the evaluator again.
	assert.False(t, res.Evaluations[0].Sufficient)
	assert.NotEmpty(t, res.Evaluations[0].Feedback)
	assert.True(t, res.Sufficient)
}

func TestRun_GeneratorFailureFallsBack(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("llm unavailable")}
	eval := &fakeEvaluator{results: []*EvaluationResult{sufficientEval(3)}}
	loop := newTestLoop(t, gen, &fakeSearcher{}, eval, 2)

	res, err := loop.Run(context.Background(), []string{"a.jpg"})
	require.NoError(t, err)

	// The fallback query is built from brand and model.
	assert.True(t, strings.Contains(res.FinalQuery.Query, "Logitech"))
	assert.True(t, strings.Contains(res.FinalQuery.Query, "G Pro X Superlight"))
}

// --- misc ---

func TestRun_QueryHistoryRetained(t *testing.T) {
	eval := &fakeEvaluator{results: []*EvaluationResult{insufficientEval(0, "feedback")}}
	loop := newTestLoop(t, &fakeGenerator{}, &fakeSearcher{}, eval, 3)

	res, err := loop.Run(context.Background(), []string{"a.jpg"})
	require.NoError(t, err)

	require.Len(t, res.QueryHistory, 3)
	for i, q := range res.QueryHistory {
		assert.Equal(t, i+1, q.Iteration)
	}
}

func TestFallbackQuery(t *testing.T) {
	tests := []struct {
		name    string
		product ProductDescription
		want    string
	}{
		{
			name:    "brand and model",
			product: ProductDescription{Name: "Maus", Brand: "Logitech", Model: "MX Master 3"},
			want:    "Logitech MX Master 3",
		},
		{
			name:    "no model falls back to name",
			product: ProductDescription{Name: "Ledersofa", Brand: "IKEA"},
			want:    "IKEA Ledersofa",
		},
		{
			name:    "name only",
			product: ProductDescription{Name: "Fahrrad"},
			want:    "Fahrrad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FallbackQuery(&tt.product))
		})
	}
}
