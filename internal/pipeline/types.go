package pipeline

import (
	"github.com/mlenz/resell-scout/internal/price"
)

// ProductDescription is the structured result of analyzing the input photos.
// It is produced exactly once per run and never mutated afterwards.
type ProductDescription struct {
	Name       string            `json:"name"`
	Brand      string            `json:"brand"`
	Model      string            `json:"model"`
	Color      string            `json:"color"`
	Condition  string            `json:"condition"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SearchQuery is a single marketplace search attempt. A new value is created
// each iteration; superseded queries are kept in RunResult.QueryHistory.
type SearchQuery struct {
	Query     string `json:"query"`
	Iteration int    `json:"iteration"`
}

// Listing is one candidate marketplace item returned by a search. Price is
// nil when the listing's price text could not be parsed ("Zu verschenken",
// "Auf Anfrage").
type Listing struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Price       *price.Price      `json:"price,omitempty"`
	Condition   string            `json:"condition,omitempty"`
	URL         string            `json:"url"`
	Description string            `json:"description,omitempty"`
	Raw         map[string]string `json:"raw,omitempty"`
}

// ListingScore is the evaluator's judgement of a single listing.
type ListingScore struct {
	Listing Listing `json:"listing"`
	Score   float64 `json:"score"` // 0..1
	Match   bool    `json:"match"`
	Reason  string  `json:"reason,omitempty"`
}

// EvaluationResult is the outcome of evaluating one iteration's listings
// against the product description.
type EvaluationResult struct {
	Iteration  int            `json:"iteration"`
	Scores     []ListingScore `json:"scores"`
	Sufficient bool           `json:"sufficient"`
	Feedback   string         `json:"feedback,omitempty"`
}

// MatchCount returns the number of listings classified as matches.
func (e *EvaluationResult) MatchCount() int {
	n := 0
	for _, s := range e.Scores {
		if s.Match {
			n++
		}
	}
	return n
}

// Matches returns the listings classified as matches, in evaluation order.
func (e *EvaluationResult) Matches() []Listing {
	var out []Listing
	for _, s := range e.Scores {
		if s.Match {
			out = append(out, s.Listing)
		}
	}
	return out
}

// RunResult is the externally visible artifact of a pipeline run. It is
// assembled once at loop termination and immutable afterwards.
type RunResult struct {
	Product       *ProductDescription `json:"product"`
	FinalQuery    SearchQuery         `json:"final_query"`
	QueryHistory  []SearchQuery       `json:"query_history"`
	Matches       []Listing           `json:"matches"`
	Prices        price.Summary       `json:"prices"`
	Iterations    int                 `json:"iterations"`
	Sufficient    bool                `json:"sufficient"`
	BestIteration int                 `json:"best_iteration"`
	Evaluations   []EvaluationResult  `json:"evaluations"`
}
