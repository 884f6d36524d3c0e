package pipeline

import "fmt"

// AnalysisError means the input images could not be turned into a product
// description. It is fatal: the run aborts before any search iteration.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("image analysis failed: %v", e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// ConfigurationError means the loop was constructed with invalid settings.
// It is fatal and raised before the first state transition.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

// ScrapeError means a marketplace search failed on the network or parsing
// level. The loop absorbs it as an empty-listing iteration.
type ScrapeError struct {
	Query string
	Err   error
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("marketplace search for %q failed: %v", e.Query, e.Err)
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// EvaluationError means the evaluator could not score the listings. The loop
// absorbs it as an insufficient iteration with generic feedback.
type EvaluationError struct {
	Err error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("listing evaluation failed: %v", e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
