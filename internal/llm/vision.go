package llm

import (
	"context"

	"github.com/mlenz/resell-scout/internal/pipeline"
)

// Usage contains token usage and cost information for one model call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	CostUSD      float64
}

// VisionAnalyzer turns raw image bytes into a product description.
type VisionAnalyzer interface {
	// AnalyzeImages analyzes one or more photos of the same item together.
	AnalyzeImages(ctx context.Context, images [][]byte) (*pipeline.ProductDescription, error)
}

// ImageFetcher resolves image references into raw bytes.
type ImageFetcher interface {
	Fetch(ctx context.Context, refs []string) ([][]byte, error)
}

// ProductAnalyzer implements pipeline.ImageAnalyzer by fetching the
// referenced images and running them through a vision analyzer.
type ProductAnalyzer struct {
	fetcher ImageFetcher
	vision  VisionAnalyzer
}

// NewProductAnalyzer wires a fetcher and a vision analyzer together.
func NewProductAnalyzer(fetcher ImageFetcher, vision VisionAnalyzer) *ProductAnalyzer {
	return &ProductAnalyzer{fetcher: fetcher, vision: vision}
}

// Analyze implements pipeline.ImageAnalyzer. Any failure here aborts the
// run, so everything is wrapped as *pipeline.AnalysisError.
func (a *ProductAnalyzer) Analyze(ctx context.Context, refs []string) (*pipeline.ProductDescription, error) {
	images, err := a.fetcher.Fetch(ctx, refs)
	if err != nil {
		return nil, &pipeline.AnalysisError{Err: err}
	}

	product, err := a.vision.AnalyzeImages(ctx, images)
	if err != nil {
		return nil, &pipeline.AnalysisError{Err: err}
	}
	return product, nil
}
