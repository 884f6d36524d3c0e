// Package images loads the product photos a run starts from. References may
// be local file paths or http(s) URLs; remote images are downloaded in
// parallel.
package images

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// MaxImages is the cap on input photos per run.
const MaxImages = 4

// Fetcher resolves image references into raw image bytes.
type Fetcher struct {
	httpClient *resty.Client
}

// NewFetcher creates a fetcher with the given HTTP timeout for remote
// references.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		httpClient: resty.New().SetTimeout(timeout),
	}
}

// Fetch loads 1 to MaxImages references. Individual unreadable references
// are skipped with a warning; it is an error when no reference could be
// read, or when the count is out of range.
func (f *Fetcher) Fetch(ctx context.Context, refs []string) ([][]byte, error) {
	if len(refs) == 0 {
		return nil, fmt.Errorf("no image references provided")
	}
	if len(refs) > MaxImages {
		return nil, fmt.Errorf("too many image references: %d (max %d)", len(refs), MaxImages)
	}

	results := make([][]byte, len(refs))
	g, ctx := errgroup.WithContext(ctx)
	for i := range refs {
		g.Go(func() error {
			data, err := f.fetchOne(ctx, refs[i])
			if err != nil {
				// Tolerate individual failures; the caller only needs one
				// readable image.
				log.Warn().Err(err).Str("ref", refs[i]).Msg("failed to read image reference")
				return nil
			}
			results[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var images [][]byte
	for _, data := range results {
		if len(data) > 0 {
			images = append(images, data)
		}
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("none of the %d image references could be read", len(refs))
	}
	return images, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		resp, err := f.httpClient.R().SetContext(ctx).Get(ref)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("image download failed: %s (status: %d)", ref, resp.StatusCode())
		}
		return resp.Body(), nil
	}
	return os.ReadFile(ref)
}
