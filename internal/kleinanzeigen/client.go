// Package kleinanzeigen implements the marketplace search against
// kleinanzeigen.de. There is no public API, so searches go through the
// regular HTML result pages; each result card carries enough data (title,
// price, link, snippet) that listing detail pages are not fetched.
package kleinanzeigen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mlenz/resell-scout/internal/pipeline"
	"github.com/rs/zerolog/log"
)

const DefaultBaseURL = "https://www.kleinanzeigen.de"

// Client searches kleinanzeigen.de result pages.
type Client struct {
	httpClient *resty.Client
	baseURL    string
	minItems   int
	maxPages   int
	pageDelay  time.Duration
}

// ClientOpts configures a Client. Zero values fall back to defaults.
type ClientOpts struct {
	BaseURL   string
	Lang      string        // preferred result language, sent as Accept-Language (default "de")
	MinItems  int           // stop paginating once this many listings were collected (default 10)
	MaxPages  int           // hard pagination cap (default 5)
	PageDelay time.Duration // polite delay between result pages (default 1s, 0 in tests via -1)
	Timeout   time.Duration // per-request timeout (default 15s)
}

// NewClient creates a kleinanzeigen search client.
func NewClient(opts ClientOpts) *Client {
	c := Client{
		baseURL:   DefaultBaseURL,
		minItems:  10,
		maxPages:  5,
		pageDelay: time.Second,
	}
	if opts.BaseURL != "" {
		c.baseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.MinItems > 0 {
		c.minItems = opts.MinItems
	}
	if opts.MaxPages > 0 {
		c.maxPages = opts.MaxPages
	}
	if opts.PageDelay != 0 {
		c.pageDelay = opts.PageDelay
		if c.pageDelay < 0 {
			c.pageDelay = 0
		}
	}
	timeout := 15 * time.Second
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	lang := "de"
	if opts.Lang != "" {
		lang = opts.Lang
	}

	c.httpClient = resty.New().
		SetBaseURL(c.baseURL).
		SetTimeout(timeout).
		SetHeaders(map[string]string{
			"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
			"Accept-Language": fmt.Sprintf("%s,en-US;q=0.7,en;q=0.3", lang),
		})

	return &c
}

// Search implements pipeline.MarketSearcher. It paginates result pages until
// minItems listings were collected or maxPages is reached. Zero results is a
// valid outcome; transport and parse failures return a *pipeline.ScrapeError.
func (c *Client) Search(ctx context.Context, query pipeline.SearchQuery) ([]pipeline.Listing, error) {
	var (
		listings []pipeline.Listing
		seen     = map[string]bool{}
	)

	for page := 1; page <= c.maxPages && len(listings) < c.minItems; page++ {
		if page > 1 && c.pageDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, &pipeline.ScrapeError{Query: query.Query, Err: ctx.Err()}
			case <-time.After(c.pageDelay):
			}
		}

		pageListings, err := c.fetchPage(ctx, query.Query, page)
		if err != nil {
			// A failure on a later page still invalidates the iteration:
			// partial results would skew the evaluation downstream.
			return nil, &pipeline.ScrapeError{Query: query.Query, Err: err}
		}
		if len(pageListings) == 0 {
			break
		}

		for _, l := range pageListings {
			if l.ID != "" && seen[l.ID] {
				continue
			}
			seen[l.ID] = true
			listings = append(listings, l)
		}

		log.Debug().
			Str("query", query.Query).
			Int("page", page).
			Int("collected", len(listings)).
			Msg("scraped result page")
	}

	if len(listings) > c.minItems {
		listings = listings[:c.minItems]
	}

	log.Info().Str("query", query.Query).Int("listings", len(listings)).Msg("marketplace search done")
	return listings, nil
}

// fetchPage fetches and parses one search result page.
func (c *Client) fetchPage(ctx context.Context, query string, page int) ([]pipeline.Listing, error) {
	slug := strings.ReplaceAll(strings.TrimSpace(query), " ", "-")

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("page", fmt.Sprintf("%d", page)).
		Get(fmt.Sprintf("/s-%s/k0", slug))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("result page request failed: %s (status: %d)", resp.Request.URL, resp.StatusCode())
	}

	return parseResultPage(resp.Body(), c.baseURL)
}
