// Package search implements the search adapter (C3): a thin SearXNG client
// returning ranked SearchHits, grounded on the teacher's web_search tool's
// rate-limiting and retry idiom.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"deepresearch/internal/config"
	"deepresearch/internal/research/cache"
	"deepresearch/internal/research/types"
	"deepresearch/internal/research/urlnorm"
)

// Error is a typed search failure distinguishing retryable transport/5xx
// errors from fatal ones (bad request, unsupported category).
type Error struct {
	Retryable bool
	Err       error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Adapter queries a SearXNG instance for ranked search hits.
type Adapter struct {
	http    *http.Client
	baseURL string
	cache   *cache.Cache

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// New builds a search Adapter from configuration. c fronts repeated queries
// with the content-addressed result cache (C2); a nil-backed cache (see
// cache.New) makes every call a miss, equivalent to no caching.
func New(cfg config.SearchConfig, c *cache.Cache) *Adapter {
	return &Adapter{
		http:       &http.Client{Timeout: 12 * time.Second},
		baseURL:    strings.TrimSuffix(cfg.SearXNGURL, "/"),
		cache:      c,
		maxRetries: 3,
		baseDelay:  1 * time.Second,
		maxDelay:   30 * time.Second,
	}
}

// Search returns up to num ranked hits for query, retrying transport/5xx
// failures with exponential backoff and jitter. num is clamped to [1,10].
// Results are cached by (query, num) so a repeated query within one run, or
// across runs, skips the network round-trip entirely.
func (a *Adapter) Search(ctx context.Context, query string, num int) ([]types.SearchHit, error) {
	if num < 1 {
		num = 1
	}
	if num > 10 {
		num = 10
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &Error{Retryable: false, Err: fmt.Errorf("empty query")}
	}

	key, err := cache.Key("search", struct {
		Query string
		Num   int
	}{query, num})
	if err != nil {
		return a.searchWithRetry(ctx, query, num)
	}
	return cache.GetOrSet(ctx, a.cache, key, func() ([]types.SearchHit, error) {
		return a.searchWithRetry(ctx, query, num)
	})
}

func (a *Adapter) searchWithRetry(ctx context.Context, query string, num int) ([]types.SearchHit, error) {
	var lastErr error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		hits, err := a.searchOnce(ctx, query, num)
		if err == nil {
			return hits, nil
		}
		lastErr = err
		var serr *Error
		if !errors.As(err, &serr) || !serr.Retryable {
			return nil, err
		}

		delay := a.baseDelay * (1 << attempt)
		if delay > a.maxDelay {
			delay = a.maxDelay
		}
		delay += time.Duration(rand.Float64() * float64(delay) * 0.3)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, &Error{Retryable: true, Err: fmt.Errorf("search failed after %d attempts: %w", a.maxRetries, lastErr)}
}

func (a *Adapter) searchOnce(ctx context.Context, query string, num int) ([]types.SearchHit, error) {
	v := url.Values{}
	v.Set("q", query)
	v.Set("format", "json")
	v.Set("categories", "general")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/search?"+v.Encode(), nil)
	if err != nil {
		return nil, &Error{Retryable: false, Err: err}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; deepresearch/1.0)")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, &Error{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &Error{Retryable: true, Err: fmt.Errorf("searxng http %d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Retryable: false, Err: fmt.Errorf("searxng http %d", resp.StatusCode)}
	}

	var payload struct {
		Results []struct {
			Title         string `json:"title"`
			URL           string `json:"url"`
			Content       string `json:"content"`
			PublishedDate string `json:"publishedDate"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &Error{Retryable: false, Err: err}
	}

	hits := make([]types.SearchHit, 0, num)
	for i, r := range payload.Results {
		if i >= num {
			break
		}
		hits = append(hits, types.SearchHit{
			Title:   strings.TrimSpace(r.Title),
			URL:     urlnorm.Canonicalize(r.URL),
			Snippet: strings.TrimSpace(r.Content),
			Date:    r.PublishedDate,
		})
	}
	return hits, nil
}

