// Package scrape implements the scrape adapter (C4): fetch a URL, extract
// readable text, retry with exponential backoff. Grounded on the teacher's
// internal/tools/web Fetcher (readability extraction + HTML-to-Markdown).
package scrape

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"
	"golang.org/x/sync/errgroup"

	"deepresearch/internal/research/cache"
	"deepresearch/internal/research/urlnorm"
)

// PageResult is one URL's scrape outcome, matching the bulk-call contract:
// partial failures are represented per-item, never aborting the batch.
type PageResult struct {
	URL         string
	Success     bool
	Data        string // extracted markdown text
	Title       string
	Description string
	Error       string
}

// Adapter fetches and extracts readable content from web pages.
type Adapter struct {
	client     *http.Client
	cache      *cache.Cache
	maxBytes   int64
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// New builds a scrape Adapter with hardened HTTP defaults. c fronts repeated
// fetches with the content-addressed result cache (C2); a nil-backed cache
// (see cache.New) makes every call a miss, equivalent to no caching.
func New(c *cache.Cache) *Adapter {
	dialer := &net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Adapter{
		client:     &http.Client{Transport: transport, Timeout: 20 * time.Second},
		cache:      c,
		maxBytes:   8 * 1000 * 1000,
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		maxDelay:   8 * time.Second,
	}
}

// Canonicalize delegates to urlnorm, the helper shared with the search
// adapter (C3) and the loop driver's cross-round dedup (C11 §3(iv)), so a
// page reached via a tracked link and a clean one collapse to one cache key.
func Canonicalize(raw string) string {
	return urlnorm.Canonicalize(raw)
}

// Fetch retrieves one URL with retry: base=500ms, doubling, capped at 8s, up
// to maxRetries attempts beyond the first. A failed fetch after exhausting
// retries is reported as PageResult{Success:false}, never as a Go error —
// the caller (fan-out) treats scrape failure as a contained per-item outcome.
// Successful results are cached by canonical URL so a page linked from
// multiple search hits in the same (or a later) run is only fetched once.
func (a *Adapter) Fetch(ctx context.Context, rawURL string) PageResult {
	target := Canonicalize(rawURL)

	key, err := cache.Key("scrape", target)
	if err != nil {
		return a.fetchWithRetry(ctx, target)
	}
	res, err := cache.GetOrSet(ctx, a.cache, key, func() (PageResult, error) {
		out := a.fetchWithRetry(ctx, target)
		if !out.Success {
			return PageResult{}, fmt.Errorf("scrape: %s", out.Error)
		}
		return out, nil
	})
	if err != nil {
		return PageResult{URL: target, Success: false, Error: err.Error()}
	}
	return res
}

func (a *Adapter) fetchWithRetry(ctx context.Context, target string) PageResult {
	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		res, err := a.fetchOnce(ctx, target)
		if err == nil {
			return res
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt == a.maxRetries {
			break
		}
		delay := a.baseDelay * (1 << attempt)
		if delay > a.maxDelay {
			delay = a.maxDelay
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = a.maxRetries
		case <-time.After(delay):
		}
	}
	return PageResult{URL: target, Success: false, Error: lastErr.Error()}
}

// FetchAll scrapes every URL concurrently (bounded by concurrency) and
// returns one PageResult per input URL, in input order. Partial failures
// never abort the batch.
func (a *Adapter) FetchAll(ctx context.Context, urls []string, concurrency int) []PageResult {
	if concurrency <= 0 {
		concurrency = len(urls)
	}
	results := make([]PageResult, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			results[i] = a.Fetch(gctx, u)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *Adapter) fetchOnce(ctx context.Context, rawURL string) (PageResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return PageResult{}, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return PageResult{}, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return PageResult{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; deepresearch/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := a.client.Do(req)
	if err != nil {
		return PageResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PageResult{}, fmt.Errorf("http %d", resp.StatusCode)
	}

	finalURL := resp.Request.URL.String()
	ct, cs := parseContentType(resp.Header.Get("Content-Type"))

	limited := io.LimitReader(resp.Body, a.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return PageResult{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > a.maxBytes {
		return PageResult{}, fmt.Errorf("response exceeds max bytes (%d)", a.maxBytes)
	}

	utf8Body, err := toUTF8(body, cs)
	if err != nil {
		return PageResult{}, fmt.Errorf("charset decode: %w", err)
	}

	if !isHTML(ct) {
		return PageResult{URL: finalURL, Success: true, Data: strings.TrimSpace(string(utf8Body))}, nil
	}

	htmlBody := string(utf8Body)
	base, _ := url.Parse(finalURL)
	articleHTML, title := htmlBody, ""
	if art, rerr := readability.FromReader(strings.NewReader(htmlBody), base); rerr == nil && strings.TrimSpace(art.Content) != "" {
		articleHTML = art.Content
		title = strings.TrimSpace(art.Title)
	}

	md, mdErr := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(baseOrigin(finalURL)))
	if mdErr != nil {
		return PageResult{}, fmt.Errorf("html to markdown: %w", mdErr)
	}
	md = strings.TrimSpace(md)

	desc := md
	if len(desc) > 200 {
		desc = desc[:200]
	}

	return PageResult{URL: finalURL, Success: true, Data: md, Title: title, Description: desc}, nil
}

func parseContentType(h string) (ctype, charsetLabel string) {
	if h == "" {
		return "text/html", ""
	}
	parts := strings.SplitN(h, ";", 2)
	ctype = strings.TrimSpace(strings.ToLower(parts[0]))
	if len(parts) == 2 {
		for _, p := range strings.Split(parts[1], ";") {
			p = strings.TrimSpace(p)
			if strings.HasPrefix(p, "charset=") {
				charsetLabel = strings.Trim(strings.TrimPrefix(p, "charset="), `"`)
			}
		}
	}
	return ctype, charsetLabel
}

func isHTML(ct string) bool {
	return strings.Contains(ct, "html") || ct == ""
}

func toUTF8(b []byte, charsetLabel string) ([]byte, error) {
	if charsetLabel == "" || strings.EqualFold(charsetLabel, "utf-8") {
		return b, nil
	}
	r, err := charset.NewReaderLabel(charsetLabel, strings.NewReader(string(b)))
	if err != nil {
		return b, nil
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func baseOrigin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
