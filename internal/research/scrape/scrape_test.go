package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"deepresearch/internal/config"
	"deepresearch/internal/research/cache"
)

func newMiniredisClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestFetch_ExtractsMarkdownFromHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><title>Example</title></head><body>
			<article><h1>Example</h1><p>hello scraped world</p></article>
		</body></html>`))
	}))
	defer srv.Close()

	a := New(cache.New(config.CacheConfig{}, nil))
	res := a.Fetch(context.Background(), srv.URL)
	require.True(t, res.Success)
	require.Contains(t, res.Data, "hello scraped world")
}

func TestFetch_NonHTMLPassesThroughRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("plain body"))
	}))
	defer srv.Close()

	a := New(cache.New(config.CacheConfig{}, nil))
	res := a.Fetch(context.Background(), srv.URL)
	require.True(t, res.Success)
	require.Equal(t, "plain body", res.Data)
}

func TestFetch_RetriesThenFailsGracefully(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := New(cache.New(config.CacheConfig{}, nil))
	a.maxRetries = 1
	a.baseDelay = 0
	a.maxDelay = 0
	res := a.Fetch(context.Background(), srv.URL)
	require.False(t, res.Success)
	require.NotEmpty(t, res.Error)
	require.Equal(t, 2, calls, "one initial attempt plus one retry")
}

func TestFetch_UnsupportedSchemeFails(t *testing.T) {
	a := New(cache.New(config.CacheConfig{}, nil))
	a.maxRetries = 2
	res := a.Fetch(context.Background(), "ftp://example.com/file")
	require.False(t, res.Success)
	require.Contains(t, res.Error, "unsupported scheme")
}

func TestFetchAll_PartialFailureDoesNotAbortBatch(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok body"))
	}))
	defer ok.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()

	a := New(cache.New(config.CacheConfig{}, nil))
	a.maxRetries = 0
	results := a.FetchAll(context.Background(), []string{ok.URL, bad.URL}, 2)
	require.Len(t, results, 2)
	require.True(t, results[0].Success)
	require.False(t, results[1].Success)
}

func TestCanonicalize_LowercasesAndTrimsSlash(t *testing.T) {
	require.Equal(t, "https://example.com/a", Canonicalize("https://Example.COM/a/"))
}

func TestFetch_WithRedisBackedStoreSecondCallSkipsNetwork(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("fetched once"))
	}))
	defer srv.Close()

	a := New(cache.New(config.CacheConfig{TTLSeconds: 60}, newMiniredisClient(t)))
	res1 := a.Fetch(context.Background(), srv.URL)
	res2 := a.Fetch(context.Background(), srv.URL)

	require.True(t, res1.Success)
	require.True(t, res2.Success)
	require.Equal(t, res1.Data, res2.Data)
	require.Equal(t, 1, calls, "second fetch of the same URL within TTL must be served from the cache")
}

func TestFetch_WithRedisBackedStoreFailureIsNotCached(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := New(cache.New(config.CacheConfig{TTLSeconds: 60}, newMiniredisClient(t)))
	a.maxRetries = 0
	a.Fetch(context.Background(), srv.URL)
	a.Fetch(context.Background(), srv.URL)

	require.Equal(t, 2, calls, "a failed fetch must not be cached, so every call retries the network")
}

func TestFetch_TrimsLongDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body><article>" + strings.Repeat("word ", 100) + "</article></body></html>"))
	}))
	defer srv.Close()

	a := New(cache.New(config.CacheConfig{}, nil))
	res := a.Fetch(context.Background(), srv.URL)
	require.True(t, res.Success)
	require.LessOrEqual(t, len(res.Description), 200)
}
