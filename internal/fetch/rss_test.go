package fetch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealpipe/dealpipe/internal/config"
	"github.com/dealpipe/dealpipe/internal/fetch"
	"github.com/dealpipe/dealpipe/internal/logger"
	"github.com/dealpipe/dealpipe/internal/retry"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Test Deals</title>
    <link>https://deals.example.com</link>
    <item>
      <title>Sony WH-1000XM5 Headphones - 38% off</title>
      <link>https://deals.example.com/sony-wh1000xm5</link>
      <description>Lowest price we have seen.</description>
      <guid>deal-1001</guid>
      <enclosure url="https://cdn.example.com/sony.jpg" type="image/jpeg" length="1024"/>
    </item>
    <item>
      <title>Entry without a link is skipped</title>
      <guid>12345</guid>
    </item>
    <item>
      <title>Entry with URL guid</title>
      <guid>https://deals.example.com/guid-link</guid>
    </item>
  </channel>
</rss>`

func feedSource(url string) *config.SourceConfig {
	return &config.SourceConfig{Key: "feed-a", FeedURL: url, Type: "deal"}
}

func TestFetchParsesFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	f := fetch.NewRSSFetcher(server.Client(), logger.NewNop())
	items, err := f.Fetch(context.Background(), feedSource(server.URL))

	require.NoError(t, err)
	require.Len(t, items, 2, "the linkless entry is dropped")

	assert.Equal(t, "Sony WH-1000XM5 Headphones - 38% off", items[0].Title)
	assert.Equal(t, "https://deals.example.com/sony-wh1000xm5", items[0].URL)
	assert.Equal(t, "https://cdn.example.com/sony.jpg", items[0].ImageURL)
	assert.Equal(t, "deal-1001", items[0].ExternalID)

	assert.Equal(t, "https://deals.example.com/guid-link", items[1].URL, "http guid serves as the link")
}

func TestFetchConditionalGet(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	f := fetch.NewRSSFetcher(server.Client(), logger.NewNop())
	source := feedSource(server.URL)

	items, err := f.Fetch(context.Background(), source)
	require.NoError(t, err)
	require.NotEmpty(t, items)

	_, err = f.Fetch(context.Background(), source)
	assert.ErrorIs(t, err, fetch.ErrNotModified)
	assert.Equal(t, 2, requests)
}

func TestFetchServerErrorIsRetryableHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := fetch.NewRSSFetcher(server.Client(), logger.NewNop())
	_, err := f.Fetch(context.Background(), feedSource(server.URL))

	var httpErr *retry.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.True(t, retry.DefaultIsRetryable(err))
}

func TestFetchMalformedFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("this is not xml"))
	}))
	defer server.Close()

	f := fetch.NewRSSFetcher(server.Client(), logger.NewNop())
	_, err := f.Fetch(context.Background(), feedSource(server.URL))

	require.Error(t, err)
	assert.False(t, retry.DefaultIsRetryable(err), "a broken feed body is not transient")
}

func TestRegistryFallback(t *testing.T) {
	fallback := fetch.NewRSSFetcher(http.DefaultClient, logger.NewNop())
	registry := fetch.NewRegistry(fallback)

	special := fetch.NewRSSFetcher(http.DefaultClient, logger.NewNop())
	registry.Register("feed-special", special)

	assert.Same(t, special, registry.For("feed-special"))
	assert.Same(t, fallback, registry.For("feed-other"))
}
