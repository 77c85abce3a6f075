package enrich_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealpipe/dealpipe/internal/enrich"
	"github.com/dealpipe/dealpipe/internal/logger"
)

// mapCache is an in-memory Cache for exercising hit and miss paths.
type mapCache struct {
	mu   sync.Mutex
	data map[string]string
	sets int
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string]string)}
}

func (c *mapCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.sets++
}

func htmlServer(t *testing.T, body string) (*httptest.Server, *int) {
	t.Helper()

	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func TestMerchantResolveFollowsRedirect(t *testing.T) {
	merchant, _ := htmlServer(t, `<html><body>merchant landing</body></html>`)

	aggregator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, merchant.URL+"/product", http.StatusFound)
	}))
	defer aggregator.Close()

	resolver := enrich.NewMerchantResolver(aggregator.Client(), newMapCache(), logger.NewNop())
	resolved, err := resolver.Resolve(context.Background(), aggregator.URL+"/out/123")

	require.NoError(t, err)
	assert.Equal(t, merchant.URL+"/product", resolved)
}

func TestMerchantResolveFromPageData(t *testing.T) {
	server, _ := htmlServer(t, `<html><head>
<script type="application/json">{"props":{"merchant_url":"https:\/\/www.bestbuy.com\/site\/sony-headphones"}}</script>
</head><body></body></html>`)

	resolver := enrich.NewMerchantResolver(server.Client(), newMapCache(), logger.NewNop())
	resolved, err := resolver.Resolve(context.Background(), server.URL+"/deal/1")

	require.NoError(t, err)
	assert.Equal(t, "https://www.bestbuy.com/site/sony-headphones", resolved)
}

func TestMerchantResolveFromSponsoredAnchor(t *testing.T) {
	server, _ := htmlServer(t, `<html><body>
<a href="https://twitter.com/share">share</a>
<a href="https://www.newegg.com/p/N82E168" rel="nofollow sponsored">Buy at Newegg</a>
</body></html>`)

	resolver := enrich.NewMerchantResolver(server.Client(), newMapCache(), logger.NewNop())
	resolved, err := resolver.Resolve(context.Background(), server.URL+"/deal/2")

	require.NoError(t, err)
	assert.Equal(t, "https://www.newegg.com/p/N82E168", resolved, "denylisted hosts are skipped, sponsored outbound anchor wins")
}

func TestMerchantResolveFallsBackToInput(t *testing.T) {
	server, _ := htmlServer(t, `<html><body><p>nothing outbound here</p></body></html>`)

	resolver := enrich.NewMerchantResolver(server.Client(), newMapCache(), logger.NewNop())
	input := server.URL + "/deal/3"
	resolved, err := resolver.Resolve(context.Background(), input)

	require.NoError(t, err)
	assert.Equal(t, input, resolved)
}

func TestMerchantResolveUsesCache(t *testing.T) {
	server, requests := htmlServer(t, `<html><body></body></html>`)

	cache := newMapCache()
	resolver := enrich.NewMerchantResolver(server.Client(), cache, logger.NewNop())
	input := server.URL + "/deal/4"

	_, err := resolver.Resolve(context.Background(), input)
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 1, *requests, "second resolve must be served from cache")
	assert.Equal(t, 1, cache.sets)
}

func TestImageExtractPrefersMetaTags(t *testing.T) {
	server, _ := htmlServer(t, `<html><head>
<meta property="og:image" content="https://cdn.example.com/product/main.jpg">
<meta name="twitter:image" content="https://cdn.example.com/product/alt.jpg">
</head><body>
<img src="https://cdn.example.com/site-logo.png">
<img src="https://cdn.example.com/product/gallery1.jpg">
</body></html>`)

	extractor := enrich.NewImageExtractor(server.Client(), newMapCache(), logger.NewNop())
	images, err := extractor.Extract(context.Background(), server.URL+"/product")

	require.NoError(t, err)
	require.NotEmpty(t, images)
	assert.Equal(t, "https://cdn.example.com/product/main.jpg", images[0])
	assert.Contains(t, images, "https://cdn.example.com/product/alt.jpg")
	assert.NotContains(t, images, "https://cdn.example.com/site-logo.png", "logo is filtered")
}

func TestImageExtractResolvesRelativeURLs(t *testing.T) {
	server, _ := htmlServer(t, `<html><body>
<div class="product-gallery">
  <img src="/images/product/front.jpg">
  <img src="/images/product/back.jpg">
</div>
</body></html>`)

	extractor := enrich.NewImageExtractor(server.Client(), newMapCache(), logger.NewNop())
	images, err := extractor.Extract(context.Background(), server.URL+"/product")

	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, server.URL+"/images/product/front.jpg", images[0])
}

func TestImageExtractCapsAndDeduplicates(t *testing.T) {
	server, _ := htmlServer(t, `<html><body>
<img src="/p/1.jpg"><img src="/p/1.jpg">
<img src="/p/2.jpg"><img src="/p/3.jpg">
<img src="/p/4.jpg"><img src="/p/5.jpg">
<img src="/p/6.jpg"><img src="/p/7.jpg">
</body></html>`)

	extractor := enrich.NewImageExtractor(server.Client(), newMapCache(), logger.NewNop())
	images, err := extractor.Extract(context.Background(), server.URL+"/product")

	require.NoError(t, err)
	assert.Len(t, images, 5)
	assert.Equal(t, server.URL+"/p/1.jpg", images[0])
}

func TestImageExtractEmptyPageCachesMiss(t *testing.T) {
	server, requests := htmlServer(t, `<html><body><img src="data:image/gif;base64,R0lGOD"></body></html>`)

	cache := newMapCache()
	extractor := enrich.NewImageExtractor(server.Client(), cache, logger.NewNop())

	images, err := extractor.Extract(context.Background(), server.URL+"/product")
	require.NoError(t, err)
	assert.Empty(t, images)

	images, err = extractor.Extract(context.Background(), server.URL+"/product")
	require.NoError(t, err)
	assert.Empty(t, images)
	assert.Equal(t, 1, *requests, "the empty result is cached too")
}
