package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/dealpipe/dealpipe/internal/config"
	"github.com/dealpipe/dealpipe/internal/domain"
	"github.com/dealpipe/dealpipe/internal/logger"
	"github.com/dealpipe/dealpipe/internal/retry"
)

// feedState holds the conditional-GET headers observed on the previous
// poll of one feed. Process-local; a restart just refetches once.
type feedState struct {
	etag         string
	lastModified string
}

// RSSFetcher downloads and parses RSS/Atom feeds into raw items.
type RSSFetcher struct {
	client *http.Client
	log    logger.Interface

	mu     sync.Mutex
	states map[string]*feedState
}

// NewRSSFetcher creates an RSS fetcher backed by the given HTTP client.
func NewRSSFetcher(client *http.Client, log logger.Interface) *RSSFetcher {
	return &RSSFetcher{
		client: client,
		log:    log,
		states: make(map[string]*feedState),
	}
}

var _ Fetcher = (*RSSFetcher)(nil)

// Fetch downloads the source's feed with conditional GET headers and
// parses it. Returns ErrNotModified on HTTP 304 and an *retry.HTTPError
// for unexpected statuses so the retry classifier can decide.
func (f *RSSFetcher) Fetch(ctx context.Context, source *config.SourceConfig) ([]domain.RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.FeedURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("rss fetch new request: %w", err)
	}

	f.setConditionalHeaders(req, source.Key)

	resp, doErr := f.client.Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("rss fetch do request: %w", doErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, URL: source.FeedURL}
	}

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("rss fetch read body: %w", readErr)
	}

	f.rememberHeaders(source.Key, resp)

	items, parseErr := f.parse(string(body))
	if parseErr != nil {
		return nil, fmt.Errorf("rss fetch parse: %w", parseErr)
	}

	f.log.Debug("feed fetched",
		"source", source.Key,
		"items", len(items),
	)

	return items, nil
}

// parse converts a feed body into raw items. Entries without a usable
// link are silently skipped.
func (f *RSSFetcher) parse(body string) ([]domain.RawItem, error) {
	parsed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return nil, err
	}

	items := make([]domain.RawItem, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		link := extractLink(entry)
		if link == "" {
			continue
		}

		items = append(items, domain.RawItem{
			Title:       entry.Title,
			Description: entry.Description,
			URL:         link,
			ImageURL:    extractImage(entry),
			ExternalID:  entry.GUID,
			PublishedAt: formatPublishedAt(entry.PublishedParsed),
			Price:       entry.Custom["price"],
			MerchantName: firstNonEmpty(
				entry.Custom["merchant"],
				entry.Custom["store"],
			),
		})
	}

	return items, nil
}

// setConditionalHeaders adds If-None-Match and If-Modified-Since headers
// from the previous poll state, when present.
func (f *RSSFetcher) setConditionalHeaders(req *http.Request, sourceKey string) {
	f.mu.Lock()
	state := f.states[sourceKey]
	f.mu.Unlock()

	if state == nil {
		return
	}
	if state.etag != "" {
		req.Header.Set("If-None-Match", state.etag)
	}
	if state.lastModified != "" {
		req.Header.Set("If-Modified-Since", state.lastModified)
	}
}

// rememberHeaders records caching headers for the next poll.
func (f *RSSFetcher) rememberHeaders(sourceKey string, resp *http.Response) {
	etag := resp.Header.Get("ETag")
	lastModified := resp.Header.Get("Last-Modified")
	if etag == "" && lastModified == "" {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[sourceKey] = &feedState{etag: etag, lastModified: lastModified}
}

// extractLink prefers the explicit link, falling back to a GUID that
// looks like an HTTP URL.
func extractLink(entry *gofeed.Item) string {
	if entry.Link != "" {
		return entry.Link
	}
	if _, err := strconv.Atoi(entry.GUID); err == nil {
		return ""
	}
	if len(entry.GUID) > 4 && entry.GUID[:4] == "http" {
		return entry.GUID
	}
	return ""
}

// extractImage returns the entry's enclosure or media image, if any.
func extractImage(entry *gofeed.Item) string {
	if entry.Image != nil && entry.Image.URL != "" {
		return entry.Image.URL
	}
	for _, enc := range entry.Enclosures {
		if enc.URL != "" && len(enc.Type) >= 5 && enc.Type[:5] == "image" {
			return enc.URL
		}
	}
	return ""
}

func formatPublishedAt(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
