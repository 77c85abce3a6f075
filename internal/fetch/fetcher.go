// Package fetch defines the source fetcher contract and provides the
// RSS/Atom implementation. Fetchers return raw untyped listings; all
// cleaning happens downstream in the pipeline.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dealpipe/dealpipe/internal/config"
	"github.com/dealpipe/dealpipe/internal/domain"
)

// ErrNotModified is returned when a conditional GET reports the feed is
// unchanged since the previous poll.
var ErrNotModified = errors.New("feed not modified")

// defaultFetchTimeout bounds a single feed download.
const defaultFetchTimeout = 30 * time.Second

// Fetcher retrieves raw listings for one source. Errors propagate
// through the retry handler and circuit breaker upstream.
type Fetcher interface {
	Fetch(ctx context.Context, source *config.SourceConfig) ([]domain.RawItem, error)
}

// Registry maps fetch strategy names to fetchers, so API fetchers can
// be plugged in per source without touching the scheduler.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
	fallback Fetcher
}

// NewRegistry creates a registry with the given default fetcher.
func NewRegistry(fallback Fetcher) *Registry {
	return &Registry{
		fetchers: make(map[string]Fetcher),
		fallback: fallback,
	}
}

// Register installs a fetcher for a source key.
func (r *Registry) Register(sourceKey string, fetcher Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[sourceKey] = fetcher
}

// For returns the fetcher for a source key, falling back to the default.
func (r *Registry) For(sourceKey string) Fetcher {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if f, ok := r.fetchers[sourceKey]; ok {
		return f
	}
	return r.fallback
}

// NewHTTPClient builds the shared HTTP client used by fetchers and
// enrichment. Redirects are followed; the per-attempt timeout is the
// outer bound.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: defaultFetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			return nil
		},
	}
}
