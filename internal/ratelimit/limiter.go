// Package ratelimit provides two-tier token-bucket throughput control:
// one global bucket shared by all outbound calls plus one bucket per
// source, backed by golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures the limiter tiers. Refill rates are derived from
// requests per window.
type Config struct {
	// GlobalRequests is the global bucket capacity per GlobalWindow.
	GlobalRequests int
	// GlobalWindow is the refill window for the global bucket.
	GlobalWindow time.Duration
	// SourceRequests is the default per-source capacity per SourceWindow.
	SourceRequests int
	// SourceWindow is the default per-source refill window.
	SourceWindow time.Duration
}

// DefaultConfig returns a default limiter configuration.
func DefaultConfig() Config {
	return Config{
		GlobalRequests: 30,
		GlobalWindow:   time.Second,
		SourceRequests: 5,
		SourceWindow:   time.Second,
	}
}

// Limiter coordinates the global bucket and the per-source buckets.
// Every outbound call acquires from the global bucket first; a global
// shortfall fails the acquisition without touching the source bucket.
type Limiter struct {
	mu       sync.Mutex
	config   Config
	global   *rate.Limiter
	sources  map[string]*rate.Limiter
	override map[string]Config
}

// NewLimiter creates a two-tier limiter.
func NewLimiter(cfg Config) *Limiter {
	if cfg.GlobalRequests <= 0 {
		cfg.GlobalRequests = 30
	}
	if cfg.GlobalWindow <= 0 {
		cfg.GlobalWindow = time.Second
	}
	if cfg.SourceRequests <= 0 {
		cfg.SourceRequests = 5
	}
	if cfg.SourceWindow <= 0 {
		cfg.SourceWindow = time.Second
	}

	return &Limiter{
		config:   cfg,
		global:   rate.NewLimiter(limitFor(cfg.GlobalRequests, cfg.GlobalWindow), cfg.GlobalRequests),
		sources:  make(map[string]*rate.Limiter),
		override: make(map[string]Config),
	}
}

// SetSourceLimit installs a per-source override. Must be called before
// the first acquisition for that source to take effect.
func (l *Limiter) SetSourceLimit(source string, requests int, window time.Duration) {
	if requests <= 0 || window <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.override[source] = Config{SourceRequests: requests, SourceWindow: window}
	delete(l.sources, source)
}

// Acquire blocks until both the global and the source bucket have a
// token, global first. Returns an error when the context expires while
// waiting.
func (l *Limiter) Acquire(ctx context.Context, source string) error {
	if err := l.global.Wait(ctx); err != nil {
		return fmt.Errorf("global rate limit: %w", err)
	}

	if err := l.sourceLimiter(source).Wait(ctx); err != nil {
		return fmt.Errorf("source %q rate limit: %w", source, err)
	}

	return nil
}

// TryAcquire attempts a non-blocking acquisition, global bucket first.
// Reservations are cancelled on failure so a rejected call leaves both
// buckets untouched.
func (l *Limiter) TryAcquire(source string) bool {
	now := time.Now()

	gres := l.global.ReserveN(now, 1)
	if !gres.OK() || gres.DelayFrom(now) > 0 {
		gres.CancelAt(now)
		return false
	}

	sres := l.sourceLimiter(source).ReserveN(now, 1)
	if !sres.OK() || sres.DelayFrom(now) > 0 {
		sres.CancelAt(now)
		gres.CancelAt(now)
		return false
	}

	return true
}

// BucketSnapshot describes the observable state of one bucket.
type BucketSnapshot struct {
	Source     string  `json:"source"`
	Tokens     float64 `json:"tokens"`
	Burst      int     `json:"burst"`
	RatePerSec float64 `json:"rate_per_sec"`
}

// Snapshots returns the state of the global bucket and all known
// source buckets. The global bucket uses source key "_global".
func (l *Limiter) Snapshots() []BucketSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snaps := make([]BucketSnapshot, 0, len(l.sources)+1)
	snaps = append(snaps, BucketSnapshot{
		Source:     "_global",
		Tokens:     l.global.Tokens(),
		Burst:      l.global.Burst(),
		RatePerSec: float64(l.global.Limit()),
	})

	for source, lim := range l.sources {
		snaps = append(snaps, BucketSnapshot{
			Source:     source,
			Tokens:     lim.Tokens(),
			Burst:      lim.Burst(),
			RatePerSec: float64(lim.Limit()),
		})
	}
	return snaps
}

// sourceLimiter returns the bucket for a source, creating it on first use.
func (l *Limiter) sourceLimiter(source string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.sources[source]
	if ok {
		return lim
	}

	requests := l.config.SourceRequests
	window := l.config.SourceWindow
	if ov, has := l.override[source]; has {
		requests = ov.SourceRequests
		window = ov.SourceWindow
	}

	lim = rate.NewLimiter(limitFor(requests, window), requests)
	l.sources[source] = lim
	return lim
}

// limitFor converts requests-per-window to a per-second rate.
func limitFor(requests int, window time.Duration) rate.Limit {
	return rate.Limit(float64(requests) / window.Seconds())
}
