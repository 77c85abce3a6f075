// Package scheduler owns the ingestion loop: cron-driven per-source
// jobs dispatched through a bounded worker pool, with the fetch wrapped
// in the rate limiter, retry handler, and circuit breaker. Processing
// results are written to the ingestion run audit trail.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/dealpipe/dealpipe/internal/breaker"
	"github.com/dealpipe/dealpipe/internal/config"
	"github.com/dealpipe/dealpipe/internal/domain"
	"github.com/dealpipe/dealpipe/internal/fetch"
	"github.com/dealpipe/dealpipe/internal/logger"
	"github.com/dealpipe/dealpipe/internal/metrics"
	"github.com/dealpipe/dealpipe/internal/pipeline"
	"github.com/dealpipe/dealpipe/internal/ratelimit"
	"github.com/dealpipe/dealpipe/internal/retry"
	"github.com/dealpipe/dealpipe/internal/store"
)

// ErrUnknownSource is returned when a manual run names a source that is
// not configured.
var ErrUnknownSource = errors.New("unknown source")

// RunStore records run audit rows and item-level error records.
type RunStore interface {
	Start(ctx context.Context, sourceKey string) (*domain.IngestionRun, error)
	Complete(ctx context.Context, run *domain.IngestionRun) error
	LogError(ctx context.Context, record *domain.IngestionError) error
}

var _ RunStore = (*store.RunRepository)(nil)

// Deps are the collaborators the scheduler drives.
type Deps struct {
	Fetchers  *fetch.Registry
	Processor *pipeline.Processor
	Runs      RunStore
	Limiter   *ratelimit.Limiter
	Breakers  *breaker.Registry
	Metrics   *metrics.Collector
	Log       logger.Interface
}

// Scheduler registers one cron entry per enabled source and funnels
// every execution through a shared worker pool.
type Scheduler struct {
	deps     Deps
	sources  map[string]*config.SourceConfig
	retryCfg retry.Config
	timeout  time.Duration

	cron     *cron.Cron
	sem      chan struct{}
	dispatch *rate.Limiter
	drain    time.Duration

	jobCtx    context.Context
	jobCancel context.CancelFunc

	mu      sync.Mutex
	wg      sync.WaitGroup
	stopped bool
}

// New creates a scheduler for the configured sources. Per-source rate
// limit overrides are applied to the limiter here so manual runs honor
// them too.
func New(cfg *config.Config, deps Deps) *Scheduler {
	ing := cfg.Ingestion

	sources := make(map[string]*config.SourceConfig, len(cfg.Sources))
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		sources[src.Key] = src

		if src.RateLimit != nil {
			deps.Limiter.SetSourceLimit(src.Key, src.RateLimit.Requests, src.RateLimit.Window)
		}
	}

	return &Scheduler{
		deps:    deps,
		sources: sources,
		retryCfg: retry.Config{
			MaxAttempts:  ing.Retry.MaxAttempts,
			InitialDelay: ing.Retry.InitialDelay,
			MaxDelay:     ing.Retry.MaxDelay,
			Multiplier:   ing.Retry.Multiplier,
			OnRetry: func(attempt int, delay time.Duration, err error) {
				deps.Log.Warn("fetch retry scheduled",
					"attempt", attempt,
					"delay", delay.String(),
					"error", err.Error(),
				)
			},
		},
		timeout:  ing.Retry.AttemptTimeout,
		cron:     cron.New(),
		sem:      make(chan struct{}, ing.Queue.Concurrency),
		dispatch: rate.NewLimiter(rate.Limit(ing.Queue.JobsPerSecond), ing.Queue.JobsPerSecond),
		drain:    ing.Queue.DrainTimeout,
	}
}

// Start registers cron entries for every enabled source and starts the
// cron loop. With RunOnStartup each enabled source also runs once
// immediately, so a restart never waits a full schedule interval.
func (s *Scheduler) Start(ctx context.Context, runOnStartup bool) error {
	// Jobs run on a context decoupled from the caller's cancellation so a
	// shutdown signal does not abort in-flight runs mid-write. Stop
	// cancels it once the drain deadline passes.
	s.jobCtx, s.jobCancel = context.WithCancel(context.WithoutCancel(ctx))

	for key, src := range s.sources {
		if !src.Enabled {
			s.deps.Log.Debug("source disabled, not scheduling", "source", key)
			continue
		}

		source := src
		if _, err := s.cron.AddFunc(source.Schedule, func() {
			s.dispatchRun(s.jobCtx, source)
		}); err != nil {
			return fmt.Errorf("schedule source %q: %w", key, err)
		}

		s.deps.Log.Info("source scheduled",
			"source", key,
			"schedule", source.Schedule,
			"type", source.ItemType(),
		)

		if runOnStartup {
			s.dispatchRun(s.jobCtx, source)
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts cron dispatch and waits for in-flight runs, up to the
// drain timeout. Runs still going past the deadline get their context
// cancelled and are abandoned.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	<-cronCtx.Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if s.jobCancel != nil {
			s.jobCancel()
		}
		return nil
	case <-time.After(s.drain):
		if s.jobCancel != nil {
			s.jobCancel()
		}
		return fmt.Errorf("scheduler drain timed out after %v", s.drain)
	}
}

// RunSource executes one source synchronously, bypassing the cron loop
// but not the worker pool or the resilience stack. Used by the manual
// ingest command.
func (s *Scheduler) RunSource(ctx context.Context, key string) error {
	source, ok := s.sources[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, key)
	}

	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	return s.ingest(ctx, source)
}

// dispatchRun runs one source through the worker pool asynchronously.
func (s *Scheduler) dispatchRun(ctx context.Context, source *config.SourceConfig) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()

		if err := s.dispatch.Wait(ctx); err != nil {
			return
		}

		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			return
		}

		if err := s.ingest(ctx, source); err != nil {
			s.deps.Log.Error("ingestion run failed",
				"source", source.Key,
				"error", err.Error(),
			)
		}
	}()
}

// ingest executes one full run for a source: fetch under the resilience
// stack, process the batch, record the audit row.
func (s *Scheduler) ingest(ctx context.Context, source *config.SourceConfig) error {
	log := s.deps.Log.With("source", source.Key)

	// Fail fast before spending a fetch on a source known to be down.
	if !s.deps.Breakers.CanExecute(source.Key) {
		log.Warn("skipping run, circuit open")
		return nil
	}

	run, err := s.deps.Runs.Start(ctx, source.Key)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	started := time.Now()

	items, fetchErr := s.fetch(ctx, source)

	if errors.Is(fetchErr, fetch.ErrNotModified) {
		run.Status = domain.RunStatusNotModified
		s.finishRun(ctx, run, started, nil)
		log.Debug("feed not modified")
		return nil
	}
	if fetchErr != nil {
		run.Status = domain.RunStatusFailed
		run.ErrorMessage = fetchErr.Error()
		s.finishRun(ctx, run, started, nil)
		return fmt.Errorf("fetch source %q: %w", source.Key, fetchErr)
	}

	stats, outcomes := s.deps.Processor.Process(ctx, source, items)
	s.logItemErrors(ctx, source, items, outcomes)

	run.Status = domain.RunStatusCompleted
	run.ItemsFetched = stats.Fetched
	run.ItemsCreated = stats.Created
	run.ItemsUpdated = stats.Updated
	run.ItemsSkipped = stats.Skipped
	run.ItemsFailed = stats.Failed
	s.finishRun(ctx, run, started, stats)

	log.Info("ingestion run completed",
		"fetched", stats.Fetched,
		"created", stats.Created,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"duration_ms", run.DurationMs,
	)

	return nil
}

// fetch pulls the feed through rate limiter, circuit breaker, and retry.
// A not-modified response counts as a breaker success, not a failure.
func (s *Scheduler) fetch(ctx context.Context, source *config.SourceConfig) ([]domain.RawItem, error) {
	if err := s.deps.Limiter.Acquire(ctx, source.Key); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	fetcher := s.deps.Fetchers.For(source.Key)

	var items []domain.RawItem
	notModified := false

	err := s.deps.Breakers.Execute(ctx, source.Key, func(ctx context.Context) error {
		return retry.DoWithTimeout(ctx, s.retryCfg, s.timeout, func() error {
			fetched, ferr := fetcher.Fetch(ctx, source)
			if errors.Is(ferr, fetch.ErrNotModified) {
				notModified = true
				return nil
			}
			if ferr != nil {
				return ferr
			}
			items = fetched
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if notModified {
		return nil, fetch.ErrNotModified
	}
	return items, nil
}

// finishRun completes the audit row and publishes run metrics. Audit
// write failures are logged, never fatal.
func (s *Scheduler) finishRun(ctx context.Context, run *domain.IngestionRun, started time.Time, stats *pipeline.Stats) {
	run.DurationMs = time.Since(started).Milliseconds()

	if err := s.deps.Runs.Complete(ctx, run); err != nil {
		s.deps.Log.Error("failed to record ingestion run",
			"source", run.SourceKey,
			"error", err.Error(),
		)
	}

	s.deps.Metrics.RecordRun(run, stats)
}

// logItemErrors writes one truncated audit record per item-level error.
func (s *Scheduler) logItemErrors(ctx context.Context, source *config.SourceConfig, items []domain.RawItem, outcomes []domain.Outcome) {
	for i := range outcomes {
		if outcomes[i].Action != domain.ActionError || outcomes[i].Err == nil {
			continue
		}

		record := &domain.IngestionError{
			SourceKey: source.Key,
			Message:   outcomes[i].Err.Error(),
		}
		if i < len(items) {
			record.ItemTitle = items[i].Title
			record.ItemURL = items[i].URL
		}

		if err := s.deps.Runs.LogError(ctx, record); err != nil {
			s.deps.Log.Error("failed to record item error",
				"source", source.Key,
				"error", err.Error(),
			)
		}
	}
}
