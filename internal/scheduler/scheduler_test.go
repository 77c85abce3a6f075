package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealpipe/dealpipe/internal/breaker"
	"github.com/dealpipe/dealpipe/internal/config"
	"github.com/dealpipe/dealpipe/internal/dailycap"
	"github.com/dealpipe/dealpipe/internal/domain"
	"github.com/dealpipe/dealpipe/internal/fetch"
	"github.com/dealpipe/dealpipe/internal/logger"
	"github.com/dealpipe/dealpipe/internal/metrics"
	"github.com/dealpipe/dealpipe/internal/pipeline"
	"github.com/dealpipe/dealpipe/internal/ratelimit"
	"github.com/dealpipe/dealpipe/internal/scheduler"
)

// memRunStore records audit rows in memory.
type memRunStore struct {
	mu        sync.Mutex
	started   int
	completed []domain.IngestionRun
	errors    []domain.IngestionError
}

func (m *memRunStore) Start(_ context.Context, sourceKey string) (*domain.IngestionRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
	return &domain.IngestionRun{
		ID:        "run-1",
		SourceKey: sourceKey,
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now(),
	}, nil
}

func (m *memRunStore) Complete(_ context.Context, run *domain.IngestionRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, *run)
	return nil
}

func (m *memRunStore) LogError(_ context.Context, record *domain.IngestionError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, *record)
	return nil
}

func (m *memRunStore) lastCompleted() (domain.IngestionRun, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.completed) == 0 {
		return domain.IngestionRun{}, false
	}
	return m.completed[len(m.completed)-1], true
}

// blockingFetcher holds every fetch until released, or until its
// context dies.
type blockingFetcher struct {
	release chan struct{}
	entered chan struct{}
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{
		release: make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
}

func (f *blockingFetcher) Fetch(ctx context.Context, _ *config.SourceConfig) ([]domain.RawItem, error) {
	select {
	case f.entered <- struct{}{}:
	default:
	}

	select {
	case <-f.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func testConfig(drain time.Duration) *config.Config {
	cfg := &config.Config{}
	cfg.Ingestion.Retry.MaxAttempts = 1
	cfg.Ingestion.Retry.InitialDelay = 10 * time.Millisecond
	cfg.Ingestion.Retry.AttemptTimeout = 5 * time.Second
	cfg.Ingestion.Queue.Concurrency = 1
	cfg.Ingestion.Queue.JobsPerSecond = 100
	cfg.Ingestion.Queue.DrainTimeout = drain
	cfg.Sources = []config.SourceConfig{{
		Key:      "feed-a",
		FeedURL:  "https://feed-a.example.com/rss",
		Type:     "deal",
		Schedule: "@every 1h",
		Enabled:  true,
	}}
	return cfg
}

func newTestScheduler(cfg *config.Config, fetcher fetch.Fetcher, runs scheduler.RunStore) *scheduler.Scheduler {
	nop := logger.NewNop()

	processor := pipeline.NewProcessor(
		nil,
		pipeline.NewValidator(config.ValidationConfig{TitleMinLength: 1, TitleMaxLength: 300, PriceMax: 100000}, nop),
		dailycap.NewTracker(dailycap.Config{}),
		nil,
		nil,
		nop,
	)

	return scheduler.New(cfg, scheduler.Deps{
		Fetchers:  fetch.NewRegistry(fetcher),
		Processor: processor,
		Runs:      runs,
		Limiter:   ratelimit.NewLimiter(ratelimit.Config{}),
		Breakers:  breaker.NewRegistry(breaker.Config{}),
		Metrics:   metrics.New(prometheus.NewRegistry()),
		Log:       nop,
	})
}

func TestStopDrainsInFlightRunAfterShutdownSignal(t *testing.T) {
	fetcher := newBlockingFetcher()
	runs := &memRunStore{}
	s := newTestScheduler(testConfig(2*time.Second), fetcher, runs)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, true))

	select {
	case <-fetcher.entered:
	case <-time.After(time.Second):
		t.Fatal("startup run never reached the fetcher")
	}

	// The shutdown signal arrives while the run is in flight.
	cancel()

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(fetcher.release)
	}()

	require.NoError(t, s.Stop())

	run, ok := runs.lastCompleted()
	require.True(t, ok, "the in-flight run must still record its audit row")
	assert.Equal(t, domain.RunStatusCompleted, run.Status,
		"a cancelled start context must not abort the run mid-flight")
}

func TestStopCancelsRunsPastDrainDeadline(t *testing.T) {
	fetcher := newBlockingFetcher()
	runs := &memRunStore{}
	s := newTestScheduler(testConfig(50*time.Millisecond), fetcher, runs)

	require.NoError(t, s.Start(context.Background(), true))

	select {
	case <-fetcher.entered:
	case <-time.After(time.Second):
		t.Fatal("startup run never reached the fetcher")
	}

	err := s.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drain timed out")

	// Stop cancelled the job context, so the straggler unblocks and its
	// audit row records the failure instead of leaking the goroutine.
	require.Eventually(t, func() bool {
		run, ok := runs.lastCompleted()
		return ok && run.Status == domain.RunStatusFailed
	}, time.Second, 10*time.Millisecond)
}

func TestRunSourceUnknownKey(t *testing.T) {
	s := newTestScheduler(testConfig(time.Second), newBlockingFetcher(), &memRunStore{})

	err := s.RunSource(context.Background(), "no-such-source")
	assert.ErrorIs(t, err, scheduler.ErrUnknownSource)
}

func TestIngestSkipsWhenCircuitOpen(t *testing.T) {
	cfg := testConfig(time.Second)
	fetcher := newBlockingFetcher()
	close(fetcher.release)
	runs := &memRunStore{}

	nop := logger.NewNop()
	breakers := breaker.NewRegistry(breaker.Config{FailureThreshold: 1})
	breakers.RecordFailure("feed-a")

	s := scheduler.New(cfg, scheduler.Deps{
		Fetchers:  fetch.NewRegistry(fetcher),
		Processor: pipeline.NewProcessor(nil, pipeline.NewValidator(config.ValidationConfig{}, nop), dailycap.NewTracker(dailycap.Config{}), nil, nil, nop),
		Runs:      runs,
		Limiter:   ratelimit.NewLimiter(ratelimit.Config{}),
		Breakers:  breakers,
		Metrics:   metrics.New(prometheus.NewRegistry()),
		Log:       nop,
	})

	require.NoError(t, s.RunSource(context.Background(), "feed-a"))
	assert.Equal(t, 0, runs.started, "an open circuit skips the run before the audit row")
}
