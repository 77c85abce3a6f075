// Package metrics exposes ingestion observability two ways: Prometheus
// collectors for scraping, and an in-memory per-source snapshot served
// as JSON by the HTTP API.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dealpipe/dealpipe/internal/domain"
	"github.com/dealpipe/dealpipe/internal/pipeline"
)

// SourceStats is the accumulated view of one source's ingestion history
// since process start.
type SourceStats struct {
	SourceKey      string     `json:"source_key"`
	Runs           int        `json:"runs"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	LastStatus     string     `json:"last_status,omitempty"`
	LastDurationMs int64      `json:"last_duration_ms"`
	ItemsFetched   int        `json:"items_fetched"`
	ItemsCreated   int        `json:"items_created"`
	ItemsUpdated   int        `json:"items_updated"`
	ItemsSkipped   int        `json:"items_skipped"`
	ItemsFailed    int        `json:"items_failed"`
}

// Collector records run outcomes into Prometheus and the in-memory
// snapshot map. Safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	perSource map[string]*SourceStats

	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	itemsTotal   *prometheus.CounterVec
	skipsTotal   *prometheus.CounterVec
	circuitState *prometheus.GaugeVec
	capUsage     *prometheus.GaugeVec
}

// New creates a collector and registers its metrics.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		perSource: make(map[string]*SourceStats),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dealpipe",
			Name:      "ingestion_runs_total",
			Help:      "Ingestion runs by source and terminal status.",
		}, []string{"source", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dealpipe",
			Name:      "ingestion_run_duration_seconds",
			Help:      "Duration of ingestion runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"source"}),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dealpipe",
			Name:      "ingestion_items_total",
			Help:      "Items processed by source and outcome action.",
		}, []string{"source", "action"}),
		skipsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dealpipe",
			Name:      "ingestion_skips_total",
			Help:      "Skipped items by source and skip reason.",
		}, []string{"source", "reason"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dealpipe",
			Name:      "circuit_state",
			Help:      "Circuit breaker state per source (0 closed, 1 half-open, 2 open).",
		}, []string{"source"}),
		capUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dealpipe",
			Name:      "daily_cap_used",
			Help:      "Items created today per source, against the daily cap.",
		}, []string{"source"}),
	}

	reg.MustRegister(
		c.runsTotal,
		c.runDuration,
		c.itemsTotal,
		c.skipsTotal,
		c.circuitState,
		c.capUsage,
	)

	return c
}

// RecordRun accumulates one finished run. stats may be nil when the run
// failed before processing any items.
func (c *Collector) RecordRun(run *domain.IngestionRun, stats *pipeline.Stats) {
	source := run.SourceKey
	status := string(run.Status)

	c.runsTotal.WithLabelValues(source, status).Inc()
	c.runDuration.WithLabelValues(source).Observe(float64(run.DurationMs) / 1000)

	if stats != nil {
		c.itemsTotal.WithLabelValues(source, string(domain.ActionCreated)).Add(float64(stats.Created))
		c.itemsTotal.WithLabelValues(source, string(domain.ActionUpdated)).Add(float64(stats.Updated))
		c.itemsTotal.WithLabelValues(source, string(domain.ActionSkipped)).Add(float64(stats.Skipped))
		c.itemsTotal.WithLabelValues(source, string(domain.ActionError)).Add(float64(stats.Failed))
		for reason, count := range stats.SkipReasons {
			c.skipsTotal.WithLabelValues(source, reason).Add(float64(count))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.perSource[source]
	if !ok {
		entry = &SourceStats{SourceKey: source}
		c.perSource[source] = entry
	}

	entry.Runs++
	finished := run.StartedAt.Add(time.Duration(run.DurationMs) * time.Millisecond)
	entry.LastRunAt = &finished
	entry.LastStatus = status
	entry.LastDurationMs = run.DurationMs

	if stats != nil {
		entry.ItemsFetched += stats.Fetched
		entry.ItemsCreated += stats.Created
		entry.ItemsUpdated += stats.Updated
		entry.ItemsSkipped += stats.Skipped
		entry.ItemsFailed += stats.Failed
	}
}

// SetCircuitState publishes a circuit state change.
func (c *Collector) SetCircuitState(source string, state float64) {
	c.circuitState.WithLabelValues(source).Set(state)
}

// SetCapUsage publishes today's creation count for a source.
func (c *Collector) SetCapUsage(source string, used int) {
	c.capUsage.WithLabelValues(source).Set(float64(used))
}

// Snapshot returns per-source stats sorted by source key.
func (c *Collector) Snapshot() []SourceStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]SourceStats, 0, len(c.perSource))
	for _, entry := range c.perSource {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceKey < out[j].SourceKey })
	return out
}
