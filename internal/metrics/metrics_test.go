package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealpipe/dealpipe/internal/domain"
	"github.com/dealpipe/dealpipe/internal/metrics"
	"github.com/dealpipe/dealpipe/internal/pipeline"
)

func completedRun(source string) *domain.IngestionRun {
	return &domain.IngestionRun{
		SourceKey:  source,
		Status:     domain.RunStatusCompleted,
		StartedAt:  time.Now().Add(-2 * time.Second),
		DurationMs: 1500,
	}
}

func TestRecordRunAccumulatesSnapshot(t *testing.T) {
	collector := metrics.New(prometheus.NewRegistry())

	collector.RecordRun(completedRun("feed-a"), &pipeline.Stats{
		Fetched: 10, Created: 6, Updated: 2, Skipped: 1, Failed: 1,
		SkipReasons: map[string]int{string(domain.SkipReasonValidation): 1},
	})
	collector.RecordRun(completedRun("feed-a"), &pipeline.Stats{
		Fetched: 5, Created: 1, Updated: 4,
	})

	snapshot := collector.Snapshot()
	require.Len(t, snapshot, 1)

	stats := snapshot[0]
	assert.Equal(t, "feed-a", stats.SourceKey)
	assert.Equal(t, 2, stats.Runs)
	assert.Equal(t, 15, stats.ItemsFetched)
	assert.Equal(t, 7, stats.ItemsCreated)
	assert.Equal(t, 6, stats.ItemsUpdated)
	assert.Equal(t, string(domain.RunStatusCompleted), stats.LastStatus)
	assert.Equal(t, int64(1500), stats.LastDurationMs)
	require.NotNil(t, stats.LastRunAt)
}

func TestRecordRunWithoutStats(t *testing.T) {
	collector := metrics.New(prometheus.NewRegistry())

	run := completedRun("feed-b")
	run.Status = domain.RunStatusFailed
	collector.RecordRun(run, nil)

	snapshot := collector.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, string(domain.RunStatusFailed), snapshot[0].LastStatus)
	assert.Equal(t, 0, snapshot[0].ItemsFetched)
}

func TestSnapshotSortedBySource(t *testing.T) {
	collector := metrics.New(prometheus.NewRegistry())

	collector.RecordRun(completedRun("feed-z"), nil)
	collector.RecordRun(completedRun("feed-a"), nil)

	snapshot := collector.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "feed-a", snapshot[0].SourceKey)
	assert.Equal(t, "feed-z", snapshot[1].SourceKey)
}

func TestPrometheusCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.New(registry)

	collector.RecordRun(completedRun("feed-a"), &pipeline.Stats{
		Fetched: 3, Created: 2, Skipped: 1,
		SkipReasons: map[string]int{string(domain.SkipReasonDailyCap): 1},
	})
	collector.SetCircuitState("feed-a", 2)
	collector.SetCapUsage("feed-a", 42)

	families, err := registry.Gather()
	require.NoError(t, err)

	values := make(map[string]float64, len(families))
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[f.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[f.GetName()] += m.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, float64(1), values["dealpipe_ingestion_runs_total"])
	assert.Equal(t, float64(3), values["dealpipe_ingestion_items_total"], "2 created and 1 skipped")
	assert.Equal(t, float64(1), values["dealpipe_ingestion_skips_total"])
	assert.Equal(t, float64(2), values["dealpipe_circuit_state"])
	assert.Equal(t, float64(42), values["dealpipe_daily_cap_used"])
}
