package dailycap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(cfg Config) (*Tracker, *time.Time) {
	t := NewTracker(cfg)
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	t.now = func() time.Time { return now }
	t.resetDate = t.dateKey()
	return t, &now
}

func TestCapBlocksAfterLimit(t *testing.T) {
	tracker, _ := newTestTracker(Config{Default: 5})

	for i := 0; i < 5; i++ {
		status := tracker.Check("feed-a")
		require.True(t, status.Allowed, "creation %d should be allowed", i+1)
		tracker.Increment("feed-a")
	}

	status := tracker.Check("feed-a")
	assert.False(t, status.Allowed, "sixth creation must be blocked")
	assert.Equal(t, 5, status.Current)
	assert.Equal(t, 0, status.Remaining)
}

func TestCapsAreIndependentPerSource(t *testing.T) {
	tracker, _ := newTestTracker(Config{Default: 1})

	tracker.Increment("feed-a")

	assert.False(t, tracker.Check("feed-a").Allowed)
	assert.True(t, tracker.Check("feed-b").Allowed)
}

func TestPerSourceOverride(t *testing.T) {
	tracker, _ := newTestTracker(Config{
		Default:   1,
		PerSource: map[string]int{"feed-big": 3},
	})

	tracker.Increment("feed-big")
	tracker.Increment("feed-big")

	status := tracker.Check("feed-big")
	assert.True(t, status.Allowed)
	assert.Equal(t, 3, status.Cap)
}

func TestCountersResetOnDateRollover(t *testing.T) {
	tracker, now := newTestTracker(Config{Default: 2})

	tracker.Increment("feed-a")
	tracker.Increment("feed-a")
	require.False(t, tracker.Check("feed-a").Allowed)

	*now = now.Add(24 * time.Hour)

	status := tracker.Check("feed-a")
	assert.True(t, status.Allowed, "new calendar day must reset the counter")
	assert.Equal(t, 0, status.Current)
}

func TestOnChangeObservesIncrementsAndReset(t *testing.T) {
	observed := make(map[string]int)
	tracker, now := newTestTracker(Config{
		Default:  10,
		OnChange: func(source string, used int) { observed[source] = used },
	})

	tracker.Increment("feed-a")
	tracker.Increment("feed-a")
	tracker.Increment("feed-b")

	assert.Equal(t, 2, observed["feed-a"])
	assert.Equal(t, 1, observed["feed-b"])

	*now = now.Add(24 * time.Hour)
	tracker.Check("feed-a")

	assert.Equal(t, 0, observed["feed-a"], "rollover must zero the observed usage")
	assert.Equal(t, 0, observed["feed-b"])
}

func TestCountsReturnsCopy(t *testing.T) {
	tracker, _ := newTestTracker(Config{Default: 10})

	tracker.Increment("feed-a")

	counts := tracker.Counts()
	counts["feed-a"] = 99

	assert.Equal(t, 1, tracker.Check("feed-a").Current)
}
