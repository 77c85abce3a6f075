// Package dailycap enforces a hard per-source ceiling on item creations
// per calendar day. The cap is a safety valve independent of rate
// limiting; counters reset lazily when the local date rolls over.
package dailycap

import (
	"sync"
	"time"
)

// Config configures the daily cap tracker.
type Config struct {
	// Default is the cap applied to sources without an override.
	Default int
	// PerSource maps source keys to cap overrides.
	PerSource map[string]int
	// OnChange, when set, observes every count change: after each
	// increment and with zero for each source on the daily reset.
	OnChange func(source string, used int)
}

// Status is the result of a cap check.
type Status struct {
	Allowed   bool   `json:"allowed"`
	Source    string `json:"source"`
	Current   int    `json:"current"`
	Cap       int    `json:"cap"`
	Remaining int    `json:"remaining"`
}

// Tracker counts creations per source per day.
type Tracker struct {
	mu        sync.Mutex
	config    Config
	counts    map[string]int
	resetDate string
	now       func() time.Time
}

// NewTracker creates a daily cap tracker.
func NewTracker(cfg Config) *Tracker {
	if cfg.Default <= 0 {
		cfg.Default = 100
	}

	t := &Tracker{
		config: cfg,
		counts: make(map[string]int),
		now:    time.Now,
	}
	t.resetDate = t.dateKey()
	return t
}

// Check reports whether the source may create another item today.
func (t *Tracker) Check(source string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.maybeResetLocked()

	cap := t.capFor(source)
	current := t.counts[source]
	remaining := cap - current
	if remaining < 0 {
		remaining = 0
	}

	return Status{
		Allowed:   current < cap,
		Source:    source,
		Current:   current,
		Cap:       cap,
		Remaining: remaining,
	}
}

// Increment records a successful creation for the source. Call only
// after the insert has succeeded.
func (t *Tracker) Increment(source string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.maybeResetLocked()
	t.counts[source]++
	if t.config.OnChange != nil {
		t.config.OnChange(source, t.counts[source])
	}
}

// Counts returns a copy of today's per-source counts.
func (t *Tracker) Counts() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.maybeResetLocked()

	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

// maybeResetLocked wipes counters when the observed calendar date has
// changed since the last access. Checked lazily on every access rather
// than by a background timer.
func (t *Tracker) maybeResetLocked() {
	today := t.dateKey()
	if today != t.resetDate {
		if t.config.OnChange != nil {
			for source := range t.counts {
				t.config.OnChange(source, 0)
			}
		}
		t.counts = make(map[string]int)
		t.resetDate = today
	}
}

func (t *Tracker) capFor(source string) int {
	if cap, ok := t.config.PerSource[source]; ok && cap > 0 {
		return cap
	}
	return t.config.Default
}

func (t *Tracker) dateKey() string {
	return t.now().Local().Format("2006-01-02")
}
