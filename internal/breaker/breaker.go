// Package breaker provides per-source circuit breakers that isolate
// persistently failing feeds from the rest of the pipeline.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is rejected because the
// circuit for its source is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the state of one circuit.
type State int

const (
	// StateClosed means calls are allowed.
	StateClosed State = iota
	// StateOpen means calls are rejected.
	StateOpen
	// StateHalfOpen means calls are allowed while testing recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures circuit behavior, shared by all sources.
type Config struct {
	// FailureThreshold is the number of failures inside MonitorWindow
	// that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes
	// that closes the circuit.
	SuccessThreshold int
	// ResetTimeout is how long the circuit stays open before half-open.
	ResetTimeout time.Duration
	// MonitorWindow is the rolling window failures are counted in.
	MonitorWindow time.Duration
	// OnStateChange is an optional callback invoked on transitions.
	OnStateChange func(source string, from, to State)
}

// DefaultConfig returns a default circuit breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     60 * time.Second,
		MonitorWindow:    5 * time.Minute,
	}
}

// circuit is the state for one source.
type circuit struct {
	state        State
	failureTimes []time.Time
	successCount int
	openedAt     time.Time
}

// Registry manages one circuit per source key. Circuits live only in
// process memory; after a restart they reopen lazily from fresh
// observations.
type Registry struct {
	mu       sync.Mutex
	config   Config
	circuits map[string]*circuit
	now      func() time.Time
}

// NewRegistry creates a circuit breaker registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.MonitorWindow <= 0 {
		cfg.MonitorWindow = 5 * time.Minute
	}

	return &Registry{
		config:   cfg,
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
}

// CanExecute reports whether a call for the source is currently allowed.
// When the reset timeout has elapsed on an open circuit the circuit
// moves to half-open and the triggering call is allowed through.
func (r *Registry) CanExecute(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canExecuteLocked(source) == nil
}

// Execute runs fn under circuit protection, recording the outcome and
// returning ErrCircuitOpen without invoking fn when the circuit rejects.
func (r *Registry) Execute(ctx context.Context, source string, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	err := r.canExecuteLocked(source)
	r.mu.Unlock()
	if err != nil {
		return err
	}

	callErr := fn(ctx)
	if callErr != nil {
		r.RecordFailure(source)
		return callErr
	}

	r.RecordSuccess(source)
	return nil
}

// RecordSuccess records a successful call for the source.
func (r *Registry) RecordSuccess(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(source)
	switch c.state {
	case StateHalfOpen:
		c.successCount++
		if c.successCount >= r.config.SuccessThreshold {
			r.transition(source, c, StateClosed)
		}
	case StateClosed:
		// A success inside the window does not clear prior failures;
		// only the rolling window does.
	case StateOpen:
	}
}

// RecordFailure records a failed call for the source.
func (r *Registry) RecordFailure(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	c := r.get(source)

	switch c.state {
	case StateClosed:
		c.failureTimes = append(c.failureTimes, now)
		r.pruneLocked(c, now)
		if len(c.failureTimes) >= r.config.FailureThreshold {
			c.openedAt = now
			r.transition(source, c, StateOpen)
		}
	case StateHalfOpen:
		// A single half-open failure reopens immediately.
		c.openedAt = now
		r.transition(source, c, StateOpen)
	case StateOpen:
		c.openedAt = now
	}
}

// Snapshot describes the observable state of one circuit.
type Snapshot struct {
	Source       string    `json:"source"`
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	SuccessCount int       `json:"success_count"`
	OpenedAt     time.Time `json:"opened_at,omitempty"`
}

// Snapshots returns the current state of every known circuit.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(r.circuits))
	for source, c := range r.circuits {
		snaps = append(snaps, Snapshot{
			Source:       source,
			State:        c.state.String(),
			FailureCount: len(c.failureTimes),
			SuccessCount: c.successCount,
			OpenedAt:     c.openedAt,
		})
	}
	return snaps
}

// AnyOpen reports whether any circuit is currently open.
func (r *Registry) AnyOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.circuits {
		if c.state == StateOpen {
			return true
		}
	}
	return false
}

// canExecuteLocked applies the open-to-half-open transition and returns
// a rejection error when the circuit is still open.
func (r *Registry) canExecuteLocked(source string) error {
	c := r.get(source)
	if c.state != StateOpen {
		return nil
	}

	elapsed := r.now().Sub(c.openedAt)
	if elapsed >= r.config.ResetTimeout {
		r.transition(source, c, StateHalfOpen)
		return nil
	}

	retryIn := (r.config.ResetTimeout - elapsed).Round(time.Second)
	return fmt.Errorf("%w for %q, retry in %s", ErrCircuitOpen, source, retryIn)
}

// get returns the circuit for a source, creating it closed on first use.
func (r *Registry) get(source string) *circuit {
	c, ok := r.circuits[source]
	if !ok {
		c = &circuit{state: StateClosed}
		r.circuits[source] = c
	}
	return c
}

// pruneLocked drops failure timestamps outside the monitor window.
func (r *Registry) pruneLocked(c *circuit, now time.Time) {
	cutoff := now.Add(-r.config.MonitorWindow)
	kept := c.failureTimes[:0]
	for _, t := range c.failureTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.failureTimes = kept
}

// transition moves a circuit to a new state and resets counters.
func (r *Registry) transition(source string, c *circuit, to State) {
	if c.state == to {
		return
	}

	from := c.state
	c.state = to

	switch to {
	case StateClosed:
		c.failureTimes = nil
		c.successCount = 0
	case StateHalfOpen:
		c.successCount = 0
	case StateOpen:
		c.failureTimes = nil
	}

	if r.config.OnStateChange != nil {
		r.config.OnStateChange(source, from, to)
	}
}
