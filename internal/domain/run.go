package domain

import "time"

// RunStatus is the terminal status of one scheduled ingestion execution.
type RunStatus string

const (
	// RunStatusRunning means the run is in progress.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted means the run finished, possibly with per-item failures.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed means the run itself failed (e.g. the fetch errored after retries).
	RunStatusFailed RunStatus = "failed"
	// RunStatusNotModified means the feed was unchanged since the last poll.
	RunStatusNotModified RunStatus = "not_modified"
)

// IngestionRun is the audit record for a single scheduled execution of a
// source. One row is written per run for operational visibility.
type IngestionRun struct {
	ID           string     `db:"id"`
	SourceKey    string     `db:"source_key"`
	Status       RunStatus  `db:"status"`
	StartedAt    time.Time  `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	DurationMs   int64      `db:"duration_ms"`
	ItemsFetched int        `db:"items_fetched"`
	ItemsCreated int        `db:"items_created"`
	ItemsUpdated int        `db:"items_updated"`
	ItemsSkipped int        `db:"items_skipped"`
	ItemsFailed  int        `db:"items_failed"`
	ErrorMessage string     `db:"error_message"`
}

// IngestionError is a truncated error record keyed by source, written
// whenever item processing throws an unexpected error.
type IngestionError struct {
	ID        string    `db:"id"`
	SourceKey string    `db:"source_key"`
	ItemTitle string    `db:"item_title"`
	ItemURL   string    `db:"item_url"`
	Message   string    `db:"message"`
	CreatedAt time.Time `db:"created_at"`
}
