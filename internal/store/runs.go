package store

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/dealpipe/dealpipe/internal/domain"
)

// maxErrorMessageLen truncates stored error context so one pathological
// feed cannot bloat the audit tables.
const maxErrorMessageLen = 500

// RunRepository handles database operations for ingestion runs and
// ingestion error records.
type RunRepository struct {
	db *sqlx.DB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Start inserts a running audit record for a scheduled execution.
func (r *RunRepository) Start(ctx context.Context, sourceKey string) (*domain.IngestionRun, error) {
	run := &domain.IngestionRun{
		ID:        uuid.NewString(),
		SourceKey: sourceKey,
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now(),
	}

	query := `
		INSERT INTO ingestion_runs (id, source_key, status, started_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.ExecContext(ctx, query, run.ID, run.SourceKey, run.Status, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	return run, nil
}

// Complete finalizes the audit record with its terminal status and stats.
func (r *RunRepository) Complete(ctx context.Context, run *domain.IngestionRun) error {
	now := time.Now()
	run.CompletedAt = &now
	run.DurationMs = now.Sub(run.StartedAt).Milliseconds()
	run.ErrorMessage = truncate(run.ErrorMessage, maxErrorMessageLen)

	query := `
		UPDATE ingestion_runs
		SET status = $1, completed_at = $2, duration_ms = $3,
		    items_fetched = $4, items_created = $5, items_updated = $6,
		    items_skipped = $7, items_failed = $8, error_message = $9
		WHERE id = $10
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		run.Status, run.CompletedAt, run.DurationMs,
		run.ItemsFetched, run.ItemsCreated, run.ItemsUpdated,
		run.ItemsSkipped, run.ItemsFailed, run.ErrorMessage,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// LogError writes a truncated error record keyed by source.
func (r *RunRepository) LogError(ctx context.Context, record *domain.IngestionError) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	query := `
		INSERT INTO ingestion_errors (id, source_key, item_title, item_url, message)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		record.ID,
		record.SourceKey,
		truncate(record.ItemTitle, 200),
		truncate(record.ItemURL, 500),
		truncate(record.Message, maxErrorMessageLen),
	)
	if err != nil {
		return fmt.Errorf("failed to log ingestion error: %w", err)
	}

	return nil
}

// truncate cuts on a rune boundary; Postgres rejects invalid UTF-8.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
