package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/dealpipe/dealpipe/internal/dedup"
	"github.com/dealpipe/dealpipe/internal/domain"
)

// DedupLookup implements dedup.Lookup over the deals and coupons tables.
// Deals and coupons are deduplicated independently; the item type picks
// the table.
type DedupLookup struct {
	db      *sqlx.DB
	builder sq.StatementBuilderType
}

// NewDedupLookup creates the dedup lookup over the given database.
func NewDedupLookup(db *sqlx.DB) *DedupLookup {
	return &DedupLookup{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

var _ dedup.Lookup = (*DedupLookup)(nil)

// FindIDByCanonicalURL returns the ID of the stored item with the exact
// canonical URL, or empty when none exists.
func (l *DedupLookup) FindIDByCanonicalURL(ctx context.Context, itemType domain.ItemType, canonicalURL string) (string, error) {
	query := fmt.Sprintf(`SELECT id FROM %s WHERE canonical_url = $1 LIMIT 1`, tableFor(itemType))
	return l.fetchID(ctx, query, canonicalURL)
}

// FindIDByExternalID returns the ID of the stored item with the same
// (source, external_id) pair, or empty when none exists.
func (l *DedupLookup) FindIDByExternalID(ctx context.Context, itemType domain.ItemType, sourceKey, externalID string) (string, error) {
	query := fmt.Sprintf(
		`SELECT id FROM %s WHERE source_key = $1 AND external_id = $2 LIMIT 1`,
		tableFor(itemType),
	)
	return l.fetchID(ctx, query, sourceKey, externalID)
}

// FindIDByExactTitle returns the ID of a recently created item whose
// trimmed title matches case-insensitively, or empty when none exists.
func (l *DedupLookup) FindIDByExactTitle(ctx context.Context, itemType domain.ItemType, title string, since time.Time) (string, error) {
	query := fmt.Sprintf(
		`SELECT id FROM %s WHERE LOWER(TRIM(title)) = LOWER(TRIM($1)) AND created_at >= $2 LIMIT 1`,
		tableFor(itemType),
	)
	return l.fetchID(ctx, query, title, since)
}

// RecentCandidatesByCompany returns similarity candidates scoped to one
// company inside the lookback window, newest first.
func (l *DedupLookup) RecentCandidatesByCompany(
	ctx context.Context,
	itemType domain.ItemType,
	companyID string,
	since time.Time,
	limit int,
) ([]dedup.Candidate, error) {
	query, args, err := l.builder.
		Select("id", "title", priceColumn(itemType)).
		From(tableFor(itemType)).
		Where(sq.Eq{"company_id": companyID}).
		Where(sq.GtOrEq{"created_at": since}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build candidate query: %w", err)
	}

	return l.fetchCandidates(ctx, query, args...)
}

// SearchRecentCandidates runs the last-resort full-text search over
// recent items regardless of company, using Postgres text search.
func (l *DedupLookup) SearchRecentCandidates(
	ctx context.Context,
	itemType domain.ItemType,
	queryText string,
	since time.Time,
	limit int,
) ([]dedup.Candidate, error) {
	query, args, err := l.builder.
		Select("id", "title", priceColumn(itemType)).
		From(tableFor(itemType)).
		Where(sq.GtOrEq{"created_at": since}).
		Where("to_tsvector('simple', title) @@ websearch_to_tsquery('simple', ?)", queryText).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search query: %w", err)
	}

	return l.fetchCandidates(ctx, query, args...)
}

// fetchID runs a single-ID query, mapping no-rows to the empty string.
func (l *DedupLookup) fetchID(ctx context.Context, query string, args ...any) (string, error) {
	var id string
	err := l.db.GetContext(ctx, &id, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("dedup lookup: %w", err)
	}
	return id, nil
}

func (l *DedupLookup) fetchCandidates(ctx context.Context, query string, args ...any) ([]dedup.Candidate, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dedup candidates: %w", err)
	}
	defer rows.Close()

	var candidates []dedup.Candidate
	for rows.Next() {
		var c dedup.Candidate
		if scanErr := rows.Scan(&c.ID, &c.Title, &c.Price); scanErr != nil {
			return nil, fmt.Errorf("dedup candidate scan: %w", scanErr)
		}
		candidates = append(candidates, c)
	}

	return candidates, rows.Err()
}

// tableFor maps an item type to its table. Unknown types fall back to
// deals; callers validate the type upstream.
func tableFor(itemType domain.ItemType) string {
	if itemType == domain.ItemTypeCoupon {
		return "coupons"
	}
	return "deals"
}

// priceColumn returns the price-like column used by the similarity
// strategies. Coupons carry a discount percentage instead of a price.
func priceColumn(itemType domain.ItemType) string {
	if itemType == domain.ItemTypeCoupon {
		return "discount_pct"
	}
	return "price"
}
