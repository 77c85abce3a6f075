package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/dealpipe/dealpipe/internal/domain"
)

// DealRepository handles database operations for deals.
type DealRepository struct {
	db *sqlx.DB
}

// NewDealRepository creates a new deal repository.
func NewDealRepository(db *sqlx.DB) *DealRepository {
	return &DealRepository{db: db}
}

// Insert persists a new deal with status pending. A uniqueness collision
// (concurrent run inserted the same canonical URL first) surfaces as
// ErrUniqueViolation.
func (r *DealRepository) Insert(ctx context.Context, deal *domain.Deal) error {
	if deal.ID == "" {
		deal.ID = uuid.NewString()
	}
	deal.Status = domain.StatusPending

	query := `
		INSERT INTO deals (
			id, title, description, url, canonical_url, source_url, merchant_url,
			image_url, price, list_price, currency, discount_pct, coupon_code,
			category, merchant_name, company_id, source_key, external_id,
			quality_score, status, verified_count, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22
		)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		deal.ID, deal.Title, deal.Description, deal.URL, deal.CanonicalURL,
		deal.SourceURL, deal.MerchantURL, deal.ImageURL, deal.Price,
		deal.ListPrice, deal.Currency, deal.DiscountPct, deal.CouponCode,
		deal.Category, deal.MerchantName, deal.CompanyID, deal.SourceKey,
		deal.ExternalID, deal.QualityScore, deal.Status, deal.VerifiedCount,
		deal.ExpiresAt,
	).Scan(&deal.CreatedAt, &deal.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert deal: %w", mapInsertError(err))
	}

	return nil
}

// GetByID retrieves a deal by its ID.
func (r *DealRepository) GetByID(ctx context.Context, id string) (*domain.Deal, error) {
	var deal domain.Deal
	query := `
		SELECT id, title, description, url, canonical_url, source_url, merchant_url,
		       image_url, price, list_price, currency, discount_pct, coupon_code,
		       category, merchant_name, company_id, source_key, external_id,
		       quality_score, status, verified_count, expires_at, created_at, updated_at
		FROM deals
		WHERE id = $1
	`

	err := r.db.GetContext(ctx, &deal, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get deal: %w", err)
	}

	return &deal, nil
}

// UpdateMergeable writes back the fields the enrichment merge is allowed
// to change.
func (r *DealRepository) UpdateMergeable(ctx context.Context, deal *domain.Deal) error {
	query := `
		UPDATE deals
		SET image_url = $1, description = $2, coupon_code = $3, expires_at = $4,
		    price = $5, list_price = $6, verified_count = $7, updated_at = NOW()
		WHERE id = $8
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		deal.ImageURL, deal.Description, deal.CouponCode, deal.ExpiresAt,
		deal.Price, deal.ListPrice, deal.VerifiedCount, deal.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update deal: %w", err)
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
