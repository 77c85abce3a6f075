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

// CouponRepository handles database operations for coupons.
type CouponRepository struct {
	db *sqlx.DB
}

// NewCouponRepository creates a new coupon repository.
func NewCouponRepository(db *sqlx.DB) *CouponRepository {
	return &CouponRepository{db: db}
}

// Insert persists a new coupon with status pending. A uniqueness
// collision surfaces as ErrUniqueViolation.
func (r *CouponRepository) Insert(ctx context.Context, coupon *domain.Coupon) error {
	if coupon.ID == "" {
		coupon.ID = uuid.NewString()
	}
	coupon.Status = domain.StatusPending

	query := `
		INSERT INTO coupons (
			id, title, description, code, url, canonical_url, source_url,
			discount_pct, merchant_name, company_id, source_key, external_id,
			quality_score, status, verified_count, expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		coupon.ID, coupon.Title, coupon.Description, coupon.Code, coupon.URL,
		coupon.CanonicalURL, coupon.SourceURL, coupon.DiscountPct,
		coupon.MerchantName, coupon.CompanyID, coupon.SourceKey,
		coupon.ExternalID, coupon.QualityScore, coupon.Status,
		coupon.VerifiedCount, coupon.ExpiresAt,
	).Scan(&coupon.CreatedAt, &coupon.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert coupon: %w", mapInsertError(err))
	}

	return nil
}

// GetByID retrieves a coupon by its ID.
func (r *CouponRepository) GetByID(ctx context.Context, id string) (*domain.Coupon, error) {
	var coupon domain.Coupon
	query := `
		SELECT id, title, description, code, url, canonical_url, source_url,
		       discount_pct, merchant_name, company_id, source_key, external_id,
		       quality_score, status, verified_count, expires_at, created_at, updated_at
		FROM coupons
		WHERE id = $1
	`

	err := r.db.GetContext(ctx, &coupon, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}

	return &coupon, nil
}

// UpdateMergeable writes back the fields the enrichment merge is allowed
// to change.
func (r *CouponRepository) UpdateMergeable(ctx context.Context, coupon *domain.Coupon) error {
	query := `
		UPDATE coupons
		SET description = $1, code = $2, discount_pct = $3, expires_at = $4,
		    verified_count = $5, updated_at = NOW()
		WHERE id = $6
	`

	result, err := r.db.ExecContext(
		ctx,
		query,
		coupon.Description, coupon.Code, coupon.DiscountPct, coupon.ExpiresAt,
		coupon.VerifiedCount, coupon.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update coupon: %w", err)
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
