package domain

import "time"

// Coupon is a normalized discount code ready for persistence.
type Coupon struct {
	ID            string     `db:"id"`
	Title         string     `db:"title"`
	Description   string     `db:"description"`
	Code          string     `db:"code"`
	URL           string     `db:"url"`
	CanonicalURL  string     `db:"canonical_url"`
	SourceURL     string     `db:"source_url"`
	DiscountPct   *float64   `db:"discount_pct"`
	MerchantName  string     `db:"merchant_name"`
	CompanyID     *string    `db:"company_id"`
	SourceKey     string     `db:"source_key"`
	ExternalID    string     `db:"external_id"`
	QualityScore  float64    `db:"quality_score"`
	Status        ItemStatus `db:"status"`
	VerifiedCount int        `db:"verified_count"`
	ExpiresAt     *time.Time `db:"expires_at"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}
