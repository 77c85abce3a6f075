package domain

import "time"

// Deal is a normalized priced offer ready for persistence.
type Deal struct {
	ID            string     `db:"id"`
	Title         string     `db:"title"`
	Description   string     `db:"description"`
	URL           string     `db:"url"`
	CanonicalURL  string     `db:"canonical_url"`
	SourceURL     string     `db:"source_url"`
	MerchantURL   string     `db:"merchant_url"`
	ImageURL      string     `db:"image_url"`
	Price         *float64   `db:"price"`
	ListPrice     *float64   `db:"list_price"`
	Currency      string     `db:"currency"`
	DiscountPct   *float64   `db:"discount_pct"`
	CouponCode    string     `db:"coupon_code"`
	Category      string     `db:"category"`
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

// HasBothPrices reports whether both sale and list price are present.
func (d *Deal) HasBothPrices() bool {
	return d.Price != nil && d.ListPrice != nil
}
