// Package domain defines the core entities shared across the ingestion
// pipeline: raw feed items, normalized deals and coupons, companies, and
// ingestion run audit records.
package domain

// ItemStatus represents the moderation status of a stored item.
// The ingestion core only ever writes StatusPending; approval is an
// external workflow.
type ItemStatus string

const (
	// StatusPending means the item is awaiting moderation.
	StatusPending ItemStatus = "pending"
	// StatusApproved means the item passed moderation.
	StatusApproved ItemStatus = "approved"
	// StatusRejected means the item failed moderation.
	StatusRejected ItemStatus = "rejected"
)

// ItemType distinguishes the two ingestion variants.
type ItemType string

const (
	// ItemTypeDeal is a priced offer.
	ItemTypeDeal ItemType = "deal"
	// ItemTypeCoupon is a discount code.
	ItemTypeCoupon ItemType = "coupon"
)

// RawItem is the untyped payload a fetcher returns for one listing.
// All fields are optional except Title and URL; everything is a string
// because feeds disagree about formats. RawItems are discarded after
// normalization.
type RawItem struct {
	Title        string
	Description  string
	URL          string
	ImageURL     string
	Price        string
	ListPrice    string
	Currency     string
	MerchantName string
	Category     string
	CouponCode   string
	DiscountPct  string
	ExpiresAt    string
	ExternalID   string
	PublishedAt  string
}
