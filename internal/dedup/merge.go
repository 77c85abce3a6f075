package dedup

import (
	"math"
	"time"

	"github.com/dealpipe/dealpipe/internal/domain"
)

// priceEpsilon is the smallest price change worth persisting.
const priceEpsilon = 0.01

// MergeDeal folds strictly-better information from a duplicate
// submission into the stored deal. Never destructive: fields are only
// filled when missing, expiry only extends, price refreshes when it
// moved more than a cent. Returns true when anything changed.
func MergeDeal(existing *domain.Deal, incoming *domain.Deal) bool {
	changed := false

	if existing.ImageURL == "" && incoming.ImageURL != "" {
		existing.ImageURL = incoming.ImageURL
		changed = true
	}
	if existing.Description == "" && incoming.Description != "" {
		existing.Description = incoming.Description
		changed = true
	}
	if existing.CouponCode == "" && incoming.CouponCode != "" {
		existing.CouponCode = incoming.CouponCode
		changed = true
	}
	if laterExpiry(existing.ExpiresAt, incoming.ExpiresAt) {
		existing.ExpiresAt = incoming.ExpiresAt
		changed = true
	}
	if priceMoved(existing.Price, incoming.Price) {
		existing.Price = incoming.Price
		changed = true
	}
	if priceMoved(existing.ListPrice, incoming.ListPrice) {
		existing.ListPrice = incoming.ListPrice
		changed = true
	}

	// A repeat sighting is itself a verification signal.
	existing.VerifiedCount++

	return changed
}

// MergeCoupon is the coupon variant of MergeDeal.
func MergeCoupon(existing *domain.Coupon, incoming *domain.Coupon) bool {
	changed := false

	if existing.Description == "" && incoming.Description != "" {
		existing.Description = incoming.Description
		changed = true
	}
	if existing.Code == "" && incoming.Code != "" {
		existing.Code = incoming.Code
		changed = true
	}
	if laterExpiry(existing.ExpiresAt, incoming.ExpiresAt) {
		existing.ExpiresAt = incoming.ExpiresAt
		changed = true
	}
	if existing.DiscountPct == nil && incoming.DiscountPct != nil {
		existing.DiscountPct = incoming.DiscountPct
		changed = true
	}

	existing.VerifiedCount++

	return changed
}

// laterExpiry reports whether the incoming expiry extends the stored one.
func laterExpiry(existing, incoming *time.Time) bool {
	if incoming == nil {
		return false
	}
	return existing == nil || incoming.After(*existing)
}

// priceMoved reports whether the incoming price differs beyond a cent.
func priceMoved(existing, incoming *float64) bool {
	if incoming == nil {
		return false
	}
	if existing == nil {
		return true
	}
	return math.Abs(*existing-*incoming) > priceEpsilon
}
