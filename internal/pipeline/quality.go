package pipeline

import "github.com/dealpipe/dealpipe/internal/domain"

// Quality scoring weights. Every item starts at the base score and earns
// additive credit for completeness signals.
const (
	qualityBase          = 0.5
	qualityImageBonus    = 0.1
	qualityDescBonus     = 0.1
	qualityPricesBonus   = 0.1
	qualityExpiryBonus   = 0.05
	qualityCategoryBonus = 0.05
	qualityTrustedBonus  = 0.1
	qualityDescMinLength = 50
)

// dealQuality scores a deal's completeness on [0, 1].
func dealQuality(deal *domain.Deal, trusted bool) float64 {
	score := qualityBase

	if deal.ImageURL != "" {
		score += qualityImageBonus
	}
	if len(deal.Description) > qualityDescMinLength {
		score += qualityDescBonus
	}
	if deal.HasBothPrices() {
		score += qualityPricesBonus
	}
	if deal.ExpiresAt != nil {
		score += qualityExpiryBonus
	}
	if deal.Category != "" {
		score += qualityCategoryBonus
	}
	if trusted {
		score += qualityTrustedBonus
	}

	return clampScore(score)
}

// couponQuality scores a coupon's completeness on [0, 1].
func couponQuality(coupon *domain.Coupon, trusted bool) float64 {
	score := qualityBase

	if len(coupon.Description) > qualityDescMinLength {
		score += qualityDescBonus
	}
	if coupon.DiscountPct != nil {
		score += qualityPricesBonus
	}
	if coupon.ExpiresAt != nil {
		score += qualityExpiryBonus
	}
	if trusted {
		score += qualityTrustedBonus
	}

	return clampScore(score)
}

func clampScore(score float64) float64 {
	if score > 1.0 {
		return 1.0
	}
	if score < 0 {
		return 0
	}
	return score
}
