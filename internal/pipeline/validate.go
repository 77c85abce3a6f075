package pipeline

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/dealpipe/dealpipe/internal/config"
	"github.com/dealpipe/dealpipe/internal/domain"
	"github.com/dealpipe/dealpipe/internal/logger"
)

// ErrExpired marks an item whose expiry already passed at ingestion time.
var ErrExpired = errors.New("item already expired")

// ValidationError reports which field failed validation and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// Validator checks normalized items against the configured bounds.
type Validator struct {
	cfg config.ValidationConfig
	log logger.Interface
	now func() time.Time
}

// NewValidator creates a validator.
func NewValidator(cfg config.ValidationConfig, log logger.Interface) *Validator {
	return &Validator{cfg: cfg, log: log, now: time.Now}
}

// common checks the fields shared by deals and coupons.
func (v *Validator) common(title, rawURL string, expiresAt *time.Time) error {
	if len(title) < v.cfg.TitleMinLength {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("shorter than %d characters", v.cfg.TitleMinLength)}
	}
	if len(title) > v.cfg.TitleMaxLength {
		return &ValidationError{Field: "title", Reason: fmt.Sprintf("longer than %d characters", v.cfg.TitleMaxLength)}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return &ValidationError{Field: "url", Reason: "not an absolute http(s) url"}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &ValidationError{Field: "url", Reason: "not an absolute http(s) url"}
	}

	if expiresAt != nil && expiresAt.Before(v.now()) {
		return ErrExpired
	}

	return nil
}

// ValidateDeal checks a normalized deal. A suspicious discount is logged
// but does not reject the item; prices out of bounds do.
func (v *Validator) ValidateDeal(deal *domain.Deal) error {
	if err := v.common(deal.Title, deal.URL, deal.ExpiresAt); err != nil {
		return err
	}

	if deal.Price != nil && (*deal.Price < v.cfg.PriceMin || *deal.Price > v.cfg.PriceMax) {
		return &ValidationError{Field: "price", Reason: fmt.Sprintf("%.2f outside [%.2f, %.2f]", *deal.Price, v.cfg.PriceMin, v.cfg.PriceMax)}
	}
	if deal.HasBothPrices() && *deal.Price >= *deal.ListPrice {
		return &ValidationError{Field: "price", Reason: "sale price not below list price"}
	}

	if deal.DiscountPct != nil && *deal.DiscountPct > v.cfg.DiscountMaxPercent {
		v.log.Warn("suspicious discount percentage",
			"title", deal.Title,
			"discount_pct", *deal.DiscountPct,
		)
	}

	return nil
}

// ValidateCoupon checks a normalized coupon. A coupon needs a code; a
// deal-by-link without one belongs in a deal source.
func (v *Validator) ValidateCoupon(coupon *domain.Coupon) error {
	if err := v.common(coupon.Title, coupon.URL, coupon.ExpiresAt); err != nil {
		return err
	}

	if coupon.Code == "" {
		return &ValidationError{Field: "code", Reason: "missing"}
	}
	if coupon.DiscountPct != nil && (*coupon.DiscountPct <= 0 || *coupon.DiscountPct > 100) {
		return &ValidationError{Field: "discount_pct", Reason: "outside (0, 100]"}
	}

	return nil
}
