package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/dealpipe/dealpipe/internal/config"
	"github.com/dealpipe/dealpipe/internal/dedup"
	"github.com/dealpipe/dealpipe/internal/domain"
	"github.com/dealpipe/dealpipe/internal/logger"
	"github.com/dealpipe/dealpipe/internal/store"
)

// CouponVariant implements the coupon side of the pipeline. Coupons skip
// merchant URL and image enrichment; their landing pages are aggregator
// redemption pages, not product pages.
type CouponVariant struct {
	repo *store.CouponRepository
	log  logger.Interface
}

// NewCouponVariant creates the coupon pipeline variant.
func NewCouponVariant(repo *store.CouponRepository, log logger.Interface) *CouponVariant {
	return &CouponVariant{repo: repo, log: log}
}

var _ Variant = (*CouponVariant)(nil)

// Type returns the coupon item type.
func (v *CouponVariant) Type() domain.ItemType { return domain.ItemTypeCoupon }

// Normalize cleans a raw feed item into a coupon, extracting the code
// from the title or description when the feed omitted an explicit one.
func (v *CouponVariant) Normalize(raw *domain.RawItem, source *config.SourceConfig) (Item, error) {
	title := stripHTML(raw.Title)
	description := stripHTML(raw.Description)

	canonical, err := dedup.CanonicalizeURL(raw.URL)
	if err != nil {
		return nil, fmt.Errorf("canonicalize url: %w", err)
	}

	code := normalizeCode(raw.CouponCode)
	if code == "" {
		code = extractEmbeddedCode(title, description)
	}

	coupon := &domain.Coupon{
		Title:         title,
		Description:   description,
		Code:          code,
		URL:           raw.URL,
		CanonicalURL:  canonical,
		SourceURL:     raw.URL,
		DiscountPct:   parseDiscountPct(raw.DiscountPct, title, description),
		MerchantName:  strings.TrimSpace(raw.MerchantName),
		SourceKey:     source.Key,
		ExternalID:    strings.TrimSpace(raw.ExternalID),
		VerifiedCount: 1,
		ExpiresAt:     parseDate(raw.ExpiresAt),
	}

	return &couponItem{coupon: coupon, variant: v, trusted: source.Trusted}, nil
}

// couponItem is one coupon moving through the pipeline stages.
type couponItem struct {
	coupon  *domain.Coupon
	variant *CouponVariant
	trusted bool
}

func (it *couponItem) ID() string           { return it.coupon.ID }
func (it *couponItem) Title() string        { return it.coupon.Title }
func (it *couponItem) URL() string          { return it.coupon.URL }
func (it *couponItem) MerchantName() string { return it.coupon.MerchantName }

func (it *couponItem) SetCompany(companyID string) {
	it.coupon.CompanyID = &companyID
}

func (it *couponItem) Validate(v *Validator) error {
	return v.ValidateCoupon(it.coupon)
}

func (it *couponItem) DedupItem() *dedup.Item {
	return &dedup.Item{
		Type:         domain.ItemTypeCoupon,
		Title:        it.coupon.Title,
		CanonicalURL: it.coupon.CanonicalURL,
		SourceKey:    it.coupon.SourceKey,
		ExternalID:   it.coupon.ExternalID,
		CompanyID:    it.coupon.CompanyID,
		Price:        it.coupon.DiscountPct,
	}
}

// Enrich is a no-op for coupons.
func (it *couponItem) Enrich(context.Context, *config.SourceConfig) {}

func (it *couponItem) Insert(ctx context.Context) error {
	it.coupon.QualityScore = couponQuality(it.coupon, it.trusted)
	return it.variant.repo.Insert(ctx, it.coupon)
}

// Merge folds this submission into the stored duplicate.
func (it *couponItem) Merge(ctx context.Context, existingID string) (bool, error) {
	existing, err := it.variant.repo.GetByID(ctx, existingID)
	if err != nil {
		return false, fmt.Errorf("merge load coupon: %w", err)
	}

	changed := dedup.MergeCoupon(existing, it.coupon)

	if err := it.variant.repo.UpdateMergeable(ctx, existing); err != nil {
		return false, fmt.Errorf("merge update coupon: %w", err)
	}

	return changed, nil
}
