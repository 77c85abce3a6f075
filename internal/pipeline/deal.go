package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/dealpipe/dealpipe/internal/config"
	"github.com/dealpipe/dealpipe/internal/dedup"
	"github.com/dealpipe/dealpipe/internal/domain"
	"github.com/dealpipe/dealpipe/internal/logger"
	"github.com/dealpipe/dealpipe/internal/ratelimit"
	"github.com/dealpipe/dealpipe/internal/store"
)

const defaultCurrency = "USD"

// DealVariant implements the deal side of the pipeline: normalization
// into domain.Deal, merchant URL and image enrichment, and persistence
// through the deal repository.
type DealVariant struct {
	repo      *store.DealRepository
	merchants MerchantResolver
	images    ImageExtractor
	limiter   *ratelimit.Limiter
	log       logger.Interface
}

// MerchantResolver resolves aggregator links to merchant URLs.
type MerchantResolver interface {
	Resolve(ctx context.Context, rawURL string) (string, error)
}

// ImageExtractor discovers product images on a merchant page.
type ImageExtractor interface {
	Extract(ctx context.Context, pageURL string) ([]string, error)
}

// NewDealVariant creates the deal pipeline variant.
func NewDealVariant(
	repo *store.DealRepository,
	merchants MerchantResolver,
	images ImageExtractor,
	limiter *ratelimit.Limiter,
	log logger.Interface,
) *DealVariant {
	return &DealVariant{
		repo:      repo,
		merchants: merchants,
		images:    images,
		limiter:   limiter,
		log:       log,
	}
}

var _ Variant = (*DealVariant)(nil)

// Type returns the deal item type.
func (v *DealVariant) Type() domain.ItemType { return domain.ItemTypeDeal }

// Normalize cleans a raw feed item into a deal. Malformed URLs are the
// only hard failure; bad prices and dates degrade to nil.
func (v *DealVariant) Normalize(raw *domain.RawItem, source *config.SourceConfig) (Item, error) {
	title := stripHTML(raw.Title)
	description := stripHTML(raw.Description)

	canonical, err := dedup.CanonicalizeURL(raw.URL)
	if err != nil {
		return nil, fmt.Errorf("canonicalize url: %w", err)
	}

	price := parsePrice(raw.Price)
	listPrice := parsePrice(raw.ListPrice)

	// A list price at or below the sale price is left for validation to
	// reject; normalization never repairs contradictory prices.
	discount := parseDiscountPct(raw.DiscountPct, title, description)
	if discount == nil && price != nil && listPrice != nil && *listPrice > *price {
		derived := math.Round((1 - *price / *listPrice) * 1000) / 10
		discount = &derived
	}

	code := normalizeCode(raw.CouponCode)
	if code == "" {
		code = extractEmbeddedCode(title, description)
	}

	currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	deal := &domain.Deal{
		Title:         title,
		Description:   description,
		URL:           raw.URL,
		CanonicalURL:  canonical,
		SourceURL:     raw.URL,
		ImageURL:      strings.TrimSpace(raw.ImageURL),
		Price:         price,
		ListPrice:     listPrice,
		Currency:      currency,
		DiscountPct:   discount,
		CouponCode:    code,
		Category:      strings.TrimSpace(raw.Category),
		MerchantName:  strings.TrimSpace(raw.MerchantName),
		SourceKey:     source.Key,
		ExternalID:    strings.TrimSpace(raw.ExternalID),
		VerifiedCount: 1,
		ExpiresAt:     parseDate(raw.ExpiresAt),
	}

	return &dealItem{deal: deal, variant: v, trusted: source.Trusted}, nil
}

// dealItem is one deal moving through the pipeline stages.
type dealItem struct {
	deal    *domain.Deal
	variant *DealVariant
	trusted bool
}

func (it *dealItem) ID() string           { return it.deal.ID }
func (it *dealItem) Title() string        { return it.deal.Title }
func (it *dealItem) URL() string          { return it.deal.URL }
func (it *dealItem) MerchantName() string { return it.deal.MerchantName }

func (it *dealItem) SetCompany(companyID string) {
	it.deal.CompanyID = &companyID
}

func (it *dealItem) Validate(v *Validator) error {
	return v.ValidateDeal(it.deal)
}

func (it *dealItem) DedupItem() *dedup.Item {
	return &dedup.Item{
		Type:         domain.ItemTypeDeal,
		Title:        it.deal.Title,
		CanonicalURL: it.deal.CanonicalURL,
		SourceKey:    it.deal.SourceKey,
		ExternalID:   it.deal.ExternalID,
		CompanyID:    it.deal.CompanyID,
		Price:        it.deal.Price,
	}
}

// Enrich resolves the merchant URL behind the aggregator link and, when
// the feed supplied no image, discovers one on the merchant page. Both
// steps are rate limited and soft-fail; the deal persists either way.
func (it *dealItem) Enrich(ctx context.Context, source *config.SourceConfig) {
	v := it.variant

	if err := v.limiter.Acquire(ctx, source.Key); err != nil {
		return
	}
	merchantURL, err := v.merchants.Resolve(ctx, it.deal.URL)
	if err != nil {
		v.log.Warn("merchant url resolution failed",
			"url", it.deal.URL,
			"error", err.Error(),
		)
	}
	if merchantURL != "" && merchantURL != it.deal.URL {
		it.deal.MerchantURL = merchantURL
	}

	if it.deal.ImageURL != "" {
		return
	}

	pageURL := it.deal.MerchantURL
	if pageURL == "" {
		pageURL = it.deal.URL
	}

	if err := v.limiter.Acquire(ctx, source.Key); err != nil {
		return
	}
	images, imgErr := v.images.Extract(ctx, pageURL)
	if imgErr != nil {
		v.log.Warn("image discovery failed",
			"url", pageURL,
			"error", imgErr.Error(),
		)
		return
	}
	if len(images) > 0 {
		it.deal.ImageURL = images[0]
	}
}

func (it *dealItem) Insert(ctx context.Context) error {
	it.deal.QualityScore = dealQuality(it.deal, it.trusted)
	return it.variant.repo.Insert(ctx, it.deal)
}

// Merge folds this submission into the stored duplicate and writes the
// result back. The verified-count bump alone makes the write worthwhile.
func (it *dealItem) Merge(ctx context.Context, existingID string) (bool, error) {
	existing, err := it.variant.repo.GetByID(ctx, existingID)
	if err != nil {
		return false, fmt.Errorf("merge load deal: %w", err)
	}

	changed := dedup.MergeDeal(existing, it.deal)

	if err := it.variant.repo.UpdateMergeable(ctx, existing); err != nil {
		return false, fmt.Errorf("merge update deal: %w", err)
	}

	return changed, nil
}
