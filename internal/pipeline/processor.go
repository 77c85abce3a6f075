package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dealpipe/dealpipe/internal/config"
	"github.com/dealpipe/dealpipe/internal/dailycap"
	"github.com/dealpipe/dealpipe/internal/dedup"
	"github.com/dealpipe/dealpipe/internal/domain"
	"github.com/dealpipe/dealpipe/internal/logger"
	"github.com/dealpipe/dealpipe/internal/store"
)

// Variant parameterizes the shared pipeline over deals and coupons.
type Variant interface {
	Type() domain.ItemType
	Normalize(raw *domain.RawItem, source *config.SourceConfig) (Item, error)
}

// Item is one normalized item flowing through the shared stages.
type Item interface {
	ID() string
	Title() string
	URL() string
	MerchantName() string
	SetCompany(companyID string)
	Validate(v *Validator) error
	DedupItem() *dedup.Item
	Enrich(ctx context.Context, source *config.SourceConfig)
	Insert(ctx context.Context) error
	Merge(ctx context.Context, existingID string) (changed bool, err error)
}

// CompanyResolver resolves a merchant name to a company.
type CompanyResolver interface {
	Resolve(ctx context.Context, merchantName string) (*domain.Company, error)
}

// Stats aggregates the outcomes of one batch.
type Stats struct {
	Fetched     int
	Created     int
	Updated     int
	Skipped     int
	Failed      int
	SkipReasons map[string]int
}

// Processor runs raw items through normalize, validate, cap gate,
// enrichment, dedup, and persistence. One processor serves all sources.
type Processor struct {
	variants  map[domain.ItemType]Variant
	validator *Validator
	caps      *dailycap.Tracker
	companies CompanyResolver
	engine    *dedup.Engine
	log       logger.Interface
}

// NewProcessor creates a processor over the given variants.
func NewProcessor(
	variants []Variant,
	validator *Validator,
	caps *dailycap.Tracker,
	companies CompanyResolver,
	engine *dedup.Engine,
	log logger.Interface,
) *Processor {
	byType := make(map[domain.ItemType]Variant, len(variants))
	for _, v := range variants {
		byType[v.Type()] = v
	}

	return &Processor{
		variants:  byType,
		validator: validator,
		caps:      caps,
		companies: companies,
		engine:    engine,
		log:       log,
	}
}

// Process runs every raw item through the pipeline. Outcomes align with
// the input slice by index so callers can attribute failures to items.
// Item-level failures never abort the batch.
func (p *Processor) Process(ctx context.Context, source *config.SourceConfig, raws []domain.RawItem) (*Stats, []domain.Outcome) {
	stats := &Stats{
		Fetched:     len(raws),
		SkipReasons: make(map[string]int),
	}
	outcomes := make([]domain.Outcome, len(raws))

	variant, ok := p.variants[domain.ItemType(source.ItemType())]
	if !ok {
		err := fmt.Errorf("no pipeline variant for item type %q", source.ItemType())
		for i := range raws {
			outcomes[i] = domain.Errored(err)
		}
		stats.Failed = len(raws)
		return stats, outcomes
	}

	for i := range raws {
		if ctx.Err() != nil {
			outcomes[i] = domain.Errored(ctx.Err())
			stats.Failed++
			continue
		}

		outcome := p.processOne(ctx, variant, source, &raws[i])
		outcomes[i] = outcome

		switch outcome.Action {
		case domain.ActionCreated:
			stats.Created++
		case domain.ActionUpdated:
			stats.Updated++
		case domain.ActionSkipped:
			stats.Skipped++
			stats.SkipReasons[outcome.Reason]++
		case domain.ActionError:
			stats.Failed++
		}
	}

	return stats, outcomes
}

func (p *Processor) processOne(ctx context.Context, variant Variant, source *config.SourceConfig, raw *domain.RawItem) domain.Outcome {
	item, err := variant.Normalize(raw, source)
	if err != nil {
		p.log.Debug("item rejected at normalization",
			"source", source.Key,
			"title", raw.Title,
			"error", err.Error(),
		)
		return domain.Skipped(domain.SkipReasonValidation)
	}

	if err := item.Validate(p.validator); err != nil {
		if errors.Is(err, ErrExpired) {
			return domain.Skipped(domain.SkipReasonExpired)
		}
		p.log.Debug("item rejected at validation",
			"source", source.Key,
			"title", item.Title(),
			"error", err.Error(),
		)
		return domain.Skipped(domain.SkipReasonValidation)
	}

	p.resolveCompany(ctx, source, item)

	result, err := p.engine.Check(ctx, item.DedupItem())
	if err != nil {
		return domain.Errored(fmt.Errorf("dedup check: %w", err))
	}

	if result.IsDuplicate {
		changed, mergeErr := item.Merge(ctx, result.ExistingID)
		if mergeErr != nil {
			return domain.Errored(mergeErr)
		}
		p.log.Debug("duplicate merged",
			"source", source.Key,
			"existing_id", result.ExistingID,
			"method", result.Method,
			"confidence", result.Confidence,
			"changed", changed,
		)
		return domain.Updated(result.ExistingID, result.Method)
	}

	// The cap gates creations of new deals only: duplicates merged above
	// are unaffected, and coupons are exempt.
	capGated := variant.Type() == domain.ItemTypeDeal
	if capGated {
		if status := p.caps.Check(source.Key); !status.Allowed {
			p.log.Info("daily cap reached",
				"source", source.Key,
				"cap", status.Cap,
			)
			return domain.Skipped(domain.SkipReasonDailyCap)
		}
	}

	// Enrichment is spent only on items that will actually be created.
	item.Enrich(ctx, source)

	if err := item.Insert(ctx); err != nil {
		// A concurrent run won the insert race; the unique index is the
		// final dedup authority.
		if errors.Is(err, store.ErrUniqueViolation) {
			return domain.Skipped(domain.SkipReasonDuplicate)
		}
		return domain.Errored(err)
	}

	if capGated {
		p.caps.Increment(source.Key)
	}

	p.log.Debug("item created",
		"source", source.Key,
		"id", item.ID(),
		"title", item.Title(),
	)

	return domain.Created(item.ID())
}

// resolveCompany attaches a company when the merchant name resolves.
// Resolution failures are soft; the item persists without a company and
// loses only the company-scoped dedup strategy.
func (p *Processor) resolveCompany(ctx context.Context, source *config.SourceConfig, item Item) {
	name := item.MerchantName()
	if name == "" {
		return
	}

	company, err := p.companies.Resolve(ctx, name)
	if err != nil {
		p.log.Warn("company resolution failed",
			"source", source.Key,
			"merchant", name,
			"error", err.Error(),
		)
		return
	}

	item.SetCompany(company.ID)
}
