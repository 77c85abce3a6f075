package dedup

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dealpipe/dealpipe/internal/domain"
	"github.com/dealpipe/dealpipe/internal/logger"
)

// Match methods reported in Result.Method, in cascade priority order.
const (
	MethodURLExact   = "url_exact"
	MethodExternalID = "external_id"
	MethodTitleExact = "title_exact_recent"
	MethodTitleScore = "title_similarity"
	MethodFullText   = "fulltext_search"
)

// Cascade confidence constants and windows.
const (
	urlExactConfidence   = 1.0
	externalIDConfidence = 0.99
	titleExactConfidence = 0.98

	titleExactWindow = 24 * time.Hour
	fullTextWindow   = 3 * 24 * time.Hour

	// fullTextThreshold is the higher similarity bar for the global
	// last-resort search.
	fullTextThreshold = 0.90

	// priceVariancePenalty multiplies the confidence of a similarity
	// match whose prices disagree beyond the variance threshold.
	priceVariancePenalty = 0.7
)

// Item is the entity-type-neutral view of a normalized item the engine
// operates on.
type Item struct {
	Type         domain.ItemType
	Title        string
	CanonicalURL string
	SourceKey    string
	ExternalID   string
	CompanyID    *string
	Price        *float64
}

// Candidate is a stored item considered by the similarity strategies.
type Candidate struct {
	ID    string
	Title string
	Price *float64
}

// Result reports whether an item is a duplicate, of what, and how sure
// the engine is. Results are consumed immediately and never persisted.
type Result struct {
	IsDuplicate bool
	ExistingID  string
	Method      string
	Confidence  float64
	Details     string
}

// Lookup is the store contract the engine depends on. Lookups that find
// nothing return an empty ID or an empty slice, not an error.
type Lookup interface {
	FindIDByCanonicalURL(ctx context.Context, itemType domain.ItemType, canonicalURL string) (string, error)
	FindIDByExternalID(ctx context.Context, itemType domain.ItemType, sourceKey, externalID string) (string, error)
	FindIDByExactTitle(ctx context.Context, itemType domain.ItemType, title string, since time.Time) (string, error)
	RecentCandidatesByCompany(ctx context.Context, itemType domain.ItemType, companyID string, since time.Time, limit int) ([]Candidate, error)
	SearchRecentCandidates(ctx context.Context, itemType domain.ItemType, query string, since time.Time, limit int) ([]Candidate, error)
}

// Config holds the tunable thresholds of the similarity strategies.
type Config struct {
	TitleSimilarityThreshold float64
	PriceVarianceThreshold   float64
	LookbackDays             int
	MaxCandidates            int
}

// DefaultConfig returns the default dedup thresholds.
func DefaultConfig() Config {
	return Config{
		TitleSimilarityThreshold: 0.85,
		PriceVarianceThreshold:   0.05,
		LookbackDays:             7,
		MaxCandidates:            100,
	}
}

// Engine runs the strategy cascade against the store.
type Engine struct {
	lookup Lookup
	config Config
	log    logger.Interface
	now    func() time.Time
}

// NewEngine creates a deduplication engine.
func NewEngine(lookup Lookup, cfg Config, log logger.Interface) *Engine {
	if cfg.TitleSimilarityThreshold <= 0 {
		cfg.TitleSimilarityThreshold = 0.85
	}
	if cfg.PriceVarianceThreshold <= 0 {
		cfg.PriceVarianceThreshold = 0.05
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 100
	}

	return &Engine{
		lookup: lookup,
		config: cfg,
		log:    log,
		now:    time.Now,
	}
}

// Check runs the cascade and returns the first confident match. If no
// strategy fires the item is new.
func (e *Engine) Check(ctx context.Context, item *Item) (*Result, error) {
	strategies := []func(context.Context, *Item) (*Result, error){
		e.checkURLExact,
		e.checkExternalID,
		e.checkTitleExact,
		e.checkTitleSimilarity,
		e.checkFullText,
	}

	for _, strategy := range strategies {
		result, err := strategy(ctx, item)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
	}

	return &Result{IsDuplicate: false}, nil
}

// checkURLExact matches on the canonical URL.
func (e *Engine) checkURLExact(ctx context.Context, item *Item) (*Result, error) {
	if item.CanonicalURL == "" {
		return nil, nil
	}

	id, err := e.lookup.FindIDByCanonicalURL(ctx, item.Type, item.CanonicalURL)
	if err != nil {
		return nil, fmt.Errorf("dedup url lookup: %w", err)
	}
	if id == "" {
		return nil, nil
	}

	return &Result{
		IsDuplicate: true,
		ExistingID:  id,
		Method:      MethodURLExact,
		Confidence:  urlExactConfidence,
		Details:     "canonical url matched",
	}, nil
}

// checkExternalID matches on the (source, external_id) pair.
func (e *Engine) checkExternalID(ctx context.Context, item *Item) (*Result, error) {
	if item.ExternalID == "" {
		return nil, nil
	}

	id, err := e.lookup.FindIDByExternalID(ctx, item.Type, item.SourceKey, item.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("dedup external id lookup: %w", err)
	}
	if id == "" {
		return nil, nil
	}

	return &Result{
		IsDuplicate: true,
		ExistingID:  id,
		Method:      MethodExternalID,
		Confidence:  externalIDConfidence,
		Details:     "source external id matched",
	}, nil
}

// checkTitleExact matches case-insensitive trimmed title equality against
// items created in the last 24 hours, guarding against near-simultaneous
// submissions from concurrent fetch runs.
func (e *Engine) checkTitleExact(ctx context.Context, item *Item) (*Result, error) {
	since := e.now().Add(-titleExactWindow)

	id, err := e.lookup.FindIDByExactTitle(ctx, item.Type, item.Title, since)
	if err != nil {
		return nil, fmt.Errorf("dedup exact title lookup: %w", err)
	}
	if id == "" {
		return nil, nil
	}

	return &Result{
		IsDuplicate: true,
		ExistingID:  id,
		Method:      MethodTitleExact,
		Confidence:  titleExactConfidence,
		Details:     "exact title within 24h",
	}, nil
}

// checkTitleSimilarity scores candidates from the same company inside
// the lookback window. The best candidate above the threshold wins; a
// price disagreement beyond the variance threshold penalizes confidence,
// and a penalized score below the threshold is not a duplicate.
func (e *Engine) checkTitleSimilarity(ctx context.Context, item *Item) (*Result, error) {
	if item.CompanyID == nil {
		return nil, nil
	}

	since := e.now().AddDate(0, 0, -e.config.LookbackDays)
	candidates, err := e.lookup.RecentCandidatesByCompany(ctx, item.Type, *item.CompanyID, since, e.config.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("dedup company candidates: %w", err)
	}

	best, confidence := e.bestMatch(item, candidates, e.config.TitleSimilarityThreshold)
	if best == nil {
		return nil, nil
	}

	return &Result{
		IsDuplicate: true,
		ExistingID:  best.ID,
		Method:      MethodTitleScore,
		Confidence:  confidence,
		Details:     fmt.Sprintf("title similarity %.3f against company candidate", confidence),
	}, nil
}

// checkFullText is the last-resort global search over the last 3 days,
// catching duplicates posted under a different or unmatched company.
// Best-effort: a search failure logs and falls through to "new item".
func (e *Engine) checkFullText(ctx context.Context, item *Item) (*Result, error) {
	since := e.now().Add(-fullTextWindow)

	candidates, err := e.lookup.SearchRecentCandidates(ctx, item.Type, item.Title, since, e.config.MaxCandidates)
	if err != nil {
		e.log.Warn("full-text dedup search failed, treating item as new",
			"error", err.Error(),
			"title", item.Title,
		)
		return nil, nil
	}

	for i := range candidates {
		candidate := &candidates[i]
		similarity := TitleSimilarity(item.Title, candidate.Title)
		if similarity < fullTextThreshold {
			continue
		}
		if !e.priceWithinVariance(item.Price, candidate.Price) {
			continue
		}

		return &Result{
			IsDuplicate: true,
			ExistingID:  candidate.ID,
			Method:      MethodFullText,
			Confidence:  similarity,
			Details:     fmt.Sprintf("global search similarity %.3f with matching price", similarity),
		}, nil
	}

	return nil, nil
}

// bestMatch returns the highest-scoring candidate whose penalized
// confidence clears the threshold.
func (e *Engine) bestMatch(item *Item, candidates []Candidate, threshold float64) (*Candidate, float64) {
	var best *Candidate
	bestConfidence := 0.0

	for i := range candidates {
		candidate := &candidates[i]

		similarity := TitleSimilarity(item.Title, candidate.Title)
		if similarity < threshold {
			continue
		}

		confidence := similarity
		if !e.priceWithinVariance(item.Price, candidate.Price) {
			confidence *= priceVariancePenalty
		}
		if confidence < threshold {
			continue
		}

		if confidence > bestConfidence {
			best = candidate
			bestConfidence = confidence
		}
	}

	return best, bestConfidence
}

// priceWithinVariance reports whether two prices agree within the
// configured fraction of the larger price. Missing prices never count
// as a disagreement.
func (e *Engine) priceWithinVariance(a, b *float64) bool {
	if a == nil || b == nil {
		return true
	}

	larger := math.Max(*a, *b)
	if larger == 0 {
		return true
	}

	return math.Abs(*a-*b) <= e.config.PriceVarianceThreshold*larger
}
