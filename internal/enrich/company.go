package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dealpipe/dealpipe/internal/dedup"
	"github.com/dealpipe/dealpipe/internal/domain"
	"github.com/dealpipe/dealpipe/internal/logger"
	"github.com/dealpipe/dealpipe/internal/store"
)

// companyMatchThreshold is the name similarity above which an existing
// company is reused instead of creating a near-duplicate.
const companyMatchThreshold = 0.8

// companySearchLimit bounds the fuzzy-match candidate scan.
const companySearchLimit = 20

// CompanyRepo is the store surface the resolver needs.
type CompanyRepo interface {
	FindByNameOrSlug(ctx context.Context, name, slug string) (*domain.Company, error)
	SearchCandidates(ctx context.Context, fragment string, limit int) ([]*domain.Company, error)
	Create(ctx context.Context, company *domain.Company) error
}

// CompanyResolver resolves a merchant name to a company, creating one
// lazily on first sighting. Fuzzy matching avoids near-duplicate
// companies ("Amazon" vs "Amazon.com").
type CompanyResolver struct {
	repo CompanyRepo
	log  logger.Interface
}

// NewCompanyResolver creates a company resolver.
func NewCompanyResolver(repo CompanyRepo, log logger.Interface) *CompanyResolver {
	return &CompanyResolver{repo: repo, log: log}
}

// Resolve returns the company for a merchant name, creating it when no
// exact or fuzzy match exists. New companies start unverified and
// pending.
func (r *CompanyResolver) Resolve(ctx context.Context, merchantName string) (*domain.Company, error) {
	name := strings.TrimSpace(merchantName)
	if name == "" {
		return nil, errors.New("resolve company: empty merchant name")
	}
	slug := domain.Slugify(name)

	company, err := r.repo.FindByNameOrSlug(ctx, name, slug)
	if err == nil {
		return company, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("resolve company lookup: %w", err)
	}

	if match := r.fuzzyMatch(ctx, name); match != nil {
		return match, nil
	}

	company = &domain.Company{
		Name:       name,
		Slug:       slug,
		IsVerified: false,
		Status:     "pending",
	}

	if createErr := r.repo.Create(ctx, company); createErr != nil {
		// A concurrent run may have created the same company between
		// our lookup and insert; re-resolve instead of failing the item.
		if errors.Is(createErr, store.ErrUniqueViolation) {
			return r.repo.FindByNameOrSlug(ctx, name, slug)
		}
		return nil, fmt.Errorf("resolve company create: %w", createErr)
	}

	r.log.Info("company created",
		"name", company.Name,
		"slug", company.Slug,
	)

	return company, nil
}

// fuzzyMatch scans companies sharing the name's longest token and
// returns the best one above the similarity threshold.
func (r *CompanyResolver) fuzzyMatch(ctx context.Context, name string) *domain.Company {
	fragment := longestToken(name)
	if len(fragment) < 3 {
		return nil
	}

	candidates, err := r.repo.SearchCandidates(ctx, fragment, companySearchLimit)
	if err != nil {
		r.log.Warn("company fuzzy search failed",
			"name", name,
			"error", err.Error(),
		)
		return nil
	}

	var best *domain.Company
	bestScore := companyMatchThreshold
	for _, candidate := range candidates {
		score := dedup.NameSimilarity(name, candidate.Name)
		if score > bestScore {
			best = candidate
			bestScore = score
		}
	}

	if best != nil {
		r.log.Debug("company fuzzy matched",
			"name", name,
			"matched", best.Name,
			"score", bestScore,
		)
	}

	return best
}

func longestToken(name string) string {
	longest := ""
	for _, tok := range strings.Fields(strings.ToLower(name)) {
		if len(tok) > len(longest) {
			longest = tok
		}
	}
	return longest
}
