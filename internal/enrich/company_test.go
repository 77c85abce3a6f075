package enrich_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealpipe/dealpipe/internal/domain"
	"github.com/dealpipe/dealpipe/internal/enrich"
	"github.com/dealpipe/dealpipe/internal/logger"
	"github.com/dealpipe/dealpipe/internal/store"
)

// fakeCompanyRepo is an in-memory company store.
type fakeCompanyRepo struct {
	companies []*domain.Company
	created   int
	createErr error
}

func (f *fakeCompanyRepo) FindByNameOrSlug(_ context.Context, name, slug string) (*domain.Company, error) {
	for _, c := range f.companies {
		if c.Name == name || c.Slug == slug {
			return c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeCompanyRepo) SearchCandidates(_ context.Context, fragment string, limit int) ([]*domain.Company, error) {
	out := make([]*domain.Company, 0, len(f.companies))
	for _, c := range f.companies {
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeCompanyRepo) Create(_ context.Context, company *domain.Company) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created++
	company.ID = "created-1"
	f.companies = append(f.companies, company)
	return nil
}

func TestResolveExistingCompanyExact(t *testing.T) {
	repo := &fakeCompanyRepo{companies: []*domain.Company{
		{ID: "c-1", Name: "Amazon", Slug: "amazon"},
	}}
	resolver := enrich.NewCompanyResolver(repo, logger.NewNop())

	company, err := resolver.Resolve(context.Background(), "Amazon")

	require.NoError(t, err)
	assert.Equal(t, "c-1", company.ID)
	assert.Equal(t, 0, repo.created)
}

func TestResolveFuzzyMatchAvoidsNearDuplicate(t *testing.T) {
	repo := &fakeCompanyRepo{companies: []*domain.Company{
		{ID: "c-1", Name: "Amazon", Slug: "amazon"},
	}}
	resolver := enrich.NewCompanyResolver(repo, logger.NewNop())

	company, err := resolver.Resolve(context.Background(), "Amazon.com")

	require.NoError(t, err)
	assert.Equal(t, "c-1", company.ID, "Amazon.com should reuse the Amazon company")
	assert.Equal(t, 0, repo.created)
}

func TestResolveCreatesUnknownCompany(t *testing.T) {
	repo := &fakeCompanyRepo{companies: []*domain.Company{
		{ID: "c-1", Name: "Amazon", Slug: "amazon"},
	}}
	resolver := enrich.NewCompanyResolver(repo, logger.NewNop())

	company, err := resolver.Resolve(context.Background(), "Newegg")

	require.NoError(t, err)
	assert.Equal(t, 1, repo.created)
	assert.Equal(t, "newegg", company.Slug)
	assert.Equal(t, "pending", company.Status)
	assert.False(t, company.IsVerified)
}

// racingRepo makes the company appear only after the first lookup, as
// if a concurrent run inserted it in between.
type racingRepo struct {
	fakeCompanyRepo
	lookups int
	winner  *domain.Company
}

func (r *racingRepo) FindByNameOrSlug(ctx context.Context, name, slug string) (*domain.Company, error) {
	r.lookups++
	if r.lookups == 1 {
		return nil, store.ErrNotFound
	}
	return r.winner, nil
}

func TestResolveCreateRaceFallsBackToLookup(t *testing.T) {
	repo := &racingRepo{winner: &domain.Company{ID: "c-9", Name: "Newegg", Slug: "newegg"}}
	repo.createErr = store.ErrUniqueViolation
	resolver := enrich.NewCompanyResolver(repo, logger.NewNop())

	company, err := resolver.Resolve(context.Background(), "Newegg")

	require.NoError(t, err)
	assert.Equal(t, "c-9", company.ID)
	assert.Equal(t, 2, repo.lookups)
}

func TestResolveEmptyMerchantName(t *testing.T) {
	resolver := enrich.NewCompanyResolver(&fakeCompanyRepo{}, logger.NewNop())

	_, err := resolver.Resolve(context.Background(), "   ")
	assert.Error(t, err)
}
