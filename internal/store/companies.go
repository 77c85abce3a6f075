package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/dealpipe/dealpipe/internal/domain"
)

// CompanyRepository handles database operations for companies.
type CompanyRepository struct {
	db *sqlx.DB
}

// NewCompanyRepository creates a new company repository.
func NewCompanyRepository(db *sqlx.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// FindByNameOrSlug returns the company whose name or slug matches,
// case-insensitively. Returns ErrNotFound when nothing matches.
func (r *CompanyRepository) FindByNameOrSlug(ctx context.Context, name, slug string) (*domain.Company, error) {
	var company domain.Company
	query := `
		SELECT id, name, slug, website_url, is_verified, status, created_at, updated_at
		FROM companies
		WHERE LOWER(name) = LOWER($1) OR slug = $2
		LIMIT 1
	`

	err := r.db.GetContext(ctx, &company, query, name, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find company: %w", err)
	}

	return &company, nil
}

// SearchCandidates returns companies whose name contains the given
// fragment, for fuzzy matching before a create.
func (r *CompanyRepository) SearchCandidates(ctx context.Context, fragment string, limit int) ([]*domain.Company, error) {
	var companies []*domain.Company
	query := `
		SELECT id, name, slug, website_url, is_verified, status, created_at, updated_at
		FROM companies
		WHERE name ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		LIMIT $2
	`

	err := r.db.SelectContext(ctx, &companies, query, fragment, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search companies: %w", err)
	}

	if companies == nil {
		companies = []*domain.Company{}
	}
	return companies, nil
}

// Create inserts a new company. New companies start unverified and
// pending; verification is an external workflow.
func (r *CompanyRepository) Create(ctx context.Context, company *domain.Company) error {
	if company.ID == "" {
		company.ID = uuid.NewString()
	}
	if company.Status == "" {
		company.Status = "pending"
	}

	query := `
		INSERT INTO companies (id, name, slug, website_url, is_verified, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		company.ID,
		company.Name,
		company.Slug,
		company.WebsiteURL,
		company.IsVerified,
		company.Status,
	).Scan(&company.CreatedAt, &company.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create company: %w", mapInsertError(err))
	}

	return nil
}

// Touch updates the company's updated_at on a repeat sighting.
func (r *CompanyRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE companies SET updated_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch company: %w", err)
	}
	return nil
}
