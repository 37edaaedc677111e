package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/memhub/pkg/auth"
	"github.com/platinummonkey/memhub/pkg/errs"
)

// PostgresService implements the Service interface using PostgreSQL
type PostgresService struct {
	db *sql.DB
}

var _ Service = (*PostgresService)(nil)

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// CreateOrganization creates an organization and makes ownerID its owner
func (s *PostgresService) CreateOrganization(ctx context.Context, org *auth.Organization, ownerID int64) error {
	if strings.TrimSpace(org.Name) == "" {
		return fmt.Errorf("organization name is required: %w", errs.ErrValidation)
	}
	if org.Slug == "" {
		org.Slug = generateSlug(org.Name)
	}
	if org.Slug == "" {
		return fmt.Errorf("organization name %q yields an empty slug: %w", org.Name, errs.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO organizations (name, slug)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
		RETURNING id, created_at
	`
	err = tx.QueryRowContext(ctx, query, org.Name, org.Slug).Scan(&org.ID, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("organization %q already exists: %w", org.Slug, errs.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO organization_memberships (organization_id, user_id, role)
		VALUES ($1, $2, $3)
	`, org.ID, ownerID, auth.RoleOwner)
	if err != nil {
		return fmt.Errorf("failed to add owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit organization: %w", err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID
func (s *PostgresService) GetOrganization(ctx context.Context, id int64) (*auth.Organization, error) {
	return s.getOrganization(ctx, "id = $1", id)
}

// GetOrganizationBySlug retrieves an organization by slug
func (s *PostgresService) GetOrganizationBySlug(ctx context.Context, slug string) (*auth.Organization, error) {
	return s.getOrganization(ctx, "slug = $1", slug)
}

func (s *PostgresService) getOrganization(ctx context.Context, where string, arg interface{}) (*auth.Organization, error) {
	query := `SELECT id, name, slug, created_at FROM organizations WHERE ` + where
	org := &auth.Organization{}
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&org.ID, &org.Name, &org.Slug, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organization %v: %w", arg, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// ListOrganizations lists organizations userID belongs to
func (s *PostgresService) ListOrganizations(ctx context.Context, userID int64) ([]*auth.Organization, error) {
	query := `
		SELECT o.id, o.name, o.slug, o.created_at
		FROM organizations o
		JOIN organization_memberships om ON o.id = om.organization_id
		WHERE om.user_id = $1
		ORDER BY o.name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	orgs := make([]*auth.Organization, 0)
	for rows.Next() {
		org := &auth.Organization{}
		if err := rows.Scan(&org.ID, &org.Name, &org.Slug, &org.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// generateSlug generates a URL-friendly slug from a name
func generateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return slug
}
