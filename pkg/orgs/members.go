package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/memhub/pkg/auth"
	"github.com/platinummonkey/memhub/pkg/errs"
)

const membershipColumns = `organization_id, user_id, role, can_read_override, can_write_override, created_at, updated_at`

func scanMembership(row interface{ Scan(...interface{}) error }, extra ...interface{}) (*auth.Membership, error) {
	m := &auth.Membership{}
	var canRead, canWrite sql.NullBool
	dest := append([]interface{}{
		&m.OrganizationID, &m.UserID, &m.Role, &canRead, &canWrite, &m.CreatedAt, &m.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if canRead.Valid {
		m.CanReadOverride = &canRead.Bool
	}
	if canWrite.Valid {
		m.CanWriteOverride = &canWrite.Bool
	}
	return m, nil
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

// ListMemberships returns every membership of userID. It satisfies
// auth.MembershipLister for identity resolution.
func (s *PostgresService) ListMemberships(ctx context.Context, userID int64) ([]*auth.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM organization_memberships WHERE user_id = $1`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var memberships []*auth.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// GetMembership retrieves a specific membership
func (s *PostgresService) GetMembership(ctx context.Context, orgID, userID int64) (*auth.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM organization_memberships WHERE organization_id = $1 AND user_id = $2`
	m, err := scanMembership(s.db.QueryRowContext(ctx, query, orgID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d in organization %d: %w", userID, orgID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// ListMembers retrieves all members of an organization with their users
func (s *PostgresService) ListMembers(ctx context.Context, orgID int64) ([]*Member, error) {
	query := `
		SELECT om.organization_id, om.user_id, om.role, om.can_read_override, om.can_write_override,
		       om.created_at, om.updated_at, u.email, u.display_name
		FROM organization_memberships om
		JOIN users u ON u.id = om.user_id
		WHERE om.organization_id = $1
		ORDER BY om.created_at ASC, om.user_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := make([]*Member, 0)
	for rows.Next() {
		member := &Member{}
		m, err := scanMembership(rows, &member.Email, &member.DisplayName)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		member.Membership = *m
		member.Effective = m.Permissions()
		members = append(members, member)
	}
	return members, rows.Err()
}

// AddMember adds userID to the organization with role
func (s *PostgresService) AddMember(ctx context.Context, orgID, userID int64, role auth.Role) (*auth.Membership, error) {
	if _, err := auth.ValidateRole(string(role)); err != nil {
		return nil, err
	}
	query := `
		INSERT INTO organization_memberships (organization_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (organization_id, user_id) DO NOTHING
		RETURNING ` + membershipColumns
	m, err := scanMembership(s.db.QueryRowContext(ctx, query, orgID, userID, role))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d is already a member of organization %d: %w", userID, orgID, errs.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}
	return m, nil
}

// UpdateMembership applies req under a row lock so concurrent updates
// serialize on the membership
func (s *PostgresService) UpdateMembership(ctx context.Context, orgID, userID int64, req *UpdateMembershipRequest) (*auth.Membership, error) {
	if req.Role != nil {
		if _, err := auth.ValidateRole(string(*req.Role)); err != nil {
			return nil, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + membershipColumns + ` FROM organization_memberships
		WHERE organization_id = $1 AND user_id = $2 FOR UPDATE`
	m, err := scanMembership(tx.QueryRowContext(ctx, query, orgID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d in organization %d: %w", userID, orgID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock membership: %w", err)
	}

	req.Apply(m)

	err = tx.QueryRowContext(ctx, `
		UPDATE organization_memberships
		SET role = $3, can_read_override = $4, can_write_override = $5, updated_at = NOW()
		WHERE organization_id = $1 AND user_id = $2
		RETURNING updated_at
	`, orgID, userID, m.Role, nullBool(m.CanReadOverride), nullBool(m.CanWriteOverride)).Scan(&m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit membership: %w", err)
	}
	return m, nil
}

// RemoveMember deletes a membership
func (s *PostgresService) RemoveMember(ctx context.Context, orgID, userID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM organization_memberships WHERE organization_id = $1 AND user_id = $2`, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %d in organization %d: %w", userID, orgID, errs.ErrNotFound)
	}
	return nil
}
