package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/memhub/pkg/errs"
)

// PostgresStore implements UserStore and TokenStore on database/sql
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over db
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetOrCreateUser upserts by normalized email. The no-op update makes
// RETURNING yield the existing row on conflict.
func (s *PostgresStore) GetOrCreateUser(ctx context.Context, email, displayName string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email is required: %w", errs.ErrValidation)
	}
	if displayName == "" {
		displayName = email
	}

	query := `
		INSERT INTO users (email, display_name)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, email, display_name, is_superadmin, created_at
	`
	user := &User{}
	err := s.db.QueryRowContext(ctx, query, email, displayName).Scan(
		&user.ID, &user.Email, &user.DisplayName, &user.IsSuperadmin, &user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create user: %w", err)
	}
	return user, nil
}

// GetUser loads a user by id
func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*User, error) {
	query := `SELECT id, email, display_name, is_superadmin, created_at FROM users WHERE id = $1`
	user := &User{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.DisplayName, &user.IsSuperadmin, &user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CreateToken inserts a token and sets its id
func (s *PostgresStore) CreateToken(ctx context.Context, token *PersonalAccessToken) error {
	query := `
		INSERT INTO personal_access_tokens
			(user_id, token_id, secret_hash, name, scopes, organization_id, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		token.UserID, token.TokenID, token.SecretHash, token.Name,
		pq.Array(scopeStrings(token.Scopes)), token.OrganizationID, token.Status,
		token.CreatedAt, token.ExpiresAt,
	).Scan(&token.ID)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}
	return nil
}

const tokenColumns = `id, user_id, token_id, secret_hash, name, scopes, organization_id, status,
		created_at, expires_at, last_used_at`

func scanToken(row interface{ Scan(...interface{}) error }) (*PersonalAccessToken, error) {
	token := &PersonalAccessToken{}
	var scopes []string
	var orgID sql.NullInt64
	var expiresAt, lastUsedAt sql.NullTime
	if err := row.Scan(
		&token.ID, &token.UserID, &token.TokenID, &token.SecretHash, &token.Name,
		pq.Array(&scopes), &orgID, &token.Status, &token.CreatedAt, &expiresAt, &lastUsedAt,
	); err != nil {
		return nil, err
	}
	for _, s := range scopes {
		token.Scopes = append(token.Scopes, Scope(s))
	}
	if orgID.Valid {
		token.OrganizationID = &orgID.Int64
	}
	if expiresAt.Valid {
		token.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		token.LastUsedAt = &lastUsedAt.Time
	}
	return token, nil
}

// GetTokenByTokenID loads a token by its public lookup key
func (s *PostgresStore) GetTokenByTokenID(ctx context.Context, tokenID string) (*PersonalAccessToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM personal_access_tokens WHERE token_id = $1`
	token, err := scanToken(s.db.QueryRowContext(ctx, query, tokenID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("token %s: %w", tokenID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return token, nil
}

// ListTokens returns a user's tokens, newest first
func (s *PostgresStore) ListTokens(ctx context.Context, userID int64) ([]*PersonalAccessToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM personal_access_tokens WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*PersonalAccessToken
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// RevokeToken revokes a token owned by userID
func (s *PostgresStore) RevokeToken(ctx context.Context, userID, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE personal_access_tokens SET status = $1 WHERE id = $2 AND user_id = $3`,
		TokenStatusRevoked, id, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("token %d: %w", id, errs.ErrNotFound)
	}
	return nil
}

// TouchToken records the last use time
func (s *PostgresStore) TouchToken(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE personal_access_tokens SET last_used_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to touch token: %w", err)
	}
	return nil
}

func scopeStrings(scopes []Scope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}
