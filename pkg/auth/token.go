package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/memhub/pkg/errs"
	"github.com/platinummonkey/memhub/pkg/observability"
)

const (
	// TokenPrefix identifies memhub personal access tokens
	TokenPrefix = "mh_pat_"
	// tokenIDBytes is the size of the public lookup key (hex encoded)
	tokenIDBytes = 8
	// secretBytes is the size of the secret (256 bits)
	secretBytes = 32
)

// TokenStore persists personal access tokens
type TokenStore interface {
	CreateToken(ctx context.Context, token *PersonalAccessToken) error
	GetTokenByTokenID(ctx context.Context, tokenID string) (*PersonalAccessToken, error)
	ListTokens(ctx context.Context, userID int64) ([]*PersonalAccessToken, error)
	RevokeToken(ctx context.Context, userID, id int64) error
	TouchToken(ctx context.Context, id int64, at time.Time) error
}

// IssueRequest describes a token to be issued
type IssueRequest struct {
	Name           string     `json:"name"`
	Scopes         []Scope    `json:"scopes"`
	OrganizationID *int64     `json:"organization_id,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// IssuedToken carries the clear-text token. It is only available at issue time.
type IssuedToken struct {
	Token *PersonalAccessToken `json:"token"`
	Raw   string               `json:"raw_token"`
}

// TokenManager issues and verifies personal access tokens
type TokenManager struct {
	store  TokenStore
	logger *observability.Logger
	now    func() time.Time
}

// NewTokenManager creates a token manager backed by store
func NewTokenManager(store TokenStore, logger *observability.Logger) *TokenManager {
	return &TokenManager{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// ValidateScopes checks that scopes is a non-empty subset of the known scopes
func ValidateScopes(scopes []Scope) error {
	if len(scopes) == 0 {
		return fmt.Errorf("token scopes must not be empty: %w", errs.ErrValidation)
	}
	for _, s := range scopes {
		switch s {
		case ScopeRead, ScopeWrite, ScopeManage:
		default:
			return fmt.Errorf("unknown token scope %q: %w", s, errs.ErrValidation)
		}
	}
	return nil
}

// Issue creates a new token for userID
func (m *TokenManager) Issue(ctx context.Context, userID int64, req IssueRequest) (*IssuedToken, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("token name is required: %w", errs.ErrValidation)
	}
	if err := ValidateScopes(req.Scopes); err != nil {
		return nil, err
	}
	now := m.now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, fmt.Errorf("token expiry must be in the future: %w", errs.ErrValidation)
	}

	tokenID, secret, err := generateTokenParts()
	if err != nil {
		return nil, err
	}

	token := &PersonalAccessToken{
		UserID:         userID,
		TokenID:        tokenID,
		SecretHash:     HashSecret(secret),
		Name:           req.Name,
		Scopes:         dedupeScopes(req.Scopes),
		OrganizationID: req.OrganizationID,
		Status:         TokenStatusActive,
		CreatedAt:      now,
		ExpiresAt:      req.ExpiresAt,
	}
	if err := m.store.CreateToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	return &IssuedToken{Token: token, Raw: TokenPrefix + tokenID + "_" + secret}, nil
}

// Verify checks a clear-text token and returns the stored record.
// Every failure wraps errs.ErrAuthenticationRequired.
func (m *TokenManager) Verify(ctx context.Context, raw string) (*PersonalAccessToken, error) {
	tokenID, secret, err := ParseToken(raw)
	if err != nil {
		return nil, err
	}

	token, err := m.store.GetTokenByTokenID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("unknown token %s: %w", tokenID, errs.ErrAuthenticationRequired)
		}
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(token.SecretHash), []byte(HashSecret(secret))) != 1 {
		return nil, fmt.Errorf("token %s secret mismatch: %w", tokenID, errs.ErrAuthenticationRequired)
	}
	if token.Status != TokenStatusActive {
		return nil, fmt.Errorf("token %s is %s: %w", tokenID, token.Status, errs.ErrAuthenticationRequired)
	}
	now := m.now()
	if token.ExpiresAt != nil && !now.Before(*token.ExpiresAt) {
		return nil, fmt.Errorf("token %s expired: %w", tokenID, errs.ErrAuthenticationRequired)
	}

	if err := m.store.TouchToken(ctx, token.ID, now); err != nil {
		m.logger.WithError(err).WithField("token_id", tokenID).Warn("failed to update token last_used_at")
	} else {
		token.LastUsedAt = &now
	}
	return token, nil
}

// List returns the tokens owned by userID
func (m *TokenManager) List(ctx context.Context, userID int64) ([]*PersonalAccessToken, error) {
	return m.store.ListTokens(ctx, userID)
}

// Revoke marks a token owned by userID as revoked
func (m *TokenManager) Revoke(ctx context.Context, userID, id int64) error {
	return m.store.RevokeToken(ctx, userID, id)
}

// ParseToken splits a clear-text token into its lookup key and secret
func ParseToken(raw string) (tokenID, secret string, err error) {
	if !strings.HasPrefix(raw, TokenPrefix) {
		return "", "", fmt.Errorf("malformed token: %w", errs.ErrAuthenticationRequired)
	}
	rest := raw[len(TokenPrefix):]
	idLen := hex.EncodedLen(tokenIDBytes)
	if len(rest) < idLen+2 || rest[idLen] != '_' {
		return "", "", fmt.Errorf("malformed token: %w", errs.ErrAuthenticationRequired)
	}
	tokenID = rest[:idLen]
	if _, err := hex.DecodeString(tokenID); err != nil {
		return "", "", fmt.Errorf("malformed token id: %w", errs.ErrAuthenticationRequired)
	}
	return tokenID, rest[idLen+1:], nil
}

// HashSecret computes the SHA-256 hash stored for a token secret
func HashSecret(secret string) string {
	hash := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(hash[:])
}

func generateTokenParts() (string, string, error) {
	idBytes := make([]byte, tokenIDBytes)
	if _, err := rand.Read(idBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate token id: %w", err)
	}
	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", fmt.Errorf("failed to generate token secret: %w", err)
	}
	return hex.EncodeToString(idBytes), base64.RawURLEncoding.EncodeToString(secret), nil
}

func dedupeScopes(scopes []Scope) []Scope {
	seen := make(map[Scope]bool, len(scopes))
	out := make([]Scope, 0, len(scopes))
	for _, s := range scopes {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
