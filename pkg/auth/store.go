package auth

import (
	"context"
	"strings"
)

// UserStore persists users keyed by normalized email
type UserStore interface {
	// GetOrCreateUser returns the user with email, creating it when absent.
	// Concurrent calls for the same email return the same row.
	GetOrCreateUser(ctx context.Context, email, displayName string) (*User, error)
	GetUser(ctx context.Context, id int64) (*User, error)
}

// MembershipLister loads a user's organization memberships
type MembershipLister interface {
	ListMemberships(ctx context.Context, userID int64) ([]*Membership, error)
}

// Store is everything the identity resolver needs from persistence
type Store interface {
	UserStore
	MembershipLister
	TokenStore
}

// NormalizeEmail lower-cases and trims an email for lookup and storage
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
