package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/memhub/pkg/errs"
)

type fakeStore struct {
	mu          sync.Mutex
	nextID      int64
	users       map[string]*User
	memberships map[int64][]*Membership
	tokens      map[string]*PersonalAccessToken
	creates     int
	touchErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]*User),
		memberships: make(map[int64][]*Membership),
		tokens:      make(map[string]*PersonalAccessToken),
	}
}

func (s *fakeStore) GetOrCreateUser(_ context.Context, email, displayName string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = NormalizeEmail(email)
	if u, ok := s.users[email]; ok {
		return u, nil
	}
	s.nextID++
	s.creates++
	u := &User{ID: s.nextID, Email: email, DisplayName: displayName, CreatedAt: time.Now()}
	s.users[email] = u
	return u, nil
}

func (s *fakeStore) GetUser(_ context.Context, id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, fmt.Errorf("user %d: %w", id, errs.ErrNotFound)
}

func (s *fakeStore) ListMemberships(_ context.Context, userID int64) ([]*Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memberships[userID], nil
}

func (s *fakeStore) CreateToken(_ context.Context, token *PersonalAccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	token.ID = s.nextID
	s.tokens[token.TokenID] = token
	return nil
}

func (s *fakeStore) GetTokenByTokenID(_ context.Context, tokenID string) (*PersonalAccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenID]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", tokenID, errs.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *fakeStore) ListTokens(_ context.Context, userID int64) ([]*PersonalAccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*PersonalAccessToken
	for _, t := range s.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) RevokeToken(_ context.Context, userID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.ID == id && t.UserID == userID {
			t.Status = TokenStatusRevoked
			return nil
		}
	}
	return fmt.Errorf("token %d: %w", id, errs.ErrNotFound)
}

func (s *fakeStore) TouchToken(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.touchErr != nil {
		return s.touchErr
	}
	for _, t := range s.tokens {
		if t.ID == id {
			t.LastUsedAt = &at
		}
	}
	return nil
}
