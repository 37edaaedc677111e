package auth

import "time"

// Role is an organization membership role
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Scope is a personal access token scope
type Scope string

const (
	ScopeRead   Scope = "read"
	ScopeWrite  Scope = "write"
	ScopeManage Scope = "manage"
)

// VisibilityScope determines which ownership field governs a resource
type VisibilityScope string

const (
	VisibilityPersonal     VisibilityScope = "personal"
	VisibilityOrganization VisibilityScope = "organization"
	VisibilityPublic       VisibilityScope = "public"
)

// TokenStatus is the lifecycle state of a personal access token
type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "active"
	TokenStatusRevoked TokenStatus = "revoked"
)

// User is a memhub account. Email is stored normalized.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	IsSuperadmin bool      `json:"is_superadmin"`
	CreatedAt    time.Time `json:"created_at"`
}

// Organization owns organization-scoped resources
type Organization struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

// Membership links a user to an organization with a role.
// CanReadOverride and CanWriteOverride are nil unless set explicitly.
type Membership struct {
	OrganizationID   int64     `json:"organization_id"`
	UserID           int64     `json:"user_id"`
	Role             Role      `json:"role"`
	CanReadOverride  *bool     `json:"can_read_override,omitempty"`
	CanWriteOverride *bool     `json:"can_write_override,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PersonalAccessToken is a bearer credential owned by a user
type PersonalAccessToken struct {
	ID             int64       `json:"id"`
	UserID         int64       `json:"user_id"`
	TokenID        string      `json:"token_id"`
	SecretHash     string      `json:"-"`
	Name           string      `json:"name"`
	Scopes         []Scope     `json:"scopes"`
	OrganizationID *int64      `json:"organization_id,omitempty"`
	Status         TokenStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      *time.Time  `json:"expires_at,omitempty"`
	LastUsedAt     *time.Time  `json:"last_used_at,omitempty"`
}

// HasScope reports whether the token carries scope
func (t *PersonalAccessToken) HasScope(scope Scope) bool {
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// BoundTo reports whether the token may act in orgID
func (t *PersonalAccessToken) BoundTo(orgID int64) bool {
	return t.OrganizationID == nil || *t.OrganizationID == orgID
}

// Identity source values
const (
	SourcePAT   = "pat"
	SourceProxy = "proxy"
	SourceDev   = "dev"
)

// Identity is the resolved caller of a request
type Identity struct {
	User        *User
	Memberships map[int64]*Membership
	// Token is set when the request authenticated with a PAT
	Token  *PersonalAccessToken
	Source string
}

// IsSuperadmin reports whether the caller bypasses membership checks
func (i *Identity) IsSuperadmin() bool {
	return i != nil && i.User != nil && i.User.IsSuperadmin
}

// UserID returns the caller's user id, or 0 for a nil identity
func (i *Identity) UserID() int64 {
	if i == nil || i.User == nil {
		return 0
	}
	return i.User.ID
}

// Membership returns the caller's membership in orgID from the loaded map
func (i *Identity) Membership(orgID int64) (*Membership, bool) {
	if i == nil || i.Memberships == nil {
		return nil, false
	}
	m, ok := i.Memberships[orgID]
	return m, ok
}
