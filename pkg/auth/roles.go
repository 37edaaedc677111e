package auth

import (
	"fmt"

	"github.com/platinummonkey/memhub/pkg/errs"
)

// Permissions is the effective read/write grant of a membership
type Permissions struct {
	CanRead  bool `json:"can_read"`
	CanWrite bool `json:"can_write"`
}

var rolePermissions = map[Role]Permissions{
	RoleOwner:  {CanRead: true, CanWrite: true},
	RoleAdmin:  {CanRead: true, CanWrite: true},
	RoleEditor: {CanRead: true, CanWrite: true},
	RoleViewer: {CanRead: true, CanWrite: false},
}

// PermissionsFor returns the baseline permissions of role.
// Unknown roles are granted nothing.
func PermissionsFor(role Role) Permissions {
	return rolePermissions[role]
}

// ValidateRole parses a role name. Matching is exact and case-sensitive.
func ValidateRole(role string) (Role, error) {
	r := Role(role)
	if _, ok := rolePermissions[r]; !ok {
		return "", fmt.Errorf("role %q: %w", role, errs.ErrInvalidRole)
	}
	return r, nil
}

// PermissionsWithOverride merges explicit values over the role baseline.
// Nothing is persisted; this backs what-if previews.
func PermissionsWithOverride(role Role, canRead, canWrite *bool) Permissions {
	p := PermissionsFor(role)
	if canRead != nil {
		p.CanRead = *canRead
	}
	if canWrite != nil {
		p.CanWrite = *canWrite
	}
	return p
}

// IsManager reports whether role may manage an organization
func (r Role) IsManager() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Permissions resolves the membership's effective permissions
func (m *Membership) Permissions() Permissions {
	return PermissionsWithOverride(m.Role, m.CanReadOverride, m.CanWriteOverride)
}

// SetRole changes the role and clears any overrides. A no-op when the role
// is unchanged so manual grants survive idempotent updates.
func (m *Membership) SetRole(role Role) {
	if m.Role == role {
		return
	}
	m.Role = role
	m.CanReadOverride = nil
	m.CanWriteOverride = nil
}
