package orgs

import (
	"context"

	"github.com/platinummonkey/memhub/pkg/auth"
)

// Service defines the organization service interface
type Service interface {
	CreateOrganization(ctx context.Context, org *auth.Organization, ownerID int64) error
	GetOrganization(ctx context.Context, id int64) (*auth.Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (*auth.Organization, error)
	ListOrganizations(ctx context.Context, userID int64) ([]*auth.Organization, error)

	ListMemberships(ctx context.Context, userID int64) ([]*auth.Membership, error)
	GetMembership(ctx context.Context, orgID, userID int64) (*auth.Membership, error)
	ListMembers(ctx context.Context, orgID int64) ([]*Member, error)
	AddMember(ctx context.Context, orgID, userID int64, role auth.Role) (*auth.Membership, error)
	UpdateMembership(ctx context.Context, orgID, userID int64, req *UpdateMembershipRequest) (*auth.Membership, error)
	RemoveMember(ctx context.Context, orgID, userID int64) error
}

// Member is a membership joined with its user
type Member struct {
	auth.Membership
	Email       string           `json:"email"`
	DisplayName string           `json:"display_name"`
	Effective   auth.Permissions `json:"effective_permissions"`
}

// UpdateMembershipRequest changes a membership. ClearOverrides resets
// both overrides to the role baseline; explicit overrides win over it.
type UpdateMembershipRequest struct {
	Role             *auth.Role `json:"role,omitempty"`
	CanReadOverride  *bool      `json:"can_read_override,omitempty"`
	CanWriteOverride *bool      `json:"can_write_override,omitempty"`
	ClearOverrides   bool       `json:"clear_overrides,omitempty"`
}

// Apply mutates m in place following the update rules
func (r *UpdateMembershipRequest) Apply(m *auth.Membership) {
	if r.Role != nil {
		m.SetRole(*r.Role)
	}
	if r.ClearOverrides {
		m.CanReadOverride = nil
		m.CanWriteOverride = nil
	}
	if r.CanReadOverride != nil {
		v := *r.CanReadOverride
		m.CanReadOverride = &v
	}
	if r.CanWriteOverride != nil {
		v := *r.CanWriteOverride
		m.CanWriteOverride = &v
	}
}

// PermissionPreview is the what-if answer for a role and overrides
type PermissionPreview struct {
	Role             auth.Role        `json:"role"`
	CanReadOverride  *bool            `json:"can_read_override,omitempty"`
	CanWriteOverride *bool            `json:"can_write_override,omitempty"`
	Baseline         auth.Permissions `json:"baseline"`
	Effective        auth.Permissions `json:"effective"`
}
