// Package orgs manages organizations and their memberships.
//
// # Overview
//
// Organizations own organization-scoped resources. Users join an organization
// through a membership carrying a role (owner, admin, editor, viewer) and
// optional read/write overrides:
//
//	effective = override ?? auth.PermissionsFor(role)
//
// Changing a membership's role clears both overrides; overrides supplied in
// the same update are applied afterwards.
//
// # Usage Example
//
//	service := orgs.NewPostgresService(db)
//	org := &auth.Organization{Name: "Acme Corp"}
//	service.CreateOrganization(ctx, org, ownerID)
//
//	role := auth.RoleViewer
//	service.UpdateMembership(ctx, org.ID, userID, &orgs.UpdateMembershipRequest{Role: &role})
//
// # HTTP API
//
//	GET /organizations/{org_id}/members                 member
//	PUT /organizations/{org_id}/members/{user_id}       manage
//	GET /organizations/{org_id}/permissions/preview     member
//
// # Related Packages
//
//   - pkg/auth: roles, permission table and identity resolution
//   - pkg/policy: authorization checks over memberships
package orgs
