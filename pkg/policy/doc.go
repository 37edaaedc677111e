// Package policy decides what a caller may do inside an organization.
//
// An Engine combines the caller's superadmin flag, membership role and
// overrides, and the scopes and organization binding of the personal access
// token the request authenticated with, if any:
//
//	IsMember   any membership, or superadmin
//	CanManage  owner/admin role, or superadmin; a token needs the manage scope
//	CanWrite   CanManage, or effective can_write; a token needs the write scope
//
// A token bound to one organization never satisfies a check on another.
//
// The Require variants return errs.ErrForbidden on denial and leave a trail:
// a prometheus counter, an authz.denied audit entry and, when a token was
// involved, a structured warning naming the token and the scopes it held.
//
//	if err := engine.RequireManage(ctx, caller, orgID); err != nil {
//		httputil.WriteErrorFor(w, err)
//		return
//	}
//
// Checks use the memberships loaded on the identity. WithStoreFallback
// returns an engine that also consults storage for organizations missing
// from that map, for callers that may have just been added.
package policy
