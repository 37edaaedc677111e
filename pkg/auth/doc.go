// Package auth resolves who is calling memhub and in which scope.
//
// # Overview
//
// The package turns request credentials into an Identity, derives baseline
// permissions from membership roles, issues and verifies personal access
// tokens (PATs), and merges scope hints into one effective ScopeContext.
//
// # Identity resolution
//
// IdentityResolver tries an ordered list of Extractor strategies. A bearer PAT
// wins over reverse-proxy headers, which win over the development fallback:
//
//	resolver, err := auth.NewIdentityResolver(cfg, store, tokens, logger)
//	identity, err := resolver.Resolve(ctx, r.Header)
//
// Users are get-or-created by normalized email. Emails on the configured
// administrator allow-list are elevated to superadmin regardless of the
// stored flag.
//
// # Roles
//
//	perms := auth.PermissionsFor(auth.RoleEditor)       // read+write
//	role, err := auth.ValidateRole("Owner")             // ErrInvalidRole
//	what := auth.PermissionsWithOverride(auth.RoleEditor, nil, &no)
//
// A membership stores optional read/write overrides. The effective value is
// the override when set, otherwise the role baseline. Changing the role
// clears both overrides.
//
// # Tokens
//
// Tokens have the form mh_pat_<token id>_<secret>. Only a SHA-256 hash of the
// secret is persisted. The token id is the public lookup key.
//
// # Scope
//
// ResolveScope merges the explicit scope parameters with the X-Active-Scope
// and X-Active-Organization-Id headers. A PAT bound to an organization
// overrides every hint.
package auth
