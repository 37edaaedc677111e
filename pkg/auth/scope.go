package auth

import (
	"fmt"
	"net/http"

	"github.com/platinummonkey/memhub/pkg/errs"
	"github.com/platinummonkey/memhub/pkg/httputil"
)

// Scope hint headers sent by the client UI
const (
	HeaderActiveScope          = "X-Active-Scope"
	HeaderActiveOrganizationID = "X-Active-Organization-Id"
)

// ScopeRequest carries every scope signal of a request
type ScopeRequest struct {
	Scope                string
	OrganizationID       *int64
	HeaderScope          string
	HeaderOrganizationID *int64
}

// ScopeContext is the authoritative scope of a request
type ScopeContext struct {
	Scope          VisibilityScope `json:"scope"`
	OrganizationID *int64          `json:"organization_id,omitempty"`
}

// ScopeRequestFromHTTP reads the scope and organization_id query parameters
// and the active scope headers
func ScopeRequestFromHTTP(r *http.Request) (ScopeRequest, error) {
	orgID, err := httputil.ParseQueryInt64Ptr(r, "organization_id")
	if err != nil {
		return ScopeRequest{}, err
	}
	headerOrgID, err := httputil.ParseHeaderInt64Ptr(r, HeaderActiveOrganizationID)
	if err != nil {
		return ScopeRequest{}, err
	}
	return ScopeRequest{
		Scope:                r.URL.Query().Get("scope"),
		OrganizationID:       orgID,
		HeaderScope:          r.Header.Get(HeaderActiveScope),
		HeaderOrganizationID: headerOrgID,
	}, nil
}

// ResolveScope merges the signals of req into one scope. It never consults
// storage.
//
// A PAT bound to an organization overrides every hint, and a request naming
// a different organization is forbidden. Otherwise each field is taken from
// the explicit parameter when present and from the header hint when not. An
// organization id without a scope implies organization scope; no signal at
// all yields personal scope.
func ResolveScope(identity *Identity, req ScopeRequest) (ScopeContext, error) {
	if identity != nil && identity.Token != nil && identity.Token.OrganizationID != nil {
		bound := *identity.Token.OrganizationID
		for _, requested := range []*int64{req.OrganizationID, req.HeaderOrganizationID} {
			if requested != nil && *requested != bound {
				return ScopeContext{}, fmt.Errorf("token is bound to organization %d, request addressed %d: %w",
					bound, *requested, errs.ErrForbidden)
			}
		}
		return ScopeContext{Scope: VisibilityOrganization, OrganizationID: &bound}, nil
	}

	scope := req.Scope
	if scope == "" {
		scope = req.HeaderScope
	}
	orgID := req.OrganizationID
	if orgID == nil {
		orgID = req.HeaderOrganizationID
	}
	if scope == "" && orgID != nil {
		scope = string(VisibilityOrganization)
	}

	switch VisibilityScope(scope) {
	case "", VisibilityPersonal:
		return ScopeContext{Scope: VisibilityPersonal}, nil
	case VisibilityPublic:
		return ScopeContext{Scope: VisibilityPublic}, nil
	case VisibilityOrganization:
		if orgID == nil {
			return ScopeContext{}, fmt.Errorf("organization scope requires an organization id: %w", errs.ErrValidation)
		}
		id := *orgID
		return ScopeContext{Scope: VisibilityOrganization, OrganizationID: &id}, nil
	default:
		return ScopeContext{}, fmt.Errorf("unknown scope %q: %w", scope, errs.ErrValidation)
	}
}
