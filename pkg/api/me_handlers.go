package api

import (
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/memhub/pkg/auth"
	"github.com/platinummonkey/memhub/pkg/httputil"
)

// MeHandlers describes the calling identity and its active scope
type MeHandlers struct {
	gate MemberGate
}

// NewMeHandlers creates the identity handlers
func NewMeHandlers(gate MemberGate) *MeHandlers {
	return &MeHandlers{gate: gate}
}

// RegisterRoutes registers identity routes
func (h *MeHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/me", h.getMe).Methods("GET")
}

type membershipView struct {
	auth.Membership
	Effective auth.Permissions `json:"effective"`
}

type meResponse struct {
	User        *auth.User                `json:"user"`
	Source      string                    `json:"source"`
	Scope       auth.ScopeContext         `json:"active_scope"`
	Memberships []membershipView          `json:"memberships"`
	Token       *auth.PersonalAccessToken `json:"token,omitempty"`
}

// getMe handles GET /me?scope=&organization_id=. The active scope is
// resolved from the query and the X-Active-* headers; an organization scope
// requires membership.
func (h *MeHandlers) getMe(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireIdentity(r.Context())
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	req, err := auth.ScopeRequestFromHTTP(r)
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	scope, err := auth.ResolveScope(caller, req)
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	if scope.OrganizationID != nil {
		if err := h.gate.RequireMember(r.Context(), caller, *scope.OrganizationID); err != nil {
			httputil.WriteErrorFor(w, err)
			return
		}
	}

	resp := meResponse{
		User:        caller.User,
		Source:      caller.Source,
		Scope:       scope,
		Memberships: make([]membershipView, 0, len(caller.Memberships)),
		Token:       caller.Token,
	}
	for _, m := range caller.Memberships {
		resp.Memberships = append(resp.Memberships, membershipView{Membership: *m, Effective: m.Permissions()})
	}
	sort.Slice(resp.Memberships, func(i, j int) bool {
		return resp.Memberships[i].OrganizationID < resp.Memberships[j].OrganizationID
	})
	httputil.WriteSuccess(w, resp)
}
