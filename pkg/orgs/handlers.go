package orgs

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/memhub/pkg/audit"
	"github.com/platinummonkey/memhub/pkg/auth"
	"github.com/platinummonkey/memhub/pkg/errs"
	"github.com/platinummonkey/memhub/pkg/httputil"
	"github.com/platinummonkey/memhub/pkg/observability"
)

// Gate is the subset of policy.Engine the handlers need
type Gate interface {
	RequireMember(ctx context.Context, caller *auth.Identity, orgID int64) error
	RequireManage(ctx context.Context, caller *auth.Identity, orgID int64) error
}

// Handlers provides HTTP handlers for organization endpoints
type Handlers struct {
	service Service
	gate    Gate
	audit   audit.Logger
}

// NewHandlers creates new organization handlers
func NewHandlers(service Service, gate Gate, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Handlers{service: service, gate: gate, audit: auditLogger}
}

// RegisterRoutes registers organization routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/organizations", h.createOrganization).Methods("POST")
	router.HandleFunc("/organizations", h.listOrganizations).Methods("GET")
	router.HandleFunc("/organizations/{org_id}/members", h.listMembers).Methods("GET")
	router.HandleFunc("/organizations/{org_id}/members", h.addMember).Methods("POST")
	router.HandleFunc("/organizations/{org_id}/members/{user_id}", h.updateMember).Methods("PUT")
	router.HandleFunc("/organizations/{org_id}/members/{user_id}", h.removeMember).Methods("DELETE")
	router.HandleFunc("/organizations/{org_id}/permissions/preview", h.previewPermissions).Methods("GET")
}

type createOrganizationRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// createOrganization handles POST /organizations
func (h *Handlers) createOrganization(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireIdentity(r.Context())
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	var req createOrganizationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org := &auth.Organization{Name: req.Name, Slug: req.Slug}
	if err := h.service.CreateOrganization(r.Context(), org, caller.UserID()); err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	httputil.WriteCreated(w, org)
}

// listOrganizations handles GET /organizations
func (h *Handlers) listOrganizations(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireIdentity(r.Context())
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	orgs, err := h.service.ListOrganizations(r.Context(), caller.UserID())
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	httputil.WriteSuccess(w, orgs)
}

// authorizeOrg resolves the caller and the {org_id} path variable and runs check
func (h *Handlers) authorizeOrg(w http.ResponseWriter, r *http.Request, check func(context.Context, *auth.Identity, int64) error) (*auth.Identity, int64, bool) {
	caller, err := auth.RequireIdentity(r.Context())
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return nil, 0, false
	}
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return nil, 0, false
	}
	if err := check(r.Context(), caller, orgID); err != nil {
		httputil.WriteErrorFor(w, err)
		return nil, 0, false
	}
	return caller, orgID, true
}

// listMembers handles GET /organizations/{org_id}/members
func (h *Handlers) listMembers(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorizeOrg(w, r, h.gate.RequireMember)
	if !ok {
		return
	}
	members, err := h.service.ListMembers(r.Context(), orgID)
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	httputil.WriteSuccess(w, members)
}

type addMemberRequest struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// addMember handles POST /organizations/{org_id}/members
func (h *Handlers) addMember(w http.ResponseWriter, r *http.Request) {
	caller, orgID, ok := h.authorizeOrg(w, r, h.gate.RequireManage)
	if !ok {
		return
	}
	var req addMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		httputil.WriteErrorFor(w, fmt.Errorf("user_id is required: %w", errs.ErrValidation))
		return
	}
	role, err := auth.ValidateRole(req.Role)
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}

	m, err := h.service.AddMember(r.Context(), orgID, req.UserID, role)
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	h.recordMembership(r, caller, orgID, req.UserID, map[string]interface{}{"role": role, "added": true})
	httputil.WriteCreated(w, m)
}

// updateMember handles PUT /organizations/{org_id}/members/{user_id}
func (h *Handlers) updateMember(w http.ResponseWriter, r *http.Request) {
	caller, orgID, ok := h.authorizeOrg(w, r, h.gate.RequireManage)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	var req UpdateMembershipRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	m, err := h.service.UpdateMembership(r.Context(), orgID, userID, &req)
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	h.recordMembership(r, caller, orgID, userID, map[string]interface{}{
		"role":               m.Role,
		"can_read_override":  m.CanReadOverride,
		"can_write_override": m.CanWriteOverride,
	})
	httputil.WriteSuccess(w, m)
}

// removeMember handles DELETE /organizations/{org_id}/members/{user_id}
func (h *Handlers) removeMember(w http.ResponseWriter, r *http.Request) {
	caller, orgID, ok := h.authorizeOrg(w, r, h.gate.RequireManage)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	if err := h.service.RemoveMember(r.Context(), orgID, userID); err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	h.recordMembership(r, caller, orgID, userID, map[string]interface{}{"removed": true})
	httputil.WriteNoContent(w)
}

// previewPermissions handles GET /organizations/{org_id}/permissions/preview
func (h *Handlers) previewPermissions(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := h.authorizeOrg(w, r, h.gate.RequireMember); !ok {
		return
	}
	role, err := auth.ValidateRole(r.URL.Query().Get("role"))
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	canRead, err := httputil.ParseQueryBoolPtr(r, "can_read")
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	canWrite, err := httputil.ParseQueryBoolPtr(r, "can_write")
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}

	httputil.WriteSuccess(w, PermissionPreview{
		Role:             role,
		CanReadOverride:  canRead,
		CanWriteOverride: canWrite,
		Baseline:         auth.PermissionsFor(role),
		Effective:        auth.PermissionsWithOverride(role, canRead, canWrite),
	})
}

func (h *Handlers) recordMembership(r *http.Request, caller *auth.Identity, orgID, userID int64, metadata map[string]interface{}) {
	org := orgID
	entry := &audit.Entry{
		ActorUserID:    caller.UserID(),
		OrganizationID: &org,
		ActionType:     audit.ActionMembershipUpdated,
		TargetType:     audit.TargetMembership,
		TargetID:       strconv.FormatInt(orgID, 10) + ":" + strconv.FormatInt(userID, 10),
		Status:         audit.StatusSuccess,
		Metadata:       metadata,
	}
	if err := h.audit.Record(r.Context(), entry); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("failed to record membership change")
	}
}
