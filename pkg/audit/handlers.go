package audit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/memhub/pkg/auth"
	"github.com/platinummonkey/memhub/pkg/errs"
	"github.com/platinummonkey/memhub/pkg/httputil"
)

// ManageGate authorizes organization-wide audit reads. policy.Engine
// satisfies it.
type ManageGate interface {
	RequireManage(ctx context.Context, caller *auth.Identity, orgID int64) error
}

// Handlers provides HTTP handlers for the audit log API
type Handlers struct {
	searcher Searcher
	gate     ManageGate
}

// NewHandlers creates new audit handlers
func NewHandlers(searcher Searcher, gate ManageGate) *Handlers {
	return &Handlers{searcher: searcher, gate: gate}
}

// RegisterRoutes registers audit log routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audits", h.listAudits).Methods("GET")
}

// listAudits handles GET /audits
func (h *Handlers) listAudits(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireIdentity(r.Context())
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	if err := h.authorize(r.Context(), caller, &filter); err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}

	page, err := h.searcher.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	httputil.WriteSuccess(w, page)
}

// authorize narrows filter to what caller may read. An organization filter
// needs manage rights there; another user's entries need superadmin; with
// no filter a regular caller sees their own entries.
func (h *Handlers) authorize(ctx context.Context, caller *auth.Identity, filter *SearchFilter) error {
	if filter.OrganizationID != nil {
		return h.gate.RequireManage(ctx, caller, *filter.OrganizationID)
	}
	if caller.IsSuperadmin() {
		return nil
	}
	if filter.ActorUserID == nil {
		self := caller.UserID()
		filter.ActorUserID = &self
		return nil
	}
	if *filter.ActorUserID != caller.UserID() {
		return fmt.Errorf("audit entries of user %d: %w", *filter.ActorUserID, errs.ErrForbidden)
	}
	return nil
}

func parseFilter(r *http.Request) (SearchFilter, error) {
	var filter SearchFilter
	var err error

	if filter.OrganizationID, err = httputil.ParseQueryInt64Ptr(r, "organization_id"); err != nil {
		return filter, err
	}
	if filter.ActorUserID, err = httputil.ParseQueryInt64Ptr(r, "user_id"); err != nil {
		return filter, err
	}
	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", defaultPageSize); err != nil {
		return filter, err
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		return filter, err
	}

	query := r.URL.Query()
	filter.ActionType = query.Get("action_type")
	if status := Status(query.Get("status")); status != "" {
		switch status {
		case StatusSuccess, StatusFailure, StatusDenied:
			filter.Status = status
		default:
			return filter, fmt.Errorf("unknown status %q: %w", status, errs.ErrValidation)
		}
	}
	return filter.Normalize(), nil
}
