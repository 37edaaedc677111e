package bulk

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/memhub/pkg/auth"
	"github.com/platinummonkey/memhub/pkg/errs"
	"github.com/platinummonkey/memhub/pkg/httputil"
	"github.com/platinummonkey/memhub/pkg/observability"
)

// Handlers provides HTTP handlers for bulk operations
type Handlers struct {
	planner  *Planner
	executor *Executor
	ops      OperationStore
	gate     Gate
	submit   mux.MiddlewareFunc
}

// NewHandlers creates bulk handlers. submit, if non-nil, wraps the
// bulk-move and bulk-delete routes, typically with a rate limiter.
func NewHandlers(planner *Planner, executor *Executor, ops OperationStore, gate Gate, submit mux.MiddlewareFunc) *Handlers {
	return &Handlers{planner: planner, executor: executor, ops: ops, gate: gate, submit: submit}
}

// RegisterRoutes registers bulk operation routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/bulk-operations/organizations/{org_id}/inventory", h.inventory).Methods("GET")

	move := http.Handler(http.HandlerFunc(h.bulkMove))
	del := http.Handler(http.HandlerFunc(h.bulkDelete))
	if h.submit != nil {
		move, del = h.submit(move), h.submit(del)
	}
	router.Handle("/bulk-operations/organizations/{org_id}/bulk-move", move).Methods("POST")
	router.Handle("/bulk-operations/organizations/{org_id}/bulk-delete", del).Methods("POST")

	router.HandleFunc("/bulk-operations/{operation_id}", h.getOperation).Methods("GET")
	router.HandleFunc("/bulk-operations/{operation_id}/cancel", h.cancelOperation).Methods("POST")
}

// submitRequest is the body of bulk-move and bulk-delete
type submitRequest struct {
	DryRun                    bool           `json:"dry_run"`
	DestinationOwnerUserID    *int64         `json:"destination_owner_user_id,omitempty"`
	DestinationOrganizationID *int64         `json:"destination_organization_id,omitempty"`
	ResourceTypes             []ResourceType `json:"resource_types"`
}

// SubmitResponse answers a real run
type SubmitResponse struct {
	OperationID int64  `json:"operation_id"`
	Status      Status `json:"status"`
	Total       int    `json:"total"`
}

// inventory handles GET /bulk-operations/organizations/{org_id}/inventory
func (h *Handlers) inventory(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireIdentity(r.Context())
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}

	var types []ResourceType
	if raw := r.URL.Query().Get("resource_types"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			t := ResourceType(strings.TrimSpace(part))
			if !t.Valid() {
				httputil.WriteErrorFor(w, fmt.Errorf("unknown resource type %q: %w", t, errs.ErrValidation))
				return
			}
			types = append(types, t)
		}
	}

	inv, err := h.planner.Inventory(r.Context(), caller, orgID, types)
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"organization_id": orgID,
		"inventory":       inv,
	})
}

// bulkMove handles POST /bulk-operations/organizations/{org_id}/bulk-move
func (h *Handlers) bulkMove(w http.ResponseWriter, r *http.Request) {
	h.handleSubmit(w, r, OperationMove)
}

// bulkDelete handles POST /bulk-operations/organizations/{org_id}/bulk-delete
func (h *Handlers) bulkDelete(w http.ResponseWriter, r *http.Request) {
	h.handleSubmit(w, r, OperationDelete)
}

func (h *Handlers) handleSubmit(w http.ResponseWriter, r *http.Request, kind OperationType) {
	caller, err := auth.RequireIdentity(r.Context())
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "org_id")
	if !ok {
		return
	}
	var body submitRequest
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}

	req := Request{
		Type:                      kind,
		SourceOrganizationID:      orgID,
		DestinationOwnerUserID:    body.DestinationOwnerUserID,
		DestinationOrganizationID: body.DestinationOrganizationID,
		ResourceTypes:             body.ResourceTypes,
	}
	// normalized here so the persisted payload matches what runs
	if err := req.Validate(); err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	plan, err := h.planner.Plan(r.Context(), caller, req)
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	if body.DryRun {
		httputil.WriteSuccess(w, plan)
		return
	}

	op := &Operation{
		Type:           kind,
		ActorUserID:    caller.UserID(),
		OrganizationID: orgID,
		Request:        req,
	}
	if err := h.ops.CreateOperation(r.Context(), op); err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	if err := h.executor.Start(r.Context(), op, plan); err != nil {
		if derr := h.ops.DiscardPending(r.Context(), op.ID); derr != nil {
			observability.FromContext(r.Context()).WithError(derr).WithField("operation_id", op.ID).
				Warn("failed to discard rejected bulk operation")
		}
		httputil.WriteErrorFor(w, err)
		return
	}

	httputil.WriteAccepted(w, SubmitResponse{OperationID: op.ID, Status: op.Status, Total: len(plan.Items)})
}

// loadAuthorized loads {operation_id} for its actor or a manager of its
// organization
func (h *Handlers) loadAuthorized(w http.ResponseWriter, r *http.Request) (*Operation, bool) {
	caller, err := auth.RequireIdentity(r.Context())
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return nil, false
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "operation_id")
	if !ok {
		return nil, false
	}
	op, err := h.ops.GetOperation(r.Context(), id)
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return nil, false
	}
	if op.ActorUserID != caller.UserID() {
		if err := h.gate.RequireManage(r.Context(), caller, op.OrganizationID); err != nil {
			httputil.WriteErrorFor(w, err)
			return nil, false
		}
	}
	return op, true
}

// getOperation handles GET /bulk-operations/{operation_id}
func (h *Handlers) getOperation(w http.ResponseWriter, r *http.Request) {
	op, ok := h.loadAuthorized(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, op)
}

// cancelOperation handles POST /bulk-operations/{operation_id}/cancel
func (h *Handlers) cancelOperation(w http.ResponseWriter, r *http.Request) {
	op, ok := h.loadAuthorized(w, r)
	if !ok {
		return
	}
	if err := h.executor.Cancel(r.Context(), op.ID); err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	httputil.WriteAccepted(w, map[string]interface{}{
		"operation_id":     op.ID,
		"cancel_requested": true,
	})
}
