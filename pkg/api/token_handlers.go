package api

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

// TokenService is the part of auth.TokenManager the handlers use
type TokenService interface {
	Issue(ctx context.Context, userID int64, req auth.IssueRequest) (*auth.IssuedToken, error)
	List(ctx context.Context, userID int64) ([]*auth.PersonalAccessToken, error)
	Revoke(ctx context.Context, userID, id int64) error
}

// MemberGate checks organization membership before a token is bound to it
type MemberGate interface {
	RequireMember(ctx context.Context, caller *auth.Identity, orgID int64) error
}

// TokenHandlers serves personal access token self-service
type TokenHandlers struct {
	tokens TokenService
	gate   MemberGate
	audit  audit.Logger
}

// NewTokenHandlers creates token handlers
func NewTokenHandlers(tokens TokenService, gate MemberGate, auditLogger audit.Logger) *TokenHandlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &TokenHandlers{tokens: tokens, gate: gate, audit: auditLogger}
}

// RegisterRoutes registers token routes
func (h *TokenHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/tokens", h.createToken).Methods("POST")
	router.HandleFunc("/auth/tokens", h.listTokens).Methods("GET")
	router.HandleFunc("/auth/tokens/{id}", h.revokeToken).Methods("DELETE")
}

// createToken handles POST /auth/tokens. The clear-text token appears only
// in this response.
func (h *TokenHandlers) createToken(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireIdentity(r.Context())
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	// A token cannot mint another token.
	if caller.Source == auth.SourcePAT {
		httputil.WriteErrorFor(w, fmt.Errorf("tokens cannot be issued with a personal access token: %w", errs.ErrForbidden))
		return
	}

	var req auth.IssueRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.OrganizationID != nil {
		if err := h.gate.RequireMember(r.Context(), caller, *req.OrganizationID); err != nil {
			httputil.WriteErrorFor(w, err)
			return
		}
	}

	issued, err := h.tokens.Issue(r.Context(), caller.UserID(), req)
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	h.record(r.Context(), caller, audit.ActionTokenIssued, issued.Token, map[string]interface{}{
		"name":   issued.Token.Name,
		"scopes": issued.Token.Scopes,
	})
	httputil.WriteCreated(w, issued)
}

// listTokens handles GET /auth/tokens
func (h *TokenHandlers) listTokens(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireIdentity(r.Context())
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	tokens, err := h.tokens.List(r.Context(), caller.UserID())
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	if tokens == nil {
		tokens = []*auth.PersonalAccessToken{}
	}
	httputil.WriteSuccess(w, tokens)
}

// revokeToken handles DELETE /auth/tokens/{id}
func (h *TokenHandlers) revokeToken(w http.ResponseWriter, r *http.Request) {
	caller, err := auth.RequireIdentity(r.Context())
	if err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.tokens.Revoke(r.Context(), caller.UserID(), id); err != nil {
		httputil.WriteErrorFor(w, err)
		return
	}
	h.record(r.Context(), caller, audit.ActionTokenRevoked, &auth.PersonalAccessToken{ID: id}, nil)
	httputil.WriteNoContent(w)
}

func (h *TokenHandlers) record(ctx context.Context, caller *auth.Identity, action string, token *auth.PersonalAccessToken, metadata map[string]interface{}) {
	entry := &audit.Entry{
		ActorUserID:    caller.UserID(),
		OrganizationID: token.OrganizationID,
		ActionType:     action,
		TargetType:     audit.TargetToken,
		TargetID:       strconv.FormatInt(token.ID, 10),
		Status:         audit.StatusSuccess,
		Metadata:       metadata,
	}
	if err := h.audit.Record(ctx, entry); err != nil {
		observability.FromContext(ctx).WithError(err).WithField("action", action).Warn("failed to record audit entry")
	}
}
