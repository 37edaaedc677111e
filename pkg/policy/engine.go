package policy

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/platinummonkey/memhub/pkg/audit"
	"github.com/platinummonkey/memhub/pkg/auth"
	"github.com/platinummonkey/memhub/pkg/errs"
	"github.com/platinummonkey/memhub/pkg/observability"
)

// Check names used in logs, metrics and audit metadata
const (
	CheckMember = "member"
	CheckManage = "manage"
	CheckWrite  = "write"
)

// MembershipGetter loads a single membership. orgs.PostgresService
// implements it.
type MembershipGetter interface {
	GetMembership(ctx context.Context, orgID, userID int64) (*auth.Membership, error)
}

// Engine evaluates organization permissions for a resolved identity
type Engine struct {
	store         MembershipGetter
	audit         audit.Logger
	logger        *observability.Logger
	metrics       *observability.Metrics
	storeFallback bool
}

// NewEngine creates a policy engine. store, auditLogger and metrics may be nil.
func NewEngine(store MembershipGetter, auditLogger audit.Logger, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Engine{
		store:   store,
		audit:   auditLogger,
		logger:  logger,
		metrics: metrics,
	}
}

// WithStoreFallback returns a copy of the engine that loads memberships
// missing from the identity from storage
func (e *Engine) WithStoreFallback() *Engine {
	cp := *e
	cp.storeFallback = e.store != nil
	return &cp
}

// tokenAllows reports whether the caller's token, if any, permits acting
// in orgID with scope. Callers without a token are not restricted here.
func tokenAllows(caller *auth.Identity, scope auth.Scope, orgID int64) bool {
	if caller.Token == nil {
		return true
	}
	return caller.Token.BoundTo(orgID) && caller.Token.HasScope(scope)
}

func tokenBoundTo(caller *auth.Identity, orgID int64) bool {
	return caller.Token == nil || caller.Token.BoundTo(orgID)
}

func (e *Engine) membership(ctx context.Context, caller *auth.Identity, orgID int64) (*auth.Membership, bool) {
	if m, ok := caller.Membership(orgID); ok {
		return m, true
	}
	if !e.storeFallback {
		return nil, false
	}
	m, err := e.store.GetMembership(ctx, orgID, caller.UserID())
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			e.logger.WithError(err).WithField("organization_id", orgID).Warn("membership lookup failed")
		}
		return nil, false
	}
	return m, true
}

// IsMember reports whether caller belongs to orgID
func (e *Engine) IsMember(ctx context.Context, caller *auth.Identity, orgID int64) bool {
	if caller == nil || caller.User == nil || !tokenBoundTo(caller, orgID) {
		return false
	}
	if caller.IsSuperadmin() {
		return true
	}
	_, ok := e.membership(ctx, caller, orgID)
	return ok
}

// CanManage reports whether caller may administer orgID
func (e *Engine) CanManage(ctx context.Context, caller *auth.Identity, orgID int64) bool {
	if caller == nil || caller.User == nil || !tokenAllows(caller, auth.ScopeManage, orgID) {
		return false
	}
	if caller.IsSuperadmin() {
		return true
	}
	m, ok := e.membership(ctx, caller, orgID)
	return ok && m.Role.IsManager()
}

// CanWrite reports whether caller may mutate resources of orgID
func (e *Engine) CanWrite(ctx context.Context, caller *auth.Identity, orgID int64) bool {
	if e.CanManage(ctx, caller, orgID) {
		return true
	}
	if caller == nil || caller.User == nil || !tokenAllows(caller, auth.ScopeWrite, orgID) {
		return false
	}
	if caller.IsSuperadmin() {
		return true
	}
	m, ok := e.membership(ctx, caller, orgID)
	return ok && m.Permissions().CanWrite
}

// RequireMember returns errs.ErrForbidden unless IsMember holds
func (e *Engine) RequireMember(ctx context.Context, caller *auth.Identity, orgID int64) error {
	if e.IsMember(ctx, caller, orgID) {
		return nil
	}
	return e.deny(ctx, caller, orgID, CheckMember, auth.ScopeRead)
}

// RequireManage returns errs.ErrForbidden unless CanManage holds
func (e *Engine) RequireManage(ctx context.Context, caller *auth.Identity, orgID int64) error {
	if e.CanManage(ctx, caller, orgID) {
		return nil
	}
	return e.deny(ctx, caller, orgID, CheckManage, auth.ScopeManage)
}

// RequireWrite returns errs.ErrForbidden unless CanWrite holds
func (e *Engine) RequireWrite(ctx context.Context, caller *auth.Identity, orgID int64) error {
	if e.CanWrite(ctx, caller, orgID) {
		return nil
	}
	return e.deny(ctx, caller, orgID, CheckWrite, auth.ScopeWrite)
}

func (e *Engine) deny(ctx context.Context, caller *auth.Identity, orgID int64, check string, required auth.Scope) error {
	viaToken := caller != nil && caller.Token != nil
	if e.metrics != nil {
		e.metrics.AuthzDenialsTotal.WithLabelValues(check, strconv.FormatBool(viaToken)).Inc()
	}

	metadata := map[string]interface{}{"check": check}
	if viaToken {
		token := caller.Token
		held := make([]string, len(token.Scopes))
		for i, s := range token.Scopes {
			held[i] = string(s)
		}
		fields := map[string]interface{}{
			"token_id":               token.TokenID,
			"user_id":                caller.UserID(),
			"target_organization_id": orgID,
			"required_scope":         string(required),
			"held_scopes":            held,
			"token_organization_id":  token.OrganizationID,
		}
		logger := e.logger
		if requestID := observability.GetRequestID(ctx); requestID != "" {
			logger = logger.WithField("request_id", requestID)
		}
		logger.WithFields(fields).Warn("personal access token denied")
		metadata["token_id"] = token.TokenID
		metadata["required_scope"] = string(required)
		metadata["held_scopes"] = held
	}

	if caller != nil && caller.User != nil {
		org := orgID
		entry := &audit.Entry{
			ActorUserID:    caller.UserID(),
			OrganizationID: &org,
			ActionType:     audit.ActionAuthzDenied,
			TargetType:     audit.TargetOrganization,
			TargetID:       strconv.FormatInt(orgID, 10),
			Status:         audit.StatusDenied,
			Metadata:       metadata,
		}
		if err := e.audit.Record(ctx, entry); err != nil {
			e.logger.WithError(err).Warn("failed to record authorization denial")
		}
	}

	return fmt.Errorf("%s permission required on organization %d: %w", check, orgID, errs.ErrForbidden)
}
