package auth

import (
	"context"
	"fmt"

	"github.com/platinummonkey/memhub/pkg/contextkeys"
	"github.com/platinummonkey/memhub/pkg/errs"
)

// WithIdentity stores identity in ctx
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return contextkeys.WithIdentity(ctx, identity)
}

// IdentityFromContext returns the identity stored by the identity middleware
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(contextkeys.IdentityKey).(*Identity)
	return identity, ok && identity != nil
}

// RequireIdentity is IdentityFromContext failing with ErrAuthenticationRequired
func RequireIdentity(ctx context.Context) (*Identity, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("no identity in request: %w", errs.ErrAuthenticationRequired)
	}
	return identity, nil
}
