package middleware

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/memhub/pkg/auth"
	"github.com/platinummonkey/memhub/pkg/httputil"
	"github.com/platinummonkey/memhub/pkg/observability"
)

// Resolver turns request headers into an identity
type Resolver interface {
	Resolve(ctx context.Context, header http.Header) (*auth.Identity, error)
}

// Identity resolves the caller of every request. Resolution failures are
// answered with the status their error kind maps to.
func Identity(resolver Resolver) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := resolver.Resolve(r.Context(), r.Header)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Debug("identity resolution failed")
				httputil.WriteErrorFor(w, err)
				return
			}

			ctx := auth.WithIdentity(r.Context(), identity)
			ctx = observability.WithUserID(ctx, identity.UserID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
