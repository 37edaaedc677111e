package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/memhub/pkg/middleware"
	"github.com/platinummonkey/memhub/pkg/observability"
)

// RouteRegistrar is implemented by every package exposing HTTP routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Options configures a Server. Resolver is required; the rest are optional.
type Options struct {
	Logger   *observability.Logger
	Resolver middleware.Resolver
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	Health   *observability.HealthChecker
	Tracing  bool
}

// Server is the memhub HTTP surface. Health and metrics routes are public;
// everything mounted through Mount runs behind identity resolution.
type Server struct {
	router  *mux.Router
	authed  *mux.Router
	tracing bool
}

// NewServer creates the router and its middleware chain
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestID(logger), middleware.Recover())
	if opts.Metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	}

	if opts.Health != nil {
		opts.Health.RegisterRoutes(router)
	}
	if opts.Gatherer != nil {
		observability.RegisterMetricsEndpoint(router, opts.Gatherer)
	}

	authed := router.NewRoute().Subrouter()
	authed.Use(middleware.Identity(opts.Resolver))

	return &Server{router: router, authed: authed, tracing: opts.Tracing}
}

// Mount registers routes that require a resolved identity
func (s *Server) Mount(registrars ...RouteRegistrar) {
	for _, r := range registrars {
		r.RegisterRoutes(s.authed)
	}
}

// Handler returns the root handler, wrapped in OpenTelemetry server spans
// when tracing is on
func (s *Server) Handler() http.Handler {
	if !s.tracing {
		return s.router
	}
	return otelhttp.NewHandler(s.router, "memhub",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					return r.Method + " " + tmpl
				}
			}
			return r.Method
		}),
	)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
