/*
Package api assembles memhub's HTTP server.

NewServer builds a gorilla/mux router with request ids, panic recovery and
Prometheus request metrics on every route. Health and metrics endpoints are
registered at the root without authentication:

	GET /health
	GET /health/live
	GET /health/ready
	GET /metrics

Everything else is mounted behind middleware.Identity:

	server := api.NewServer(api.Options{Logger: logger, Resolver: resolver, Metrics: metrics})
	server.Mount(
		api.NewTokenHandlers(tokens, engine, auditLogger),
		orgs.NewHandlers(orgService, engine, auditLogger),
		bulk.NewHandlers(planner, executor, bulkStore, engine, submitLimit),
		audit.NewHandlers(auditSearcher, engine),
	)
	http.ListenAndServe(addr, server.Handler())

# Token Endpoints

	GET    /me                 the caller, its memberships and the resolved active scope
	POST   /auth/tokens        issue a personal access token (not allowed from a token)
	GET    /auth/tokens        list the caller's tokens
	DELETE /auth/tokens/{id}   revoke one of the caller's tokens

Issue and revoke are recorded in the audit log.
*/
package api
