// Package middleware provides the HTTP middleware memhub routes run behind.
//
// # Middleware Components
//
// RequestID: assigns or propagates X-Request-ID and seeds the request logger
//
//	router.Use(middleware.RequestID(logger))
//
// Recover: turns handler panics into 500 responses
//
//	router.Use(middleware.Recover())
//
// Identity: resolves the caller with an auth.IdentityResolver and stores it
// in the request context. Requests without a usable credential get 401.
//
//	router.Use(middleware.Identity(resolver))
//
// RateLimit: per-caller limits with an in-memory token bucket or a Redis
// fixed window shared across instances
//
//	limiter := middleware.NewRedisLimiter(redisClient, cfg, "memhub:bulk")
//	submit := middleware.RateLimit(limiter)
//
// Callers are keyed by user id once an identity is resolved, otherwise by
// client address.
package middleware
