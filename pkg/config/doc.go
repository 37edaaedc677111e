/*
Package config loads memhub's runtime configuration.

Values come from three layers, each overriding the last: built-in defaults,
an optional YAML file named by MEMHUB_CONFIG_FILE, and MEMHUB_* environment
variables.

# Environment Variables

Server:

	MEMHUB_HOST, MEMHUB_PORT
	MEMHUB_READ_TIMEOUT, MEMHUB_WRITE_TIMEOUT, MEMHUB_IDLE_TIMEOUT
	MEMHUB_SHUTDOWN_TIMEOUT

Database:

	MEMHUB_DATABASE_URL            (required)
	MEMHUB_DATABASE_REPLICA_URLS   comma separated
	MEMHUB_DATABASE_MAX_CONNS, MEMHUB_DATABASE_MIN_CONNS
	MEMHUB_DATABASE_TIMEOUT
	MEMHUB_DATABASE_MIGRATE        run migrations at startup (default true)

Identity:

	MEMHUB_DEV_MODE, MEMHUB_DEV_EMAIL, MEMHUB_DEV_DISPLAY_NAME
	MEMHUB_PUBLIC_BASE_URL, MEMHUB_DEV_ALLOWED_HOSTS
	MEMHUB_ADMIN_EMAILS            superadmin emails, comma separated
	MEMHUB_PROXY_HEADERS           "User-Header:Email-Header" pairs, comma separated
	MEMHUB_MEMBERSHIP_STORE_FALLBACK  look up memberships created after the request started

Bulk operations:

	MEMHUB_BULK_MAX_CONCURRENT
	MEMHUB_BULK_STALE_AFTER
	MEMHUB_BULK_RECONCILE_SCHEDULE cron expression or @every descriptor
	MEMHUB_BULK_SUBMIT_LIMIT, MEMHUB_BULK_SUBMIT_WINDOW

Redis (optional, shares submit rate limits across replicas):

	MEMHUB_REDIS_URL, MEMHUB_REDIS_POOL_SIZE

Audit:

	MEMHUB_AUDIT_FILE_DIR          also write JSON lines here when set

Observability:

	MEMHUB_LOG_LEVEL               debug, info, warn, error
	MEMHUB_METRICS_ENABLED
	MEMHUB_OTEL_ENABLED, MEMHUB_OTEL_ENDPOINT, MEMHUB_OTEL_INSECURE
	MEMHUB_OTEL_SERVICE_NAME, MEMHUB_OTEL_SERVICE_VERSION

# Usage

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	resolver := auth.NewIdentityResolver(cfg.IdentityConfig(), store, tokens, logger, metrics)
*/
package config
