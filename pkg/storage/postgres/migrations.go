package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/memhub/pkg/observability"
)

// Migration is one forward-only schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the schema in application order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users and organizations",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					email VARCHAR(320) NOT NULL UNIQUE,
					display_name VARCHAR(255) NOT NULL DEFAULT '',
					is_superadmin BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS organizations (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					slug VARCHAR(255) NOT NULL UNIQUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS organization_memberships (
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role VARCHAR(20) NOT NULL CHECK (role IN ('owner', 'admin', 'editor', 'viewer')),
					can_read_override BOOLEAN,
					can_write_override BOOLEAN,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (organization_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_memberships_user_id ON organization_memberships(user_id);
			`,
		},
		{
			Version:     2,
			Description: "Create personal access tokens",
			SQL: `
				CREATE TABLE IF NOT EXISTS personal_access_tokens (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token_id VARCHAR(64) NOT NULL UNIQUE,
					secret_hash VARCHAR(128) NOT NULL,
					name VARCHAR(255) NOT NULL,
					scopes TEXT[] NOT NULL DEFAULT '{}',
					organization_id BIGINT REFERENCES organizations(id) ON DELETE CASCADE,
					status VARCHAR(20) NOT NULL DEFAULT 'active',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMPTZ,
					last_used_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_tokens_user_id ON personal_access_tokens(user_id);
			`,
		},
		{
			Version:     3,
			Description: "Create memory resources",
			SQL: `
				CREATE TABLE IF NOT EXISTS agents (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					visibility_scope VARCHAR(20) NOT NULL CHECK (visibility_scope IN ('personal', 'organization', 'public')),
					owner_user_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
					organization_id BIGINT REFERENCES organizations(id) ON DELETE CASCADE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CHECK (visibility_scope <> 'personal' OR (owner_user_id IS NOT NULL AND organization_id IS NULL)),
					CHECK (visibility_scope <> 'organization' OR (organization_id IS NOT NULL AND owner_user_id IS NULL))
				);

				CREATE TABLE IF NOT EXISTS memory_blocks (
					id BIGSERIAL PRIMARY KEY,
					label VARCHAR(255) NOT NULL,
					content TEXT NOT NULL DEFAULT '',
					agent_id BIGINT REFERENCES agents(id) ON DELETE CASCADE,
					visibility_scope VARCHAR(20) NOT NULL CHECK (visibility_scope IN ('personal', 'organization', 'public')),
					owner_user_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
					organization_id BIGINT REFERENCES organizations(id) ON DELETE CASCADE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CHECK (visibility_scope <> 'personal' OR (owner_user_id IS NOT NULL AND organization_id IS NULL)),
					CHECK (visibility_scope <> 'organization' OR (organization_id IS NOT NULL AND owner_user_id IS NULL))
				);

				CREATE TABLE IF NOT EXISTS keywords (
					id BIGSERIAL PRIMARY KEY,
					text VARCHAR(255) NOT NULL,
					visibility_scope VARCHAR(20) NOT NULL CHECK (visibility_scope IN ('personal', 'organization', 'public')),
					owner_user_id BIGINT REFERENCES users(id) ON DELETE CASCADE,
					organization_id BIGINT REFERENCES organizations(id) ON DELETE CASCADE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					CHECK (visibility_scope <> 'personal' OR (owner_user_id IS NOT NULL AND organization_id IS NULL)),
					CHECK (visibility_scope <> 'organization' OR (organization_id IS NOT NULL AND owner_user_id IS NULL))
				);

				CREATE TABLE IF NOT EXISTS memory_block_keywords (
					memory_block_id BIGINT NOT NULL REFERENCES memory_blocks(id) ON DELETE CASCADE,
					keyword_id BIGINT NOT NULL REFERENCES keywords(id) ON DELETE CASCADE,
					PRIMARY KEY (memory_block_id, keyword_id)
				);

				CREATE INDEX IF NOT EXISTS idx_agents_org ON agents(organization_id) WHERE visibility_scope = 'organization';
				CREATE INDEX IF NOT EXISTS idx_agents_owner ON agents(owner_user_id) WHERE visibility_scope = 'personal';
				CREATE INDEX IF NOT EXISTS idx_memory_blocks_org ON memory_blocks(organization_id) WHERE visibility_scope = 'organization';
				CREATE INDEX IF NOT EXISTS idx_memory_blocks_owner ON memory_blocks(owner_user_id) WHERE visibility_scope = 'personal';
				CREATE INDEX IF NOT EXISTS idx_memory_blocks_agent ON memory_blocks(agent_id);
				CREATE INDEX IF NOT EXISTS idx_keywords_org ON keywords(organization_id) WHERE visibility_scope = 'organization';
				CREATE INDEX IF NOT EXISTS idx_keywords_owner ON keywords(owner_user_id) WHERE visibility_scope = 'personal';
				CREATE INDEX IF NOT EXISTS idx_block_keywords_keyword ON memory_block_keywords(keyword_id);
			`,
		},
		{
			Version:     4,
			Description: "Create bulk operations",
			SQL: `
				CREATE TABLE IF NOT EXISTS bulk_operations (
					id BIGSERIAL PRIMARY KEY,
					type VARCHAR(20) NOT NULL CHECK (type IN ('move', 'delete')),
					actor_user_id BIGINT NOT NULL REFERENCES users(id),
					organization_id BIGINT NOT NULL,
					request_payload JSONB NOT NULL,
					status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
					progress INT NOT NULL DEFAULT 0,
					total INT,
					started_at TIMESTAMPTZ,
					finished_at TIMESTAMPTZ,
					error_log JSONB,
					result_summary JSONB,
					error TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_bulk_operations_running ON bulk_operations(updated_at) WHERE status = 'running';
				CREATE INDEX IF NOT EXISTS idx_bulk_operations_org ON bulk_operations(organization_id);
			`,
		},
		{
			Version:     5,
			Description: "Create audit log",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id BIGSERIAL PRIMARY KEY,
					actor_user_id BIGINT NOT NULL,
					organization_id BIGINT,
					action_type VARCHAR(100) NOT NULL,
					target_type VARCHAR(50) NOT NULL,
					target_id VARCHAR(255) NOT NULL DEFAULT '',
					status VARCHAR(20) NOT NULL,
					metadata JSONB,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_actor ON audit_logs(actor_user_id, created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_org ON audit_logs(organization_id, created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action_type);
			`,
		},
	}
}

// RunMigrations applies every migration not yet recorded in
// schema_migrations, each in its own transaction
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range Migrations() {
		if applied[m.Version] {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return err
		}
		logger.WithField("version", m.Version).WithField("description", m.Description).Info("applied migration")
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migrations: %w", err)
	}
	return applied, nil
}

func apply(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
	}
	return nil
}
