package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DBLogger records entries in the audit_logs table and serves searches
type DBLogger struct {
	db  *sql.DB
	now func() time.Time
}

// NewDBLogger creates a database-backed audit logger. The table is created
// by the storage migrations.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db, now: time.Now}, nil
}

// Record implements Logger
func (l *DBLogger) Record(ctx context.Context, entry *Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}

	var metadata []byte
	if len(entry.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs
			(actor_user_id, organization_id, action_type, target_type, target_id, status, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := l.db.QueryRowContext(ctx, query,
		entry.ActorUserID, entry.OrganizationID, entry.ActionType, entry.TargetType,
		entry.TargetID, entry.Status, metadata, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// Search returns a page of entries matching filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) (*Page, error) {
	filter = filter.Normalize()

	var where []string
	var args []interface{}
	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.OrganizationID != nil {
		add("organization_id = $%d", *filter.OrganizationID)
	}
	if filter.ActorUserID != nil {
		add("actor_user_id = $%d", *filter.ActorUserID)
	}
	if filter.ActionType != "" {
		add("action_type = $%d", filter.ActionType)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := &Page{Entries: make([]*Entry, 0), Limit: filter.Limit, Offset: filter.Offset}
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+clause, args...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := `SELECT id, actor_user_id, organization_id, action_type, target_type, target_id, status, metadata, created_at
		FROM audit_logs` + clause +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := l.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		entry := &Entry{}
		var orgID sql.NullInt64
		var metadata []byte
		if err := rows.Scan(
			&entry.ID, &entry.ActorUserID, &orgID, &entry.ActionType, &entry.TargetType,
			&entry.TargetID, &entry.Status, &metadata, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if orgID.Valid {
			entry.OrganizationID = &orgID.Int64
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		page.Entries = append(page.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return page, nil
}

// Close implements Logger. The database handle is owned by the caller.
func (l *DBLogger) Close() error {
	return nil
}
