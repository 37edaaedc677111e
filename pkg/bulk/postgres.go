package bulk

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/memhub/pkg/auth"
	"github.com/platinummonkey/memhub/pkg/errs"
)

// resourceTable maps a resource type to its table and display column
type resourceTable struct {
	table    string
	nameCol  string
	agentCol string
}

var resourceTables = map[ResourceType]resourceTable{
	ResourceAgents:       {table: "agents", nameCol: "name", agentCol: "NULL::BIGINT"},
	ResourceMemoryBlocks: {table: "memory_blocks", nameCol: "label", agentCol: "agent_id"},
	ResourceKeywords:     {table: "keywords", nameCol: "text", agentCol: "NULL::BIGINT"},
}

func tableFor(typ ResourceType) (resourceTable, error) {
	t, ok := resourceTables[typ]
	if !ok {
		return resourceTable{}, fmt.Errorf("unknown resource type %q: %w", typ, errs.ErrValidation)
	}
	return t, nil
}

// PostgresStore implements ResourceStore and OperationStore
type PostgresStore struct {
	db *sql.DB
}

var (
	_ ResourceStore  = (*PostgresStore)(nil)
	_ OperationStore = (*PostgresStore)(nil)
)

// NewPostgresStore creates a store over db
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CountResources implements ResourceStore
func (s *PostgresStore) CountResources(ctx context.Context, orgID int64, typ ResourceType) (int, error) {
	t, err := tableFor(typ)
	if err != nil {
		return 0, err
	}
	query := `SELECT COUNT(*) FROM ` + t.table + ` WHERE visibility_scope = 'organization' AND organization_id = $1`
	var n int
	if err := s.db.QueryRowContext(ctx, query, orgID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", typ, err)
	}
	return n, nil
}

// ListResources implements ResourceStore
func (s *PostgresStore) ListResources(ctx context.Context, orgID int64, typ ResourceType) ([]Resource, error) {
	t, err := tableFor(typ)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, %s, %s FROM %s
		WHERE visibility_scope = 'organization' AND organization_id = $1
		ORDER BY id`, t.nameCol, t.agentCol, t.table)
	return s.queryResources(ctx, typ, query, orgID)
}

// ListAtDestination implements ResourceStore
func (s *PostgresStore) ListAtDestination(ctx context.Context, dest Destination, typ ResourceType) ([]Resource, error) {
	t, err := tableFor(typ)
	if err != nil {
		return nil, err
	}
	var where string
	var arg int64
	switch {
	case dest.Scope == auth.VisibilityPersonal && dest.OwnerUserID != nil:
		where, arg = "visibility_scope = 'personal' AND owner_user_id = $1", *dest.OwnerUserID
	case dest.Scope == auth.VisibilityOrganization && dest.OrganizationID != nil:
		where, arg = "visibility_scope = 'organization' AND organization_id = $1", *dest.OrganizationID
	default:
		return nil, fmt.Errorf("invalid destination %+v: %w", dest, errs.ErrValidation)
	}
	query := fmt.Sprintf(`SELECT id, %s, %s FROM %s WHERE %s ORDER BY id`, t.nameCol, t.agentCol, t.table, where)
	return s.queryResources(ctx, typ, query, arg)
}

func (s *PostgresStore) queryResources(ctx context.Context, typ ResourceType, query string, args ...interface{}) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", typ, err)
	}
	defer rows.Close()

	var out []Resource
	for rows.Next() {
		r := Resource{Type: typ}
		var agentID sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Name, &agentID); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", typ, err)
		}
		if agentID.Valid {
			r.AgentID = &agentID.Int64
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", typ, err)
	}
	return out, nil
}

// AgentBlocks implements ResourceStore
func (s *PostgresStore) AgentBlocks(ctx context.Context, agentIDs []int64) (map[int64][]int64, error) {
	query := `SELECT agent_id, id FROM memory_blocks WHERE agent_id = ANY($1) ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(agentIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list agent memory blocks: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]int64)
	for rows.Next() {
		var agentID, blockID int64
		if err := rows.Scan(&agentID, &blockID); err != nil {
			return nil, fmt.Errorf("failed to scan memory block: %w", err)
		}
		out[agentID] = append(out[agentID], blockID)
	}
	return out, rows.Err()
}

// CountAssociations implements ResourceStore
func (s *PostgresStore) CountAssociations(ctx context.Context, blockIDs, keywordIDs []int64) (int, error) {
	query := `SELECT COUNT(*) FROM memory_block_keywords WHERE memory_block_id = ANY($1) OR keyword_id = ANY($2)`
	var n int
	if err := s.db.QueryRowContext(ctx, query, pq.Array(blockIDs), pq.Array(keywordIDs)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count keyword associations: %w", err)
	}
	return n, nil
}

// UserExists implements ResourceStore
func (s *PostgresStore) UserExists(ctx context.Context, userID int64) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID)
}

// OrganizationExists implements ResourceStore
func (s *PostgresStore) OrganizationExists(ctx context.Context, orgID int64) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM organizations WHERE id = $1)`, orgID)
}

func (s *PostgresStore) exists(ctx context.Context, query string, id int64) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return ok, nil
}

// lockSource locks r if it is still scoped to sourceOrgID
func lockSource(ctx context.Context, tx *sql.Tx, t resourceTable, sourceOrgID int64, r Resource) error {
	query := `SELECT id FROM ` + t.table + `
		WHERE id = $1 AND visibility_scope = 'organization' AND organization_id = $2
		FOR UPDATE`
	var id int64
	err := tx.QueryRowContext(ctx, query, r.ID, sourceOrgID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d is no longer in organization %d: %w", r.Type, r.ID, sourceOrgID, errs.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock %s %d: %w", r.Type, r.ID, err)
	}
	return nil
}

func execCount(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (int, error) {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// Move implements ResourceStore
func (s *PostgresStore) Move(ctx context.Context, sourceOrgID int64, r Resource, dest Destination) (Cascade, error) {
	var cascade Cascade
	t, err := tableFor(r.Type)
	if err != nil {
		return cascade, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cascade, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockSource(ctx, tx, t, sourceOrgID, r); err != nil {
		return cascade, err
	}

	set := `SET visibility_scope = $2, owner_user_id = $3, organization_id = $4, updated_at = NOW()`
	args := []interface{}{r.ID, dest.Scope, dest.OwnerUserID, dest.OrganizationID}
	if _, err := tx.ExecContext(ctx, `UPDATE `+t.table+` `+set+` WHERE id = $1`, args...); err != nil {
		return cascade, fmt.Errorf("failed to move %s %d: %w", r.Type, r.ID, err)
	}
	if r.Type == ResourceAgents {
		n, err := execCount(ctx, tx, `UPDATE memory_blocks `+set+` WHERE agent_id = $1`, args...)
		if err != nil {
			return cascade, fmt.Errorf("failed to move memory blocks of agent %d: %w", r.ID, err)
		}
		cascade.MemoryBlocks = n
	}

	if err := tx.Commit(); err != nil {
		return cascade, fmt.Errorf("failed to commit move: %w", err)
	}
	return cascade, nil
}

// Delete implements ResourceStore
func (s *PostgresStore) Delete(ctx context.Context, sourceOrgID int64, r Resource) (Cascade, error) {
	var cascade Cascade
	t, err := tableFor(r.Type)
	if err != nil {
		return cascade, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cascade, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := lockSource(ctx, tx, t, sourceOrgID, r); err != nil {
		return cascade, err
	}

	switch r.Type {
	case ResourceAgents:
		if cascade.KeywordAssociations, err = execCount(ctx, tx,
			`DELETE FROM memory_block_keywords WHERE memory_block_id IN (SELECT id FROM memory_blocks WHERE agent_id = $1)`, r.ID); err != nil {
			return cascade, fmt.Errorf("failed to delete keyword associations of agent %d: %w", r.ID, err)
		}
		if cascade.MemoryBlocks, err = execCount(ctx, tx, `DELETE FROM memory_blocks WHERE agent_id = $1`, r.ID); err != nil {
			return cascade, fmt.Errorf("failed to delete memory blocks of agent %d: %w", r.ID, err)
		}
	case ResourceMemoryBlocks:
		if cascade.KeywordAssociations, err = execCount(ctx, tx,
			`DELETE FROM memory_block_keywords WHERE memory_block_id = $1`, r.ID); err != nil {
			return cascade, fmt.Errorf("failed to delete keyword associations of memory block %d: %w", r.ID, err)
		}
	case ResourceKeywords:
		if cascade.KeywordAssociations, err = execCount(ctx, tx,
			`DELETE FROM memory_block_keywords WHERE keyword_id = $1`, r.ID); err != nil {
			return cascade, fmt.Errorf("failed to delete associations of keyword %d: %w", r.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM `+t.table+` WHERE id = $1`, r.ID); err != nil {
		return cascade, fmt.Errorf("failed to delete %s %d: %w", r.Type, r.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return cascade, fmt.Errorf("failed to commit delete: %w", err)
	}
	return cascade, nil
}

const operationColumns = `id, type, actor_user_id, organization_id, request_payload, status, progress, total,
	started_at, finished_at, error_log, result_summary, COALESCE(error, ''), created_at, updated_at`

func scanOperation(row interface{ Scan(...interface{}) error }) (*Operation, error) {
	op := &Operation{}
	var payload, errorLog, summary []byte
	var total sql.NullInt64
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(
		&op.ID, &op.Type, &op.ActorUserID, &op.OrganizationID, &payload, &op.Status, &op.Progress, &total,
		&startedAt, &finishedAt, &errorLog, &summary, &op.Error, &op.CreatedAt, &op.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if total.Valid {
		n := int(total.Int64)
		op.Total = &n
	}
	if startedAt.Valid {
		op.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		op.FinishedAt = &finishedAt.Time
	}
	if err := json.Unmarshal(payload, &op.Request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request payload: %w", err)
	}
	op.ErrorLog = []ItemError{}
	if len(errorLog) > 0 {
		if err := json.Unmarshal(errorLog, &op.ErrorLog); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error log: %w", err)
		}
	}
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &op.ResultSummary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result summary: %w", err)
		}
	}
	return op, nil
}

// CreateOperation inserts a pending operation
func (s *PostgresStore) CreateOperation(ctx context.Context, op *Operation) error {
	payload, err := json.Marshal(op.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal request payload: %w", err)
	}
	query := `
		INSERT INTO bulk_operations (type, actor_user_id, organization_id, request_payload, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING id, status, progress, created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query, op.Type, op.ActorUserID, op.OrganizationID, payload).
		Scan(&op.ID, &op.Status, &op.Progress, &op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create bulk operation: %w", err)
	}
	if op.ErrorLog == nil {
		op.ErrorLog = []ItemError{}
	}
	return nil
}

// GetOperation loads an operation by id
func (s *PostgresStore) GetOperation(ctx context.Context, id int64) (*Operation, error) {
	op, err := scanOperation(s.db.QueryRowContext(ctx, `SELECT `+operationColumns+` FROM bulk_operations WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bulk operation %d: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bulk operation: %w", err)
	}
	return op, nil
}

// transitionError explains why a conditional update touched no row
func (s *PostgresStore) transitionError(ctx context.Context, id int64, want Status) error {
	var status Status
	err := s.db.QueryRowContext(ctx, `SELECT status FROM bulk_operations WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("bulk operation %d: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read bulk operation status: %w", err)
	}
	return fmt.Errorf("bulk operation %d is %s, not %s: %w", id, status, want, errs.ErrConflict)
}

func (s *PostgresStore) execTransition(ctx context.Context, id int64, want Status, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return s.transitionError(ctx, id, want)
	}
	return nil
}

// MarkRunning implements OperationStore
func (s *PostgresStore) MarkRunning(ctx context.Context, id int64, total int, startedAt time.Time) error {
	err := s.execTransition(ctx, id, StatusPending, `
		UPDATE bulk_operations
		SET status = 'running', total = $2, started_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, total, startedAt)
	if err != nil {
		return fmt.Errorf("failed to mark bulk operation running: %w", err)
	}
	return nil
}

// RecordProgress implements OperationStore. progress never moves backwards.
func (s *PostgresStore) RecordProgress(ctx context.Context, id int64, progress int, errorLog []ItemError) error {
	logJSON, err := json.Marshal(errorLog)
	if err != nil {
		return fmt.Errorf("failed to marshal error log: %w", err)
	}
	err = s.execTransition(ctx, id, StatusRunning, `
		UPDATE bulk_operations
		SET progress = $2, error_log = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'running' AND progress <= $2
	`, id, progress, logJSON)
	if err != nil {
		return fmt.Errorf("failed to record bulk operation progress: %w", err)
	}
	return nil
}

// Finish implements OperationStore
func (s *PostgresStore) Finish(ctx context.Context, id int64, outcome Outcome) error {
	if !outcome.Status.Terminal() {
		return fmt.Errorf("status %s is not terminal: %w", outcome.Status, errs.ErrValidation)
	}
	logJSON, err := json.Marshal(outcome.ErrorLog)
	if err != nil {
		return fmt.Errorf("failed to marshal error log: %w", err)
	}
	summaryJSON, err := json.Marshal(outcome.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal result summary: %w", err)
	}
	err = s.execTransition(ctx, id, StatusRunning, `
		UPDATE bulk_operations
		SET status = $2, progress = $3, error_log = $4, result_summary = $5,
		    error = NULLIF($6, ''), finished_at = $7, updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`, id, outcome.Status, outcome.Progress, logJSON, summaryJSON, outcome.Error, outcome.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to finish bulk operation: %w", err)
	}
	return nil
}

// DiscardPending implements OperationStore
func (s *PostgresStore) DiscardPending(ctx context.Context, id int64) error {
	err := s.execTransition(ctx, id, StatusPending, `DELETE FROM bulk_operations WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("failed to discard bulk operation: %w", err)
	}
	return nil
}

// ListStaleRunning implements OperationStore
func (s *PostgresStore) ListStaleRunning(ctx context.Context, before time.Time) ([]*Operation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+operationColumns+`
		FROM bulk_operations WHERE status = 'running' AND updated_at < $1 ORDER BY id`, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale bulk operations: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bulk operation: %w", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}
