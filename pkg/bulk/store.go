package bulk

import (
	"context"
	"time"
)

// ResourceStore reads and mutates the resources a bulk operation selects
type ResourceStore interface {
	// CountResources counts resources of typ scoped to orgID
	CountResources(ctx context.Context, orgID int64, typ ResourceType) (int, error)

	// ListResources lists resources of typ scoped to orgID, ordered by id
	ListResources(ctx context.Context, orgID int64, typ ResourceType) ([]Resource, error)

	// ListAtDestination lists agents or keywords already at dest
	ListAtDestination(ctx context.Context, dest Destination, typ ResourceType) ([]Resource, error)

	// AgentBlocks maps each agent to the ids of its memory blocks
	AgentBlocks(ctx context.Context, agentIDs []int64) (map[int64][]int64, error)

	// CountAssociations counts distinct memory_block_keywords rows touching
	// any of blockIDs or keywordIDs
	CountAssociations(ctx context.Context, blockIDs, keywordIDs []int64) (int, error)

	UserExists(ctx context.Context, userID int64) (bool, error)
	OrganizationExists(ctx context.Context, orgID int64) (bool, error)

	// Move retargets one resource still scoped to sourceOrgID. Agents take
	// their memory blocks along. errs.ErrNotFound means the resource left
	// the source since planning.
	Move(ctx context.Context, sourceOrgID int64, r Resource, dest Destination) (Cascade, error)

	// Delete removes one resource still scoped to sourceOrgID with its cascade
	Delete(ctx context.Context, sourceOrgID int64, r Resource) (Cascade, error)
}

// OperationStore persists bulk operation rows. State changes are
// conditional on the current status so terminal rows never change.
type OperationStore interface {
	CreateOperation(ctx context.Context, op *Operation) error
	GetOperation(ctx context.Context, id int64) (*Operation, error)

	// MarkRunning moves a pending operation to running with its total.
	// errs.ErrConflict when the row is not pending.
	MarkRunning(ctx context.Context, id int64, total int, startedAt time.Time) error

	// RecordProgress commits progress and the error log of a running operation
	RecordProgress(ctx context.Context, id int64, progress int, errorLog []ItemError) error

	// Finish writes a terminal outcome. errs.ErrConflict when the row is
	// not running.
	Finish(ctx context.Context, id int64, outcome Outcome) error

	// DiscardPending deletes an operation that never started, used when the
	// executor rejects it at admission
	DiscardPending(ctx context.Context, id int64) error

	// ListStaleRunning lists running operations not updated since before
	ListStaleRunning(ctx context.Context, before time.Time) ([]*Operation, error)
}
