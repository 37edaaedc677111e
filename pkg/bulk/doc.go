// Package bulk plans and executes organization-wide move and delete
// operations over agents, memory blocks and keywords.
//
// # Planning
//
// Planner.Plan is a dry run. It requires manage rights on the source
// organization (and write rights on a destination organization), counts
// the inventory, and lists what would change:
//
//   - move: agents and keywords whose name collides case-insensitively at
//     the destination, or with another candidate, are reported as
//     conflicts and left out. Memory blocks of a moved agent travel with it.
//   - delete: agents take their memory blocks and those blocks' keyword
//     associations; memory blocks take their associations; keywords take
//     only their associations.
//
// # Execution
//
// A real run persists a pending operation row and hands it with its plan to
// the Executor:
//
//	pending --Start--> running --> completed | failed | cancelled
//
// Items are processed one at a time. Each processed item, succeeded or
// failed, advances progress and is committed before the next starts.
// Per-item failures are appended to the error log and the run continues;
// a systemic failure (lost database connection) ends it as failed.
// Cancellation is checked between items. Conflicts count as skipped.
//
// Start and terminal transitions are written to the audit log with the
// operation id as target. The Reconciler marks running rows left behind by
// a dead process as failed.
//
// # HTTP API
//
//	GET  /bulk-operations/organizations/{org_id}/inventory
//	POST /bulk-operations/organizations/{org_id}/bulk-move
//	POST /bulk-operations/organizations/{org_id}/bulk-delete
//	GET  /bulk-operations/{operation_id}
//	POST /bulk-operations/{operation_id}/cancel
package bulk
