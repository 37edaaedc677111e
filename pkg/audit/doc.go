// Package audit records an append-only trail of security-relevant actions.
//
// Entries are written through the Logger interface. DBLogger persists to the
// audit_logs table and backs the search API, FileLogger appends NDJSON to a
// local file, and MultiLogger fans an entry out to several sinks:
//
//	logger := audit.NewMultiLogger(dbLogger, fileLogger)
//	logger.Record(ctx, &audit.Entry{
//		ActorUserID: caller.UserID(),
//		ActionType:  audit.ActionBulkStart,
//		TargetType:  audit.TargetBulkOperation,
//		TargetID:    strconv.FormatInt(op.ID, 10),
//		Status:      audit.StatusSuccess,
//	})
//
// Entries are never updated or deleted.
package audit
