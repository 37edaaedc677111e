// Package async provides safe execution of background tasks.
//
// SafeGo runs a function in its own goroutine with panic recovery, an
// optional timeout and error logging through the structured logger:
//
//	async.SafeGo(ctx, logger, 0, "bulk operation 42", func(ctx context.Context) error {
//		return run(ctx)
//	})
//
// A panic is logged with its stack trace and does not crash the process.
// Errors returned by the task are logged; the caller keeps any result
// bookkeeping inside the task itself.
package async
