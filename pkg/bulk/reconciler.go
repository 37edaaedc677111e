package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/memhub/pkg/errs"
	"github.com/platinummonkey/memhub/pkg/observability"
)

const abandonedError = "abandoned by a previous process"

// Reconciler marks running operations that no live task owns as failed.
// A process that dies mid-run leaves its rows running; progress up to the
// last committed item is kept.
type Reconciler struct {
	ops        OperationStore
	executor   *Executor
	staleAfter time.Duration
	logger     *observability.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewReconciler creates a reconciler. staleAfter of 0 means 15 minutes.
func NewReconciler(ops OperationStore, executor *Executor, staleAfter time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Reconciler{
		ops:        ops,
		executor:   executor,
		staleAfter: staleAfter,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Run reconciles once and returns how many operations were marked failed
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	stale, err := r.ops.ListStaleRunning(ctx, r.now().Add(-r.staleAfter))
	if err != nil {
		return 0, fmt.Errorf("failed to list stale bulk operations: %w", err)
	}

	reconciled := 0
	for _, op := range stale {
		if r.executor != nil && r.executor.Owns(op.ID) {
			continue
		}
		summary := newResultSummary(op.Request.ResourceTypes)
		summary.Processed = op.Progress
		err := r.ops.Finish(ctx, op.ID, Outcome{
			Status:     StatusFailed,
			Progress:   op.Progress,
			ErrorLog:   op.ErrorLog,
			Summary:    summary,
			Error:      abandonedError,
			FinishedAt: r.now(),
		})
		if errors.Is(err, errs.ErrConflict) {
			// finished concurrently
			continue
		}
		if err != nil {
			return reconciled, fmt.Errorf("failed to reconcile bulk operation %d: %w", op.ID, err)
		}
		reconciled++
		if r.metrics != nil {
			r.metrics.BulkOperationsReconciled.Inc()
		}
		r.logger.WithFields(map[string]interface{}{
			"operation_id": op.ID,
			"progress":     op.Progress,
		}).Warn("marked abandoned bulk operation as failed")
	}
	return reconciled, nil
}
