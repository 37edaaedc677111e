package bulk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/memhub/pkg/async"
	"github.com/platinummonkey/memhub/pkg/audit"
	"github.com/platinummonkey/memhub/pkg/errs"
	"github.com/platinummonkey/memhub/pkg/httputil"
	"github.com/platinummonkey/memhub/pkg/observability"
)

// ErrConcurrencyLimit rejects a start while the running ceiling is reached
var ErrConcurrencyLimit = errors.New("too many bulk operations running")

func init() {
	httputil.RegisterStatus(ErrConcurrencyLimit, http.StatusTooManyRequests, "concurrency_limit")
}

// ExecutorConfig configures an Executor
type ExecutorConfig struct {
	// MaxConcurrent caps running operations in this process; 0 means 4
	MaxConcurrent int
}

// task is the handle of one running operation. stop is closed to request
// cancellation; done is closed when the run has written its outcome.
type task struct {
	opID     int64
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (t *task) requestStop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *task) stopped() bool {
	select {
	case <-t.stop:
		return true
	default:
		return false
	}
}

// Executor runs bulk operations as background tasks. Updates flow from
// the task to the operation row only; pollers read the row.
type Executor struct {
	ops         OperationStore
	resources   ResourceStore
	audit       audit.Logger
	logger      *observability.Logger
	metrics     *observability.Metrics
	instruments *observability.BulkInstruments
	tracer      trace.Tracer
	max         int
	now         func() time.Time

	mu      sync.Mutex
	tasks   map[int64]*task
	closed  bool
	running atomic.Int64
	wg      sync.WaitGroup
}

// NewExecutor creates an executor. auditLogger, metrics and instruments may be nil.
func NewExecutor(cfg ExecutorConfig, ops OperationStore, resources ResourceStore, auditLogger audit.Logger,
	logger *observability.Logger, metrics *observability.Metrics, instruments *observability.BulkInstruments) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Executor{
		ops:         ops,
		resources:   resources,
		audit:       auditLogger,
		logger:      logger,
		metrics:     metrics,
		instruments: instruments,
		tracer:      observability.Tracer(),
		max:         cfg.MaxConcurrent,
		now:         time.Now,
		tasks:       make(map[int64]*task),
	}
}

// Running returns the number of operations executing in this process
func (e *Executor) Running() int64 {
	return e.running.Load()
}

// Owns reports whether id is executing in this process
func (e *Executor) Owns(id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tasks[id]
	return ok
}

// Start transitions a pending operation to running and executes plan in
// the background. The run is detached from ctx cancellation but keeps its
// values.
func (e *Executor) Start(ctx context.Context, op *Operation, plan *Plan) error {
	t, err := e.reserve(op.ID)
	if err != nil {
		return err
	}

	total := len(plan.Items)
	startedAt := e.now()
	if err := e.ops.MarkRunning(ctx, op.ID, total, startedAt); err != nil {
		e.release(t)
		return fmt.Errorf("failed to start bulk operation %d: %w", op.ID, err)
	}
	op.Status = StatusRunning
	op.Total = &total
	op.StartedAt = &startedAt

	if e.metrics != nil {
		e.metrics.BulkOperationsRunning.Inc()
	}
	e.record(ctx, op, audit.ActionBulkStart, audit.StatusSuccess, map[string]interface{}{
		"type":           op.Type,
		"total":          total,
		"conflicts":      len(plan.Conflicts),
		"resource_types": op.Request.ResourceTypes,
	})

	runCtx := context.WithoutCancel(ctx)
	async.SafeGo(runCtx, e.logger, 0, "bulk operation "+strconv.FormatInt(op.ID, 10), func(ctx context.Context) error {
		defer e.release(t)
		defer func() {
			if e.metrics != nil {
				e.metrics.BulkOperationsRunning.Dec()
			}
		}()
		return e.run(ctx, t, op, plan, startedAt)
	})
	return nil
}

// reserve registers a task handle for id, enforcing the ceiling
func (e *Executor) reserve(id int64) (*task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, fmt.Errorf("executor is shutting down: %w", errs.ErrSystemicFailure)
	}
	if _, ok := e.tasks[id]; ok {
		return nil, fmt.Errorf("bulk operation %d is already running: %w", id, errs.ErrConflict)
	}
	if int(e.running.Load()) >= e.max {
		if e.metrics != nil {
			e.metrics.BulkAdmissionRejected.Inc()
		}
		return nil, fmt.Errorf("%d of %d slots in use: %w", e.running.Load(), e.max, ErrConcurrencyLimit)
	}

	t := &task{opID: id, stop: make(chan struct{}), done: make(chan struct{})}
	e.tasks[id] = t
	e.running.Add(1)
	e.wg.Add(1)
	return t, nil
}

func (e *Executor) release(t *task) {
	e.mu.Lock()
	delete(e.tasks, t.opID)
	e.mu.Unlock()
	e.running.Add(-1)
	close(t.done)
	e.wg.Done()
}

// Cancel requests cooperative cancellation of a running operation. The
// run stops at its next item boundary.
func (e *Executor) Cancel(ctx context.Context, id int64) error {
	e.mu.Lock()
	t, ok := e.tasks[id]
	e.mu.Unlock()
	if ok {
		t.requestStop()
		return nil
	}

	op, err := e.ops.GetOperation(ctx, id)
	if err != nil {
		return err
	}
	if op.Status == StatusRunning {
		return fmt.Errorf("bulk operation %d is not running in this process: %w", id, errs.ErrConflict)
	}
	return fmt.Errorf("bulk operation %d is %s: %w", id, op.Status, errs.ErrConflict)
}

// Wait blocks until the run of id has finished or ctx is done. It returns
// immediately when id is not running here.
func (e *Executor) Wait(ctx context.Context, id int64) error {
	e.mu.Lock()
	t, ok := e.tasks[id]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work, asks every run to stop at its next item
// boundary and waits for them to finish
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	for _, t := range e.tasks {
		t.requestStop()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bulk operations still running: %w", ctx.Err())
	}
}

// run processes plan one item at a time
func (e *Executor) run(ctx context.Context, t *task, op *Operation, plan *Plan, startedAt time.Time) error {
	ctx, span := e.tracer.Start(ctx, "bulk.Execute", trace.WithAttributes(
		attribute.Int64("bulk.operation_id", op.ID),
		attribute.String("bulk.kind", string(op.Type)),
		attribute.Int("bulk.items", len(plan.Items)),
	))
	defer span.End()

	logger := e.logger.WithFields(map[string]interface{}{
		"operation_id": op.ID,
		"type":         op.Type,
	})

	summary := newResultSummary(op.Request.ResourceTypes)
	for _, c := range plan.Conflicts {
		summary.forType(c.Type).Skipped++
	}
	errorLog := make([]ItemError, 0)
	progress := 0

	outcome := func(status Status, errMsg string) Outcome {
		summary.Processed = progress
		return Outcome{
			Status:     status,
			Progress:   progress,
			ErrorLog:   errorLog,
			Summary:    summary,
			Error:      errMsg,
			FinishedAt: e.now(),
		}
	}

	for _, item := range plan.Items {
		if t.stopped() {
			return e.finish(ctx, op, outcome(StatusCancelled, ""), startedAt)
		}

		cascade, err := e.apply(ctx, op, plan, item)
		if err != nil && errs.IsSystemic(err) {
			logger.WithError(err).Error("bulk operation hit a systemic failure")
			return e.finish(ctx, op, outcome(StatusFailed, err.Error()), startedAt)
		}

		ts := summary.forType(item.Type)
		itemOutcome := "succeeded"
		if err != nil {
			itemOutcome = "failed"
			ts.Failed++
			errorLog = append(errorLog, ItemError{ResourceType: item.Type, ResourceID: item.ID, Reason: err.Error()})
			logger.WithError(err).WithField("resource_id", item.ID).Warn("bulk operation item failed")
		} else {
			ts.Succeeded++
			summary.Cascade.Add(cascade)
		}
		if e.metrics != nil {
			e.metrics.BulkItemsTotal.WithLabelValues(string(item.Type), itemOutcome).Inc()
		}
		e.instruments.RecordItem(ctx, string(item.Type), itemOutcome)

		progress++
		if err := e.ops.RecordProgress(ctx, op.ID, progress, errorLog); err != nil {
			if errs.IsSystemic(err) {
				return e.finish(ctx, op, outcome(StatusFailed, err.Error()), startedAt)
			}
			if errors.Is(err, errs.ErrConflict) || errors.Is(err, errs.ErrNotFound) {
				// The row went terminal elsewhere; it is no longer ours to finish.
				logger.WithError(err).WithField("progress", progress).Warn("bulk operation row was finished elsewhere, stopping")
				if e.metrics != nil {
					e.metrics.BulkOperationsTotal.WithLabelValues(string(op.Type), "abandoned").Inc()
				}
				return fmt.Errorf("bulk operation %d stopped after %d items: %w", op.ID, progress, err)
			}
			logger.WithError(err).Warn("failed to record bulk operation progress")
		}
	}

	return e.finish(ctx, op, outcome(StatusCompleted, ""), startedAt)
}

func (e *Executor) apply(ctx context.Context, op *Operation, plan *Plan, item PlannedItem) (Cascade, error) {
	switch op.Type {
	case OperationMove:
		return e.resources.Move(ctx, plan.SourceOrganizationID, item.Resource, *plan.Destination)
	case OperationDelete:
		return e.resources.Delete(ctx, plan.SourceOrganizationID, item.Resource)
	}
	return Cascade{}, fmt.Errorf("unknown operation type %q: %w", op.Type, errs.ErrValidation)
}

var terminalActions = map[Status]string{
	StatusCompleted: audit.ActionBulkComplete,
	StatusFailed:    audit.ActionBulkFailed,
	StatusCancelled: audit.ActionBulkCancelled,
}

func (e *Executor) finish(ctx context.Context, op *Operation, outcome Outcome, startedAt time.Time) error {
	elapsed := outcome.FinishedAt.Sub(startedAt).Seconds()
	if e.metrics != nil {
		e.metrics.BulkOperationsTotal.WithLabelValues(string(op.Type), string(outcome.Status)).Inc()
		e.metrics.BulkOperationDuration.WithLabelValues(string(op.Type)).Observe(elapsed)
	}
	e.instruments.RecordDuration(ctx, string(op.Type), string(outcome.Status), elapsed)

	status := audit.StatusSuccess
	if outcome.Status == StatusFailed {
		status = audit.StatusFailure
	}
	metadata := map[string]interface{}{
		"status":   outcome.Status,
		"progress": outcome.Progress,
		"failed":   len(outcome.ErrorLog),
	}
	if outcome.Error != "" {
		metadata["error"] = outcome.Error
	}

	err := e.ops.Finish(ctx, op.ID, outcome)
	if err != nil {
		// The row stays running; reconciliation marks it failed later.
		err = fmt.Errorf("failed to record outcome of bulk operation %d: %w", op.ID, err)
	}
	e.record(ctx, op, terminalActions[outcome.Status], status, metadata)

	e.logger.WithFields(map[string]interface{}{
		"operation_id": op.ID,
		"status":       outcome.Status,
		"progress":     outcome.Progress,
		"duration_s":   elapsed,
	}).Info("bulk operation finished")
	return err
}

func (e *Executor) record(ctx context.Context, op *Operation, action string, status audit.Status, metadata map[string]interface{}) {
	org := op.OrganizationID
	entry := &audit.Entry{
		ActorUserID:    op.ActorUserID,
		OrganizationID: &org,
		ActionType:     action,
		TargetType:     audit.TargetBulkOperation,
		TargetID:       strconv.FormatInt(op.ID, 10),
		Status:         status,
		Metadata:       metadata,
	}
	if err := e.audit.Record(ctx, entry); err != nil {
		e.logger.WithError(err).WithField("operation_id", op.ID).Warn("failed to record bulk operation audit entry")
	}
}
