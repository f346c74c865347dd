// Package orchestrator drives the task queue: scheduling, dispatch, retry,
// dependency resolution and the failure cascade onto owning requests.
//
// One orchestrator runs per process. Ticks are serialised process-locally by
// a try-lock; across processes the task store's skip-locked ready query
// keeps workers from stepping on each other.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lliwi/sar-v3-sub000/internal/logger"
	"github.com/lliwi/sar-v3-sub000/internal/telemetry"
	"github.com/lliwi/sar-v3-sub000/pkg/airflow"
	"github.com/lliwi/sar-v3-sub000/pkg/artefact"
	"github.com/lliwi/sar-v3-sub000/pkg/audit"
	"github.com/lliwi/sar-v3-sub000/pkg/directory"
	"github.com/lliwi/sar-v3-sub000/pkg/metrics"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
	"github.com/lliwi/sar-v3-sub000/pkg/notify"
	"github.com/lliwi/sar-v3-sub000/pkg/store"
)

// Scheduling delays fixed by the processing model.
const (
	// dependencyResolveDelay spaces a promoted dependent away from its
	// freshly completed dependency so the executor's effect can settle.
	dependencyResolveDelay = 60 * time.Second

	// eagerDependencyDelay is the shorter promotion applied when the
	// completion is observed in-process.
	eagerDependencyDelay = 30 * time.Second
)

// Config contains orchestrator configuration.
type Config struct {
	// ProcessingInterval between ticks. Default: 300s.
	ProcessingInterval time.Duration `mapstructure:"processing_interval" yaml:"processing_interval"`

	// BatchSize bounds the ready sweep per tick. Default: 10.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`

	// MaxRetries is the default attempt budget for new tasks. Default: 3.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	// RetryDelay between attempts. Default: 300s.
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`

	// CleanupDays is the purge cut-off for terminal tasks. Default: 30.
	CleanupDays int `mapstructure:"cleanup_days" yaml:"cleanup_days"`

	// ImmediateWorkflowTimeout bounds inline run polling on the approval
	// fast path and for tasks requesting synchronous wait. Default: 300s.
	ImmediateWorkflowTimeout time.Duration `mapstructure:"immediate_workflow_timeout" yaml:"immediate_workflow_timeout"`

	// ImmediateWorkflowPollInterval between run state checks. Default: 10s.
	ImmediateWorkflowPollInterval time.Duration `mapstructure:"immediate_workflow_poll_interval" yaml:"immediate_workflow_poll_interval"`

	// ImmediateVerificationTimeout bounds the inline verification attempt
	// of the fast path. Default: 60s.
	ImmediateVerificationTimeout time.Duration `mapstructure:"immediate_verification_timeout" yaml:"immediate_verification_timeout"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.ProcessingInterval == 0 {
		c.ProcessingInterval = 300 * time.Second
	}
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 300 * time.Second
	}
	if c.CleanupDays == 0 {
		c.CleanupDays = 30
	}
	if c.ImmediateWorkflowTimeout == 0 {
		c.ImmediateWorkflowTimeout = 300 * time.Second
	}
	if c.ImmediateWorkflowPollInterval == 0 {
		c.ImmediateWorkflowPollInterval = 10 * time.Second
	}
	if c.ImmediateVerificationTimeout == 0 {
		c.ImmediateVerificationTimeout = 60 * time.Second
	}
}

// WorkflowRunner is the executor surface the orchestrator needs. Satisfied
// by *airflow.Client; tests inject a fake.
type WorkflowRunner interface {
	SubmitRun(ctx context.Context, runID string, conf airflow.SubmitConf) (string, error)
	GetRun(ctx context.Context, runID string) (airflow.RunState, error)
	WaitForRun(ctx context.Context, runID string, timeout, interval time.Duration) (airflow.RunState, error)
}

// Orchestrator owns the task queue of one process.
type Orchestrator struct {
	cfg      Config
	store    store.Store
	runner   WorkflowRunner
	dir      directory.Adapter
	notifier *notify.Notifier
	recorder *audit.Recorder
	metrics  metrics.EngineMetrics

	tickMu sync.Mutex
}

// New creates an orchestrator. The metrics instance may be nil when
// collection is disabled.
func New(cfg Config, st store.Store, runner WorkflowRunner, dir directory.Adapter, n *notify.Notifier, rec *audit.Recorder, m metrics.EngineMetrics) *Orchestrator {
	cfg.ApplyDefaults()
	return &Orchestrator{
		cfg:      cfg,
		store:    st,
		runner:   runner,
		dir:      dir,
		notifier: n,
		recorder: rec,
		metrics:  m,
	}
}

// Tick runs one processing pass: resolve dependencies, then sweep the ready
// queue. Overlapping ticks within a process are skipped, not queued.
func (o *Orchestrator) Tick(ctx context.Context) error {
	if !o.tickMu.TryLock() {
		logger.Debug("Tick already in progress, skipping")
		return nil
	}
	defer o.tickMu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanTick)
	defer span.End()

	start := time.Now()
	if err := o.resolveDependencies(ctx); err != nil {
		logger.Warn("Dependency resolution failed", logger.KeyError, err)
	}

	tasks, err := o.store.Ready(ctx, o.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetching ready tasks: %w", err)
	}
	for _, task := range tasks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		o.runTask(ctx, task)
	}

	if o.metrics != nil {
		o.metrics.ObserveTick(time.Since(start), len(tasks))
	}
	if len(tasks) > 0 {
		logger.Info("Tick processed",
			logger.KeyCount, len(tasks),
			logger.KeyDurationMs, logger.Duration(start))
	}
	return nil
}

// resolveDependencies promotes unscheduled dependents whose prerequisite
// completed into the ready queue, spaced by the settle delay.
func (o *Orchestrator) resolveDependencies(ctx context.Context) error {
	waiting, err := o.store.AwaitingDependency(ctx, o.cfg.BatchSize*10)
	if err != nil {
		return err
	}
	for _, task := range waiting {
		depID := task.DependsOn()
		if depID == nil {
			continue
		}
		dep, err := o.store.GetTask(ctx, *depID)
		if err != nil {
			logger.Warn("Dependency lookup failed",
				logger.KeyTaskID, task.ID,
				logger.KeyDependsOn, *depID,
				logger.KeyError, err)
			continue
		}
		switch dep.Status {
		case models.TaskCompleted:
			next := time.Now().UTC().Add(dependencyResolveDelay)
			task.NextExecutionAt = &next
			if err := o.store.SaveTask(ctx, task); err != nil {
				logger.Warn("Failed to promote dependent task",
					logger.KeyTaskID, task.ID, logger.KeyError, err)
				continue
			}
			logger.Debug("Dependency resolved",
				logger.KeyTaskID, task.ID,
				logger.KeyDependsOn, dep.ID)
		case models.TaskFailed, models.TaskCancelled:
			// The prerequisite will never complete; the dependent can
			// never run.
			o.cancelTask(ctx, task, "system", fmt.Sprintf("dependency task %d is %s", dep.ID, dep.Status))
		}
	}
	return nil
}

// runTask claims, dispatches and settles one task.
func (o *Orchestrator) runTask(ctx context.Context, task *models.Task) {
	var extra []attribute.KeyValue
	if task.RequestID != nil {
		extra = append(extra, telemetry.RequestID(*task.RequestID))
	}
	ctx, span := telemetry.StartTaskSpan(ctx, string(task.Kind), task.ID, task.AttemptCount+1, extra...)
	defer span.End()

	now := time.Now().UTC()
	task.Status = models.TaskRunning
	task.StartedAt = &now
	task.AttemptCount++
	if err := o.store.SaveTask(ctx, task); err != nil {
		logger.Error("Failed to claim task", logger.KeyTaskID, task.ID, logger.KeyError, err)
		return
	}

	logger.Info("Task dispatched",
		logger.KeyTaskID, task.ID,
		logger.KeyTaskKind, string(task.Kind),
		logger.KeyAttempt, task.AttemptCount,
		logger.KeyMaxRetries, task.MaxAttempts)

	var err error
	switch task.Kind {
	case models.TaskKindWorkflow:
		err = o.dispatchWorkflow(ctx, task, models.ExecutionQueued)
	case models.TaskKindVerification:
		err = o.dispatchVerification(ctx, task, models.ExecutionQueued)
	default:
		err = models.Permanent(fmt.Sprintf("task %d has unknown kind %q", task.ID, task.Kind), nil)
	}

	if err == nil {
		o.completeTask(ctx, task)
		return
	}
	telemetry.RecordError(ctx, err)
	o.scheduleRetry(ctx, task, err)
}

// completeTask settles a successful dispatch and eagerly promotes the
// completed task's dependents.
func (o *Orchestrator) completeTask(ctx context.Context, task *models.Task) {
	now := time.Now().UTC()
	task.Status = models.TaskCompleted
	task.CompletedAt = &now
	task.LastError = ""
	if err := o.store.SaveTask(ctx, task); err != nil {
		logger.Error("Failed to persist task completion", logger.KeyTaskID, task.ID, logger.KeyError, err)
		return
	}
	logger.Info("Task completed", logger.KeyTaskID, task.ID, logger.KeyTaskKind, string(task.Kind))
	if o.metrics != nil {
		o.metrics.TaskCompleted(string(task.Kind))
	}

	if task.Kind == models.TaskKindVerification {
		o.deleteArtefact(task)
	}
	o.eagerResolve(ctx, task)
}

// scheduleRetry reschedules a failed attempt, or finalises the failure once
// the attempt budget is spent. The terminal path runs exactly once per task;
// callers never invoke it for an already failed task.
func (o *Orchestrator) scheduleRetry(ctx context.Context, task *models.Task, cause error) {
	task.LastError = cause.Error()

	retryable := models.KindOf(cause).Retryable()
	if retryable && task.AttemptCount < task.MaxAttempts {
		next := time.Now().UTC().Add(o.retryDelay(task))
		task.Status = models.TaskRetry
		task.NextExecutionAt = &next
		if err := o.store.SaveTask(ctx, task); err != nil {
			logger.Error("Failed to schedule retry", logger.KeyTaskID, task.ID, logger.KeyError, err)
			return
		}
		logger.Warn("Task attempt failed, retry scheduled",
			logger.KeyTaskID, task.ID,
			logger.KeyAttempt, task.AttemptCount,
			logger.KeyMaxRetries, task.MaxAttempts,
			logger.KeyError, cause)
		if o.metrics != nil {
			o.metrics.TaskRetried(string(task.Kind))
		}
		return
	}

	now := time.Now().UTC()
	task.Status = models.TaskFailed
	task.CompletedAt = &now
	if err := o.store.SaveTask(ctx, task); err != nil {
		logger.Error("Failed to persist task failure", logger.KeyTaskID, task.ID, logger.KeyError, err)
		return
	}
	logger.Error("Task failed permanently",
		logger.KeyTaskID, task.ID,
		logger.KeyTaskKind, string(task.Kind),
		logger.KeyAttempt, task.AttemptCount,
		logger.KeyError, cause)
	if o.metrics != nil {
		o.metrics.TaskFailed(string(task.Kind))
	}

	o.notifyFinalFailure(ctx, task, cause)
	o.rollbackRemovalMarkers(ctx, task)
	if task.Kind == models.TaskKindVerification {
		o.deleteArtefact(task)
	}
	o.cancelDependents(ctx, task)
	o.cascade(ctx, task, cause)
}

// retryDelay prefers a per-task delay over the global one.
func (o *Orchestrator) retryDelay(task *models.Task) time.Duration {
	if task.DelaySeconds > 0 {
		return time.Duration(task.DelaySeconds) * time.Second
	}
	return o.cfg.RetryDelay
}

// notifyFinalFailure reports the exhausted retry budget to operators
// through the deduplicating notifier.
func (o *Orchestrator) notifyFinalFailure(ctx context.Context, task *models.Task, cause error) {
	errorType := notify.ErrorTypeDagExecutionFailed
	if task.Kind == models.TaskKindVerification {
		errorType = notify.ErrorTypeVerificationFailed
	}
	msg := fmt.Sprintf("task %d (%s) failed after %d attempts: %v", task.ID, task.Name, task.AttemptCount, cause)
	created, err := o.notifier.NotifyAdmin(ctx, errorType, "orchestrator", msg)
	if err != nil {
		logger.Warn("Admin notification failed", logger.KeyTaskID, task.ID, logger.KeyError, err)
		return
	}
	if created && o.metrics != nil {
		o.metrics.NotificationCreated(errorType)
	}
}

// rollbackRemovalMarkers restores the transient removal state of a
// verification task that will never confirm: the linkage leaves
// deletion_in_progress and stays active.
func (o *Orchestrator) rollbackRemovalMarkers(ctx context.Context, task *models.Task) {
	if task.Kind != models.TaskKindVerification {
		return
	}
	payload, err := task.VerificationPayload()
	if err != nil || payload.PermissionID == nil {
		return
	}
	if err := o.store.SetPermissionDeletionInProgress(ctx, *payload.PermissionID, false); err != nil {
		logger.Warn("Failed to clear deletion flag",
			logger.KeyTaskID, task.ID, logger.KeyError, err)
		return
	}
	if err := o.store.RestorePermission(ctx, *payload.PermissionID); err != nil {
		logger.Warn("Failed to restore permission",
			logger.KeyTaskID, task.ID, logger.KeyError, err)
	}
}

// cancelDependents cancels pending siblings that can never run because
// their prerequisite reached a dead end.
func (o *Orchestrator) cancelDependents(ctx context.Context, failed *models.Task) {
	if failed.RequestID == nil {
		return
	}
	siblings, err := o.store.SiblingsOf(ctx, *failed.RequestID)
	if err != nil {
		logger.Warn("Failed to load siblings", logger.KeyTaskID, failed.ID, logger.KeyError, err)
		return
	}
	for _, sib := range siblings {
		if sib.Status != models.TaskPending && sib.Status != models.TaskRetry {
			continue
		}
		if dep := sib.DependsOn(); dep != nil && *dep == failed.ID {
			o.cancelTask(ctx, sib, "system", fmt.Sprintf("dependency task %d failed", failed.ID))
		}
	}
}

// cascade fails the owning request once no sibling can make progress.
func (o *Orchestrator) cascade(ctx context.Context, task *models.Task, cause error) {
	if task.RequestID == nil {
		return
	}
	siblings, err := o.store.SiblingsOf(ctx, *task.RequestID)
	if err != nil {
		logger.Warn("Failed to load siblings for cascade", logger.KeyTaskID, task.ID, logger.KeyError, err)
		return
	}
	anyFailed := false
	for _, sib := range siblings {
		switch sib.Status {
		case models.TaskPending, models.TaskRunning, models.TaskRetry, models.TaskCompleted:
			return
		case models.TaskFailed:
			anyFailed = true
		}
	}
	if !anyFailed {
		return
	}

	req, err := o.store.GetRequestByID(ctx, *task.RequestID)
	if err != nil {
		logger.Warn("Failed to load request for cascade", logger.KeyRequestID, *task.RequestID, logger.KeyError, err)
		return
	}
	if !req.Status.CanTransitionTo(models.RequestFailed) {
		return
	}
	req.Status = models.RequestFailed
	req.ValidationComment = fmt.Sprintf("automatic processing failed: %v", cause)
	if err := o.store.SaveRequest(ctx, req); err != nil {
		logger.Error("Failed to cascade request failure", logger.KeyRequestID, req.ID, logger.KeyError, err)
		return
	}

	o.recorder.Record(ctx, audit.Entry{
		Actor:        "system",
		EventType:    audit.EventTask,
		Action:       "cascade_failure",
		ResourceType: audit.ResourceRequest,
		ResourceID:   fmt.Sprintf("%d", req.ID),
		Description:  req.ValidationComment,
	})
	logger.Error("Request failed after task chain exhausted",
		logger.KeyRequestID, req.ID, logger.KeyError, cause)
}

// eagerResolve promotes pending siblings that depend on the freshly
// completed task, and gives verification dependents one immediate chance.
func (o *Orchestrator) eagerResolve(ctx context.Context, completed *models.Task) {
	if completed.RequestID == nil {
		return
	}
	siblings, err := o.store.SiblingsOf(ctx, *completed.RequestID)
	if err != nil {
		logger.Warn("Failed to load siblings for eager resolution",
			logger.KeyTaskID, completed.ID, logger.KeyError, err)
		return
	}
	for _, sib := range siblings {
		if sib.Status != models.TaskPending {
			continue
		}
		dep := sib.DependsOn()
		if dep == nil || *dep != completed.ID {
			continue
		}

		next := time.Now().UTC().Add(eagerDependencyDelay)
		sib.NextExecutionAt = &next
		if err := o.store.SaveTask(ctx, sib); err != nil {
			logger.Warn("Failed to promote sibling", logger.KeyTaskID, sib.ID, logger.KeyError, err)
			continue
		}

		// One immediate verification attempt, outside the retry budget: a
		// failure here just leaves the scheduled promotion in place.
		if sib.Kind == models.TaskKindVerification {
			vctx, cancel := context.WithTimeout(ctx, o.cfg.ImmediateVerificationTimeout)
			err := o.dispatchVerification(vctx, sib, models.ExecutionImmediate)
			cancel()
			if err == nil {
				o.completeTask(ctx, sib)
			} else {
				logger.Debug("Eager verification not yet satisfied",
					logger.KeyTaskID, sib.ID, logger.KeyError, err)
			}
		}
	}
}

// cancelTask moves a cancelable task to cancelled and removes its artefact.
func (o *Orchestrator) cancelTask(ctx context.Context, task *models.Task, actor, reason string) {
	now := time.Now().UTC()
	task.Status = models.TaskCancelled
	task.CompletedAt = &now
	if err := task.SetResult(models.CancellationResult{
		CancelledBy: actor,
		Reason:      reason,
		CancelledAt: now,
	}); err != nil {
		logger.Warn("Failed to encode cancellation result", logger.KeyTaskID, task.ID, logger.KeyError, err)
	}
	if err := o.store.SaveTask(ctx, task); err != nil {
		logger.Error("Failed to cancel task", logger.KeyTaskID, task.ID, logger.KeyError, err)
		return
	}
	o.deleteArtefact(task)
	logger.Info("Task cancelled",
		logger.KeyTaskID, task.ID,
		logger.KeyActor, actor,
		logger.KeyOperation, reason)
}

// Cancel cancels one task on behalf of an actor. Only pending and retry
// tasks are cancelable; running tasks finish their in-flight attempt.
func (o *Orchestrator) Cancel(ctx context.Context, taskID uint, actor, reason string) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskPending && task.Status != models.TaskRetry {
		return fmt.Errorf("task %d: %w: status %s", task.ID, models.ErrTaskNotCancelable, task.Status)
	}
	o.cancelTask(ctx, task, actor, reason)
	o.recorder.Record(ctx, audit.Entry{
		Actor:        actor,
		EventType:    audit.EventTask,
		Action:       "cancel",
		ResourceType: audit.ResourceTask,
		ResourceID:   fmt.Sprintf("%d", task.ID),
		Description:  reason,
	})
	return nil
}

// Retry puts a terminally failed or cancelled task back on the queue with a
// fresh attempt budget. Operator escape hatch; completed tasks stay done.
func (o *Orchestrator) Retry(ctx context.Context, taskID uint, actor string) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskFailed && task.Status != models.TaskCancelled {
		return fmt.Errorf("task %d: %w: status %s", task.ID, models.ErrTaskNotRetryable, task.Status)
	}

	now := time.Now().UTC()
	task.Status = models.TaskPending
	task.AttemptCount = 0
	task.LastError = ""
	task.StartedAt = nil
	task.CompletedAt = nil
	task.NextExecutionAt = &now
	if err := o.store.SaveTask(ctx, task); err != nil {
		return err
	}

	o.recorder.Record(ctx, audit.Entry{
		Actor:        actor,
		EventType:    audit.EventTask,
		Action:       "retry",
		ResourceType: audit.ResourceTask,
		ResourceID:   fmt.Sprintf("%d", task.ID),
		Description:  "task requeued by operator",
	})
	logger.Info("Task requeued", logger.KeyTaskID, task.ID, logger.KeyActor, actor)
	return nil
}

// CancelSiblings cancels every cancelable task of a request. Part of the
// requests.Executor contract.
func (o *Orchestrator) CancelSiblings(ctx context.Context, requestID uint, actor, reason string) error {
	siblings, err := o.store.SiblingsOf(ctx, requestID)
	if err != nil {
		return err
	}
	for _, sib := range siblings {
		if sib.Status == models.TaskPending || sib.Status == models.TaskRetry {
			o.cancelTask(ctx, sib, actor, reason)
		}
	}
	return nil
}

// Purge deletes terminal tasks older than the cut-off. Returns the number
// of rows removed.
func (o *Orchestrator) Purge(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = o.cfg.CleanupDays
	}
	cutoff := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	n, err := o.store.PurgeTasksBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Info("Purged terminal tasks", logger.KeyCount, int(n))
	}
	return n, nil
}

// deleteArtefact removes the CSV referenced by the task payload, if any.
func (o *Orchestrator) deleteArtefact(task *models.Task) {
	path := task.CSVPath()
	if path == "" {
		return
	}
	if err := artefact.Delete(path); err != nil {
		logger.Warn("Failed to delete artefact",
			logger.KeyTaskID, task.ID,
			logger.KeyCSVPath, path,
			logger.KeyError, err)
	}
}
