package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/lliwi/sar-v3-sub000/internal/logger"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
	"github.com/lliwi/sar-v3-sub000/pkg/requests"
)

// ExecutePlan persists a task plan and optionally drives its fast path.
// Part of the requests.Executor contract.
//
// Tasks are created in plan order so dependency indices can be rewritten
// into concrete task ids. Root tasks are scheduled immediately; dependents
// stay unscheduled until dependency resolution promotes them. The fast path
// then tries to complete the whole chain inline; any failure leaves the
// queued tasks for the periodic loop and is never counted against the retry
// budget.
func (o *Orchestrator) ExecutePlan(ctx context.Context, req *models.PermissionRequest, plan requests.TaskPlan) error {
	created := make([]*models.Task, 0, len(plan.Tasks))
	now := time.Now().UTC()

	for i, planned := range plan.Tasks {
		var payload []byte
		switch {
		case planned.Workflow != nil:
			p := *planned.Workflow
			if planned.DependsOn >= 0 {
				p.DependsOnTaskID = &created[planned.DependsOn].ID
			}
			payload = models.MustPayload(p)
		case planned.Verification != nil:
			p := *planned.Verification
			if planned.DependsOn >= 0 {
				p.DependsOnTaskID = &created[planned.DependsOn].ID
			}
			payload = models.MustPayload(p)
		default:
			return models.Permanent(fmt.Sprintf("plan step %d has no payload", i), nil)
		}

		task := &models.Task{
			Name:        planned.Name,
			Kind:        planned.Kind,
			Status:      models.TaskPending,
			MaxAttempts: o.cfg.MaxRetries,
			Payload:     payload,
			RequestID:   &req.ID,
			CreatedBy:   "engine",
		}
		if planned.DependsOn < 0 {
			t := now
			task.NextExecutionAt = &t
		}
		if err := o.store.CreateTask(ctx, task); err != nil {
			return fmt.Errorf("creating task %q: %w", planned.Name, err)
		}
		created = append(created, task)
	}

	logger.Info("Task plan persisted",
		logger.KeyRequestID, req.ID,
		logger.KeyCount, len(created))

	if plan.FastPath {
		o.tryFastPath(ctx, created)
	}
	return nil
}

// tryFastPath attempts to complete a freshly persisted two-step add chain
// inline: submit and await the workflow run, then verify once. Budgets are
// the immediate timeouts; attempts here never touch AttemptCount, so the
// periodic loop still has the full retry budget if the fast path loses.
func (o *Orchestrator) tryFastPath(ctx context.Context, tasks []*models.Task) {
	if len(tasks) != 2 || tasks[0].Kind != models.TaskKindWorkflow || tasks[1].Kind != models.TaskKindVerification {
		return
	}
	workflow, verification := tasks[0], tasks[1]

	wctx, cancel := context.WithTimeout(ctx, o.cfg.ImmediateWorkflowTimeout)
	err := o.dispatchWorkflow(wctx, workflow, models.ExecutionImmediate)
	cancel()
	if err != nil {
		logger.Info("Fast path workflow did not complete inline, queueing",
			logger.KeyTaskID, workflow.ID, logger.KeyError, err)
		return
	}
	now := time.Now().UTC()
	workflow.Status = models.TaskCompleted
	workflow.CompletedAt = &now
	if err := o.store.SaveTask(ctx, workflow); err != nil {
		logger.Error("Failed to persist fast-path completion", logger.KeyTaskID, workflow.ID, logger.KeyError, err)
		return
	}

	vctx, cancel := context.WithTimeout(ctx, o.cfg.ImmediateVerificationTimeout)
	err = o.dispatchVerification(vctx, verification, models.ExecutionImmediate)
	cancel()
	if err != nil {
		// The workflow completed inline but its effect is not visible yet;
		// schedule the verification for the normal loop.
		next := time.Now().UTC().Add(eagerDependencyDelay)
		verification.NextExecutionAt = &next
		if serr := o.store.SaveTask(ctx, verification); serr != nil {
			logger.Error("Failed to schedule verification", logger.KeyTaskID, verification.ID, logger.KeyError, serr)
		}
		logger.Info("Fast path verification pending, queueing",
			logger.KeyTaskID, verification.ID, logger.KeyError, err)
		return
	}

	o.completeTask(ctx, verification)
	logger.Info("Fast path completed chain inline",
		logger.KeyRequestID, derefUint(workflow.RequestID),
		logger.KeyTaskID, verification.ID)
}

func derefUint(p *uint) uint {
	if p == nil {
		return 0
	}
	return *p
}
