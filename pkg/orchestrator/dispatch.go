package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/lliwi/sar-v3-sub000/internal/logger"
	"github.com/lliwi/sar-v3-sub000/internal/telemetry"
	"github.com/lliwi/sar-v3-sub000/pkg/airflow"
	"github.com/lliwi/sar-v3-sub000/pkg/directory"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
	"github.com/lliwi/sar-v3-sub000/pkg/notify"
)

// dispatchWorkflow submits the task's membership change to the workflow
// executor. Fire-and-forget submissions succeed on acknowledgement; the
// dependent verification task confirms the effect later. Synchronous waits
// poll the run to a terminal state.
func (o *Orchestrator) dispatchWorkflow(ctx context.Context, task *models.Task, executionType string) error {
	payload, err := task.WorkflowPayload()
	if err != nil {
		return models.Permanent("unreadable workflow payload", err)
	}

	// The run id carries task and attempt so a crashed worker's
	// resubmission is idempotent on the executor side.
	runID := fmt.Sprintf("sar_task_%d_attempt_%d", task.ID, task.AttemptCount)
	telemetry.SetAttributes(ctx, telemetry.RunID(runID), telemetry.GroupName(payload.GroupName))
	conf := airflow.SubmitConf{
		CSVFile:   payload.CSVPath,
		RequestID: fmt.Sprintf("%d", payload.RequestID),
		TaskID:    fmt.Sprintf("%d", task.ID),
	}

	acked, err := o.runner.SubmitRun(ctx, runID, conf)
	if err != nil {
		return err
	}

	result := models.WorkflowResult{
		RunID:         acked,
		State:         string(airflow.StateQueued),
		ExecutionType: executionType,
	}

	if payload.Wait || executionType == models.ExecutionImmediate {
		state, err := o.runner.WaitForRun(ctx, acked, o.cfg.ImmediateWorkflowTimeout, o.cfg.ImmediateWorkflowPollInterval)
		if err != nil {
			return err
		}
		if !state.Succeeded() {
			return models.ExternalFailed(
				fmt.Sprintf("run %s finished in state %s", acked, state), nil)
		}
		result.State = string(state)
		result.FinishedAt = time.Now().UTC()
	}

	return task.SetResult(result)
}

// dispatchVerification asks the directory whether the expected membership
// effect is visible. The directory is authoritative; the local catalogue is
// never consulted. An unreachable directory records an inconclusive result
// and yields a transient error so the attempt is retried.
func (o *Orchestrator) dispatchVerification(ctx context.Context, task *models.Task, executionType string) error {
	payload, err := task.VerificationPayload()
	if err != nil {
		return models.Permanent("unreadable verification payload", err)
	}
	telemetry.SetAttributes(ctx, telemetry.Username(payload.Username), telemetry.GroupName(payload.GroupName))

	groups, err := o.dir.UserGroups(ctx, payload.Username)
	if err != nil {
		if models.KindOf(err) == models.FaultNotFound {
			// A user absent from the directory counts as a non-member:
			// removals are satisfied, adds are not.
			groups = nil
		} else {
			if o.metrics != nil {
				o.metrics.DirectoryError("user_groups")
			}
			inconclusive := models.VerificationResult{
				Inconclusive:  true,
				ExecutionType: executionType,
				CheckedAt:     time.Now().UTC(),
			}
			if serr := task.SetResult(inconclusive); serr != nil {
				logger.Warn("Failed to encode verification result", logger.KeyTaskID, task.ID, logger.KeyError, serr)
			}
			if _, nerr := o.notifier.NotifyAdmin(ctx, notify.ErrorTypeDirectoryDown, "orchestrator", err.Error()); nerr != nil {
				logger.Warn("Admin notification failed", logger.KeyError, nerr)
			}
			return models.Transient("directory unreachable during verification", err)
		}
	}

	member := directory.MemberOf(groups, payload.GroupName)
	satisfied := member != payload.Action.IsRemoval()

	result := models.VerificationResult{
		Member:        member,
		Satisfied:     satisfied,
		ExecutionType: executionType,
		CheckedAt:     time.Now().UTC(),
	}
	if err := task.SetResult(result); err != nil {
		return err
	}

	if !satisfied {
		return models.Transient(fmt.Sprintf(
			"membership of %s in %s not yet %s",
			payload.Username, payload.GroupName, expectation(payload.Action)), nil)
	}

	o.settleRemovalMarkers(ctx, task, payload)
	logger.Debug("Verification satisfied",
		logger.KeyTaskID, task.ID,
		logger.KeyUsername, payload.Username,
		logger.KeyGroup, payload.GroupName,
		logger.KeyAction, string(payload.Action))
	return nil
}

// settleRemovalMarkers applies the catalogue effect of a verified removal:
// retire the linkage or deactivate the membership the payload names.
func (o *Orchestrator) settleRemovalMarkers(ctx context.Context, task *models.Task, payload *models.VerificationPayload) {
	if !payload.Action.IsRemoval() {
		return
	}
	if payload.PermissionID != nil {
		if err := o.store.RetirePermission(ctx, *payload.PermissionID); err != nil {
			logger.Error("Failed to retire permission after verified removal",
				logger.KeyTaskID, task.ID, logger.KeyError, err)
		}
	}
	if payload.MembershipID != nil {
		if err := o.store.DeactivateMembership(ctx, *payload.MembershipID); err != nil {
			logger.Error("Failed to deactivate membership after verified removal",
				logger.KeyTaskID, task.ID, logger.KeyError, err)
		}
	}
}

func expectation(action models.GroupAction) string {
	if action.IsRemoval() {
		return "absent"
	}
	return "present"
}

