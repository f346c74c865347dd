package requests

import (
	"context"
	"fmt"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// PlannedTask is one step of a task plan before persistence. DependsOn is an
// index into the plan's task slice (-1 for none); the executor rewrites it
// into a concrete task id once ids are known.
type PlannedTask struct {
	Name         string
	Kind         models.TaskKind
	Workflow     *models.WorkflowPayload
	Verification *models.VerificationPayload
	DependsOn    int
}

// TaskPlan is the ordered set of tasks an approval or revocation needs. The
// state machine produces plans; the orchestrator persists and executes them.
// Splitting the two keeps the state machine free of scheduling concerns.
type TaskPlan struct {
	Tasks []PlannedTask

	// FastPath asks the executor to attempt inline execution before
	// queueing. Only set for single add chains where the requester is
	// waiting on the outcome.
	FastPath bool
}

// Executor persists and drives a task plan. Implemented by the orchestrator.
type Executor interface {
	ExecutePlan(ctx context.Context, req *models.PermissionRequest, plan TaskPlan) error
	// CancelSiblings cancels every cancelable task of the request,
	// recording the actor and reason.
	CancelSiblings(ctx context.Context, requestID uint, actor, reason string) error
}

// addChain plans the two tasks of a plain approval: submit the workflow run,
// then verify the membership took effect.
func addChain(req *models.PermissionRequest, csvPath string, fastPath bool) TaskPlan {
	username := models.BarePrincipal(req.Requester.Username)
	return TaskPlan{
		FastPath: fastPath,
		Tasks: []PlannedTask{
			{
				Name: fmt.Sprintf("workflow_add_req%d", req.ID),
				Kind: models.TaskKindWorkflow,
				Workflow: &models.WorkflowPayload{
					RequestID: req.ID,
					Username:  username,
					GroupName: req.Group.Name,
					FolderID:  req.FolderID,
					Mode:      req.Mode,
					Action:    models.ActionAdd,
					CSVPath:   csvPath,
					Wait:      true,
				},
				DependsOn: -1,
			},
			{
				Name: fmt.Sprintf("verify_add_req%d", req.ID),
				Kind: models.TaskKindVerification,
				Verification: &models.VerificationPayload{
					RequestID: req.ID,
					Username:  username,
					GroupName: req.Group.Name,
					FolderID:  req.FolderID,
					Mode:      req.Mode,
					Action:    models.ActionAdd,
					CSVPath:   csvPath,
				},
				DependsOn: 0,
			},
		},
	}
}

// changeChain plans the three tasks of a mode change: remove the old
// membership, add the new one after the removal, verify the new one last.
func changeChain(req *models.PermissionRequest, oldGroup *models.Group, oldMode models.PermissionMode, removeCSV, addCSV string) TaskPlan {
	username := models.BarePrincipal(req.Requester.Username)
	return TaskPlan{
		Tasks: []PlannedTask{
			{
				Name: fmt.Sprintf("workflow_remove_old_req%d", req.ID),
				Kind: models.TaskKindWorkflow,
				Workflow: &models.WorkflowPayload{
					RequestID: req.ID,
					Username:  username,
					GroupName: oldGroup.Name,
					FolderID:  req.FolderID,
					Mode:      oldMode,
					Action:    models.ActionRemove,
					CSVPath:   removeCSV,
					Wait:      true,
				},
				DependsOn: -1,
			},
			{
				Name: fmt.Sprintf("workflow_add_new_req%d", req.ID),
				Kind: models.TaskKindWorkflow,
				Workflow: &models.WorkflowPayload{
					RequestID: req.ID,
					Username:  username,
					GroupName: req.Group.Name,
					FolderID:  req.FolderID,
					Mode:      req.Mode,
					Action:    models.ActionAdd,
					CSVPath:   addCSV,
					Wait:      true,
				},
				DependsOn: 0,
			},
			{
				Name: fmt.Sprintf("verify_change_req%d", req.ID),
				Kind: models.TaskKindVerification,
				Verification: &models.VerificationPayload{
					RequestID: req.ID,
					Username:  username,
					GroupName: req.Group.Name,
					FolderID:  req.FolderID,
					Mode:      req.Mode,
					Action:    models.ActionAdd,
					CSVPath:   addCSV,
				},
				DependsOn: 1,
			},
		},
	}
}

// revokeChain plans the removal of an approved permission. permissionID or
// membershipID tells the verifier what to retire once the removal verifies.
func revokeChain(req *models.PermissionRequest, csvPath string, permissionID, membershipID *uint) TaskPlan {
	username := models.BarePrincipal(req.Requester.Username)
	return TaskPlan{
		Tasks: []PlannedTask{
			{
				Name: fmt.Sprintf("workflow_revoke_req%d", req.ID),
				Kind: models.TaskKindWorkflow,
				Workflow: &models.WorkflowPayload{
					RequestID: req.ID,
					Username:  username,
					GroupName: req.Group.Name,
					FolderID:  req.FolderID,
					Mode:      req.Mode,
					Action:    models.ActionRemove,
					CSVPath:   csvPath,
					Wait:      true,
				},
				DependsOn: -1,
			},
			{
				Name: fmt.Sprintf("verify_revoke_req%d", req.ID),
				Kind: models.TaskKindVerification,
				Verification: &models.VerificationPayload{
					RequestID:    req.ID,
					Username:     username,
					GroupName:    req.Group.Name,
					FolderID:     req.FolderID,
					Mode:         req.Mode,
					Action:       models.ActionRemove,
					CSVPath:      csvPath,
					PermissionID: permissionID,
					MembershipID: membershipID,
				},
				DependsOn: 0,
			},
		},
	}
}
