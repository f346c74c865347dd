package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskKind distinguishes the two automated step types of a request chain.
type TaskKind string

const (
	// TaskKindWorkflow submits a run to the external workflow executor.
	TaskKindWorkflow TaskKind = "workflow"

	// TaskKindVerification checks the directory for the expected membership
	// effect of a workflow run.
	TaskKindVerification TaskKind = "verification"
)

// IsValid returns true if this is a valid task kind.
func (k TaskKind) IsValid() bool {
	return k == TaskKindWorkflow || k == TaskKindVerification
}

// TaskStatus represents the execution state of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskRetry     TaskStatus = "retry"
	TaskCancelled TaskStatus = "cancelled"
)

// IsValid returns true if this is a valid task status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskPending, TaskRunning, TaskCompleted, TaskFailed, TaskRetry, TaskCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the task will never run again.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// String returns the string representation of the status.
func (s TaskStatus) String() string {
	return string(s)
}

// GroupAction is the membership change a task applies or verifies.
type GroupAction string

const (
	// ActionAdd adds the requester to the assigned group.
	ActionAdd GroupAction = "add"

	// ActionRemove removes the requester from a group after a revocation or
	// a mode change.
	ActionRemove GroupAction = "remove"

	// ActionRemoveADSync removes a membership discovered stale by the
	// directory sync.
	ActionRemoveADSync GroupAction = "remove_ad_sync"

	// ActionDelete retires a whole permission linkage.
	ActionDelete GroupAction = "delete"
)

// IsRemoval reports whether verification success means the user is NOT a
// member of the target group.
func (a GroupAction) IsRemoval() bool {
	switch a {
	case ActionRemove, ActionRemoveADSync, ActionDelete:
		return true
	default:
		return false
	}
}

// CSVCode returns the idAccion artefact column value: 1 for add, 2 for any
// removal flavour.
func (a GroupAction) CSVCode() int {
	if a == ActionAdd {
		return 1
	}
	return 2
}

// Task is one automated step in applying or verifying a permission change.
//
// Invariants: 0 <= AttemptCount <= MaxAttempts; a verification task whose
// payload names an unresolved depends_on_task_id has NextExecutionAt nil
// until the dependency completes.
type Task struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Name            string     `gorm:"not null;size:255" json:"name"`
	Kind            TaskKind   `gorm:"not null;size:32;index" json:"kind"`
	Status          TaskStatus `gorm:"not null;size:16;default:pending;index" json:"status"`
	AttemptCount    int        `gorm:"default:0" json:"attempt_count"`
	MaxAttempts     int        `gorm:"default:3" json:"max_attempts"`
	NextExecutionAt *time.Time `gorm:"index" json:"next_execution_at,omitempty"`
	DelaySeconds    int        `gorm:"default:0" json:"delay_seconds"`
	Payload         []byte     `gorm:"type:bytes" json:"-"`
	Result          []byte     `gorm:"type:bytes" json:"-"`
	LastError       string     `gorm:"size:2048" json:"last_error,omitempty"`
	RequestID       *uint      `gorm:"index" json:"request_id,omitempty"`
	CreatedBy       string     `gorm:"size:255" json:"created_by,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Request *PermissionRequest `gorm:"foreignKey:RequestID" json:"request,omitempty"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "tasks"
}

// ExecutionType records how a task chain was driven to completion.
const (
	// ExecutionImmediate marks tasks completed inline by the approval fast
	// path before the periodic loop ever saw them.
	ExecutionImmediate = "immediate"

	// ExecutionQueued marks tasks executed by the periodic orchestrator.
	ExecutionQueued = "queued"
)

// WorkflowPayload is the typed payload of a workflow-kind task.
type WorkflowPayload struct {
	RequestID       uint           `json:"request_id,omitempty"`
	Username        string         `json:"username"`
	GroupName       string         `json:"group_name"`
	FolderID        uint           `json:"folder_id"`
	Mode            PermissionMode `json:"mode"`
	Action          GroupAction    `json:"action"`
	CSVPath         string         `json:"csv_path,omitempty"`
	DependsOnTaskID *uint          `json:"depends_on_task_id,omitempty"`
	// Wait requests synchronous polling of the run instead of
	// fire-and-forget submission.
	Wait bool `json:"wait,omitempty"`
}

// VerificationPayload is the typed payload of a verification-kind task.
type VerificationPayload struct {
	RequestID       uint           `json:"request_id,omitempty"`
	Username        string         `json:"username"`
	GroupName       string         `json:"group_name"`
	FolderID        uint           `json:"folder_id"`
	Mode            PermissionMode `json:"mode"`
	Action          GroupAction    `json:"action"`
	CSVPath         string         `json:"csv_path,omitempty"`
	DependsOnTaskID *uint          `json:"depends_on_task_id,omitempty"`
	// PermissionID names the linkage to retire once a removal verifies.
	PermissionID *uint `json:"permission_id,omitempty"`
	// MembershipID names the membership to deactivate for user-scoped
	// removals.
	MembershipID *uint `json:"membership_id,omitempty"`
}

// WorkflowResult is the typed result of a workflow-kind task.
type WorkflowResult struct {
	RunID         string    `json:"run_id,omitempty"`
	State         string    `json:"state,omitempty"`
	ExecutionType string    `json:"execution_type,omitempty"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
}

// VerificationResult is the typed result of a verification-kind task.
type VerificationResult struct {
	Member        bool      `json:"member"`
	Satisfied     bool      `json:"satisfied"`
	Inconclusive  bool      `json:"inconclusive,omitempty"`
	ExecutionType string    `json:"execution_type,omitempty"`
	CheckedAt     time.Time `json:"checked_at,omitempty"`
}

// CancellationResult replaces the result blob when a task is cancelled.
type CancellationResult struct {
	CancelledBy string    `json:"cancelled_by"`
	Reason      string    `json:"reason,omitempty"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// WorkflowPayload decodes the payload of a workflow-kind task.
func (t *Task) WorkflowPayload() (*WorkflowPayload, error) {
	if t.Kind != TaskKindWorkflow {
		return nil, fmt.Errorf("task %d: %w: kind %s", t.ID, ErrWrongTaskKind, t.Kind)
	}
	var p WorkflowPayload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return nil, fmt.Errorf("task %d: decoding workflow payload: %w", t.ID, err)
	}
	return &p, nil
}

// VerificationPayload decodes the payload of a verification-kind task.
func (t *Task) VerificationPayload() (*VerificationPayload, error) {
	if t.Kind != TaskKindVerification {
		return nil, fmt.Errorf("task %d: %w: kind %s", t.ID, ErrWrongTaskKind, t.Kind)
	}
	var p VerificationPayload
	if err := json.Unmarshal(t.Payload, &p); err != nil {
		return nil, fmt.Errorf("task %d: decoding verification payload: %w", t.ID, err)
	}
	return &p, nil
}

// DependsOn returns the prerequisite task id named by the payload, without
// caring about the payload kind. Returns nil when the task has no
// dependency.
func (t *Task) DependsOn() *uint {
	var probe struct {
		DependsOnTaskID *uint `json:"depends_on_task_id"`
	}
	if err := json.Unmarshal(t.Payload, &probe); err != nil {
		return nil
	}
	return probe.DependsOnTaskID
}

// CSVPath returns the artefact path referenced by the payload, if any.
func (t *Task) CSVPath() string {
	var probe struct {
		CSVPath string `json:"csv_path"`
	}
	if err := json.Unmarshal(t.Payload, &probe); err != nil {
		return ""
	}
	return probe.CSVPath
}

// SetResult serialises a typed result into the result blob.
func (t *Task) SetResult(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("task %d: encoding result: %w", t.ID, err)
	}
	t.Result = raw
	return nil
}

// MustPayload serialises a typed payload, panicking on marshal failure.
// Payload variants contain only marshalable fields; a failure here is a
// programming error.
func MustPayload(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("encoding task payload: %v", err))
	}
	return raw
}
