package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for engine operations.
// Generic keys follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Request lifecycle attributes
	// ========================================================================
	AttrRequestID    = "request.id"
	AttrRequestMode  = "request.mode"
	AttrRequestClass = "request.class"
	AttrFolderID     = "folder.id"
	AttrFolderPath   = "folder.path"
	AttrGroupName    = "group.name"

	// ========================================================================
	// Task engine attributes
	// ========================================================================
	AttrTaskID      = "task.id"
	AttrTaskKind    = "task.kind"
	AttrTaskAttempt = "task.attempt"
	AttrRunID       = "workflow.run_id"

	// ========================================================================
	// Directory attributes
	// ========================================================================
	AttrDirectoryOp     = "directory.operation"
	AttrDirectoryFilter = "directory.filter"

	// ========================================================================
	// User/Auth attributes
	// ========================================================================
	AttrUsername = "user.name"
	AttrActor    = "actor.name"
)

// Span names for operations.
// Format: <component>.<operation>
const (
	SpanTick         = "engine.tick"
	SpanTaskExecute  = "task.execute"
	SpanTaskVerify   = "task.verify"
	SpanWorkflowRun  = "workflow.run"
	SpanDirectorySrc = "directory.search"
	SpanSyncPass     = "sync.pass"
)

// RequestID returns an attribute for a permission request ID.
func RequestID(id uint) attribute.KeyValue {
	return attribute.Int64(AttrRequestID, int64(id))
}

// TaskID returns an attribute for a task ID.
func TaskID(id uint) attribute.KeyValue {
	return attribute.Int64(AttrTaskID, int64(id))
}

// TaskKind returns an attribute for a task kind.
func TaskKind(kind string) attribute.KeyValue {
	return attribute.String(AttrTaskKind, kind)
}

// TaskAttempt returns an attribute for a task attempt number.
func TaskAttempt(attempt int) attribute.KeyValue {
	return attribute.Int(AttrTaskAttempt, attempt)
}

// RunID returns an attribute for a workflow run ID.
func RunID(id string) attribute.KeyValue {
	return attribute.String(AttrRunID, id)
}

// GroupName returns an attribute for a directory group name.
func GroupName(name string) attribute.KeyValue {
	return attribute.String(AttrGroupName, name)
}

// FolderPath returns an attribute for a folder path.
func FolderPath(path string) attribute.KeyValue {
	return attribute.String(AttrFolderPath, path)
}

// Username returns an attribute for a username.
func Username(name string) attribute.KeyValue {
	return attribute.String(AttrUsername, name)
}

// DirectoryOp returns an attribute for a directory operation name.
func DirectoryOp(op string) attribute.KeyValue {
	return attribute.String(AttrDirectoryOp, op)
}

// StartTaskSpan starts a span for one task execution attempt.
func StartTaskSpan(ctx context.Context, kind string, taskID uint, attempt int, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		TaskKind(kind),
		TaskID(taskID),
		TaskAttempt(attempt),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, fmt.Sprintf("task.%s", kind), trace.WithAttributes(allAttrs...))
}

// StartDirectorySpan starts a span for a directory operation.
func StartDirectorySpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		DirectoryOp(operation),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "directory."+operation, trace.WithAttributes(allAttrs...))
}

// StartSyncSpan starts a span for one catalogue sync pass.
func StartSyncSpan(ctx context.Context, pass string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "sync."+pass, trace.WithAttributes(attrs...))
}
