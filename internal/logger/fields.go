package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so log aggregation
// and querying stay uniform across components.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Request Workflow
	// ========================================================================
	KeyRequestID = "request_id" // PermissionRequest row id
	KeyFolder    = "folder"     // Folder path
	KeyGroup     = "group"      // Directory group name
	KeyMode      = "mode"       // Permission mode: read, write
	KeyAction    = "action"     // Membership change action: add, remove, ...
	KeyStatus    = "status"     // Request or task status
	KeyActor     = "actor"      // Username performing the operation

	// ========================================================================
	// Task Orchestration
	// ========================================================================
	KeyTaskID     = "task_id"     // Task row id
	KeyTaskKind   = "task_kind"   // workflow or verification
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts
	KeyDependsOn  = "depends_on"  // Prerequisite task id

	// ========================================================================
	// External Collaborators
	// ========================================================================
	KeyDagID     = "dag_id"    // Workflow executor DAG identifier
	KeyRunID     = "run_id"    // Workflow executor run identifier
	KeyRunState  = "run_state" // Workflow executor run state
	KeyCSVPath   = "csv_path"  // Artefact file path
	KeyLDAPBase  = "ldap_base" // LDAP search base DN
	KeyFilter    = "filter"    // LDAP filter expression
	KeyRecipient = "recipient" // Notification recipient

	// ========================================================================
	// Client Identification
	// ========================================================================
	KeyClientIP  = "client_ip"  // Client IP address
	KeyUserAgent = "user_agent" // Client user agent
	KeyUsername  = "username"   // Authenticated username

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyOperation  = "operation"   // Sub-operation type for complex operations
	KeyCount      = "count"       // Generic count of affected items
)

// ============================================================================
// Field constructors for type safety
// These functions provide type-safe construction of slog.Attr values.
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// RequestID returns a slog.Attr for a permission request id
func RequestID(id uint) slog.Attr {
	return slog.Uint64(KeyRequestID, uint64(id))
}

// TaskID returns a slog.Attr for a task id
func TaskID(id uint) slog.Attr {
	return slog.Uint64(KeyTaskID, uint64(id))
}

// Folder returns a slog.Attr for a folder path
func Folder(path string) slog.Attr {
	return slog.String(KeyFolder, path)
}

// Group returns a slog.Attr for a directory group name
func Group(name string) slog.Attr {
	return slog.String(KeyGroup, name)
}

// Actor returns a slog.Attr for the acting username
func Actor(name string) slog.Attr {
	return slog.String(KeyActor, name)
}

// Status returns a slog.Attr for a request or task status
func Status(s string) slog.Attr {
	return slog.String(KeyStatus, s)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// RunID returns a slog.Attr for a workflow executor run id
func RunID(id string) slog.Attr {
	return slog.String(KeyRunID, id)
}

// CSVPath returns a slog.Attr for an artefact path
func CSVPath(path string) slog.Attr {
	return slog.String(KeyCSVPath, path)
}

// Err returns a slog.Attr for an error, handling nil safely
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a slog.Attr for an operation duration since start
func DurationMs(start time.Time) slog.Attr {
	return slog.Float64(KeyDurationMs, Duration(start))
}

// Count returns a slog.Attr for a generic count
func Count(n int) slog.Attr {
	return slog.Int(KeyCount, n)
}
