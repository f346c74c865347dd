// Package audit records the append-only trail of engine decisions.
//
// Recording never participates in a caller's transaction: if approval logic
// rolls back, the trail still shows the attempt, tagged as an error. A
// failure to write the trail itself is logged and swallowed so auditing can
// never block the engine.
package audit

import (
	"context"
	"encoding/json"

	"github.com/lliwi/sar-v3-sub000/internal/logger"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
	"github.com/lliwi/sar-v3-sub000/pkg/store"
)

// Event types of the trail.
const (
	EventRequest    = "request"
	EventTask       = "task"
	EventPermission = "permission"
	EventAuth       = "auth"
	EventSync       = "sync"
	EventError      = "error"
	EventAdmin      = "admin"
)

// Resource types referenced by events.
const (
	ResourceRequest    = "permission_request"
	ResourceTask       = "task"
	ResourceFolder     = "folder"
	ResourceGroup      = "group"
	ResourceUser       = "user"
	ResourcePermission = "folder_permission"
)

// Recorder appends events to the trail.
type Recorder struct {
	store store.AuditStore
}

// NewRecorder creates a Recorder backed by the given store.
func NewRecorder(st store.AuditStore) *Recorder {
	return &Recorder{store: st}
}

// Entry describes one event to append.
type Entry struct {
	Actor        string
	EventType    string
	Action       string
	ResourceType string
	ResourceID   string
	Description  string
	Metadata     map[string]any
	IPAddress    string
	UserAgent    string
}

// Record appends an entry. Errors are logged, never returned; the trail must
// not make the caller fail.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	event := &models.AuditEvent{
		Actor:        e.Actor,
		EventType:    e.EventType,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Description:  e.Description,
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
	}
	if len(e.Metadata) > 0 {
		buf, err := json.Marshal(e.Metadata)
		if err != nil {
			logger.Warn("Audit metadata not serialisable, dropping it",
				logger.KeyOperation, e.Action,
				logger.KeyError, err)
		} else {
			event.Metadata = buf
		}
	}

	if err := r.store.AppendAuditEvent(ctx, event); err != nil {
		logger.Error("Failed to append audit event",
			logger.KeyOperation, e.Action,
			logger.KeyActor, e.Actor,
			logger.KeyError, err)
	}
}

// RecordError appends an event for an operation that failed, so attempts
// rolled back by the caller stay visible.
func (r *Recorder) RecordError(ctx context.Context, e Entry, cause error) {
	e.EventType = EventError
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	if cause != nil {
		e.Metadata["error"] = cause.Error()
	}
	r.Record(ctx, e)
}
