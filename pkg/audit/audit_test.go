package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

type memAuditStore struct {
	events []*models.AuditEvent
	fail   error
}

func (m *memAuditStore) AppendAuditEvent(_ context.Context, e *models.AuditEvent) error {
	if m.fail != nil {
		return m.fail
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memAuditStore) ListAuditEvents(_ context.Context, limit int) ([]*models.AuditEvent, error) {
	if limit > 0 && limit < len(m.events) {
		return m.events[:limit], nil
	}
	return m.events, nil
}

func TestRecord(t *testing.T) {
	st := &memAuditStore{}
	r := NewRecorder(st)

	r.Record(t.Context(), Entry{
		Actor:        "alice",
		EventType:    EventRequest,
		Action:       "approve",
		ResourceType: ResourceRequest,
		ResourceID:   "42",
		Description:  "approved write on /srv/projects/apollo",
		Metadata:     map[string]any{"mode": "write"},
	})

	require.Len(t, st.events, 1)
	e := st.events[0]
	assert.Equal(t, "alice", e.Actor)
	assert.Equal(t, EventRequest, e.EventType)
	assert.Equal(t, "42", e.ResourceID)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(e.Metadata, &meta))
	assert.Equal(t, "write", meta["mode"])
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	st := &memAuditStore{fail: errors.New("db down")}
	r := NewRecorder(st)

	// Must not panic or propagate.
	r.Record(t.Context(), Entry{Actor: "alice", Action: "approve"})
	assert.Empty(t, st.events)
}

func TestRecordError(t *testing.T) {
	st := &memAuditStore{}
	r := NewRecorder(st)

	r.RecordError(t.Context(), Entry{
		Actor:        "alice",
		Action:       "approve",
		ResourceType: ResourceRequest,
		ResourceID:   "42",
	}, errors.New("no matching group"))

	require.Len(t, st.events, 1)
	e := st.events[0]
	assert.Equal(t, EventError, e.EventType)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(e.Metadata, &meta))
	assert.Equal(t, "no matching group", meta["error"])
}
