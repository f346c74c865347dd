package store

import (
	"context"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// ============================================
// AUDIT OPERATIONS
// ============================================

// AppendAuditEvent writes an audit row on the store's own session, never
// inside a caller's transaction: an audit record must survive the caller
// rolling back.
func (s *GORMStore) AppendAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *GORMStore) ListAuditEvents(ctx context.Context, limit int) ([]*models.AuditEvent, error) {
	var events []*models.AuditEvent
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
