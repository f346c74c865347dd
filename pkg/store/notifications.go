package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// ============================================
// ADMIN NOTIFICATION OPERATIONS
// ============================================

func (s *GORMStore) GetNotificationByFingerprint(ctx context.Context, fingerprint string) (*models.AdminNotification, error) {
	return getByField[models.AdminNotification](s.db, ctx, "fingerprint", fingerprint, models.ErrNotificationNotFound)
}

func (s *GORMStore) CreateNotification(ctx context.Context, n *models.AdminNotification) error {
	return create(s.db, ctx, n, models.ErrDuplicateNotification)
}

func (s *GORMStore) SaveNotification(ctx context.Context, n *models.AdminNotification) error {
	return s.WithRetry(ctx, func(tx *gorm.DB) error {
		return tx.Save(n).Error
	})
}

func (s *GORMStore) ListNotifications(ctx context.Context, unresolvedOnly bool) ([]*models.AdminNotification, error) {
	var out []*models.AdminNotification
	q := s.db.WithContext(ctx).Order("last_occurrence DESC")
	if unresolvedOnly {
		q = q.Where("resolved = ?", false)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// PurgeResolvedBefore deletes resolved notification records older than the
// cut-off.
func (s *GORMStore) PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("resolved = ? AND last_occurrence < ?", true, cutoff).
		Delete(&models.AdminNotification{})
	return result.RowsAffected, result.Error
}
