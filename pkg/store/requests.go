package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// ============================================
// PERMISSION REQUEST OPERATIONS
// ============================================

var requestPreloads = []string{"Requester", "Folder", "Validator", "Group"}

func (s *GORMStore) CreateRequest(ctx context.Context, req *models.PermissionRequest) error {
	if req.Status == "" {
		req.Status = models.RequestPending
	}
	return s.WithRetry(ctx, func(tx *gorm.DB) error {
		return create(tx, ctx, req, models.ErrDuplicateRequest)
	})
}

func (s *GORMStore) GetRequestByID(ctx context.Context, id uint) (*models.PermissionRequest, error) {
	return getByField[models.PermissionRequest](s.db, ctx, "id", id, models.ErrRequestNotFound, requestPreloads...)
}

// SaveRequest persists every mutable request field. Status transition
// legality is the caller's concern; the state machine validates before
// calling this.
func (s *GORMStore) SaveRequest(ctx context.Context, req *models.PermissionRequest) error {
	return s.WithRetry(ctx, func(tx *gorm.DB) error {
		result := tx.
			Model(&models.PermissionRequest{}).
			Where("id = ?", req.ID).
			Select("Status", "GroupID", "ValidatorID", "ValidationComment", "ValidatedAt").
			Updates(req)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrRequestNotFound
		}
		return nil
	})
}

func (s *GORMStore) ListRequestsForUserFolder(ctx context.Context, userID, folderID uint) ([]*models.PermissionRequest, error) {
	var out []*models.PermissionRequest
	q := s.db.WithContext(ctx)
	for _, p := range requestPreloads {
		q = q.Preload(p)
	}
	err := q.Where("requester_id = ? AND folder_id = ?", userID, folderID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GORMStore) ListRequestsByStatus(ctx context.Context, status models.RequestStatus) ([]*models.PermissionRequest, error) {
	var out []*models.PermissionRequest
	q := s.db.WithContext(ctx)
	for _, p := range requestPreloads {
		q = q.Preload(p)
	}
	err := q.Where("status = ?", status).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GORMStore) ListRequests(ctx context.Context) ([]*models.PermissionRequest, error) {
	var out []*models.PermissionRequest
	q := s.db.WithContext(ctx)
	for _, p := range requestPreloads {
		q = q.Preload(p)
	}
	err := q.Order("created_at DESC").Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
