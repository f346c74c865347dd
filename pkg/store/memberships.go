package store

import (
	"context"

	"gorm.io/gorm/clause"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// ============================================
// MEMBERSHIP OPERATIONS
// ============================================

func (s *GORMStore) GetMembership(ctx context.Context, userID, groupID uint) (*models.UserGroupMembership, error) {
	var m models.UserGroupMembership
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND group_id = ?", userID, groupID).
		First(&m).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrMembershipNotFound)
	}
	return &m, nil
}

// UpsertMembership records an observed (user, group) relation. An existing
// pair is refreshed in place, keeping the pair unique.
func (s *GORMStore) UpsertMembership(ctx context.Context, m *models.UserGroupMembership) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "group_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_active", "granted_by", "notes", "updated_at"}),
		}).
		Create(m).Error
}

func (s *GORMStore) DeactivateMembership(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).
		Model(&models.UserGroupMembership{}).
		Where("id = ?", id).
		Update("is_active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrMembershipNotFound
	}
	return nil
}

func (s *GORMStore) ListMembershipsForUser(ctx context.Context, userID uint) ([]*models.UserGroupMembership, error) {
	var out []*models.UserGroupMembership
	err := s.db.WithContext(ctx).
		Preload("Group").
		Where("user_id = ?", userID).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
