package store

import (
	"context"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// ============================================
// GROUP OPERATIONS
// ============================================

func (s *GORMStore) GetGroup(ctx context.Context, name string) (*models.Group, error) {
	return getByField[models.Group](s.db, ctx, "name", name, models.ErrGroupNotFound)
}

func (s *GORMStore) GetGroupByID(ctx context.Context, id uint) (*models.Group, error) {
	return getByField[models.Group](s.db, ctx, "id", id, models.ErrGroupNotFound)
}

func (s *GORMStore) GetGroupByDN(ctx context.Context, dn string) (*models.Group, error) {
	return getByField[models.Group](s.db, ctx, "dn", dn, models.ErrGroupNotFound)
}

func (s *GORMStore) CreateGroup(ctx context.Context, group *models.Group) error {
	if err := group.Validate(); err != nil {
		return err
	}
	return create(s.db, ctx, group, models.ErrDuplicateGroup)
}

func (s *GORMStore) UpdateGroup(ctx context.Context, group *models.Group) error {
	var existing models.Group
	if err := s.db.WithContext(ctx).Where("id = ?", group.ID).First(&existing).Error; err != nil {
		return convertNotFoundError(err, models.ErrGroupNotFound)
	}
	return s.db.WithContext(ctx).
		Model(&existing).
		Select("Name", "DN", "Description", "Classification", "IsActive", "LastSyncedAt").
		Updates(group).Error
}

func (s *GORMStore) ListGroups(ctx context.Context) ([]*models.Group, error) {
	return listAll[models.Group](s.db, ctx)
}
