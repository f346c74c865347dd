package store

import (
	"context"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// ============================================
// FOLDER PERMISSION OPERATIONS
// ============================================

func (s *GORMStore) GetPermissionByID(ctx context.Context, id uint) (*models.FolderGroupPermission, error) {
	return getByField[models.FolderGroupPermission](s.db, ctx, "id", id, models.ErrPermissionNotFound,
		"Folder", "Group")
}

func (s *GORMStore) FindPermission(ctx context.Context, folderID, groupID uint, mode models.PermissionMode) (*models.FolderGroupPermission, error) {
	var perm models.FolderGroupPermission
	err := s.db.WithContext(ctx).
		Preload("Group").
		Where("folder_id = ? AND group_id = ? AND mode = ?", folderID, groupID, mode).
		First(&perm).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrPermissionNotFound)
	}
	return &perm, nil
}

// FirstPermissionForMode returns the first active linkage for (folder, mode)
// in store order (ascending row id). The group it names is the one an
// approval binds to.
func (s *GORMStore) FirstPermissionForMode(ctx context.Context, folderID uint, mode models.PermissionMode) (*models.FolderGroupPermission, error) {
	var perm models.FolderGroupPermission
	err := s.db.WithContext(ctx).
		Preload("Group").
		Where("folder_id = ? AND mode = ? AND is_active = ?", folderID, mode, true).
		Order("id ASC").
		First(&perm).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrPermissionNotFound)
	}
	return &perm, nil
}

func (s *GORMStore) ListPermissionsForFolder(ctx context.Context, folderID uint) ([]*models.FolderGroupPermission, error) {
	var perms []*models.FolderGroupPermission
	err := s.db.WithContext(ctx).
		Preload("Group").
		Where("folder_id = ?", folderID).
		Order("id ASC").
		Find(&perms).Error
	if err != nil {
		return nil, err
	}
	return perms, nil
}

func (s *GORMStore) CreatePermission(ctx context.Context, perm *models.FolderGroupPermission) error {
	return create(s.db, ctx, perm, models.ErrDuplicatePermission)
}

// SetPermissionDeletionInProgress flips the transient flag that marks a
// linkage between removal artefact emission and verified effect.
func (s *GORMStore) SetPermissionDeletionInProgress(ctx context.Context, id uint, inProgress bool) error {
	result := s.db.WithContext(ctx).
		Model(&models.FolderGroupPermission{}).
		Where("id = ?", id).
		Update("deletion_in_progress", inProgress)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrPermissionNotFound
	}
	return nil
}

// RetirePermission marks a linkage inactive after a verified removal and
// clears the deletion flag.
func (s *GORMStore) RetirePermission(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).
		Model(&models.FolderGroupPermission{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": false, "deletion_in_progress": false})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrPermissionNotFound
	}
	return nil
}

// RestorePermission reinstates a linkage whose removal verification failed
// permanently: is_active back to true, deletion flag cleared.
func (s *GORMStore) RestorePermission(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).
		Model(&models.FolderGroupPermission{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_active": true, "deletion_in_progress": false})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrPermissionNotFound
	}
	return nil
}
