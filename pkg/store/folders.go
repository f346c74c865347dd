package store

import (
	"context"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// ============================================
// FOLDER OPERATIONS
// ============================================

func (s *GORMStore) GetFolder(ctx context.Context, path string) (*models.Folder, error) {
	return getByField[models.Folder](s.db, ctx, "path", path, models.ErrFolderNotFound,
		"Owners", "Validators", "Permissions", "Permissions.Group")
}

func (s *GORMStore) GetFolderByID(ctx context.Context, id uint) (*models.Folder, error) {
	return getByField[models.Folder](s.db, ctx, "id", id, models.ErrFolderNotFound,
		"Owners", "Validators", "Permissions", "Permissions.Group")
}

func (s *GORMStore) CreateFolder(ctx context.Context, folder *models.Folder) error {
	if err := folder.Validate(); err != nil {
		return err
	}
	return create(s.db, ctx, folder, models.ErrDuplicateFolder)
}

func (s *GORMStore) ListFolders(ctx context.Context) ([]*models.Folder, error) {
	return listAll[models.Folder](s.db, ctx, "Owners", "Validators")
}
