package store

import (
	"context"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// ============================================
// USER OPERATIONS
// ============================================

func (s *GORMStore) GetUser(ctx context.Context, username string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "username", username, models.ErrUserNotFound, "Memberships", "Memberships.Group")
}

func (s *GORMStore) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "id", id, models.ErrUserNotFound, "Memberships", "Memberships.Group")
}

func (s *GORMStore) CreateUser(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return err
	}
	return create(s.db, ctx, user, models.ErrDuplicateUser)
}

func (s *GORMStore) UpdateUser(ctx context.Context, user *models.User) error {
	var existing models.User
	if err := s.db.WithContext(ctx).Where("id = ?", user.ID).First(&existing).Error; err != nil {
		return convertNotFoundError(err, models.ErrUserNotFound)
	}
	return s.db.WithContext(ctx).
		Model(&existing).
		Select("Username", "Email", "DisplayName", "Department", "Matricula", "DN",
			"IsAdmin", "IsActive", "LastLogin", "LastSyncedAt").
		Updates(user).Error
}

func (s *GORMStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	return listAll[models.User](s.db, ctx)
}
