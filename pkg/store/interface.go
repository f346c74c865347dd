package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// UserStore provides user catalogue operations.
type UserStore interface {
	GetUser(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id uint) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUser(ctx context.Context, user *models.User) error
	ListUsers(ctx context.Context) ([]*models.User, error)
}

// GroupStore provides group catalogue operations.
type GroupStore interface {
	GetGroup(ctx context.Context, name string) (*models.Group, error)
	GetGroupByID(ctx context.Context, id uint) (*models.Group, error)
	GetGroupByDN(ctx context.Context, dn string) (*models.Group, error)
	CreateGroup(ctx context.Context, group *models.Group) error
	UpdateGroup(ctx context.Context, group *models.Group) error
	ListGroups(ctx context.Context) ([]*models.Group, error)
}

// FolderStore provides folder catalogue operations.
type FolderStore interface {
	GetFolder(ctx context.Context, path string) (*models.Folder, error)
	GetFolderByID(ctx context.Context, id uint) (*models.Folder, error)
	CreateFolder(ctx context.Context, folder *models.Folder) error
	ListFolders(ctx context.Context) ([]*models.Folder, error)
}

// PermissionStore provides folder-group permission linkage operations.
type PermissionStore interface {
	GetPermissionByID(ctx context.Context, id uint) (*models.FolderGroupPermission, error)
	FindPermission(ctx context.Context, folderID, groupID uint, mode models.PermissionMode) (*models.FolderGroupPermission, error)
	// FirstPermissionForMode returns the first active linkage matching
	// (folder, mode) in store order. Deliberately no tiebreaker beyond
	// insertion order.
	FirstPermissionForMode(ctx context.Context, folderID uint, mode models.PermissionMode) (*models.FolderGroupPermission, error)
	ListPermissionsForFolder(ctx context.Context, folderID uint) ([]*models.FolderGroupPermission, error)
	CreatePermission(ctx context.Context, perm *models.FolderGroupPermission) error
	SetPermissionDeletionInProgress(ctx context.Context, id uint, inProgress bool) error
	RetirePermission(ctx context.Context, id uint) error
	RestorePermission(ctx context.Context, id uint) error
}

// MembershipStore provides observed directory membership operations.
type MembershipStore interface {
	GetMembership(ctx context.Context, userID, groupID uint) (*models.UserGroupMembership, error)
	UpsertMembership(ctx context.Context, m *models.UserGroupMembership) error
	DeactivateMembership(ctx context.Context, id uint) error
	ListMembershipsForUser(ctx context.Context, userID uint) ([]*models.UserGroupMembership, error)
}

// RequestStore provides permission request operations.
type RequestStore interface {
	CreateRequest(ctx context.Context, req *models.PermissionRequest) error
	GetRequestByID(ctx context.Context, id uint) (*models.PermissionRequest, error)
	SaveRequest(ctx context.Context, req *models.PermissionRequest) error
	ListRequestsForUserFolder(ctx context.Context, userID, folderID uint) ([]*models.PermissionRequest, error)
	ListRequestsByStatus(ctx context.Context, status models.RequestStatus) ([]*models.PermissionRequest, error)
	ListRequests(ctx context.Context) ([]*models.PermissionRequest, error)
}

// TaskStore provides the orchestrator's persistence contract.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id uint) (*models.Task, error)
	SaveTask(ctx context.Context, task *models.Task) error
	// Ready returns tasks in pending or retry state whose schedule time has
	// passed, oldest first, bounded by limit. On backends that support it
	// the read takes row locks with SKIP LOCKED so cooperating workers
	// never block each other.
	Ready(ctx context.Context, limit int) ([]*models.Task, error)
	// AwaitingDependency returns pending tasks of any kind with no
	// schedule time whose payload names a prerequisite.
	AwaitingDependency(ctx context.Context, limit int) ([]*models.Task, error)
	SiblingsOf(ctx context.Context, requestID uint) ([]*models.Task, error)
	ListTasks(ctx context.Context, status models.TaskStatus, limit int) ([]*models.Task, error)
	PurgeTasksBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NotificationStore provides the admin-notification dedup table.
type NotificationStore interface {
	GetNotificationByFingerprint(ctx context.Context, fingerprint string) (*models.AdminNotification, error)
	CreateNotification(ctx context.Context, n *models.AdminNotification) error
	SaveNotification(ctx context.Context, n *models.AdminNotification) error
	ListNotifications(ctx context.Context, unresolvedOnly bool) ([]*models.AdminNotification, error)
	PurgeResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditStore appends immutable audit events.
type AuditStore interface {
	AppendAuditEvent(ctx context.Context, event *models.AuditEvent) error
	ListAuditEvents(ctx context.Context, limit int) ([]*models.AuditEvent, error)
}

// Store is the complete persistence contract of the engine.
type Store interface {
	UserStore
	GroupStore
	FolderStore
	PermissionStore
	MembershipStore
	RequestStore
	TaskStore
	NotificationStore
	AuditStore

	// WithRetry runs fn in a transaction with deadlock backoff.
	WithRetry(ctx context.Context, fn func(tx *gorm.DB) error) error

	Close() error
}

// Compile-time check that GORMStore satisfies the full contract.
var _ Store = (*GORMStore)(nil)
