package models

import "time"

// PermissionMode represents the access level a group grants on a folder.
type PermissionMode string

const (
	// ModeRead allows reading files and listing directories.
	ModeRead PermissionMode = "read"

	// ModeWrite allows reading, writing, creating and deleting files.
	ModeWrite PermissionMode = "write"
)

// IsValid returns true if this is a valid permission mode.
func (m PermissionMode) IsValid() bool {
	return m == ModeRead || m == ModeWrite
}

// String returns the string representation of the mode.
func (m PermissionMode) String() string {
	return string(m)
}

// CSVCode returns the idModo artefact column value: 1 for read, 2 for write.
func (m PermissionMode) CSVCode() int {
	if m == ModeWrite {
		return 2
	}
	return 1
}

// ParsePermissionMode converts a string to a PermissionMode.
// Returns false if the string is not a valid mode.
func ParsePermissionMode(s string) (PermissionMode, bool) {
	m := PermissionMode(s)
	return m, m.IsValid()
}

// FolderGroupPermission is the (folder, group, mode) linkage that drives ACL
// materialisation downstream. The triple is unique.
//
// Lifecycle: created by an approval or by admin action; is_active flips to
// false after a verified removal; deletion_in_progress is true between the
// emission of a removal artefact and its verified effect, so the UI can
// distinguish the transient state.
type FolderGroupPermission struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	FolderID           uint           `gorm:"not null;uniqueIndex:idx_folder_group_mode" json:"folder_id"`
	GroupID            uint           `gorm:"not null;uniqueIndex:idx_folder_group_mode" json:"group_id"`
	Mode               PermissionMode `gorm:"not null;size:16;uniqueIndex:idx_folder_group_mode" json:"mode"`
	IsActive           bool           `gorm:"default:true" json:"is_active"`
	DeletionInProgress bool           `gorm:"default:false" json:"deletion_in_progress"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`

	Folder *Folder `gorm:"foreignKey:FolderID" json:"folder,omitempty"`
	Group  *Group  `gorm:"foreignKey:GroupID" json:"group,omitempty"`
}

// TableName returns the table name for FolderGroupPermission.
func (FolderGroupPermission) TableName() string {
	return "folder_permissions"
}
