package models

import "time"

// Folder represents a filesystem location whose access is mediated by the
// engine. Owners and validators are non-owning relations to users; an owner
// is always authorised to validate, explicit validators add to (never
// replace) the owners.
type Folder struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Path        string    `gorm:"uniqueIndex;not null;size:1024" json:"path"`
	Name        string    `gorm:"not null;size:255" json:"name"`
	Description string    `gorm:"size:1024" json:"description,omitempty"`
	IsActive    bool      `gorm:"default:true" json:"is_active"`
	CreatedByID uint      `json:"created_by_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`

	Owners     []User `gorm:"many2many:folder_owners;" json:"owners,omitempty"`
	Validators []User `gorm:"many2many:folder_validators;" json:"validators,omitempty"`

	// Permission linkages owned by this folder.
	Permissions []FolderGroupPermission `gorm:"foreignKey:FolderID" json:"permissions,omitempty"`
}

// TableName returns the table name for Folder.
func (Folder) TableName() string {
	return "folders"
}

// SanitizedPath returns the path used in audit descriptions.
// The path is recorded as stored; no rewriting is applied.
func (f *Folder) SanitizedPath() string {
	return f.Path
}

// CanValidate reports whether the given user may validate requests for this
// folder. Owners always can; explicit validators add to the owner set.
// Requires Owners and Validators to be preloaded.
func (f *Folder) CanValidate(userID uint) bool {
	for _, o := range f.Owners {
		if o.ID == userID {
			return true
		}
	}
	for _, v := range f.Validators {
		if v.ID == userID {
			return true
		}
	}
	return false
}

// Validate checks if the folder has valid configuration.
func (f *Folder) Validate() error {
	if f.Path == "" || f.Name == "" {
		return ErrInvalidFolder
	}
	return nil
}
