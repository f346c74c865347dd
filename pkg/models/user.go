package models

import (
	"strconv"
	"strings"
	"time"
)

// User represents a person known to the catalogue.
//
// Users are created on first successful authentication or on demand while
// resolving directory memberships. They are never deleted by the directory
// sync; when a user disappears from the directory the sync marks the row
// inactive instead.
type User struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Username    string     `gorm:"uniqueIndex;not null;size:255" json:"username"`
	Email       string     `gorm:"uniqueIndex;not null;size:255" json:"email"`
	DisplayName string     `gorm:"size:255" json:"display_name,omitempty"`
	Department  string     `gorm:"size:255" json:"department,omitempty"`
	Matricula   string     `gorm:"size:64" json:"matricula,omitempty"`
	DN          string     `gorm:"size:512" json:"dn,omitempty"`
	IsAdmin     bool       `gorm:"default:false" json:"is_admin"`
	IsActive    bool       `gorm:"default:true" json:"is_active"`
	PasswordHash string    `json:"-"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`

	// Directory memberships observed at last sync. Not a source of truth;
	// verification always asks the directory.
	Memberships []UserGroupMembership `gorm:"foreignKey:UserID" json:"memberships,omitempty"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// GetDisplayName returns the display name, or username if display name is not set.
func (u *User) GetDisplayName() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// CSVIdentifier returns the value written into the MatriculaUsu artefact
// column: the matricula when known, the numeric id otherwise.
func (u *User) CSVIdentifier() string {
	if u.Matricula != "" {
		return u.Matricula
	}
	return strconv.FormatUint(uint64(u.ID), 10)
}

// BarePrincipal strips an optional DOMAIN\ prefix from the username.
func BarePrincipal(username string) string {
	if i := strings.LastIndex(username, `\`); i >= 0 {
		return username[i+1:]
	}
	return username
}

// Validate checks if the user has valid configuration.
func (u *User) Validate() error {
	if u.Username == "" {
		return ErrInvalidUser
	}
	if u.Email == "" {
		return ErrInvalidUser
	}
	return nil
}
