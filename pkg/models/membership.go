package models

import "time"

// UserGroupMembership reflects the (user, group) relation as observed in the
// directory at last sync. It is a cache, not a source of truth: verification
// tasks always consult the directory directly.
type UserGroupMembership struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_user_group" json:"user_id"`
	GroupID   uint      `gorm:"not null;uniqueIndex:idx_user_group" json:"group_id"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	GrantedBy string    `gorm:"size:255" json:"granted_by,omitempty"`
	Notes     string    `gorm:"size:1024" json:"notes,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	User  *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Group *Group `gorm:"foreignKey:GroupID" json:"group,omitempty"`
}

// TableName returns the table name for UserGroupMembership.
func (UserGroupMembership) TableName() string {
	return "user_ad_groups"
}
