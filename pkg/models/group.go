package models

import "time"

// Group represents a directory-defined principal collection used to express
// folder permissions. Lifecycle mirrors User: the directory sync creates
// groups it discovers and marks vanished ones inactive.
type Group struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Name           string     `gorm:"uniqueIndex;not null;size:255" json:"name"`
	DN             string     `gorm:"uniqueIndex;not null;size:512" json:"dn"`
	Description    string     `gorm:"size:512" json:"description,omitempty"`
	Classification string     `gorm:"size:64" json:"classification,omitempty"`
	IsActive       bool       `gorm:"default:true" json:"is_active"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
}

// TableName returns the table name for Group.
func (Group) TableName() string {
	return "ad_groups"
}

// Validate checks if the group has valid configuration.
func (g *Group) Validate() error {
	if g.Name == "" || g.DN == "" {
		return ErrInvalidGroup
	}
	return nil
}
