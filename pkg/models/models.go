// Package models provides shared domain types for the SAR access-request
// engine.
//
// This package contains all data models used across the engine, including
// users, groups, folders, permission linkages, permission requests, tasks,
// audit events and admin notifications. It provides a single source of
// truth for domain types with GORM annotations for database persistence.
package models

// AllModels returns all models for database migration.
// The order matters: referenced tables must be created before referencing ones.
func AllModels() []any {
	return []any{
		&User{},
		&Group{},
		&Folder{},
		&FolderGroupPermission{},
		&UserGroupMembership{},
		&PermissionRequest{},
		&Task{},
		&AuditEvent{},
		&AdminNotification{},
	}
}
