package models

import "time"

// AdminNotification is the deduplication record for operator alerts.
//
// Fingerprint is SHA-256 over error type, service name and the first 500
// characters of the message. Within a cooldown window at most one outbound
// notification is emitted per fingerprint unless the record was explicitly
// resolved.
type AdminNotification struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Fingerprint     string     `gorm:"uniqueIndex;not null;size:64" json:"fingerprint"`
	ErrorType       string     `gorm:"not null;size:128;index" json:"error_type"`
	ServiceName     string     `gorm:"not null;size:128" json:"service_name"`
	Message         string     `gorm:"size:2048" json:"message"`
	Count           int        `gorm:"default:1" json:"count"`
	FirstOccurrence time.Time  `json:"first_occurrence"`
	LastOccurrence  time.Time  `json:"last_occurrence"`
	Sent            bool       `gorm:"default:false" json:"sent"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
	Resolved        bool       `gorm:"default:false;index" json:"resolved"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// TableName returns the table name for AdminNotification.
func (AdminNotification) TableName() string {
	return "admin_notifications"
}
