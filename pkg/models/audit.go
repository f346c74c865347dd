package models

import "time"

// AuditEvent is one immutable entry of the audit trail. Rows are append-only;
// nothing in the engine updates or deletes them.
type AuditEvent struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Actor        string    `gorm:"size:255;index" json:"actor"`
	EventType    string    `gorm:"size:64;index" json:"event_type"`
	Action       string    `gorm:"size:64" json:"action"`
	ResourceType string    `gorm:"size:64;index" json:"resource_type"`
	ResourceID   string    `gorm:"size:64" json:"resource_id,omitempty"`
	Description  string    `gorm:"size:2048" json:"description,omitempty"`
	Metadata     []byte    `gorm:"type:bytes" json:"metadata,omitempty"`
	IPAddress    string    `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent    string    `gorm:"size:512" json:"user_agent,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName returns the table name for AuditEvent.
func (AuditEvent) TableName() string {
	return "audit_events"
}
