package models

import "time"

// RequestStatus represents the lifecycle state of a PermissionRequest.
//
// Transitions are one-way (pending → approved/rejected/canceled,
// approved → failed) with the single exception that approved → revoked is
// allowed.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
	RequestCanceled RequestStatus = "canceled"
	RequestRevoked  RequestStatus = "revoked"
	RequestFailed   RequestStatus = "failed"
)

// IsValid returns true if this is a valid request status.
func (s RequestStatus) IsValid() bool {
	switch s {
	case RequestPending, RequestApproved, RequestRejected, RequestCanceled, RequestRevoked, RequestFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are allowed from s,
// other than approved → revoked/failed.
func (s RequestStatus) IsTerminal() bool {
	switch s {
	case RequestRejected, RequestCanceled, RequestRevoked, RequestFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether a transition from s to next is legal.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	switch s {
	case RequestPending:
		return next == RequestApproved || next == RequestRejected || next == RequestCanceled
	case RequestApproved:
		return next == RequestRevoked || next == RequestFailed
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s RequestStatus) String() string {
	return string(s)
}

// PermissionRequest is a user's ask for a specific permission mode on a
// specific folder.
//
// Invariant: a pending request for (requester, folder, mode) never coexists
// with an approved one for the same triple. A request only enters approved
// with an assigned group bound from a matching FolderGroupPermission.
type PermissionRequest struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	RequesterID      uint           `gorm:"not null;index" json:"requester_id"`
	FolderID         uint           `gorm:"not null;index" json:"folder_id"`
	ValidatorID      *uint          `gorm:"index" json:"validator_id,omitempty"`
	Mode             PermissionMode `gorm:"not null;size:16" json:"mode"`
	BusinessNeed     string         `gorm:"size:2048" json:"business_need,omitempty"`
	Status           RequestStatus  `gorm:"not null;size:16;default:pending;index" json:"status"`
	GroupID          *uint          `gorm:"index" json:"group_id,omitempty"`
	ValidationComment string        `gorm:"size:2048" json:"validation_comment,omitempty"`
	ValidatedAt      *time.Time     `json:"validated_at,omitempty"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`

	Requester *User   `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	Folder    *Folder `gorm:"foreignKey:FolderID" json:"folder,omitempty"`
	Validator *User   `gorm:"foreignKey:ValidatorID" json:"validator,omitempty"`
	Group     *Group  `gorm:"foreignKey:GroupID" json:"group,omitempty"`

	// Task chain owned by this request. No delete-cascade: orphaned tasks
	// remain for audit.
	Tasks []Task `gorm:"foreignKey:RequestID" json:"tasks,omitempty"`
}

// TableName returns the table name for PermissionRequest.
func (PermissionRequest) TableName() string {
	return "permission_requests"
}
