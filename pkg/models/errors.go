package models

import "errors"

// Common errors for catalogue and engine operations.
var (
	// User errors
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("user already exists")
	ErrInvalidUser   = errors.New("user is missing required fields")

	// Group errors
	ErrGroupNotFound  = errors.New("group not found")
	ErrDuplicateGroup = errors.New("group already exists")
	ErrInvalidGroup   = errors.New("group is missing required fields")

	// Folder errors
	ErrFolderNotFound  = errors.New("folder not found")
	ErrDuplicateFolder = errors.New("folder already exists")
	ErrInvalidFolder   = errors.New("folder is missing required fields")

	// Permission errors
	ErrPermissionNotFound  = errors.New("folder permission not found")
	ErrDuplicatePermission = errors.New("folder permission already exists")
	ErrNoMatchingGroup     = errors.New("no group holds the requested permission on this folder")

	// Membership errors
	ErrMembershipNotFound = errors.New("membership not found")

	// Request errors
	ErrRequestNotFound     = errors.New("permission request not found")
	ErrInvalidTransition   = errors.New("illegal request state transition")
	ErrDuplicateRequest    = errors.New("an equivalent request is already approved or pending")
	ErrNotAuthorised       = errors.New("user is not authorised to validate this request")

	// Task errors
	ErrTaskNotFound      = errors.New("task not found")
	ErrTaskNotCancelable = errors.New("task is not in a cancelable state")
	ErrTaskNotRetryable  = errors.New("task is not in a retryable state")
	ErrWrongTaskKind     = errors.New("payload does not match task kind")

	// Notification errors
	ErrNotificationNotFound  = errors.New("admin notification not found")
	ErrDuplicateNotification = errors.New("admin notification already recorded")
)
