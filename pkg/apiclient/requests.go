package apiclient

import (
	"net/url"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// SubmitRequest is the body for submitting an access request.
type SubmitRequest struct {
	FolderID     uint   `json:"folder_id"`
	Mode         string `json:"mode"`
	BusinessNeed string `json:"business_need"`
	ValidatorID  *uint  `json:"validator_id,omitempty"`
}

// SubmitResult is the server's answer to a submission: the stored request
// plus its classification (new, duplicate-merged and so on).
type SubmitResult struct {
	Request *models.PermissionRequest `json:"request"`
	Class   string                    `json:"class"`
}

// decisionBody carries the optional comment of an approve/reject/cancel/revoke.
type decisionBody struct {
	Comment string `json:"comment,omitempty"`
}

// ListRequests returns access requests, optionally filtered by status.
func (c *Client) ListRequests(status string) ([]models.PermissionRequest, error) {
	path := "/api/v1/requests"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	return listResources[models.PermissionRequest](c, path)
}

// GetRequest returns one access request by ID.
func (c *Client) GetRequest(id uint) (*models.PermissionRequest, error) {
	return getResource[models.PermissionRequest](c, resourcePath("/api/v1/requests/%d", id))
}

// Submit creates a new access request.
func (c *Client) Submit(req SubmitRequest) (*SubmitResult, error) {
	return postResource[SubmitResult](c, "/api/v1/requests", req)
}

// ApproveRequest approves a pending request.
func (c *Client) ApproveRequest(id uint, comment string) (*models.PermissionRequest, error) {
	return postResource[models.PermissionRequest](c, resourcePath("/api/v1/requests/%d/approve", id), decisionBody{Comment: comment})
}

// RejectRequest rejects a pending request.
func (c *Client) RejectRequest(id uint, comment string) (*models.PermissionRequest, error) {
	return postResource[models.PermissionRequest](c, resourcePath("/api/v1/requests/%d/reject", id), decisionBody{Comment: comment})
}

// CancelRequest cancels a pending request.
func (c *Client) CancelRequest(id uint, comment string) (*models.PermissionRequest, error) {
	return postResource[models.PermissionRequest](c, resourcePath("/api/v1/requests/%d/cancel", id), decisionBody{Comment: comment})
}

// RevokeRequest revokes a previously granted request.
func (c *Client) RevokeRequest(id uint, comment string) (*models.PermissionRequest, error) {
	return postResource[models.PermissionRequest](c, resourcePath("/api/v1/requests/%d/revoke", id), decisionBody{Comment: comment})
}
