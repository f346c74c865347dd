package apiclient

import (
	"net/url"
	"strconv"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// cancelTaskBody carries the reason of a task cancellation.
type cancelTaskBody struct {
	Reason string `json:"reason,omitempty"`
}

// ListTasks returns engine tasks, optionally filtered by status. A limit of
// 0 uses the server default.
func (c *Client) ListTasks(status string, limit int) ([]models.Task, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	path := "/api/v1/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return listResources[models.Task](c, path)
}

// GetTask returns one task by ID.
func (c *Client) GetTask(id uint) (*models.Task, error) {
	return getResource[models.Task](c, resourcePath("/api/v1/tasks/%d", id))
}

// CancelTask cancels a pending or retrying task.
func (c *Client) CancelTask(id uint, reason string) (*models.Task, error) {
	return postResource[models.Task](c, resourcePath("/api/v1/tasks/%d/cancel", id), cancelTaskBody{Reason: reason})
}

// RetryTask reschedules a failed or cancelled task.
func (c *Client) RetryTask(id uint) (*models.Task, error) {
	return postResource[models.Task](c, resourcePath("/api/v1/tasks/%d/retry", id), nil)
}
