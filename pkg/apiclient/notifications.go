package apiclient

import (
	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// resolveBody identifies the alert fingerprint to resolve.
type resolveBody struct {
	Fingerprint string `json:"fingerprint"`
}

// ListNotifications returns operator alerts. By default only unresolved
// alerts are returned; pass all=true to include resolved ones.
func (c *Client) ListNotifications(all bool) ([]models.AdminNotification, error) {
	path := "/api/v1/notifications"
	if all {
		path += "?all=true"
	}
	return listResources[models.AdminNotification](c, path)
}

// ResolveNotification marks every alert with the given fingerprint resolved.
func (c *Client) ResolveNotification(fingerprint string) error {
	return c.post("/api/v1/notifications/resolve", resolveBody{Fingerprint: fingerprint}, nil)
}
