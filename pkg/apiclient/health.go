package apiclient

import (
	"github.com/lliwi/sar-v3-sub000/internal/cli/health"
)

// Health returns the liveness state of the server.
func (c *Client) Health() (*health.Response, error) {
	return getResource[health.Response](c, "/health")
}

// Ready returns the readiness state of the server, including the database
// probe.
func (c *Client) Ready() (*health.Response, error) {
	return getResource[health.Response](c, "/health/ready")
}
