// Package health provides shared types for health check responses.
package health

import "time"

// Response represents the API health response structure.
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Healthy reports whether the response indicates a healthy service.
func (r *Response) Healthy() bool {
	return r.Status == "healthy"
}
