package handlers

import (
	"context"
	"net/http"
	"time"
)

// Pinger is the probe surface the readiness check needs. Satisfied by
// *store.GORMStore.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check API endpoints.
type HealthHandler struct {
	db Pinger
}

// NewHealthHandler creates a new HealthHandler. The pinger may be nil, in
// which case readiness reports healthy on liveness alone.
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// healthResponse is the body of both health endpoints.
type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Liveness handles GET /health.
// Answers 200 whenever the process is serving requests.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}

// Readiness handles GET /health/ready.
// Answers 200 only when the database responds.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, healthResponse{
				Status:    "unhealthy",
				Timestamp: time.Now().UTC(),
				Error:     err.Error(),
			})
			return
		}
	}
	WriteJSONOK(w, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
	})
}
