package handlers

import (
	"net/http"
	"strconv"

	"github.com/lliwi/sar-v3-sub000/pkg/api/middleware"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
	"github.com/lliwi/sar-v3-sub000/pkg/orchestrator"
	"github.com/lliwi/sar-v3-sub000/pkg/store"
)

// TaskHandler handles task queue API endpoints. Admin only.
type TaskHandler struct {
	store store.Store
	orch  *orchestrator.Orchestrator
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(st store.Store, orch *orchestrator.Orchestrator) *TaskHandler {
	return &TaskHandler{store: st, orch: orch}
}

// cancelTaskRequest is the request body for POST /api/v1/tasks/{id}/cancel.
type cancelTaskRequest struct {
	Reason string `json:"reason"`
}

const defaultTaskListLimit = 100

// List handles GET /api/v1/tasks.
// Optional status and limit query parameters narrow the listing.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	var status models.TaskStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = models.TaskStatus(raw)
		if !status.IsValid() {
			BadRequest(w, "Invalid status: "+raw)
			return
		}
	}

	limit := defaultTaskListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			BadRequest(w, "Invalid limit: "+raw)
			return
		}
		limit = n
	}

	tasks, err := h.store.ListTasks(r.Context(), status, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSONOK(w, tasks)
}

// Get handles GET /api/v1/tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	task, err := h.store.GetTask(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSONOK(w, task)
}

// Cancel handles POST /api/v1/tasks/{id}/cancel.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body cancelTaskRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}

	if err := h.orch.Cancel(r.Context(), id, claims.Username, body.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	task, err := h.store.GetTask(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSONOK(w, task)
}

// Retry handles POST /api/v1/tasks/{id}/retry.
// Puts a failed or cancelled task back on the queue.
func (h *TaskHandler) Retry(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.orch.Retry(r.Context(), id, claims.Username); err != nil {
		writeDomainError(w, err)
		return
	}
	task, err := h.store.GetTask(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSONOK(w, task)
}
