package handlers

import (
	"context"
	"net/http"

	"github.com/lliwi/sar-v3-sub000/pkg/models"
	"github.com/lliwi/sar-v3-sub000/pkg/requests"
	"github.com/lliwi/sar-v3-sub000/pkg/store"
)

// RequestHandler handles permission-request API endpoints.
type RequestHandler struct {
	store store.Store
	svc   *requests.Service
}

// NewRequestHandler creates a new RequestHandler.
func NewRequestHandler(st store.Store, svc *requests.Service) *RequestHandler {
	return &RequestHandler{store: st, svc: svc}
}

// SubmitRequest is the request body for POST /api/v1/requests.
type SubmitRequest struct {
	FolderID     uint   `json:"folder_id"`
	Mode         string `json:"mode"`
	BusinessNeed string `json:"business_need"`
	ValidatorID  *uint  `json:"validator_id,omitempty"`
}

// SubmitResponse wraps the created request with its classification.
type SubmitResponse struct {
	Request *models.PermissionRequest `json:"request"`
	Class   string                    `json:"class"`
}

// decisionRequest is the shared body of approve/reject/cancel/revoke.
type decisionRequest struct {
	Comment string `json:"comment"`
}

// List handles GET /api/v1/requests.
// An optional status query parameter narrows the listing.
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.RequestStatus(raw)
		if !status.IsValid() {
			BadRequest(w, "Invalid status: "+raw)
			return
		}
		reqs, err := h.store.ListRequestsByStatus(r.Context(), status)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSONOK(w, reqs)
		return
	}

	reqs, err := h.store.ListRequests(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSONOK(w, reqs)
}

// Get handles GET /api/v1/requests/{id}.
func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, err := h.store.GetRequestByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSONOK(w, req)
}

// Submit handles POST /api/v1/requests.
// The authenticated user is the requester.
func (h *RequestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r, h.store)
	if !ok {
		return
	}

	var body SubmitRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}
	if body.FolderID == 0 {
		BadRequest(w, "folder_id is required")
		return
	}

	req, class, err := h.svc.Submit(r.Context(), actor.ID, body.FolderID,
		models.PermissionMode(body.Mode), body.BusinessNeed, body.ValidatorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSONCreated(w, SubmitResponse{Request: req, Class: string(class)})
}

// Approve handles POST /api/v1/requests/{id}/approve.
func (h *RequestHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Approve)
}

// Reject handles POST /api/v1/requests/{id}/reject.
func (h *RequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Reject)
}

// Cancel handles POST /api/v1/requests/{id}/cancel.
func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Cancel)
}

// Revoke handles POST /api/v1/requests/{id}/revoke.
func (h *RequestHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Revoke)
}

// decide factors the shared shape of the four decision endpoints. The
// service enforces who may decide; the handler only resolves the actor.
func (h *RequestHandler) decide(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, requestID uint, actor *models.User, comment string) (*models.PermissionRequest, error),
) {
	actor, ok := currentUser(w, r, h.store)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body decisionRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}

	req, err := op(r.Context(), id, actor, body.Comment)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSONOK(w, req)
}
