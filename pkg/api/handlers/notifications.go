package handlers

import (
	"net/http"

	"github.com/lliwi/sar-v3-sub000/pkg/notify"
	"github.com/lliwi/sar-v3-sub000/pkg/store"
)

// NotificationHandler handles admin notification API endpoints.
type NotificationHandler struct {
	store    store.Store
	notifier *notify.Notifier
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(st store.Store, n *notify.Notifier) *NotificationHandler {
	return &NotificationHandler{store: st, notifier: n}
}

// resolveRequest is the request body for POST /api/v1/notifications/resolve.
type resolveRequest struct {
	Fingerprint string `json:"fingerprint"`
}

// List handles GET /api/v1/notifications.
// Lists unresolved notifications by default; ?all=true includes resolved.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	unresolvedOnly := r.URL.Query().Get("all") != "true"
	notifs, err := h.store.ListNotifications(r.Context(), unresolvedOnly)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSONOK(w, notifs)
}

// Resolve handles POST /api/v1/notifications/resolve.
// Marks the notification identified by fingerprint as resolved.
func (h *NotificationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var body resolveRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}
	if body.Fingerprint == "" {
		BadRequest(w, "fingerprint is required")
		return
	}
	if err := h.notifier.MarkResolved(r.Context(), body.Fingerprint); err != nil {
		writeDomainError(w, err)
		return
	}
	WriteNoContent(w)
}
