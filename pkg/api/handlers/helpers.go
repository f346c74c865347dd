package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lliwi/sar-v3-sub000/pkg/api/middleware"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
	"github.com/lliwi/sar-v3-sub000/pkg/store"
)

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns true if successful, false if decoding fails (error response is
// written automatically).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// pathID parses the {id} URL parameter. Returns 0 and false after writing
// a 400 response when the parameter is not a positive integer.
func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		BadRequest(w, "Invalid id: "+raw)
		return 0, false
	}
	return uint(id), true
}

// currentUser resolves the authenticated principal to its catalogue row.
// Returns nil and false after writing the error response.
func currentUser(w http.ResponseWriter, r *http.Request, st store.Store) (*models.User, bool) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		Unauthorized(w, "Authentication required")
		return nil, false
	}
	user, err := st.GetUser(r.Context(), claims.Username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			Unauthorized(w, "User no longer exists")
			return nil, false
		}
		InternalServerError(w, "Failed to get user")
		return nil, false
	}
	return user, true
}

// writeDomainError maps catalogue and engine sentinel errors onto problem
// responses. Unrecognised errors become 500s without leaking internals.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrFolderNotFound),
		errors.Is(err, models.ErrRequestNotFound),
		errors.Is(err, models.ErrTaskNotFound),
		errors.Is(err, models.ErrNotificationNotFound):
		NotFound(w, err.Error())
	case errors.Is(err, models.ErrNotAuthorised):
		Forbidden(w, err.Error())
	case errors.Is(err, models.ErrDuplicateRequest),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrTaskNotCancelable),
		errors.Is(err, models.ErrTaskNotRetryable):
		Conflict(w, err.Error())
	case errors.Is(err, models.ErrNoMatchingGroup):
		UnprocessableEntity(w, err.Error())
	case models.KindOf(err) == models.FaultPermanent:
		BadRequest(w, err.Error())
	default:
		InternalServerError(w, "Operation failed")
	}
}
