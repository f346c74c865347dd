package handlers

import (
	"net/http"

	"github.com/lliwi/sar-v3-sub000/pkg/store"
)

// CatalogueHandler serves the read-only folder catalogue.
type CatalogueHandler struct {
	store store.Store
}

// NewCatalogueHandler creates a new CatalogueHandler.
func NewCatalogueHandler(st store.Store) *CatalogueHandler {
	return &CatalogueHandler{store: st}
}

// ListFolders handles GET /api/v1/folders.
func (h *CatalogueHandler) ListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.store.ListFolders(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSONOK(w, folders)
}

// GetFolder handles GET /api/v1/folders/{id}.
func (h *CatalogueHandler) GetFolder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	folder, err := h.store.GetFolderByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSONOK(w, folder)
}

// ListFolderPermissions handles GET /api/v1/folders/{id}/permissions.
func (h *CatalogueHandler) ListFolderPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.store.GetFolderByID(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	perms, err := h.store.ListPermissionsForFolder(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSONOK(w, perms)
}
