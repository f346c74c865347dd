package apiclient

import (
	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// ListFolders returns the folder catalogue.
func (c *Client) ListFolders() ([]models.Folder, error) {
	return listResources[models.Folder](c, "/api/v1/folders")
}

// GetFolder returns one folder by ID.
func (c *Client) GetFolder(id uint) (*models.Folder, error) {
	return getResource[models.Folder](c, resourcePath("/api/v1/folders/%d", id))
}

// ListFolderPermissions returns the permissions bound to a folder.
func (c *Client) ListFolderPermissions(id uint) ([]models.FolderGroupPermission, error) {
	return listResources[models.FolderGroupPermission](c, resourcePath("/api/v1/folders/%d/permissions", id))
}
