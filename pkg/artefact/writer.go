// Package artefact emits the CSV files consumed by the downstream
// permission executor.
//
// Every membership change the engine decides on is materialised as one CSV
// row with a fixed seven-column schema. Files are written once, handed to
// the workflow executor by name, and deleted by the orchestrator after the
// corresponding verification task reaches a terminal state.
package artefact

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lliwi/sar-v3-sub000/internal/logger"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// Header is the fixed field order of every artefact.
var Header = []string{"UserName", "ADGroup", "idTarea", "idAccion", "MatriculaUsu", "idRecurso", "idModo"}

// Config contains artefact writer configuration.
type Config struct {
	// OutputDir is the directory artefacts are written to.
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`

	// DomainPrefix, when set, is prepended to group names as DOMAIN\Group.
	DomainPrefix string `mapstructure:"ad_domain_prefix" yaml:"ad_domain_prefix"`

	// CleanupDays is the age after which leftover artefacts are removed.
	// Default: 30.
	CleanupDays int `mapstructure:"cleanup_days" yaml:"cleanup_days"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.CleanupDays == 0 {
		c.CleanupDays = 30
	}
}

// Writer emits permission-change artefacts into the configured directory.
type Writer struct {
	cfg Config
}

// NewWriter creates a Writer and ensures the output directory exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg.ApplyDefaults()
	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("artefact output directory is required")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artefact directory: %w", err)
	}
	return &Writer{cfg: cfg}, nil
}

// Entry pairs a request with the membership action to materialise.
type Entry struct {
	Request *models.PermissionRequest
	Action  models.GroupAction
}

// WriteSingle writes a one-row artefact for the request and action.
// The request must have Requester, Folder and Group preloaded.
// Returns the path of the written file.
func (w *Writer) WriteSingle(req *models.PermissionRequest, action models.GroupAction) (string, error) {
	return w.WriteBulk([]Entry{{Request: req, Action: action}})
}

// WriteBulk writes one artefact containing a row per entry.
func (w *Writer) WriteBulk(entries []Entry) (string, error) {
	if len(entries) == 0 {
		return "", fmt.Errorf("no entries to write")
	}
	purpose := "permission_add"
	if entries[0].Action.IsRemoval() {
		purpose = "permission_remove"
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		req := e.Request
		if req.Requester == nil || req.Folder == nil || req.Group == nil {
			return "", fmt.Errorf("request %d is missing preloaded relations", req.ID)
		}
		rows = append(rows, w.row(
			req.Requester,
			req.Group.Name,
			strconv.FormatUint(uint64(req.ID), 10),
			e.Action,
			req.Folder.ID,
			req.Mode,
		))
	}
	return w.write(purpose, rows)
}

// WriteAdminRemoval writes a removal artefact for a membership retired by an
// admin outside of any approval. The idTarea column carries a synthetic
// REMOVE_<folder>_<user>_<nonce> identifier instead of a request id.
func (w *Writer) WriteAdminRemoval(user *models.User, folder *models.Folder, group *models.Group, mode models.PermissionMode) (string, error) {
	taskID := fmt.Sprintf("REMOVE_%d_%d_%s", folder.ID, user.ID, nonce())
	rows := [][]string{w.row(user, group.Name, taskID, models.ActionRemove, folder.ID, mode)}
	return w.write("admin_removal", rows)
}

// CleanupOlderThan removes artefacts older than the given number of days.
// Returns the number of files removed. Used as a safety net for files whose
// verification task never reached a terminal state.
func (w *Writer) CleanupOlderThan(days int) (int, error) {
	if days <= 0 {
		days = w.cfg.CleanupDays
	}
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

	matches, err := filepath.Glob(filepath.Join(w.cfg.OutputDir, "*.csv"))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				logger.Warn("Failed to remove stale artefact", logger.KeyCSVPath, path, logger.KeyError, err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}

// Delete removes a single artefact. A missing file is not an error: the
// orchestrator may race the age-based cleanup.
func Delete(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (w *Writer) row(user *models.User, groupName, taskID string, action models.GroupAction, folderID uint, mode models.PermissionMode) []string {
	group := groupName
	if w.cfg.DomainPrefix != "" && !strings.Contains(group, `\`) {
		group = w.cfg.DomainPrefix + `\` + group
	}
	return []string{
		models.BarePrincipal(user.Username),
		group,
		taskID,
		strconv.Itoa(action.CSVCode()),
		user.CSVIdentifier(),
		strconv.FormatUint(uint64(folderID), 10),
		strconv.Itoa(mode.CSVCode()),
	}
}

// write creates the artefact file, emits header plus rows, and closes it
// before returning. UTF-8, no BOM, LF line endings.
func (w *Writer) write(purpose string, rows [][]string) (string, error) {
	name := fmt.Sprintf("%s_%s_%s.csv", purpose, time.Now().UTC().Format("20060102T150405Z"), nonce())
	path := filepath.Join(w.cfg.OutputDir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create artefact: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	cw.Comma = ';'

	if err := cw.Write(Header); err != nil {
		return "", fmt.Errorf("failed to write artefact header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return "", fmt.Errorf("failed to write artefact row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("failed to flush artefact: %w", err)
	}

	logger.Debug("Artefact written", logger.KeyCSVPath, path, logger.KeyCount, len(rows))
	return path, nil
}

// nonce returns an 8-hex-character collision avoider for filenames and
// synthetic task ids.
func nonce() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}
