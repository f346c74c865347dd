// Package syncer refreshes the catalogue from the directory.
//
// Four independent passes run on their own cadences: users, groups,
// memberships and permission reconciliation. The directory is authoritative
// for all of them; the catalogue only caches what the last pass observed.
// None of the passes touches the task queue except permission
// reconciliation, which enqueues removal chains for grants the engine no
// longer backs.
package syncer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lliwi/sar-v3-sub000/internal/logger"
	"github.com/lliwi/sar-v3-sub000/internal/telemetry"
	"github.com/lliwi/sar-v3-sub000/pkg/artefact"
	"github.com/lliwi/sar-v3-sub000/pkg/audit"
	"github.com/lliwi/sar-v3-sub000/pkg/directory"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
	"github.com/lliwi/sar-v3-sub000/pkg/notify"
	"github.com/lliwi/sar-v3-sub000/pkg/store"
)

// LoopConfig enables one sync pass and sets its cadence.
type LoopConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// Config contains catalogue sync configuration.
type Config struct {
	// Users marks vanished or disabled directory accounts inactive.
	// Default interval: 1h.
	Users LoopConfig `mapstructure:"users" yaml:"users"`

	// Groups mirrors group existence. Default interval: 1h.
	Groups LoopConfig `mapstructure:"groups" yaml:"groups"`

	// Memberships refreshes the (user, group) cache. Default interval: 30m.
	Memberships LoopConfig `mapstructure:"memberships" yaml:"memberships"`

	// Permissions reconciles directory group members against approved
	// requests and enqueues removal chains for unbacked grants. Off by
	// default; enabling it makes the engine actively revoke. Default
	// interval: 6h.
	Permissions LoopConfig `mapstructure:"permissions" yaml:"permissions"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Users.Interval == 0 {
		c.Users.Interval = time.Hour
	}
	if c.Groups.Interval == 0 {
		c.Groups.Interval = time.Hour
	}
	if c.Memberships.Interval == 0 {
		c.Memberships.Interval = 30 * time.Minute
	}
	if c.Permissions.Interval == 0 {
		c.Permissions.Interval = 6 * time.Hour
	}
}

// Syncer runs the catalogue sync passes.
type Syncer struct {
	cfg       Config
	store     store.Store
	dir       directory.Adapter
	artefacts *artefact.Writer
	notifier  *notify.Notifier
	recorder  *audit.Recorder
}

// New creates a Syncer.
func New(cfg Config, st store.Store, dir directory.Adapter, w *artefact.Writer, n *notify.Notifier, rec *audit.Recorder) *Syncer {
	cfg.ApplyDefaults()
	return &Syncer{cfg: cfg, store: st, dir: dir, artefacts: w, notifier: n, recorder: rec}
}

// Config returns the effective configuration, defaults applied.
func (s *Syncer) Config() Config {
	return s.cfg
}

// SyncUsers refreshes every catalogue user against the directory: vanished
// or disabled accounts go inactive, the rest get their attributes updated.
// Returns the number of rows changed.
func (s *Syncer) SyncUsers(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSyncSpan(ctx, "users")
	defer span.End()

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	changed := 0
	for _, user := range users {
		rec, err := s.dir.UserDetails(ctx, user.Username)
		switch {
		case err == nil:
			active := !rec.Disabled
			if user.IsActive != active {
				changed++
				logger.Info("User activity changed by directory sync",
					logger.KeyUsername, user.Username,
					logger.KeyStatus, fmt.Sprintf("active=%t", active))
			}
			user.IsActive = active
			user.DisplayName = rec.DisplayName
			user.Department = rec.Department
			user.DN = rec.DN
			if rec.Matricula != "" {
				user.Matricula = rec.Matricula
			}
		case models.KindOf(err) == models.FaultNotFound:
			if user.IsActive {
				changed++
				logger.Info("User vanished from directory, marking inactive",
					logger.KeyUsername, user.Username)
			}
			user.IsActive = false
		default:
			return changed, s.failPass(ctx, "users", err)
		}

		user.LastSyncedAt = &now
		if err := s.store.UpdateUser(ctx, user); err != nil {
			return changed, fmt.Errorf("updating user %s: %w", user.Username, err)
		}
	}

	s.recordPass(ctx, "users", audit.ResourceUser, len(users), changed)
	return changed, nil
}

// SyncGroups mirrors group existence from the directory.
func (s *Syncer) SyncGroups(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSyncSpan(ctx, "groups")
	defer span.End()

	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	changed := 0
	for _, group := range groups {
		exists, err := s.dir.GroupExists(ctx, group.Name)
		if err != nil {
			return changed, s.failPass(ctx, "groups", err)
		}
		if group.IsActive != exists {
			changed++
			logger.Info("Group activity changed by directory sync",
				logger.KeyGroup, group.Name,
				logger.KeyStatus, fmt.Sprintf("active=%t", exists))
		}
		group.IsActive = exists
		group.LastSyncedAt = &now
		if err := s.store.UpdateGroup(ctx, group); err != nil {
			return changed, fmt.Errorf("updating group %s: %w", group.Name, err)
		}
	}

	s.recordPass(ctx, "groups", audit.ResourceGroup, len(groups), changed)
	return changed, nil
}

// SyncMemberships refreshes the membership cache of every active user from
// the directory. Rows for groups the user left are deactivated, observed
// memberships in known groups are upserted.
func (s *Syncer) SyncMemberships(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSyncSpan(ctx, "memberships")
	defer span.End()

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return 0, err
	}
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return 0, err
	}
	groupByName := make(map[string]*models.Group, len(groups))
	for _, g := range groups {
		groupByName[strings.ToLower(g.Name)] = g
	}

	changed := 0
	for _, user := range users {
		if !user.IsActive {
			continue
		}
		observed, err := s.dir.UserGroups(ctx, user.Username)
		if err != nil {
			if models.KindOf(err) == models.FaultNotFound {
				observed = nil
			} else {
				return changed, s.failPass(ctx, "memberships", err)
			}
		}
		member := make(map[string]bool, len(observed))
		for _, name := range observed {
			member[strings.ToLower(name)] = true
		}

		for name, group := range groupByName {
			if member[name] {
				m := &models.UserGroupMembership{
					UserID:    user.ID,
					GroupID:   group.ID,
					IsActive:  true,
					GrantedBy: "sync",
				}
				if err := s.store.UpsertMembership(ctx, m); err != nil {
					return changed, fmt.Errorf("upserting membership %s/%s: %w", user.Username, group.Name, err)
				}
			}
		}

		cached, err := s.store.ListMembershipsForUser(ctx, user.ID)
		if err != nil {
			return changed, err
		}
		for _, m := range cached {
			if !m.IsActive || m.Group == nil {
				continue
			}
			if !member[strings.ToLower(m.Group.Name)] {
				if err := s.store.DeactivateMembership(ctx, m.ID); err != nil {
					return changed, err
				}
				changed++
				logger.Info("Cached membership no longer observed in directory",
					logger.KeyUsername, user.Username,
					logger.KeyGroup, m.Group.Name)
			}
		}
	}

	s.recordPass(ctx, "memberships", audit.ResourceUser, len(users), changed)
	return changed, nil
}

// SyncPermissions reconciles the members of every active permission group
// against approved requests. A directory member without an approved request
// for the (folder, mode) gets a removal chain enqueued; the orchestrator
// applies and verifies it like any other removal.
func (s *Syncer) SyncPermissions(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartSyncSpan(ctx, "permissions")
	defer span.End()

	folders, err := s.store.ListFolders(ctx)
	if err != nil {
		return 0, err
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return 0, err
	}
	userByDN := make(map[string]*models.User, len(users))
	for _, u := range users {
		if u.DN != "" {
			userByDN[strings.ToLower(u.DN)] = u
		}
	}

	enqueued := 0
	for _, folder := range folders {
		if !folder.IsActive {
			continue
		}
		perms, err := s.store.ListPermissionsForFolder(ctx, folder.ID)
		if err != nil {
			return enqueued, err
		}
		for _, perm := range perms {
			if !perm.IsActive || perm.DeletionInProgress || perm.Group == nil {
				continue
			}
			members, err := s.dir.GroupMembers(ctx, perm.Group.DN)
			if err != nil {
				return enqueued, s.failPass(ctx, "permissions", err)
			}
			for _, memberDN := range members {
				user := userByDN[strings.ToLower(memberDN)]
				if user == nil {
					continue
				}
				backed, err := s.holdsApproval(ctx, user.ID, folder.ID, perm.Mode)
				if err != nil {
					return enqueued, err
				}
				if backed {
					continue
				}
				if err := s.enqueueRemoval(ctx, user, folder, perm); err != nil {
					return enqueued, err
				}
				enqueued++
			}
		}
	}

	s.recordPass(ctx, "permissions", audit.ResourcePermission, len(folders), enqueued)
	return enqueued, nil
}

// holdsApproval reports whether any approved or pending request backs the
// user's presence in a permission group.
func (s *Syncer) holdsApproval(ctx context.Context, userID, folderID uint, mode models.PermissionMode) (bool, error) {
	history, err := s.store.ListRequestsForUserFolder(ctx, userID, folderID)
	if err != nil {
		return false, err
	}
	for _, req := range history {
		if req.Mode != mode {
			continue
		}
		if req.Status == models.RequestApproved || req.Status == models.RequestPending {
			return true, nil
		}
	}
	return false, nil
}

// enqueueRemoval creates the workflow + verification pair that strips an
// unbacked grant, including its artefact. Duplicate chains are avoided by
// checking for a live removal task on the same (user, group).
func (s *Syncer) enqueueRemoval(ctx context.Context, user *models.User, folder *models.Folder, perm *models.FolderGroupPermission) error {
	username := models.BarePrincipal(user.Username)

	pending, err := s.store.ListTasks(ctx, models.TaskPending, 0)
	if err != nil {
		return err
	}
	for _, task := range pending {
		if task.Kind != models.TaskKindWorkflow {
			continue
		}
		payload, err := task.WorkflowPayload()
		if err != nil {
			continue
		}
		if payload.Action == models.ActionRemoveADSync &&
			payload.Username == username &&
			strings.EqualFold(payload.GroupName, perm.Group.Name) {
			return nil
		}
	}

	synthetic := &models.PermissionRequest{
		Requester: user,
		Folder:    folder,
		Group:     perm.Group,
		Mode:      perm.Mode,
	}
	csvPath, err := s.artefacts.WriteBulk([]artefact.Entry{{Request: synthetic, Action: models.ActionRemoveADSync}})
	if err != nil {
		return fmt.Errorf("writing sync removal artefact: %w", err)
	}

	now := time.Now().UTC()
	workflow := &models.Task{
		Name:   fmt.Sprintf("workflow_sync_remove_%s_%s", username, perm.Group.Name),
		Kind:   models.TaskKindWorkflow,
		Status: models.TaskPending,
		Payload: models.MustPayload(models.WorkflowPayload{
			Username:  username,
			GroupName: perm.Group.Name,
			FolderID:  folder.ID,
			Mode:      perm.Mode,
			Action:    models.ActionRemoveADSync,
			CSVPath:   csvPath,
			Wait:      true,
		}),
		NextExecutionAt: &now,
		CreatedBy:       "sync",
	}
	if err := s.store.CreateTask(ctx, workflow); err != nil {
		return fmt.Errorf("creating sync removal task: %w", err)
	}

	var membershipID *uint
	if m, err := s.store.GetMembership(ctx, user.ID, perm.GroupID); err == nil {
		membershipID = &m.ID
	}
	verification := &models.Task{
		Name:   fmt.Sprintf("verify_sync_remove_%s_%s", username, perm.Group.Name),
		Kind:   models.TaskKindVerification,
		Status: models.TaskPending,
		Payload: models.MustPayload(models.VerificationPayload{
			Username:        username,
			GroupName:       perm.Group.Name,
			FolderID:        folder.ID,
			Mode:            perm.Mode,
			Action:          models.ActionRemoveADSync,
			CSVPath:         csvPath,
			DependsOnTaskID: &workflow.ID,
			MembershipID:    membershipID,
		}),
		CreatedBy: "sync",
	}
	if err := s.store.CreateTask(ctx, verification); err != nil {
		return fmt.Errorf("creating sync verification task: %w", err)
	}

	s.recorder.Record(ctx, audit.Entry{
		Actor:        "sync",
		EventType:    audit.EventSync,
		Action:       "enqueue_removal",
		ResourceType: audit.ResourcePermission,
		ResourceID:   fmt.Sprintf("%d", perm.ID),
		Description:  fmt.Sprintf("unbacked grant of %s on %s for %s", perm.Mode, folder.SanitizedPath(), username),
	})
	logger.Warn("Unbacked grant queued for removal",
		logger.KeyUsername, username,
		logger.KeyGroup, perm.Group.Name,
		logger.KeyFolder, folder.Path)
	return nil
}

// failPass reports a pass aborted by an unreachable directory.
func (s *Syncer) failPass(ctx context.Context, pass string, cause error) error {
	telemetry.RecordError(ctx, cause)
	if _, err := s.notifier.NotifyAdmin(ctx, notify.ErrorTypeSyncFailed, "syncer",
		fmt.Sprintf("%s sync aborted: %v", pass, cause)); err != nil {
		logger.Warn("Admin notification failed", logger.KeyError, err)
	}
	return fmt.Errorf("%s sync: %w", pass, cause)
}

func (s *Syncer) recordPass(ctx context.Context, pass, resource string, scanned, changed int) {
	s.recorder.Record(ctx, audit.Entry{
		Actor:        "sync",
		EventType:    audit.EventSync,
		Action:       pass,
		ResourceType: resource,
		Description:  fmt.Sprintf("scanned %d, changed %d", scanned, changed),
		Metadata:     map[string]any{"scanned": scanned, "changed": changed},
	})
	logger.Info("Catalogue sync pass finished",
		logger.KeyOperation, pass,
		logger.KeyCount, changed)
}
