//go:build integration

package syncer

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/lliwi/sar-v3-sub000/pkg/artefact"
	"github.com/lliwi/sar-v3-sub000/pkg/audit"
	"github.com/lliwi/sar-v3-sub000/pkg/directory"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
	"github.com/lliwi/sar-v3-sub000/pkg/notify"
	"github.com/lliwi/sar-v3-sub000/pkg/store"
)

// fakeDir scripts the directory: users by username, groups by name, group
// members by group DN.
type fakeDir struct {
	mu         sync.Mutex
	users      map[string]*directory.UserRecord
	groups     map[string]bool
	userGroups map[string][]string
	members    map[string][]string
	err        error
}

func (d *fakeDir) UserDetails(_ context.Context, username string) (*directory.UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	rec, ok := d.users[username]
	if !ok {
		return nil, models.NewFault(models.FaultNotFound, "user not found", models.ErrUserNotFound)
	}
	return rec, nil
}

func (d *fakeDir) GroupExists(_ context.Context, name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	return d.groups[name], nil
}

func (d *fakeDir) GroupMembers(_ context.Context, groupDN string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.members[groupDN], nil
}

func (d *fakeDir) UserGroups(_ context.Context, username string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.userGroups[username], nil
}

type nullSender struct{}

func (nullSender) Send(_ context.Context, _, _, _ string) error { return nil }

type syncEnv struct {
	store  *store.GORMStore
	dir    *fakeDir
	syncer *Syncer
}

func newSyncEnv(t *testing.T) *syncEnv {
	t.Helper()
	dbConfig := store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	}
	st, err := store.New(&dbConfig)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	writer, err := artefact.NewWriter(artefact.Config{OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create artefact writer: %v", err)
	}

	dir := &fakeDir{
		users:      map[string]*directory.UserRecord{},
		groups:     map[string]bool{},
		userGroups: map[string][]string{},
		members:    map[string][]string{},
	}
	notifier := notify.New(notify.Config{Enabled: true, AdminEmail: "ops@example.com"}, st, nullSender{})
	s := New(Config{}, st, dir, writer, notifier, audit.NewRecorder(st))
	return &syncEnv{store: st, dir: dir, syncer: s}
}

func TestSyncUsers(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()

	present := &models.User{Username: `CORP\alive`, Email: "alive@example.com", IsActive: true}
	vanished := &models.User{Username: `CORP\gone`, Email: "gone@example.com", IsActive: true}
	disabled := &models.User{Username: `CORP\locked`, Email: "locked@example.com", IsActive: true}
	for _, u := range []*models.User{present, vanished, disabled} {
		if err := env.store.CreateUser(ctx, u); err != nil {
			t.Fatalf("Failed to create user: %v", err)
		}
	}
	env.dir.users[`CORP\alive`] = &directory.UserRecord{
		Username: "alive", DisplayName: "Alive User", Department: "IT",
		DN: "CN=alive,OU=People,DC=corp,DC=local", Matricula: "E0001",
	}
	env.dir.users[`CORP\locked`] = &directory.UserRecord{Username: "locked", Disabled: true}

	changed, err := env.syncer.SyncUsers(ctx)
	if err != nil {
		t.Fatalf("SyncUsers failed: %v", err)
	}
	if changed != 2 {
		t.Errorf("Expected 2 changed users, got %d", changed)
	}

	got, _ := env.store.GetUser(ctx, `CORP\alive`)
	if !got.IsActive || got.DisplayName != "Alive User" || got.Matricula != "E0001" {
		t.Errorf("Present user not refreshed: %+v", got)
	}
	if got.LastSyncedAt == nil {
		t.Error("Sync should stamp last_synced_at")
	}
	if got, _ := env.store.GetUser(ctx, `CORP\gone`); got.IsActive {
		t.Error("Vanished user should be inactive")
	}
	if got, _ := env.store.GetUser(ctx, `CORP\locked`); got.IsActive {
		t.Error("Disabled account should be inactive")
	}
}

func TestSyncUsersAbortsWhenDirectoryDown(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()

	user := &models.User{Username: `CORP\alive`, Email: "alive@example.com", IsActive: true}
	if err := env.store.CreateUser(ctx, user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	env.dir.err = models.Transient("connection refused", nil)

	if _, err := env.syncer.SyncUsers(ctx); err == nil {
		t.Fatal("Expected the pass to abort")
	}

	alerts, err := env.store.ListNotifications(ctx, true)
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(alerts) != 1 || alerts[0].ErrorType != notify.ErrorTypeSyncFailed {
		t.Errorf("Expected one sync-failure alert, got %+v", alerts)
	}
}

func TestSyncGroups(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()

	kept := &models.Group{Name: "GRP_KEPT", DN: "CN=GRP_KEPT,OU=Groups,DC=corp,DC=local", IsActive: true}
	dropped := &models.Group{Name: "GRP_DROPPED", DN: "CN=GRP_DROPPED,OU=Groups,DC=corp,DC=local", IsActive: true}
	for _, g := range []*models.Group{kept, dropped} {
		if err := env.store.CreateGroup(ctx, g); err != nil {
			t.Fatalf("Failed to create group: %v", err)
		}
	}
	env.dir.groups["GRP_KEPT"] = true

	changed, err := env.syncer.SyncGroups(ctx)
	if err != nil {
		t.Fatalf("SyncGroups failed: %v", err)
	}
	if changed != 1 {
		t.Errorf("Expected 1 changed group, got %d", changed)
	}
	if got, _ := env.store.GetGroup(ctx, "GRP_DROPPED"); got.IsActive {
		t.Error("Vanished group should be inactive")
	}
	if got, _ := env.store.GetGroup(ctx, "GRP_KEPT"); !got.IsActive {
		t.Error("Existing group should stay active")
	}
}

func TestSyncMembershipsRefreshesCache(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()

	user := &models.User{Username: `CORP\jdoe`, Email: "jdoe@example.com", IsActive: true}
	if err := env.store.CreateUser(ctx, user); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	joined := &models.Group{Name: "GRP_NEW", DN: "CN=GRP_NEW,OU=Groups,DC=corp,DC=local", IsActive: true}
	left := &models.Group{Name: "GRP_OLD", DN: "CN=GRP_OLD,OU=Groups,DC=corp,DC=local", IsActive: true}
	for _, g := range []*models.Group{joined, left} {
		if err := env.store.CreateGroup(ctx, g); err != nil {
			t.Fatalf("Failed to create group: %v", err)
		}
	}
	stale := &models.UserGroupMembership{UserID: user.ID, GroupID: left.ID, IsActive: true}
	if err := env.store.UpsertMembership(ctx, stale); err != nil {
		t.Fatalf("Failed to seed membership: %v", err)
	}
	env.dir.userGroups[`CORP\jdoe`] = []string{"grp_new"}

	if _, err := env.syncer.SyncMemberships(ctx); err != nil {
		t.Fatalf("SyncMemberships failed: %v", err)
	}

	observed, err := env.store.GetMembership(ctx, user.ID, joined.ID)
	if err != nil {
		t.Fatalf("Observed membership missing: %v", err)
	}
	if !observed.IsActive || observed.GrantedBy != "sync" {
		t.Errorf("Observed membership not recorded properly: %+v", observed)
	}
	gone, err := env.store.GetMembership(ctx, user.ID, left.ID)
	if err != nil {
		t.Fatalf("Stale membership row missing: %v", err)
	}
	if gone.IsActive {
		t.Error("Membership no longer observed should be deactivated")
	}
}

func TestSyncPermissionsEnqueuesRemovalChain(t *testing.T) {
	env := newSyncEnv(t)
	ctx := context.Background()

	backed := &models.User{Username: `CORP\backed`, Email: "backed@example.com", IsActive: true,
		DN: "CN=backed,OU=People,DC=corp,DC=local"}
	unbacked := &models.User{Username: `CORP\unbacked`, Email: "unbacked@example.com", IsActive: true,
		DN: "CN=unbacked,OU=People,DC=corp,DC=local"}
	for _, u := range []*models.User{backed, unbacked} {
		if err := env.store.CreateUser(ctx, u); err != nil {
			t.Fatalf("Failed to create user: %v", err)
		}
	}
	group := &models.Group{Name: "GRP_APOLLO_W", DN: "CN=GRP_APOLLO_W,OU=Groups,DC=corp,DC=local", IsActive: true}
	if err := env.store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	folder := &models.Folder{Path: `\\filer\apollo`, Name: "apollo", IsActive: true, CreatedByID: backed.ID}
	if err := env.store.CreateFolder(ctx, folder); err != nil {
		t.Fatalf("Failed to create folder: %v", err)
	}
	perm := &models.FolderGroupPermission{FolderID: folder.ID, GroupID: group.ID, Mode: models.ModeWrite, IsActive: true}
	if err := env.store.CreatePermission(ctx, perm); err != nil {
		t.Fatalf("Failed to create permission: %v", err)
	}
	approval := &models.PermissionRequest{
		RequesterID: backed.ID, FolderID: folder.ID, Mode: models.ModeWrite,
		Status: models.RequestApproved, GroupID: &group.ID,
	}
	if err := env.store.CreateRequest(ctx, approval); err != nil {
		t.Fatalf("Failed to seed approval: %v", err)
	}

	env.dir.members[group.DN] = []string{backed.DN, unbacked.DN}

	enqueued, err := env.syncer.SyncPermissions(ctx)
	if err != nil {
		t.Fatalf("SyncPermissions failed: %v", err)
	}
	if enqueued != 1 {
		t.Fatalf("Expected 1 removal chain, got %d", enqueued)
	}

	tasks, err := env.store.ListTasks(ctx, models.TaskPending, 0)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("Expected workflow and verification tasks, got %d", len(tasks))
	}

	var workflow, verification *models.Task
	for _, task := range tasks {
		switch task.Kind {
		case models.TaskKindWorkflow:
			workflow = task
		case models.TaskKindVerification:
			verification = task
		}
	}
	if workflow == nil || verification == nil {
		t.Fatal("Removal chain incomplete")
	}

	payload, err := workflow.WorkflowPayload()
	if err != nil {
		t.Fatalf("Failed to decode workflow payload: %v", err)
	}
	if payload.Action != models.ActionRemoveADSync || payload.Username != "unbacked" {
		t.Errorf("Unexpected removal payload: %+v", payload)
	}
	if !strings.Contains(payload.CSVPath, "permission_remove") {
		t.Errorf("Expected a removal artefact, got %s", payload.CSVPath)
	}
	if workflow.NextExecutionAt == nil {
		t.Error("Removal workflow should be scheduled")
	}
	if verification.NextExecutionAt != nil {
		t.Error("Verification should wait for its dependency")
	}
	dep := verification.DependsOn()
	if dep == nil || *dep != workflow.ID {
		t.Errorf("Verification should depend on task %d, got %v", workflow.ID, dep)
	}
	if workflow.CreatedBy != "sync" {
		t.Errorf("Expected sync-created task, got %q", workflow.CreatedBy)
	}

	// A second pass must not duplicate the live chain.
	if n, err := env.syncer.SyncPermissions(ctx); err != nil || n != 0 {
		t.Fatalf("Expected idempotent second pass, got n=%d err=%v", n, err)
	}
}
