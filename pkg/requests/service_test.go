//go:build integration

package requests

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/lliwi/sar-v3-sub000/pkg/artefact"
	"github.com/lliwi/sar-v3-sub000/pkg/audit"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
	"github.com/lliwi/sar-v3-sub000/pkg/notify"
	"github.com/lliwi/sar-v3-sub000/pkg/store"
)

// recordingExecutor captures plans instead of running them.
type recordingExecutor struct {
	mu        sync.Mutex
	plans     []TaskPlan
	cancelled []uint
}

func (e *recordingExecutor) ExecutePlan(_ context.Context, _ *models.PermissionRequest, plan TaskPlan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plans = append(e.plans, plan)
	return nil
}

func (e *recordingExecutor) CancelSiblings(_ context.Context, requestID uint, _, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = append(e.cancelled, requestID)
	return nil
}

func (e *recordingExecutor) lastPlan(t *testing.T) TaskPlan {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.plans) == 0 {
		t.Fatal("No plan was handed to the executor")
	}
	return e.plans[len(e.plans)-1]
}

type mailSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *mailSender) Send(_ context.Context, recipient, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, recipient)
	return nil
}

func (s *mailSender) recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type svcEnv struct {
	store  *store.GORMStore
	svc    *Service
	exec   *recordingExecutor
	sender *mailSender
	outDir string

	requester *models.User
	validator *models.User
	admin     *models.User
	folder    *models.Folder
	readGrp   *models.Group
	writeGrp  *models.Group
}

func newSvcEnv(t *testing.T) *svcEnv {
	t.Helper()
	ctx := context.Background()

	dbConfig := store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	}
	st, err := store.New(&dbConfig)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	outDir := t.TempDir()
	writer, err := artefact.NewWriter(artefact.Config{OutputDir: outDir})
	if err != nil {
		t.Fatalf("Failed to create artefact writer: %v", err)
	}

	exec := &recordingExecutor{}
	sender := &mailSender{}
	notifier := notify.New(notify.Config{Enabled: true, AdminEmail: "ops@example.com"}, st, sender)
	svc := NewService(st, writer, notifier, audit.NewRecorder(st), exec)

	env := &svcEnv{store: st, svc: svc, exec: exec, sender: sender, outDir: outDir}

	env.requester = &models.User{Username: `CORP\jdoe`, Email: "jdoe@example.com", Matricula: "E1234", IsActive: true}
	env.validator = &models.User{Username: `CORP\vsmith`, Email: "vsmith@example.com", IsActive: true}
	env.admin = &models.User{Username: `CORP\admin`, Email: "admin@example.com", IsActive: true, IsAdmin: true}
	for _, u := range []*models.User{env.requester, env.validator, env.admin} {
		if err := st.CreateUser(ctx, u); err != nil {
			t.Fatalf("Failed to create user %s: %v", u.Username, err)
		}
	}

	env.readGrp = &models.Group{Name: "GRP_APOLLO_R", DN: "CN=GRP_APOLLO_R,OU=Groups,DC=corp,DC=local", IsActive: true}
	env.writeGrp = &models.Group{Name: "GRP_APOLLO_W", DN: "CN=GRP_APOLLO_W,OU=Groups,DC=corp,DC=local", IsActive: true}
	for _, g := range []*models.Group{env.readGrp, env.writeGrp} {
		if err := st.CreateGroup(ctx, g); err != nil {
			t.Fatalf("Failed to create group %s: %v", g.Name, err)
		}
	}

	env.folder = &models.Folder{
		Path:        `\\filer\apollo`,
		Name:        "apollo",
		IsActive:    true,
		CreatedByID: env.admin.ID,
		Owners:      []models.User{*env.validator},
	}
	if err := st.CreateFolder(ctx, env.folder); err != nil {
		t.Fatalf("Failed to create folder: %v", err)
	}

	perms := []*models.FolderGroupPermission{
		{FolderID: env.folder.ID, GroupID: env.readGrp.ID, Mode: models.ModeRead, IsActive: true},
		{FolderID: env.folder.ID, GroupID: env.writeGrp.ID, Mode: models.ModeWrite, IsActive: true},
	}
	for _, p := range perms {
		if err := st.CreatePermission(ctx, p); err != nil {
			t.Fatalf("Failed to create permission: %v", err)
		}
	}
	return env
}

func TestSubmitCreatesPendingRequest(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()

	req, class, err := env.svc.Submit(ctx, env.requester.ID, env.folder.ID, models.ModeRead, "project work", nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if class != ClassNew {
		t.Errorf("Expected class new, got %s", class)
	}
	if req.Status != models.RequestPending {
		t.Errorf("Expected pending status, got %s", req.Status)
	}

	// A second identical ask while the first is pending is refused.
	_, _, err = env.svc.Submit(ctx, env.requester.ID, env.folder.ID, models.ModeRead, "again", nil)
	if !errors.Is(err, models.ErrDuplicateRequest) {
		t.Fatalf("Expected ErrDuplicateRequest, got %v", err)
	}
}

func TestSubmitRefusesDuplicateOfApproved(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()

	approved := &models.PermissionRequest{
		RequesterID: env.requester.ID,
		FolderID:    env.folder.ID,
		Mode:        models.ModeWrite,
		Status:      models.RequestApproved,
		GroupID:     &env.writeGrp.ID,
	}
	if err := env.store.CreateRequest(ctx, approved); err != nil {
		t.Fatalf("Failed to seed approved request: %v", err)
	}

	_, class, err := env.svc.Submit(ctx, env.requester.ID, env.folder.ID, models.ModeWrite, "again", nil)
	if !errors.Is(err, models.ErrDuplicateRequest) {
		t.Fatalf("Expected ErrDuplicateRequest, got %v", err)
	}
	if class != ClassDuplicate {
		t.Errorf("Expected class duplicate, got %s", class)
	}
}

func TestSubmitRejectsInvalidMode(t *testing.T) {
	env := newSvcEnv(t)
	_, _, err := env.svc.Submit(context.Background(), env.requester.ID, env.folder.ID, "execute", "", nil)
	if err == nil {
		t.Fatal("Expected error for invalid mode")
	}
}

func TestApproveBindsGroupAndPlansAdd(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()

	req, _, err := env.svc.Submit(ctx, env.requester.ID, env.folder.ID, models.ModeRead, "project work", nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	approved, err := env.svc.Approve(ctx, req.ID, env.validator, "looks fine")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if approved.Status != models.RequestApproved {
		t.Errorf("Expected approved status, got %s", approved.Status)
	}
	if approved.GroupID == nil || *approved.GroupID != env.readGrp.ID {
		t.Errorf("Expected bound group %d, got %v", env.readGrp.ID, approved.GroupID)
	}
	if approved.ValidatedAt == nil {
		t.Error("Approval should set the validation timestamp")
	}

	stored, err := env.store.GetRequestByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("Failed to reload request: %v", err)
	}
	if stored.Status != models.RequestApproved || stored.ValidatorID == nil || *stored.ValidatorID != env.validator.ID {
		t.Errorf("Persisted request incomplete: status=%s validator=%v", stored.Status, stored.ValidatorID)
	}

	plan := env.exec.lastPlan(t)
	if !plan.FastPath {
		t.Error("Plain approval should request the fast path")
	}
	if len(plan.Tasks) != 2 {
		t.Fatalf("Expected 2 planned tasks, got %d", len(plan.Tasks))
	}
	if plan.Tasks[0].Workflow.GroupName != "GRP_APOLLO_R" {
		t.Errorf("Workflow targets wrong group: %s", plan.Tasks[0].Workflow.GroupName)
	}

	data, err := os.ReadFile(plan.Tasks[0].Workflow.CSVPath)
	if err != nil {
		t.Fatalf("Add artefact missing: %v", err)
	}
	if !strings.Contains(string(data), "GRP_APOLLO_R") || !strings.Contains(string(data), "E1234") {
		t.Errorf("Unexpected artefact contents:\n%s", data)
	}

	recipients := env.sender.recipients()
	if len(recipients) != 1 || recipients[0] != "jdoe@example.com" {
		t.Errorf("Expected one mail to the requester, got %v", recipients)
	}
}

func TestApproveRefusesWithoutMatchingGroup(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()

	bare := &models.Folder{Path: `\\filer\orphan`, Name: "orphan", IsActive: true, CreatedByID: env.admin.ID}
	if err := env.store.CreateFolder(ctx, bare); err != nil {
		t.Fatalf("Failed to create folder: %v", err)
	}

	req, _, err := env.svc.Submit(ctx, env.requester.ID, bare.ID, models.ModeRead, "need it", nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	_, err = env.svc.Approve(ctx, req.ID, env.admin, "")
	if !errors.Is(err, models.ErrNoMatchingGroup) {
		t.Fatalf("Expected ErrNoMatchingGroup, got %v", err)
	}

	stored, err := env.store.GetRequestByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("Failed to reload request: %v", err)
	}
	if stored.Status != models.RequestPending {
		t.Errorf("Refused approval must leave the request pending, got %s", stored.Status)
	}
}

func TestApproveModeChangePlansChangeChain(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()

	// The requester currently holds read via the membership cache.
	membership := &models.UserGroupMembership{UserID: env.requester.ID, GroupID: env.readGrp.ID, IsActive: true}
	if err := env.store.UpsertMembership(ctx, membership); err != nil {
		t.Fatalf("Failed to seed membership: %v", err)
	}

	// A competing pending ask for read that the change will supersede.
	competing := &models.PermissionRequest{
		RequesterID: env.requester.ID,
		FolderID:    env.folder.ID,
		Mode:        models.ModeRead,
		Status:      models.RequestPending,
	}
	if err := env.store.CreateRequest(ctx, competing); err != nil {
		t.Fatalf("Failed to seed competing request: %v", err)
	}

	req, class, err := env.svc.Submit(ctx, env.requester.ID, env.folder.ID, models.ModeWrite, "need write now", nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if class != ClassChange {
		t.Fatalf("Expected class change, got %s", class)
	}

	if _, err := env.svc.Approve(ctx, req.ID, env.validator, "ok"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	plan := env.exec.lastPlan(t)
	if len(plan.Tasks) != 3 {
		t.Fatalf("Expected 3-step change chain, got %d tasks", len(plan.Tasks))
	}
	if plan.FastPath {
		t.Error("Change chains never take the fast path")
	}
	remove := plan.Tasks[0].Workflow
	if remove.Action != models.ActionRemove || remove.GroupName != "GRP_APOLLO_R" || remove.Mode != models.ModeRead {
		t.Errorf("First step should remove the old read membership, got %+v", remove)
	}
	add := plan.Tasks[1].Workflow
	if add.Action != models.ActionAdd || add.GroupName != "GRP_APOLLO_W" {
		t.Errorf("Second step should add the new write membership, got %+v", add)
	}
	if plan.Tasks[2].Kind != models.TaskKindVerification {
		t.Errorf("Final step should verify, got %s", plan.Tasks[2].Kind)
	}

	superseded, err := env.store.GetRequestByID(ctx, competing.ID)
	if err != nil {
		t.Fatalf("Failed to reload competing request: %v", err)
	}
	if superseded.Status != models.RequestCanceled {
		t.Errorf("Competing pending request should be canceled, got %s", superseded.Status)
	}
	if !strings.Contains(superseded.ValidationComment, "superseded by request") {
		t.Errorf("Unexpected cancellation comment: %q", superseded.ValidationComment)
	}

	found := false
	for _, id := range env.exec.cancelled {
		if id == competing.ID {
			found = true
		}
	}
	if !found {
		t.Error("Tasks of the superseded request should be cancelled")
	}
}

func TestApproveAuthorisation(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()

	stranger := &models.User{Username: `CORP\stranger`, Email: "stranger@example.com", IsActive: true}
	if err := env.store.CreateUser(ctx, stranger); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	req, _, err := env.svc.Submit(ctx, env.requester.ID, env.folder.ID, models.ModeRead, "", nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := env.svc.Approve(ctx, req.ID, stranger, ""); !errors.Is(err, models.ErrNotAuthorised) {
		t.Fatalf("Expected ErrNotAuthorised for a stranger, got %v", err)
	}
	if _, err := env.svc.Approve(ctx, req.ID, env.validator, ""); err != nil {
		t.Fatalf("Folder owner should be allowed to approve: %v", err)
	}

	// A request addressed to a specific validator binds the decision.
	bound, _, err := env.svc.Submit(ctx, env.requester.ID, env.folder.ID, models.ModeWrite, "", &env.admin.ID)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := env.svc.Approve(ctx, bound.ID, env.validator, ""); !errors.Is(err, models.ErrNotAuthorised) {
		t.Fatalf("Owner must not decide a request bound to another validator, got %v", err)
	}
	if _, err := env.svc.Approve(ctx, bound.ID, env.admin, ""); err != nil {
		t.Fatalf("Bound validator should be allowed to approve: %v", err)
	}
}

func TestReject(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()

	req, _, err := env.svc.Submit(ctx, env.requester.ID, env.folder.ID, models.ModeRead, "", nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	rejected, err := env.svc.Reject(ctx, req.ID, env.validator, "no business need")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if rejected.Status != models.RequestRejected {
		t.Errorf("Expected rejected, got %s", rejected.Status)
	}

	stored, _ := env.store.GetRequestByID(ctx, req.ID)
	if stored.ValidationComment != "no business need" {
		t.Errorf("Comment not persisted: %q", stored.ValidationComment)
	}

	// A terminal request refuses further decisions.
	if _, err := env.svc.Reject(ctx, req.ID, env.validator, "again"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()

	req, _, err := env.svc.Submit(ctx, env.requester.ID, env.folder.ID, models.ModeRead, "", nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	stranger := &models.User{Username: `CORP\other`, Email: "other@example.com", IsActive: true}
	if err := env.store.CreateUser(ctx, stranger); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	if _, err := env.svc.Cancel(ctx, req.ID, stranger, "not mine"); !errors.Is(err, models.ErrNotAuthorised) {
		t.Fatalf("Expected ErrNotAuthorised, got %v", err)
	}

	cancelled, err := env.svc.Cancel(ctx, req.ID, env.requester, "changed my mind")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != models.RequestCanceled {
		t.Errorf("Expected canceled, got %s", cancelled.Status)
	}
	if len(env.exec.cancelled) != 1 || env.exec.cancelled[0] != req.ID {
		t.Errorf("Expected task cancellation for request %d, got %v", req.ID, env.exec.cancelled)
	}

	// Admins may cancel on behalf of the requester.
	other, _, err := env.svc.Submit(ctx, env.requester.ID, env.folder.ID, models.ModeWrite, "", nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := env.svc.Cancel(ctx, other.ID, env.admin, "cleanup"); err != nil {
		t.Fatalf("Admin cancel failed: %v", err)
	}
}

func TestRevoke(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()

	req, _, err := env.svc.Submit(ctx, env.requester.ID, env.folder.ID, models.ModeWrite, "", nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := env.svc.Approve(ctx, req.ID, env.validator, ""); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	membership := &models.UserGroupMembership{UserID: env.requester.ID, GroupID: env.writeGrp.ID, IsActive: true}
	if err := env.store.UpsertMembership(ctx, membership); err != nil {
		t.Fatalf("Failed to seed membership: %v", err)
	}

	revoked, err := env.svc.Revoke(ctx, req.ID, env.admin, "offboarding")
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if revoked.Status != models.RequestRevoked {
		t.Errorf("Expected revoked, got %s", revoked.Status)
	}

	perm, err := env.store.FindPermission(ctx, env.folder.ID, env.writeGrp.ID, models.ModeWrite)
	if err != nil {
		t.Fatalf("Failed to load permission: %v", err)
	}
	if !perm.DeletionInProgress {
		t.Error("Revocation should flag the linkage deletion_in_progress")
	}

	plan := env.exec.lastPlan(t)
	if len(plan.Tasks) != 2 {
		t.Fatalf("Expected 2-step revoke chain, got %d tasks", len(plan.Tasks))
	}
	if plan.Tasks[0].Workflow.Action != models.ActionRemove {
		t.Errorf("Revoke chain should start with a removal, got %s", plan.Tasks[0].Workflow.Action)
	}
	verification := plan.Tasks[1].Verification
	if verification.PermissionID == nil || *verification.PermissionID != perm.ID {
		t.Errorf("Verification should name the linkage to retire, got %v", verification.PermissionID)
	}
	if verification.MembershipID == nil || *verification.MembershipID != membership.ID {
		t.Errorf("Verification should name the membership to deactivate, got %v", verification.MembershipID)
	}

	if !strings.Contains(plan.Tasks[0].Workflow.CSVPath, "permission_remove") {
		t.Errorf("Expected a removal artefact, got %s", plan.Tasks[0].Workflow.CSVPath)
	}
	if _, err := os.Stat(plan.Tasks[0].Workflow.CSVPath); err != nil {
		t.Errorf("Removal artefact missing: %v", err)
	}
}
