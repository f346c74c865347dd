//go:build integration

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lliwi/sar-v3-sub000/pkg/airflow"
	"github.com/lliwi/sar-v3-sub000/pkg/api/auth"
	"github.com/lliwi/sar-v3-sub000/pkg/artefact"
	"github.com/lliwi/sar-v3-sub000/pkg/audit"
	"github.com/lliwi/sar-v3-sub000/pkg/directory"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
	"github.com/lliwi/sar-v3-sub000/pkg/notify"
	"github.com/lliwi/sar-v3-sub000/pkg/orchestrator"
	"github.com/lliwi/sar-v3-sub000/pkg/requests"
	"github.com/lliwi/sar-v3-sub000/pkg/store"
)

type idleRunner struct{}

func (idleRunner) SubmitRun(_ context.Context, runID string, _ airflow.SubmitConf) (string, error) {
	return runID, nil
}

func (idleRunner) GetRun(_ context.Context, _ string) (airflow.RunState, error) {
	return airflow.StateSuccess, nil
}

func (idleRunner) WaitForRun(_ context.Context, _ string, _, _ time.Duration) (airflow.RunState, error) {
	return airflow.StateSuccess, nil
}

type emptyDir struct{}

func (emptyDir) GroupExists(_ context.Context, _ string) (bool, error) { return false, nil }

func (emptyDir) GroupMembers(_ context.Context, _ string) ([]string, error) { return nil, nil }
func (emptyDir) UserDetails(_ context.Context, _ string) (*directory.UserRecord, error) {
	return &directory.UserRecord{}, nil
}
func (emptyDir) UserGroups(_ context.Context, _ string) ([]string, error) { return nil, nil }

type nullSender struct{}

func (nullSender) Send(_ context.Context, _, _, _ string) error { return nil }

type apiEnv struct {
	store  *store.GORMStore
	server *httptest.Server

	admin     *models.User
	requester *models.User
	validator *models.User
	folder    *models.Folder
}

const testPassword = "s3cret-admin-pass"

func newAPIEnv(t *testing.T) *apiEnv {
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

	writer, err := artefact.NewWriter(artefact.Config{OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create artefact writer: %v", err)
	}
	notifier := notify.New(notify.Config{Enabled: true, AdminEmail: "ops@example.com"}, st, nullSender{})
	recorder := audit.NewRecorder(st)
	orch := orchestrator.New(orchestrator.Config{}, st, idleRunner{}, emptyDir{}, notifier, recorder, nil)
	svc := requests.NewService(st, writer, notifier, recorder, orch)

	jwtService, err := auth.NewJWTService(auth.JWTConfig{Secret: "integration-test-secret-0123456789ab"})
	if err != nil {
		t.Fatalf("Failed to create JWT service: %v", err)
	}

	router := NewRouter(jwtService, Deps{
		Store:        st,
		DB:           st,
		Requests:     svc,
		Orchestrator: orch,
		Notifier:     notifier,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	env := &apiEnv{store: st, server: server}

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	env.admin = &models.User{Username: `CORP\admin`, Email: "admin@example.com", IsActive: true, IsAdmin: true, PasswordHash: string(hash)}
	env.requester = &models.User{Username: `CORP\jdoe`, Email: "jdoe@example.com", Matricula: "E1234", IsActive: true, PasswordHash: string(hash)}
	env.validator = &models.User{Username: `CORP\vsmith`, Email: "vsmith@example.com", IsActive: true, PasswordHash: string(hash)}
	for _, u := range []*models.User{env.admin, env.requester, env.validator} {
		if err := st.CreateUser(ctx, u); err != nil {
			t.Fatalf("Failed to create user %s: %v", u.Username, err)
		}
	}

	readGrp := &models.Group{Name: "GRP_APOLLO_R", DN: "CN=GRP_APOLLO_R,OU=Groups,DC=corp,DC=local", IsActive: true}
	if err := st.CreateGroup(ctx, readGrp); err != nil {
		t.Fatalf("Failed to create group: %v", err)
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
	perm := &models.FolderGroupPermission{FolderID: env.folder.ID, GroupID: readGrp.ID, Mode: models.ModeRead, IsActive: true}
	if err := st.CreatePermission(ctx, perm); err != nil {
		t.Fatalf("Failed to create permission: %v", err)
	}
	return env
}

// do sends a JSON request and decodes the response body into out (when
// out is non-nil and the body is JSON).
func (env *apiEnv) do(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, env.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("Request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response of %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type loginResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		Username string `json:"username"`
		IsAdmin  bool   `json:"is_admin"`
	} `json:"user"`
}

func (env *apiEnv) login(t *testing.T, username string) loginResult {
	t.Helper()
	var result loginResult
	status := env.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": username, "password": testPassword}, &result)
	if status != http.StatusOK {
		t.Fatalf("Login as %s returned %d", username, status)
	}
	return result
}

func TestHealthEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	if status := env.do(t, http.MethodGet, "/health", "", nil, nil); status != http.StatusOK {
		t.Errorf("Liveness returned %d", status)
	}
	var ready struct {
		Status string `json:"status"`
	}
	if status := env.do(t, http.MethodGet, "/health/ready", "", nil, &ready); status != http.StatusOK {
		t.Errorf("Readiness returned %d", status)
	}
	if ready.Status != "healthy" {
		t.Errorf("Expected healthy, got %q", ready.Status)
	}
}

func TestLogin(t *testing.T) {
	env := newAPIEnv(t)

	status := env.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": `CORP\admin`, "password": "wrong"}, nil)
	if status != http.StatusUnauthorized {
		t.Errorf("Wrong password should return 401, got %d", status)
	}

	result := env.login(t, `CORP\admin`)
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("Login returned empty tokens")
	}
	if !result.User.IsAdmin {
		t.Error("Admin login should report is_admin")
	}

	var me struct {
		Username string `json:"username"`
	}
	if status := env.do(t, http.MethodGet, "/api/v1/auth/me", result.AccessToken, nil, &me); status != http.StatusOK {
		t.Fatalf("Me returned %d", status)
	}
	if me.Username != `CORP\admin` {
		t.Errorf("Me returned wrong user: %s", me.Username)
	}
}

func TestRefresh(t *testing.T) {
	env := newAPIEnv(t)
	result := env.login(t, `CORP\jdoe`)

	var refreshed loginResult
	status := env.do(t, http.MethodPost, "/api/v1/auth/refresh", "",
		map[string]string{"refresh_token": result.RefreshToken}, &refreshed)
	if status != http.StatusOK {
		t.Fatalf("Refresh returned %d", status)
	}
	if refreshed.AccessToken == "" {
		t.Error("Refresh returned no access token")
	}

	// The access token is not a refresh token.
	status = env.do(t, http.MethodPost, "/api/v1/auth/refresh", "",
		map[string]string{"refresh_token": result.AccessToken}, nil)
	if status != http.StatusUnauthorized {
		t.Errorf("Access token used as refresh token should return 401, got %d", status)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	env := newAPIEnv(t)

	for _, path := range []string{"/api/v1/requests", "/api/v1/folders", "/api/v1/tasks"} {
		if status := env.do(t, http.MethodGet, path, "", nil, nil); status != http.StatusUnauthorized {
			t.Errorf("GET %s without token returned %d, want 401", path, status)
		}
	}
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	requesterToken := env.login(t, `CORP\jdoe`).AccessToken
	validatorToken := env.login(t, `CORP\vsmith`).AccessToken

	var submitted struct {
		Request models.PermissionRequest `json:"request"`
		Class   string                   `json:"class"`
	}
	status := env.do(t, http.MethodPost, "/api/v1/requests", requesterToken, map[string]any{
		"folder_id":     env.folder.ID,
		"mode":          "read",
		"business_need": "project work",
	}, &submitted)
	if status != http.StatusCreated {
		t.Fatalf("Submit returned %d", status)
	}
	if submitted.Class != "new" {
		t.Errorf("Expected class new, got %s", submitted.Class)
	}
	if submitted.Request.Status != models.RequestPending {
		t.Errorf("Expected pending, got %s", submitted.Request.Status)
	}

	// A duplicate ask conflicts.
	status = env.do(t, http.MethodPost, "/api/v1/requests", requesterToken, map[string]any{
		"folder_id": env.folder.ID,
		"mode":      "read",
	}, nil)
	if status != http.StatusConflict {
		t.Errorf("Duplicate submit returned %d, want 409", status)
	}

	// The requester may not approve their own ask.
	approvePath := fmt.Sprintf("/api/v1/requests/%d/approve", submitted.Request.ID)
	if status := env.do(t, http.MethodPost, approvePath, requesterToken, map[string]string{"comment": "self"}, nil); status != http.StatusForbidden {
		t.Errorf("Self-approval returned %d, want 403", status)
	}

	var approved models.PermissionRequest
	if status := env.do(t, http.MethodPost, approvePath, validatorToken, map[string]string{"comment": "ok"}, &approved); status != http.StatusOK {
		t.Fatalf("Approve returned %d", status)
	}
	if approved.Status != models.RequestApproved {
		t.Errorf("Expected approved, got %s", approved.Status)
	}

	var listed []models.PermissionRequest
	if status := env.do(t, http.MethodGet, "/api/v1/requests?status=approved", requesterToken, nil, &listed); status != http.StatusOK {
		t.Fatalf("List returned %d", status)
	}
	if len(listed) != 1 || listed[0].ID != submitted.Request.ID {
		t.Errorf("Unexpected approved listing: %+v", listed)
	}
}

func TestTaskRoutesAreAdminOnly(t *testing.T) {
	env := newAPIEnv(t)
	requesterToken := env.login(t, `CORP\jdoe`).AccessToken
	adminToken := env.login(t, `CORP\admin`).AccessToken

	if status := env.do(t, http.MethodGet, "/api/v1/tasks", requesterToken, nil, nil); status != http.StatusForbidden {
		t.Errorf("Non-admin task listing returned %d, want 403", status)
	}

	var tasks []models.Task
	if status := env.do(t, http.MethodGet, "/api/v1/tasks", adminToken, nil, &tasks); status != http.StatusOK {
		t.Errorf("Admin task listing returned %d", status)
	}
}

func TestTaskCancelAndRetry(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()
	adminToken := env.login(t, `CORP\admin`).AccessToken

	task := &models.Task{
		Name:   "workflow_add_req1",
		Kind:   models.TaskKindWorkflow,
		Status: models.TaskPending,
	}
	if err := env.store.CreateTask(ctx, task); err != nil {
		t.Fatalf("Failed to seed task: %v", err)
	}

	cancelPath := fmt.Sprintf("/api/v1/tasks/%d/cancel", task.ID)
	var cancelled models.Task
	if status := env.do(t, http.MethodPost, cancelPath, adminToken, map[string]string{"reason": "operator cleanup"}, &cancelled); status != http.StatusOK {
		t.Fatalf("Cancel returned %d", status)
	}
	if cancelled.Status != models.TaskCancelled {
		t.Errorf("Expected cancelled, got %s", cancelled.Status)
	}

	// Cancelling again conflicts.
	if status := env.do(t, http.MethodPost, cancelPath, adminToken, map[string]string{"reason": "again"}, nil); status != http.StatusConflict {
		t.Errorf("Second cancel returned %d, want 409", status)
	}

	retryPath := fmt.Sprintf("/api/v1/tasks/%d/retry", task.ID)
	var retried models.Task
	if status := env.do(t, http.MethodPost, retryPath, adminToken, nil, &retried); status != http.StatusOK {
		t.Fatalf("Retry returned %d", status)
	}
	if retried.Status != models.TaskPending {
		t.Errorf("Expected pending after retry, got %s", retried.Status)
	}
	if retried.AttemptCount != 0 {
		t.Errorf("Retry should reset the attempt count, got %d", retried.AttemptCount)
	}

	// A pending task is not retryable.
	if status := env.do(t, http.MethodPost, retryPath, adminToken, nil, nil); status != http.StatusConflict {
		t.Errorf("Retry of pending task returned %d, want 409", status)
	}
}

func TestNotificationRoutes(t *testing.T) {
	env := newAPIEnv(t)
	ctx := context.Background()
	adminToken := env.login(t, `CORP\admin`).AccessToken

	notif := &models.AdminNotification{
		Fingerprint: "ldap:bind",
		ErrorType:   "ldap",
		ServiceName: "directory",
		Message:     "bind failed",
	}
	if err := env.store.CreateNotification(ctx, notif); err != nil {
		t.Fatalf("Failed to seed notification: %v", err)
	}

	var listed []models.AdminNotification
	if status := env.do(t, http.MethodGet, "/api/v1/notifications", adminToken, nil, &listed); status != http.StatusOK {
		t.Fatalf("List returned %d", status)
	}
	if len(listed) != 1 {
		t.Fatalf("Expected one notification, got %d", len(listed))
	}

	status := env.do(t, http.MethodPost, "/api/v1/notifications/resolve", adminToken,
		map[string]string{"fingerprint": "ldap:bind"}, nil)
	if status != http.StatusNoContent {
		t.Fatalf("Resolve returned %d", status)
	}

	// Resolved records drop out of the default listing.
	listed = nil
	if status := env.do(t, http.MethodGet, "/api/v1/notifications", adminToken, nil, &listed); status != http.StatusOK {
		t.Fatalf("List returned %d", status)
	}
	if len(listed) != 0 {
		t.Errorf("Resolved notification still listed: %+v", listed)
	}

	if status := env.do(t, http.MethodPost, "/api/v1/notifications/resolve", adminToken,
		map[string]string{"fingerprint": "unknown"}, nil); status != http.StatusNotFound {
		t.Errorf("Resolving unknown fingerprint returned %d, want 404", status)
	}
}

func TestFolderCatalogue(t *testing.T) {
	env := newAPIEnv(t)
	token := env.login(t, `CORP\jdoe`).AccessToken

	var folders []models.Folder
	if status := env.do(t, http.MethodGet, "/api/v1/folders", token, nil, &folders); status != http.StatusOK {
		t.Fatalf("ListFolders returned %d", status)
	}
	if len(folders) != 1 || folders[0].Name != "apollo" {
		t.Errorf("Unexpected folder listing: %+v", folders)
	}

	var perms []models.FolderGroupPermission
	path := fmt.Sprintf("/api/v1/folders/%d/permissions", env.folder.ID)
	if status := env.do(t, http.MethodGet, path, token, nil, &perms); status != http.StatusOK {
		t.Fatalf("ListFolderPermissions returned %d", status)
	}
	if len(perms) != 1 || perms[0].Mode != models.ModeRead {
		t.Errorf("Unexpected permission listing: %+v", perms)
	}

	if status := env.do(t, http.MethodGet, "/api/v1/folders/9999", token, nil, nil); status != http.StatusNotFound {
		t.Errorf("Unknown folder returned %d, want 404", status)
	}
}
