package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lliwi/sar-v3-sub000/internal/logger"
	"github.com/lliwi/sar-v3-sub000/pkg/airflow"
	"github.com/lliwi/sar-v3-sub000/pkg/api"
	"github.com/lliwi/sar-v3-sub000/pkg/artefact"
	"github.com/lliwi/sar-v3-sub000/pkg/audit"
	"github.com/lliwi/sar-v3-sub000/pkg/config"
	"github.com/lliwi/sar-v3-sub000/pkg/directory"
	"github.com/lliwi/sar-v3-sub000/pkg/metrics"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
	"github.com/lliwi/sar-v3-sub000/pkg/notify"
	"github.com/lliwi/sar-v3-sub000/pkg/orchestrator"
	"github.com/lliwi/sar-v3-sub000/pkg/requests"
	"github.com/lliwi/sar-v3-sub000/pkg/scheduler"
	"github.com/lliwi/sar-v3-sub000/pkg/store"
	"github.com/lliwi/sar-v3-sub000/pkg/syncer"
)

// engine holds the wired components of one sard process.
type engine struct {
	store      *store.GORMStore
	scheduler  *scheduler.Scheduler
	apiServer  *api.Server
	metricsSrv *metrics.Server
}

// buildEngine wires every component from the loaded configuration. The
// directory and workflow executor are mandatory: the engine exists to drive
// them, so a missing ldap or airflow section is a wiring error here rather
// than a validation error at load time.
func buildEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	if cfg.LDAP.Hostname == "" {
		return nil, fmt.Errorf("ldap section is not configured (set ldap.hostname)")
	}
	if cfg.Airflow.BaseURL == "" {
		return nil, fmt.Errorf("airflow section is not configured (set airflow.base_url)")
	}

	// Metrics registry first, so constructors see metrics.IsEnabled()
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	st, err := store.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	logger.Info("Store initialized", "type", cfg.Database.Type)

	if err := ensureAdminUser(ctx, st, cfg.Admin); err != nil {
		_ = st.Close()
		return nil, err
	}

	writer, err := artefact.NewWriter(cfg.CSV)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize artefact writer: %w", err)
	}
	logger.Info("Artefact writer initialized", "output_dir", cfg.CSV.OutputDir)

	runner, err := airflow.New(cfg.Airflow)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize workflow executor: %w", err)
	}
	logger.Info("Workflow executor initialized", "base_url", cfg.Airflow.BaseURL, "dag_id", cfg.Airflow.DagID)

	dir, err := directory.New(cfg.LDAP)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize directory adapter: %w", err)
	}
	logger.Info("Directory adapter initialized", "hostname", cfg.LDAP.Hostname)

	sender, err := notify.SenderFromConfig(cfg.Notifications)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize notification sender: %w", err)
	}
	notifier := notify.New(cfg.Notifications, st, sender)
	recorder := audit.NewRecorder(st)

	orch := orchestrator.New(cfg.Tasks, st, runner, dir, notifier, recorder, metrics.NewEngineMetrics())
	svc := requests.NewService(st, writer, notifier, recorder, orch)
	sync := syncer.New(cfg.Sync, st, dir, writer, notifier, recorder)

	sched := scheduler.New(scheduler.Config{
		TickInterval: cfg.Tasks.ProcessingInterval,
		CleanupDays:  cfg.Tasks.CleanupDays,
	}, orch, sync, writer, notifier)

	eng := &engine{store: st, scheduler: sched}

	if cfg.API.IsEnabled() {
		apiServer, err := api.NewServer(cfg.API, api.Deps{
			Store:        st,
			DB:           st,
			Requests:     svc,
			Orchestrator: orch,
			Notifier:     notifier,
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to initialize API server: %w", err)
		}
		eng.apiServer = apiServer
		logger.Info("API server enabled", "port", cfg.API.Port)
	} else {
		logger.Info("API server disabled")
	}

	if cfg.Metrics.Enabled {
		eng.metricsSrv = metrics.NewServer(cfg.Metrics)
	}

	return eng, nil
}

// Run starts the scheduler loops and HTTP servers and blocks until the
// context is cancelled or one of them fails.
func (e *engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	parts := []struct {
		name string
		run  func(context.Context) error
	}{
		{"scheduler", e.scheduler.Run},
	}
	if e.apiServer != nil {
		parts = append(parts, struct {
			name string
			run  func(context.Context) error
		}{"api", e.apiServer.Start})
	}
	if e.metricsSrv != nil {
		parts = append(parts, struct {
			name string
			run  func(context.Context) error
		}{"metrics", e.metricsSrv.Start})
	}

	errChan := make(chan error, len(parts))
	for _, p := range parts {
		p := p
		go func() {
			err := p.run(runCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				err = fmt.Errorf("%s: %w", p.name, err)
			} else {
				err = nil
			}
			errChan <- err
		}()
	}

	// First failure tears everything down; otherwise wait for all parts to
	// drain after cancellation.
	var firstErr error
	for range parts {
		if err := <-errChan; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

// Close releases held resources. Called after Run returns.
func (e *engine) Close() {
	if err := e.store.Close(); err != nil {
		logger.Error("Store close error", "error", err)
	}
}

// ensureAdminUser creates the bootstrap admin account on first start. When
// no password hash is configured a random password is generated and printed
// once; it is not recoverable afterwards.
func ensureAdminUser(ctx context.Context, st *store.GORMStore, cfg config.AdminConfig) error {
	if cfg.Username == "" {
		return nil
	}

	_, err := st.GetUser(ctx, cfg.Username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, models.ErrUserNotFound) {
		return fmt.Errorf("failed to look up admin user: %w", err)
	}

	hash := cfg.PasswordHash
	if hash == "" {
		raw := make([]byte, 18)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("failed to generate admin password: %w", err)
		}
		password := base64.RawURLEncoding.EncodeToString(raw)
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash admin password: %w", err)
		}
		hash = string(hashed)
		fmt.Printf("Created admin user %q with generated password: %s\n", cfg.Username, password)
		fmt.Println("Store it now; it will not be shown again.")
	}

	email := cfg.Email
	if email == "" {
		email = cfg.Username + "@localhost"
	}

	admin := &models.User{
		Username:     cfg.Username,
		Email:        email,
		DisplayName:  "Administrator",
		IsAdmin:      true,
		IsActive:     true,
		PasswordHash: hash,
	}
	if err := st.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	logger.Info("Admin user created", "username", cfg.Username)
	return nil
}

// waitWithTimeout waits for the engine to finish, bounded by the configured
// shutdown timeout.
func waitWithTimeout(done <-chan error, timeout time.Duration) error {
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timed out after %s", timeout)
	}
}
