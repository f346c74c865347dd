// Package scheduler owns the process's periodic loops.
//
// One loop ticks the orchestrator, one runs housekeeping, and up to four run
// the catalogue sync passes. Every loop is an independent goroutine with its
// own ticker; a sync pass can stall without delaying the orchestrator.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/lliwi/sar-v3-sub000/internal/logger"
	"github.com/lliwi/sar-v3-sub000/pkg/artefact"
	"github.com/lliwi/sar-v3-sub000/pkg/notify"
	"github.com/lliwi/sar-v3-sub000/pkg/orchestrator"
	"github.com/lliwi/sar-v3-sub000/pkg/syncer"
)

// Config contains scheduler configuration.
type Config struct {
	// TickInterval between orchestrator passes. Default: 300s.
	TickInterval time.Duration

	// CleanupInterval between housekeeping passes (task purge, artefact
	// cleanup, resolved-notification purge). Default: 24h.
	CleanupInterval time.Duration

	// CleanupDays is the retention horizon housekeeping applies.
	// Default: 30.
	CleanupDays int
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.TickInterval == 0 {
		c.TickInterval = 300 * time.Second
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = 24 * time.Hour
	}
	if c.CleanupDays == 0 {
		c.CleanupDays = 30
	}
}

// Scheduler drives the orchestrator, housekeeping and catalogue sync on
// their configured cadences.
type Scheduler struct {
	cfg       Config
	orch      *orchestrator.Orchestrator
	syncer    *syncer.Syncer
	artefacts *artefact.Writer
	notifier  *notify.Notifier
}

// New creates a Scheduler. The syncer may be nil when no sync pass is
// enabled.
func New(cfg Config, orch *orchestrator.Orchestrator, sy *syncer.Syncer, w *artefact.Writer, n *notify.Notifier) *Scheduler {
	cfg.ApplyDefaults()
	return &Scheduler{cfg: cfg, orch: orch, syncer: sy, artefacts: w, notifier: n}
}

// Run starts every loop and blocks until the context is cancelled. The
// orchestrator ticks once immediately so a restart resumes pending work
// without waiting a full interval.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	s.loop(ctx, &wg, "orchestrator", s.cfg.TickInterval, true, s.orch.Tick)
	s.loop(ctx, &wg, "housekeeping", s.cfg.CleanupInterval, false, s.housekeeping)

	if s.syncer != nil {
		sc := s.syncer.Config()
		s.syncLoop(ctx, &wg, "sync_users", sc.Users, s.syncer.SyncUsers)
		s.syncLoop(ctx, &wg, "sync_groups", sc.Groups, s.syncer.SyncGroups)
		s.syncLoop(ctx, &wg, "sync_memberships", sc.Memberships, s.syncer.SyncMemberships)
		s.syncLoop(ctx, &wg, "sync_permissions", sc.Permissions, s.syncer.SyncPermissions)
	}

	wg.Wait()
	return ctx.Err()
}

// loop runs fn every interval until the context ends.
func (s *Scheduler) loop(ctx context.Context, wg *sync.WaitGroup, name string, interval time.Duration, immediate bool, fn func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Loop started", logger.KeyOperation, name, "interval", interval.String())

		if immediate {
			s.runOnce(ctx, name, fn)
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Info("Loop stopped", logger.KeyOperation, name)
				return
			case <-ticker.C:
				s.runOnce(ctx, name, fn)
			}
		}
	}()
}

func (s *Scheduler) syncLoop(ctx context.Context, wg *sync.WaitGroup, name string, cfg syncer.LoopConfig, fn func(context.Context) (int, error)) {
	if !cfg.Enabled {
		return
	}
	s.loop(ctx, wg, name, cfg.Interval, false, func(ctx context.Context) error {
		_, err := fn(ctx)
		return err
	})
}

func (s *Scheduler) runOnce(ctx context.Context, name string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil && ctx.Err() == nil {
		logger.Warn("Loop pass failed", logger.KeyOperation, name, logger.KeyError, err)
	}
}

// housekeeping purges terminal tasks, stale artefacts and resolved
// notification records past the retention horizon.
func (s *Scheduler) housekeeping(ctx context.Context) error {
	if _, err := s.orch.Purge(ctx, s.cfg.CleanupDays); err != nil {
		return err
	}
	if s.artefacts != nil {
		if n, err := s.artefacts.CleanupOlderThan(s.cfg.CleanupDays); err != nil {
			return err
		} else if n > 0 {
			logger.Info("Stale artefacts removed", logger.KeyCount, n)
		}
	}
	if s.notifier != nil {
		if _, err := s.notifier.PurgeResolvedOlderThan(ctx, s.cfg.CleanupDays); err != nil {
			return err
		}
	}
	return nil
}
