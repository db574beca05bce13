// Package workflow runs the periodic cleanup of expired pending-action
// windows. Expiry itself is enforced on every read path; the sweep just keeps
// the document from accumulating dead entries.
package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"racecontrol/config"
	"racecontrol/core/store"
)

type Sweeper struct {
	cfg      config.SweeperConfig
	workflow *store.WorkflowStore
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func NewSweeper(cfg config.SweeperConfig, workflow *store.WorkflowStore, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{cfg: cfg, workflow: workflow, logger: logger}
}

// StartWithContext runs one sweep immediately (recovering windows that
// expired while the process was down) and then schedules the cron cadence.
func (s *Sweeper) StartWithContext(ctx context.Context) error {
	if s == nil || s.workflow == nil || !s.cfg.Enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.RunOnce(ctx, time.Now().UTC())

	c := cron.New()
	spec := s.cfg.CronSpec
	if spec == "" {
		spec = "@every 5m"
	}
	if _, err := c.AddFunc(spec, func() {
		s.RunOnce(ctx, time.Now().UTC())
	}); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.running = true
	return nil
}

func (s *Sweeper) StopWithContext(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce sweeps expired entries once. Safe to call repeatedly.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) {
	removed, err := s.workflow.SweepExpired(ctx, now)
	if err != nil {
		s.logger.Warn("pending-action sweep failed", "err", err)
		return
	}
	if removed > 0 {
		s.logger.Info("swept expired pending actions", "removed", removed)
	}
}
