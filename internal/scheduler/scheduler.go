// Package scheduler implements the deadline sweep: a time-driven loop that
// finds pending workflows whose current level is overdue and applies the
// configured timeout policy through the same optimistic-update path as
// manual decisions. Safe to run on multiple instances concurrently: losers
// of the version race no-op.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/floorops/approval-engine/internal/engine"
	"github.com/floorops/approval-engine/internal/models"
	"github.com/floorops/approval-engine/internal/policy"
	"github.com/floorops/approval-engine/internal/store"
)

// Timeout policy constants
const (
	PolicyExpire   = "expire"
	PolicyEscalate = "escalate"
)

// Config holds scheduler configuration
type Config struct {
	SweepInterval time.Duration
	BatchSize     int
	TimeoutPolicy string // expire (default) or escalate
}

// DefaultConfig returns the standard scheduler configuration
func DefaultConfig() Config {
	return Config{
		SweepInterval: 30 * time.Second,
		BatchSize:     50,
		TimeoutPolicy: PolicyExpire,
	}
}

// Scheduler sweeps overdue workflows on a fixed interval
type Scheduler struct {
	store  store.Store
	engine *engine.Engine
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	isRunning bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a deadline scheduler
func New(st store.Store, eng *engine.Engine, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.TimeoutPolicy == "" {
		cfg.TimeoutPolicy = PolicyExpire
	}
	return &Scheduler{
		store:  st,
		engine: eng,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the scheduler clock, for tests
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start starts the sweep loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.isRunning = true

	s.logger.Info("Scheduler started",
		zap.Duration("sweep_interval", s.cfg.SweepInterval),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.String("timeout_policy", s.cfg.TimeoutPolicy))

	go s.sweepLoop()
	return nil
}

// Stop stops the sweep loop
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	s.isRunning = false
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("Scheduler stopped")
}

// Name returns the worker name for identification
func (s *Scheduler) Name() string {
	return "DeadlineScheduler"
}

func (s *Scheduler) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	// Sweep immediately on start
	s.SweepOverdue(s.ctx)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Sweep loop context cancelled")
			return
		case <-ticker.C:
			s.SweepOverdue(s.ctx)
		}
	}
}

// SweepOverdue runs one sweep over overdue pending workflows. Idempotent:
// already-terminal workflows fail the transition precondition, which the
// sweep treats as a successful no-op.
func (s *Scheduler) SweepOverdue(ctx context.Context) {
	now := s.now()
	overdue, err := s.store.ListPending(ctx, store.PendingFilter{
		DeadlineBefore: &now,
		Limit:          s.cfg.BatchSize,
	})
	if err != nil {
		s.logger.Error("Failed to list overdue workflows", zap.Error(err))
		return
	}
	if len(overdue) == 0 {
		return
	}

	handled := 0
	for _, w := range overdue {
		if err := s.handleTimeout(ctx, w); err != nil {
			// Anything unexpected is logged and retried on the next sweep
			s.logger.Error("Failed to handle timeout",
				zap.String("id", w.ID),
				zap.Error(err))
			continue
		}
		handled++
	}

	s.logger.Info("Deadline sweep completed",
		zap.Int("overdue", len(overdue)),
		zap.Int("handled", handled))
}

func (s *Scheduler) handleTimeout(ctx context.Context, w *models.ApprovalWorkflow) error {
	var err error
	switch s.cfg.TimeoutPolicy {
	case PolicyEscalate:
		_, err = s.engine.AutoEscalate(ctx, w.ID)
		if errors.Is(err, policy.ErrNoFurtherEscalation) {
			// Ladder exhausted: fall back to expiry
			_, err = s.engine.Expire(ctx, w.ID)
		}
	default:
		_, err = s.engine.Expire(ctx, w.ID)
	}

	// A decision raced the sweep and won the version check; the workflow is
	// no longer in the state we read. Converged, nothing to do.
	if errors.Is(err, engine.ErrWorkflowNotPending) ||
		errors.Is(err, engine.ErrAlreadyDecided) ||
		errors.Is(err, store.ErrVersionConflict) {
		s.logger.Debug("Timeout superseded by concurrent transition",
			zap.String("id", w.ID))
		return nil
	}
	return err
}
