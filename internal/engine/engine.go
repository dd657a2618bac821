// Package engine implements the decision processor: approve/reject/cancel/
// escalate transitions applied through the store's optimistic update, with
// bounded retry on version conflicts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/floorops/approval-engine/internal/models"
	"github.com/floorops/approval-engine/internal/policy"
	"github.com/floorops/approval-engine/internal/store"
)

// Config holds decision-processing configuration
type Config struct {
	MinNotesLength      int
	AcceptLateDecisions bool
	MaxRetries          int
}

// DefaultConfig returns the standard engine configuration
func DefaultConfig() Config {
	return Config{
		MinNotesLength:      5,
		AcceptLateDecisions: false,
		MaxRetries:          3,
	}
}

// Engine applies workflow transitions under optimistic concurrency
type Engine struct {
	store      store.Store
	chains     *policy.ChainPolicy
	escalation policy.EscalationPolicy
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a decision engine
func New(st store.Store, chains *policy.ChainPolicy, escalation policy.EscalationPolicy, cfg Config, logger *zap.Logger) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	return &Engine{
		store:      st,
		chains:     chains,
		escalation: escalation,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the engine clock, for tests
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Create builds a workflow for a bypass audit record via the chain policy
// and persists it with its first level pending.
func (e *Engine) Create(ctx context.Context, rec models.BypassAuditRecord, initiatedBy string) (*models.ApprovalWorkflow, error) {
	chain, urgency, err := e.chains.BuildChain(rec.RiskScore, rec.ReasonCategory, rec.FinancialImpact)
	if err != nil {
		return nil, err
	}
	return e.CreateFromChain(ctx, rec.BypassID, rec.ReasonCategory, initiatedBy, chain, urgency)
}

// CreateFromChain persists a workflow with an explicit pre-built chain. The
// settlement flow uses this with its degenerate chain.
func (e *Engine) CreateFromChain(ctx context.Context, subjectID, category, initiatedBy string, chain []policy.ChainLevel, urgency string) (*models.ApprovalWorkflow, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: empty approval chain", policy.ErrPolicy)
	}

	now := e.now()
	w := &models.ApprovalWorkflow{
		ID:            uuid.NewString(),
		SubjectID:     subjectID,
		Category:      category,
		InitiatedBy:   initiatedBy,
		Status:        models.StatusPending,
		UrgencyLevel:  urgency,
		Chain:         make([]models.ApprovalLevel, len(chain)),
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	for i, cl := range chain {
		w.Chain[i] = models.ApprovalLevel{
			LevelNumber:  i + 1,
			RequiredRole: cl.Role,
			Status:       models.LevelNotReached,
			Duration:     cl.Duration.Milliseconds(),
		}
	}
	activateLevel(w, 0, now)

	history := &models.ApprovalHistory{
		WorkflowID:  w.ID,
		NewStatus:   models.StatusPending,
		ActionType:  models.ActionCreate,
		ActorUserID: initiatedBy,
		LevelNumber: 1,
		Timestamp:   now,
	}
	if err := e.store.Create(ctx, w, history); err != nil {
		e.logger.Error("Failed to create workflow",
			zap.String("subject_id", subjectID),
			zap.Error(err))
		return nil, err
	}

	e.logger.Info("Workflow created",
		zap.String("id", w.ID),
		zap.String("subject_id", subjectID),
		zap.String("urgency", urgency),
		zap.Int("chain_length", len(w.Chain)))
	return w, nil
}

// Approve records an approval at the current level, advancing the chain or
// completing the workflow.
func (e *Engine) Approve(ctx context.Context, id string, actor models.Actor, notes string) (*models.ApprovalWorkflow, error) {
	return e.mutate(ctx, id, models.ActionApprove, actor, notes, func(w *models.ApprovalWorkflow, now time.Time) error {
		return applyApprove(w, actor, notes, now, e.transitionConfig())
	})
}

// Resolve approves the current level and completes the workflow regardless of
// remaining levels. Used by the settlement flow, where a sign-off at any level
// closes the escalation.
func (e *Engine) Resolve(ctx context.Context, id string, actor models.Actor, notes string) (*models.ApprovalWorkflow, error) {
	return e.mutate(ctx, id, models.ActionApprove, actor, notes, func(w *models.ApprovalWorkflow, now time.Time) error {
		return applyResolve(w, actor, notes, now, e.transitionConfig())
	})
}

// Reject records a rejection at the current level; the workflow short-circuits
// to REJECTED and later levels stay NOT_REACHED.
func (e *Engine) Reject(ctx context.Context, id string, actor models.Actor, notes string) (*models.ApprovalWorkflow, error) {
	return e.mutate(ctx, id, models.ActionReject, actor, notes, func(w *models.ApprovalWorkflow, now time.Time) error {
		return applyReject(w, actor, notes, now, e.transitionConfig())
	})
}

// Cancel withdraws a workflow. Only the initiator may cancel, and only while
// the first level is still undecided.
func (e *Engine) Cancel(ctx context.Context, id string, actor models.Actor) (*models.ApprovalWorkflow, error) {
	return e.mutate(ctx, id, models.ActionCancel, actor, "", func(w *models.ApprovalWorkflow, now time.Time) error {
		return applyCancel(w, actor, now)
	})
}

// Escalate reroutes the pending level per the configured escalation policy
// without recording a decision.
func (e *Engine) Escalate(ctx context.Context, id string, actor models.Actor, reason string) (*models.ApprovalWorkflow, error) {
	return e.mutate(ctx, id, models.ActionEscalate, actor, reason, func(w *models.ApprovalWorkflow, now time.Time) error {
		return applyEscalate(w, e.escalation, now)
	})
}

// Expire marks the current level and the workflow expired. Used by the
// scheduler's auto-expire timeout policy.
func (e *Engine) Expire(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	actor := models.Actor{UserID: "scheduler"}
	return e.mutate(ctx, id, models.ActionExpire, actor, "deadline passed", func(w *models.ApprovalWorkflow, now time.Time) error {
		return applyExpire(w, now)
	})
}

// AutoEscalate applies the escalation policy on timeout. Used by the
// scheduler's auto-escalate timeout policy; shares the manual mechanics.
func (e *Engine) AutoEscalate(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	actor := models.Actor{UserID: "scheduler"}
	return e.mutate(ctx, id, models.ActionEscalate, actor, "deadline escalation", func(w *models.ApprovalWorkflow, now time.Time) error {
		return applyEscalate(w, e.escalation, now)
	})
}

// Get returns a workflow by id
func (e *Engine) Get(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	return e.store.GetByID(ctx, id)
}

func (e *Engine) transitionConfig() transitionConfig {
	return transitionConfig{
		minNotesLength:      e.cfg.MinNotesLength,
		acceptLateDecisions: e.cfg.AcceptLateDecisions,
	}
}

// mutate runs one read-modify-write cycle per attempt, retrying only on
// version conflicts. Guard failures surface immediately: a lost race shows up
// as a guard failure on the fresh read, which is the correct answer.
func (e *Engine) mutate(ctx context.Context, id, action string, actor models.Actor, notes string, apply func(*models.ApprovalWorkflow, time.Time) error) (*models.ApprovalWorkflow, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		w, err := e.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		next := w.Clone()
		now := e.now()
		previousStatus := next.Status
		levelNumber := 0
		if level := next.CurrentLevel(); level != nil {
			levelNumber = level.LevelNumber
		}

		if err := apply(next, now); err != nil {
			return nil, err
		}
		next.LastUpdatedAt = now

		history := &models.ApprovalHistory{
			WorkflowID:     next.ID,
			PreviousStatus: previousStatus,
			NewStatus:      next.Status,
			ActionType:     action,
			ActorUserID:    actor.UserID,
			ActorRole:      actor.Role,
			LevelNumber:    levelNumber,
			Notes:          notes,
			Timestamp:      now,
		}

		if err := e.store.Update(ctx, next, w.Version, history); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				lastErr = err
				e.logger.Debug("Version conflict, retrying",
					zap.String("id", id),
					zap.String("action", action),
					zap.Int("attempt", attempt+1))
				continue
			}
			return nil, err
		}

		e.logger.Info("Workflow transition applied",
			zap.String("id", id),
			zap.String("action", action),
			zap.String("status", next.Status),
			zap.Int("level", levelNumber))
		return next, nil
	}
	return nil, lastErr
}
