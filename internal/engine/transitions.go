package engine

import (
	"fmt"
	"time"

	"github.com/floorops/approval-engine/internal/models"
	"github.com/floorops/approval-engine/internal/policy"
)

// transitionConfig holds the decision-gating knobs shared by all transitions
type transitionConfig struct {
	minNotesLength      int
	acceptLateDecisions bool
}

// Each transition below is a pure function over a workflow snapshot: guards
// first, then mutation of the clone the engine hands in. The winning writer
// is decided by the store's version check, not here.

func guardDecidable(w *models.ApprovalWorkflow, actor models.Actor, notes string, now time.Time, cfg transitionConfig) (*models.ApprovalLevel, error) {
	if w.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: workflow %s is %s", ErrWorkflowNotPending, w.ID, w.Status)
	}
	level := w.CurrentLevel()
	if level == nil {
		return nil, fmt.Errorf("%w: workflow %s has no current level", ErrWorkflowNotPending, w.ID)
	}
	if level.Status != models.LevelPending {
		return nil, fmt.Errorf("%w: level %d is %s", ErrAlreadyDecided, level.LevelNumber, level.Status)
	}
	if actor.Role != level.RequiredRole {
		return nil, fmt.Errorf("%w: level %d requires %s, actor has %s",
			ErrRoleMismatch, level.LevelNumber, level.RequiredRole, actor.Role)
	}
	if len(notes) < cfg.minNotesLength {
		return nil, fmt.Errorf("%w: notes must be at least %d characters", ErrValidation, cfg.minNotesLength)
	}
	if !cfg.acceptLateDecisions && level.DeadlineAt != nil && now.After(*level.DeadlineAt) {
		return nil, fmt.Errorf("%w: level %d deadline was %s", ErrDeadlinePassed, level.LevelNumber, level.DeadlineAt.Format(time.RFC3339))
	}
	return level, nil
}

func applyApprove(w *models.ApprovalWorkflow, actor models.Actor, notes string, now time.Time, cfg transitionConfig) error {
	level, err := guardDecidable(w, actor, notes, now, cfg)
	if err != nil {
		return err
	}

	level.Status = models.LevelApproved
	level.DecidedAt = &now
	level.DecidedBy = actor.UserID
	level.Notes = notes

	if w.CurrentLevelIndex == len(w.Chain)-1 {
		w.Status = models.StatusCompleted
		w.CompletedAt = &now
		return nil
	}

	w.CurrentLevelIndex++
	activateLevel(w, w.CurrentLevelIndex, now)
	return nil
}

// applyResolve approves the current level and completes the workflow even if
// later levels exist. Settlement escalations end at whatever level the
// operator resolves them; untouched levels stay NOT_REACHED.
func applyResolve(w *models.ApprovalWorkflow, actor models.Actor, notes string, now time.Time, cfg transitionConfig) error {
	level, err := guardDecidable(w, actor, notes, now, cfg)
	if err != nil {
		return err
	}

	level.Status = models.LevelApproved
	level.DecidedAt = &now
	level.DecidedBy = actor.UserID
	level.Notes = notes

	w.Status = models.StatusCompleted
	w.CompletedAt = &now
	return nil
}

func applyReject(w *models.ApprovalWorkflow, actor models.Actor, notes string, now time.Time, cfg transitionConfig) error {
	level, err := guardDecidable(w, actor, notes, now, cfg)
	if err != nil {
		return err
	}

	level.Status = models.LevelRejected
	level.DecidedAt = &now
	level.DecidedBy = actor.UserID
	level.Notes = notes

	// Short-circuit: later levels stay NOT_REACHED permanently
	w.Status = models.StatusRejected
	w.CompletedAt = &now
	return nil
}

func applyCancel(w *models.ApprovalWorkflow, actor models.Actor, now time.Time) error {
	if w.Status != models.StatusPending {
		return fmt.Errorf("%w: workflow %s is %s", ErrWorkflowNotPending, w.ID, w.Status)
	}
	if actor.UserID != w.InitiatedBy {
		return fmt.Errorf("%w: workflow %s was initiated by %s", ErrNotInitiator, w.ID, w.InitiatedBy)
	}
	level := w.CurrentLevel()
	if w.CurrentLevelIndex != 0 || level == nil || level.Status != models.LevelPending || level.DecidedAt != nil {
		return fmt.Errorf("%w: workflow %s is past its first level", ErrCancelTooLate, w.ID)
	}

	w.Status = models.StatusCancelled
	w.CompletedAt = &now
	return nil
}

func applyEscalate(w *models.ApprovalWorkflow, escalation policy.EscalationPolicy, now time.Time) error {
	if w.Status != models.StatusPending {
		return fmt.Errorf("%w: workflow %s is %s", ErrWorkflowNotPending, w.ID, w.Status)
	}
	level := w.CurrentLevel()
	if level == nil || level.Status != models.LevelPending {
		return fmt.Errorf("%w: current level is not pending", ErrAlreadyDecided)
	}
	return escalation.Escalate(w, now)
}

func applyExpire(w *models.ApprovalWorkflow, now time.Time) error {
	if w.Status != models.StatusPending {
		return fmt.Errorf("%w: workflow %s is %s", ErrWorkflowNotPending, w.ID, w.Status)
	}
	level := w.CurrentLevel()
	if level == nil || level.Status != models.LevelPending {
		return fmt.Errorf("%w: current level is not pending", ErrAlreadyDecided)
	}

	level.Status = models.LevelExpired
	w.Status = models.StatusExpired
	w.CompletedAt = &now
	return nil
}

// activateLevel marks chain[idx] pending with a fresh deadline
func activateLevel(w *models.ApprovalWorkflow, idx int, now time.Time) {
	level := &w.Chain[idx]
	deadline := now.Add(level.LevelDuration())
	level.Status = models.LevelPending
	level.ActivatedAt = &now
	level.DeadlineAt = &deadline
}
