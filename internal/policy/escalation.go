package policy

import (
	"fmt"
	"time"

	"github.com/floorops/approval-engine/internal/models"
)

// EscalationPolicy decides what escalating a pending workflow means. It
// mutates the workflow in place without recording an approve/reject outcome.
// The bypass flow reassigns the current level's role; the settlement flow
// advances the level pointer instead.
type EscalationPolicy interface {
	Escalate(w *models.ApprovalWorkflow, now time.Time) error
}

// ReassignEscalation moves the current level one rung up the category's role
// ladder and resets its deadline. The chain shape is untouched.
type ReassignEscalation struct {
	chains *ChainPolicy
}

// NewReassignEscalation creates the reassign-in-place escalation policy
func NewReassignEscalation(chains *ChainPolicy) *ReassignEscalation {
	return &ReassignEscalation{chains: chains}
}

// Escalate reassigns the current level to the next ladder role
func (e *ReassignEscalation) Escalate(w *models.ApprovalWorkflow, now time.Time) error {
	level := w.CurrentLevel()
	if level == nil {
		return fmt.Errorf("%w: workflow %s has no current level", ErrNoFurtherEscalation, w.ID)
	}

	nextRole, err := e.chains.NextEscalationRole(w.Category, level.RequiredRole)
	if err != nil {
		return err
	}

	deadline := now.Add(level.LevelDuration())
	level.RequiredRole = nextRole
	level.AssignedTo = ""
	level.ActivatedAt = &now
	level.DeadlineAt = &deadline
	w.EscalationCount++
	return nil
}

// AdvanceEscalation skips the current level and activates the next one in
// the chain, used by the settlement flow where levels are rungs themselves.
// The skipped level is marked expired: it was passed over without a decision.
type AdvanceEscalation struct{}

// NewAdvanceEscalation creates the level-advancing escalation policy
func NewAdvanceEscalation() *AdvanceEscalation {
	return &AdvanceEscalation{}
}

// Escalate moves the workflow pointer to the next level
func (e *AdvanceEscalation) Escalate(w *models.ApprovalWorkflow, now time.Time) error {
	level := w.CurrentLevel()
	if level == nil || w.CurrentLevelIndex+1 >= len(w.Chain) {
		return fmt.Errorf("%w: workflow %s is at its final level", ErrNoFurtherEscalation, w.ID)
	}

	level.Status = models.LevelExpired

	w.CurrentLevelIndex++
	next := w.CurrentLevel()
	deadline := now.Add(next.LevelDuration())
	next.Status = models.LevelPending
	next.ActivatedAt = &now
	next.DeadlineAt = &deadline
	w.EscalationCount++
	return nil
}
