package models

import (
	"math"
	"time"
)

// Workflow status constants
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusRejected  = "REJECTED"
	StatusExpired   = "EXPIRED"
	StatusCancelled = "CANCELLED"
)

// Level status constants
const (
	LevelNotReached = "NOT_REACHED"
	LevelPending    = "PENDING"
	LevelApproved   = "APPROVED"
	LevelRejected   = "REJECTED"
	LevelExpired    = "EXPIRED"
)

// Urgency level constants
const (
	UrgencyNormal   = "normal"
	UrgencyUrgent   = "urgent"
	UrgencyCritical = "critical"
)

var terminalStatuses = map[string]bool{
	StatusCompleted: true,
	StatusRejected:  true,
	StatusExpired:   true,
	StatusCancelled: true,
}

var validStatuses = map[string]bool{
	StatusPending:   true,
	StatusCompleted: true,
	StatusRejected:  true,
	StatusExpired:   true,
	StatusCancelled: true,
}

// IsTerminalStatus returns true if the workflow status allows no further transitions
func IsTerminalStatus(status string) bool {
	return terminalStatuses[status]
}

// IsValidStatus returns true if the status is a known workflow status
func IsValidStatus(status string) bool {
	return validStatuses[status]
}

// Actor identifies the user performing a decision or escalation
type Actor struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// ApprovalLevel is one stage of a workflow's approval chain
type ApprovalLevel struct {
	LevelNumber  int        `json:"level_number"`
	RequiredRole string     `json:"required_role"`
	Status       string     `json:"status"`
	AssignedTo   string     `json:"assigned_to,omitempty"`
	Duration     int64      `json:"duration_ms"`
	ActivatedAt  *time.Time `json:"activated_at,omitempty"`
	DeadlineAt   *time.Time `json:"deadline_at,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	DecidedBy    string     `json:"decided_by,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// LevelDuration returns the configured duration of the level
func (l *ApprovalLevel) LevelDuration() time.Duration {
	return time.Duration(l.Duration) * time.Millisecond
}

// ApprovalWorkflow is the aggregate root for one risk-flagged approval process
type ApprovalWorkflow struct {
	ID                string          `json:"id"`
	SubjectID         string          `json:"subject_id"`
	Category          string          `json:"category"`
	InitiatedBy       string          `json:"initiated_by"`
	Chain             []ApprovalLevel `json:"chain"`
	CurrentLevelIndex int             `json:"current_level_index"`
	Status            string          `json:"status"`
	UrgencyLevel      string          `json:"urgency_level"`
	EscalationCount   int             `json:"escalation_count"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	LastUpdatedAt     time.Time       `json:"last_updated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// CurrentLevel returns the level at CurrentLevelIndex, or nil once terminal
// or if the index is out of range.
func (w *ApprovalWorkflow) CurrentLevel() *ApprovalLevel {
	if w.CurrentLevelIndex < 0 || w.CurrentLevelIndex >= len(w.Chain) {
		return nil
	}
	return &w.Chain[w.CurrentLevelIndex]
}

// ApprovedLevels returns the number of levels approved so far
func (w *ApprovalWorkflow) ApprovedLevels() int {
	count := 0
	for i := range w.Chain {
		if w.Chain[i].Status == LevelApproved {
			count++
		}
	}
	return count
}

// CompletionPercentage is derived from the chain, never stored
func (w *ApprovalWorkflow) CompletionPercentage() int {
	if len(w.Chain) == 0 {
		return 0
	}
	return int(math.Round(100 * float64(w.ApprovedLevels()) / float64(len(w.Chain))))
}

// TimeRemaining returns how long the current level has until its deadline,
// clamped at zero. Terminal workflows have no time remaining.
func (w *ApprovalWorkflow) TimeRemaining(now time.Time) time.Duration {
	if w.Status != StatusPending {
		return 0
	}
	level := w.CurrentLevel()
	if level == nil || level.DeadlineAt == nil {
		return 0
	}
	remaining := level.DeadlineAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsOverdue returns true if the current level's deadline has passed
func (w *ApprovalWorkflow) IsOverdue(now time.Time) bool {
	if w.Status != StatusPending {
		return false
	}
	level := w.CurrentLevel()
	if level == nil || level.DeadlineAt == nil {
		return false
	}
	return now.After(*level.DeadlineAt)
}

// Clone returns a deep copy of the workflow. Transitions operate on clones so
// a failed update never leaves a shared snapshot half-mutated.
func (w *ApprovalWorkflow) Clone() *ApprovalWorkflow {
	cp := *w
	cp.Chain = make([]ApprovalLevel, len(w.Chain))
	copy(cp.Chain, w.Chain)
	for i := range cp.Chain {
		cp.Chain[i].ActivatedAt = copyTime(w.Chain[i].ActivatedAt)
		cp.Chain[i].DeadlineAt = copyTime(w.Chain[i].DeadlineAt)
		cp.Chain[i].DecidedAt = copyTime(w.Chain[i].DecidedAt)
	}
	cp.CompletedAt = copyTime(w.CompletedAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// WorkflowSummary is the read model exposed to the presentation layer
type WorkflowSummary struct {
	ID                   string    `json:"id"`
	SubjectID            string    `json:"subject_id"`
	Status               string    `json:"status"`
	UrgencyLevel         string    `json:"urgency_level"`
	CurrentLevelIndex    int       `json:"current_level_index"`
	CurrentRole          string    `json:"current_role,omitempty"`
	CompletionPercentage int       `json:"completion_percentage"`
	TimeRemainingMs      int64     `json:"time_remaining_ms"`
	EscalationCount      int       `json:"escalation_count"`
	CreatedAt            time.Time `json:"created_at"`
}

// NewSummary builds the summary view of a workflow at a point in time
func NewSummary(w *ApprovalWorkflow, now time.Time) WorkflowSummary {
	s := WorkflowSummary{
		ID:                   w.ID,
		SubjectID:            w.SubjectID,
		Status:               w.Status,
		UrgencyLevel:         w.UrgencyLevel,
		CurrentLevelIndex:    w.CurrentLevelIndex,
		CompletionPercentage: w.CompletionPercentage(),
		TimeRemainingMs:      w.TimeRemaining(now).Milliseconds(),
		EscalationCount:      w.EscalationCount,
		CreatedAt:            w.CreatedAt,
	}
	if level := w.CurrentLevel(); level != nil && w.Status == StatusPending {
		s.CurrentRole = level.RequiredRole
	}
	return s
}
