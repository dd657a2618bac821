// Package store provides durable keyed storage for approval workflows with
// optimistic-concurrency updates. The version check is the engine's sole
// concurrency-control mechanism: no locks are held across a read-modify-write.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/floorops/approval-engine/internal/models"
)

var (
	// ErrNotFound is returned for an unknown workflow id
	ErrNotFound = errors.New("workflow not found")

	// ErrVersionConflict is returned when Update's expected version does not
	// match the stored version; callers reload and retry.
	ErrVersionConflict = errors.New("workflow version conflict")

	// ErrDuplicateID is returned when Create is called with an existing id
	ErrDuplicateID = errors.New("workflow id already exists")
)

// PendingFilter narrows ListPending results
type PendingFilter struct {
	Urgency        string     // empty = all urgency levels
	DeadlineBefore *time.Time // only workflows whose current level deadline is before this instant
	Limit          int        // 0 = no limit
}

// Store is the workflow persistence contract
type Store interface {
	// Create persists a new workflow at version 1, together with its
	// creation history entries
	Create(ctx context.Context, w *models.ApprovalWorkflow, history ...*models.ApprovalHistory) error

	// GetByID returns the workflow or ErrNotFound
	GetByID(ctx context.Context, id string) (*models.ApprovalWorkflow, error)

	// Update writes the full aggregate if the stored version still equals
	// expectedVersion, bumping the version by one; otherwise
	// ErrVersionConflict. History entries, if any, are written atomically
	// with the aggregate.
	Update(ctx context.Context, w *models.ApprovalWorkflow, expectedVersion int64, history ...*models.ApprovalHistory) error

	// ListPending returns workflows with status PENDING matching the filter
	ListPending(ctx context.Context, filter PendingFilter) ([]*models.ApprovalWorkflow, error)

	// ListWindow returns workflows created or completed within [from, to]
	// for statistics
	ListWindow(ctx context.Context, from, to time.Time) ([]*models.ApprovalWorkflow, error)

	// HistoryFor returns a workflow's audit trail, oldest first
	HistoryFor(ctx context.Context, workflowID string) ([]*models.ApprovalHistory, error)
}
