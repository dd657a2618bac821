package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/floorops/approval-engine/internal/models"
)

// MemoryStore is an in-process Store used by tests and single-node
// deployments that opt out of durability. Same version semantics as the
// sqlite store.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*models.ApprovalWorkflow
	history   map[string][]*models.ApprovalHistory
	nextHist  int64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows: make(map[string]*models.ApprovalWorkflow),
		history:   make(map[string][]*models.ApprovalHistory),
	}
}

// Create persists a new workflow at version 1
func (s *MemoryStore) Create(ctx context.Context, w *models.ApprovalWorkflow, history ...*models.ApprovalHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[w.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, w.ID)
	}

	w.Version = 1
	s.workflows[w.ID] = w.Clone()
	s.appendHistory(w.ID, history)
	return nil
}

func (s *MemoryStore) appendHistory(workflowID string, entries []*models.ApprovalHistory) {
	for _, h := range entries {
		s.nextHist++
		entry := *h
		entry.ID = s.nextHist
		s.history[workflowID] = append(s.history[workflowID], &entry)
	}
}

// GetByID returns a copy of the workflow or ErrNotFound
func (s *MemoryStore) GetByID(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return w.Clone(), nil
}

// Update applies the aggregate if the version still matches
func (s *MemoryStore) Update(ctx context.Context, w *models.ApprovalWorkflow, expectedVersion int64, history ...*models.ApprovalHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.workflows[w.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, w.ID)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: %s expected %d, have %d", ErrVersionConflict, w.ID, expectedVersion, current.Version)
	}

	stored := w.Clone()
	stored.Version = expectedVersion + 1
	s.workflows[w.ID] = stored
	w.Version = stored.Version

	s.appendHistory(w.ID, history)
	return nil
}

// ListPending returns pending workflows matching the filter
func (s *MemoryStore) ListPending(ctx context.Context, filter PendingFilter) ([]*models.ApprovalWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.ApprovalWorkflow
	for _, w := range s.workflows {
		if w.Status != models.StatusPending {
			continue
		}
		if filter.Urgency != "" && w.UrgencyLevel != filter.Urgency {
			continue
		}
		if filter.DeadlineBefore != nil {
			level := w.CurrentLevel()
			if level == nil || level.DeadlineAt == nil || !level.DeadlineAt.Before(*filter.DeadlineBefore) {
				continue
			}
		}
		result = append(result, w.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// ListWindow returns workflows created or completed within [from, to]
func (s *MemoryStore) ListWindow(ctx context.Context, from, to time.Time) ([]*models.ApprovalWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.ApprovalWorkflow
	for _, w := range s.workflows {
		createdIn := !w.CreatedAt.Before(from) && !w.CreatedAt.After(to)
		completedIn := w.CompletedAt != nil && !w.CompletedAt.Before(from) && !w.CompletedAt.After(to)
		if !createdIn && !completedIn {
			continue
		}
		result = append(result, w.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// HistoryFor returns the audit trail for a workflow, oldest first
func (s *MemoryStore) HistoryFor(ctx context.Context, workflowID string) ([]*models.ApprovalHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[workflowID]
	result := make([]*models.ApprovalHistory, len(entries))
	for i, h := range entries {
		entry := *h
		result[i] = &entry
	}
	return result, nil
}
