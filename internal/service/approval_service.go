package service

import (
	"context"
	"fmt"
	"time"

	"github.com/floorops/approval-engine/internal/engine"
	"github.com/floorops/approval-engine/internal/models"
	"github.com/floorops/approval-engine/internal/stats"
	"github.com/floorops/approval-engine/internal/store"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Decision constants accepted by ProcessApproval
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// ApprovalService is the facade consumed by the presentation layer
type ApprovalService interface {
	CreateWorkflow(ctx context.Context, rec models.BypassAuditRecord, initiatedBy string) (models.WorkflowSummary, error)
	GetWorkflow(ctx context.Context, id string) (models.WorkflowSummary, error)
	ListPendingApprovals(ctx context.Context, urgencyFilter string) ([]models.WorkflowSummary, error)
	ProcessApproval(ctx context.Context, id, decision string, actor models.Actor, notes string) (models.WorkflowSummary, error)
	EscalateApproval(ctx context.Context, id string, actor models.Actor, reason string) (models.WorkflowSummary, error)
	CancelApproval(ctx context.Context, id string, actor models.Actor) (models.WorkflowSummary, error)
	GetHistory(ctx context.Context, id string) ([]*models.ApprovalHistory, error)
	GetStatistics(ctx context.Context, from, to time.Time) (*models.AggregateStats, error)
}

type approvalServiceImpl struct {
	engine     *engine.Engine
	store      store.Store
	aggregator *stats.Aggregator
	logger     Logger
	now        func() time.Time
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(eng *engine.Engine, st store.Store, aggregator *stats.Aggregator, logger Logger) ApprovalService {
	return &approvalServiceImpl{
		engine:     eng,
		store:      st,
		aggregator: aggregator,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateWorkflow creates a workflow for a bypass audit record
func (s *approvalServiceImpl) CreateWorkflow(ctx context.Context, rec models.BypassAuditRecord, initiatedBy string) (models.WorkflowSummary, error) {
	w, err := s.engine.Create(ctx, rec, initiatedBy)
	if err != nil {
		s.logger.Error("Failed to create workflow", "error", err, "bypass_id", rec.BypassID)
		return models.WorkflowSummary{}, err
	}
	return models.NewSummary(w, s.now()), nil
}

// GetWorkflow returns the summary view of a single workflow
func (s *approvalServiceImpl) GetWorkflow(ctx context.Context, id string) (models.WorkflowSummary, error) {
	w, err := s.store.GetByID(ctx, id)
	if err != nil {
		return models.WorkflowSummary{}, err
	}
	return models.NewSummary(w, s.now()), nil
}

// ListPendingApprovals returns pending workflows, optionally filtered by
// urgency, each annotated with time remaining and completion percentage.
func (s *approvalServiceImpl) ListPendingApprovals(ctx context.Context, urgencyFilter string) ([]models.WorkflowSummary, error) {
	workflows, err := s.store.ListPending(ctx, store.PendingFilter{Urgency: urgencyFilter})
	if err != nil {
		s.logger.Error("Failed to list pending approvals", "error", err)
		return nil, err
	}

	now := s.now()
	summaries := make([]models.WorkflowSummary, 0, len(workflows))
	for _, w := range workflows {
		summaries = append(summaries, models.NewSummary(w, now))
	}
	return summaries, nil
}

// ProcessApproval applies an approve or reject decision
func (s *approvalServiceImpl) ProcessApproval(ctx context.Context, id, decision string, actor models.Actor, notes string) (models.WorkflowSummary, error) {
	var w *models.ApprovalWorkflow
	var err error

	switch decision {
	case DecisionApprove:
		w, err = s.engine.Approve(ctx, id, actor, notes)
	case DecisionReject:
		w, err = s.engine.Reject(ctx, id, actor, notes)
	default:
		return models.WorkflowSummary{}, fmt.Errorf("%w: unknown decision %q", engine.ErrValidation, decision)
	}

	if err != nil {
		s.logger.Error("Failed to process approval", "error", err, "id", id, "decision", decision)
		return models.WorkflowSummary{}, err
	}
	return models.NewSummary(w, s.now()), nil
}

// EscalateApproval manually escalates a pending workflow
func (s *approvalServiceImpl) EscalateApproval(ctx context.Context, id string, actor models.Actor, reason string) (models.WorkflowSummary, error) {
	w, err := s.engine.Escalate(ctx, id, actor, reason)
	if err != nil {
		s.logger.Error("Failed to escalate workflow", "error", err, "id", id)
		return models.WorkflowSummary{}, err
	}
	return models.NewSummary(w, s.now()), nil
}

// CancelApproval withdraws a workflow on behalf of its initiator
func (s *approvalServiceImpl) CancelApproval(ctx context.Context, id string, actor models.Actor) (models.WorkflowSummary, error) {
	w, err := s.engine.Cancel(ctx, id, actor)
	if err != nil {
		s.logger.Error("Failed to cancel workflow", "error", err, "id", id)
		return models.WorkflowSummary{}, err
	}
	return models.NewSummary(w, s.now()), nil
}

// GetHistory returns a workflow's audit trail
func (s *approvalServiceImpl) GetHistory(ctx context.Context, id string) ([]*models.ApprovalHistory, error) {
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.store.HistoryFor(ctx, id)
}

// GetStatistics aggregates workflows created within the window
func (s *approvalServiceImpl) GetStatistics(ctx context.Context, from, to time.Time) (*models.AggregateStats, error) {
	return s.aggregator.GetStatistics(ctx, from, to)
}
