// Package settlement exposes the settlement escalation flow: numeric levels
// 0-5 with no role ladder, expressed as a degenerate approval chain driven by
// the same chain policy and decision engine as the bypass flow.
package settlement

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/floorops/approval-engine/internal/engine"
	"github.com/floorops/approval-engine/internal/models"
	"github.com/floorops/approval-engine/internal/policy"
	"github.com/floorops/approval-engine/internal/store"
)

// CategorySettlement tags settlement workflows in the shared store
const CategorySettlement = "settlement"

// DefaultMaxLevel is the top settlement escalation level
const DefaultMaxLevel = 5

// Service manages settlement escalations
type Service struct {
	engine   *engine.Engine
	chains   *policy.ChainPolicy
	maxLevel int
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates the settlement service. Escalation advances the level
// pointer instead of reassigning roles, so the engine is configured with the
// advance policy.
func NewService(st store.Store, chains *policy.ChainPolicy, cfg engine.Config, maxLevel int, logger *zap.Logger) *Service {
	if maxLevel <= 0 {
		maxLevel = DefaultMaxLevel
	}
	eng := engine.New(st, chains, policy.NewAdvanceEscalation(), cfg, logger)
	return &Service{
		engine:   eng,
		chains:   chains,
		maxLevel: maxLevel,
		logger:   logger,
		now:      time.Now,
	}
}

// Create opens a settlement escalation at level 0
func (s *Service) Create(ctx context.Context, settlementID, initiatedBy string) (*models.ApprovalWorkflow, error) {
	chain, urgency, err := s.chains.BuildSettlementChain(s.maxLevel)
	if err != nil {
		return nil, err
	}
	return s.engine.CreateFromChain(ctx, settlementID, CategorySettlement, initiatedBy, chain, urgency)
}

// Escalate raises the settlement one level. Fails with
// policy.ErrNoFurtherEscalation past the top level.
func (s *Service) Escalate(ctx context.Context, id string, actor models.Actor, reason string) (models.WorkflowSummary, error) {
	w, err := s.engine.Escalate(ctx, id, actor, reason)
	if err != nil {
		return models.WorkflowSummary{}, err
	}
	return models.NewSummary(w, s.now()), nil
}

// Resolve closes the escalation once the operator signs off, at whatever
// level it has reached. Skipped levels stay NOT_REACHED.
func (s *Service) Resolve(ctx context.Context, id string, actor models.Actor, notes string) (models.WorkflowSummary, error) {
	w, err := s.engine.Resolve(ctx, id, actor, notes)
	if err != nil {
		return models.WorkflowSummary{}, err
	}
	return models.NewSummary(w, s.now()), nil
}

// Get returns a settlement workflow summary; Level reports the 0-based
// escalation level (CurrentLevelIndex of the degenerate chain).
func (s *Service) Get(ctx context.Context, id string) (models.WorkflowSummary, error) {
	w, err := s.engine.Get(ctx, id)
	if err != nil {
		return models.WorkflowSummary{}, err
	}
	return models.NewSummary(w, s.now()), nil
}
