package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/floorops/approval-engine/internal/models"
	"github.com/floorops/approval-engine/internal/policy"
	"github.com/floorops/approval-engine/internal/store"
)

func newTestEngine(t *testing.T, st store.Store, cfg Config) *Engine {
	t.Helper()
	chains := policy.NewChainPolicy(policy.DefaultConfig())
	return New(st, chains, policy.NewReassignEscalation(chains), cfg, zap.NewNop())
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestCreate_CriticalRiskChain(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	now := time.Now()
	eng := newTestEngine(t, st, DefaultConfig()).WithClock(fixedClock(now))

	w, err := eng.Create(ctx, models.BypassAuditRecord{
		BypassID:        "bypass-42",
		ReasonCategory:  "limit-bypass",
		FinancialImpact: 25000,
		RiskScore:       85,
	}, "floor-operator-1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, w.Status)
	assert.Equal(t, models.UrgencyCritical, w.UrgencyLevel)
	require.Len(t, w.Chain, 3)
	assert.Equal(t, policy.RoleShiftSupervisor, w.Chain[0].RequiredRole)
	assert.Equal(t, policy.RoleGeneralManager, w.Chain[1].RequiredRole)
	assert.Equal(t, policy.RoleRegionalDirector, w.Chain[2].RequiredRole)

	assert.Equal(t, models.LevelPending, w.Chain[0].Status)
	require.NotNil(t, w.Chain[0].DeadlineAt)
	assert.Equal(t, now.Add(30*time.Minute), *w.Chain[0].DeadlineAt)
	assert.Equal(t, models.LevelNotReached, w.Chain[1].Status)
	assert.Equal(t, models.LevelNotReached, w.Chain[2].Status)

	history, err := st.HistoryFor(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ActionCreate, history[0].ActionType)
}

func TestCreate_InvalidRiskScore(t *testing.T) {
	st := store.NewMemoryStore()
	eng := newTestEngine(t, st, DefaultConfig())

	_, err := eng.Create(context.Background(), models.BypassAuditRecord{
		BypassID:  "bypass-1",
		RiskScore: 120,
	}, "op")
	assert.ErrorIs(t, err, policy.ErrPolicy)
}

func TestApprove_AdvancesLevel(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	now := time.Now()
	eng := newTestEngine(t, st, DefaultConfig()).WithClock(fixedClock(now))

	w, err := eng.Create(ctx, models.BypassAuditRecord{
		BypassID: "bypass-1", ReasonCategory: "limit-bypass", RiskScore: 85,
	}, "op")
	require.NoError(t, err)

	actor := models.Actor{UserID: "sup-1", Role: policy.RoleShiftSupervisor}
	updated, err := eng.Approve(ctx, w.ID, actor, "reviewed and cleared")
	require.NoError(t, err)

	assert.Equal(t, 1, updated.CurrentLevelIndex)
	assert.Equal(t, 33, updated.CompletionPercentage())
	assert.Equal(t, models.LevelApproved, updated.Chain[0].Status)
	assert.Equal(t, "sup-1", updated.Chain[0].DecidedBy)

	next := updated.CurrentLevel()
	require.NotNil(t, next)
	assert.Equal(t, models.LevelPending, next.Status)
	require.NotNil(t, next.DeadlineAt)
	assert.True(t, next.DeadlineAt.After(now), "new deadline must be strictly after now")
}

func TestApprove_FinalLevelCompletes(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	eng := newTestEngine(t, st, DefaultConfig())

	// Risk 10 yields a single-level chain
	w, err := eng.Create(ctx, models.BypassAuditRecord{
		BypassID: "bypass-1", ReasonCategory: "limit-bypass", RiskScore: 10,
	}, "op")
	require.NoError(t, err)

	actor := models.Actor{UserID: "sup-1", Role: policy.RoleShiftSupervisor}
	updated, err := eng.Approve(ctx, w.ID, actor, "all clear")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, updated.Status)
	assert.Equal(t, 100, updated.CompletionPercentage())
	require.NotNil(t, updated.CompletedAt)
}

func TestResolve_CompletesMidChain(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	eng := newTestEngine(t, st, DefaultConfig())

	// Risk 85 yields a three-level chain
	w, err := eng.Create(ctx, models.BypassAuditRecord{
		BypassID: "bypass-1", ReasonCategory: "limit-bypass", RiskScore: 85,
	}, "op")
	require.NoError(t, err)

	actor := models.Actor{UserID: "sup-1", Role: policy.RoleShiftSupervisor}
	updated, err := eng.Resolve(ctx, w.ID, actor, "closed at first level")
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, updated.Status)
	assert.Equal(t, models.LevelApproved, updated.Chain[0].Status)
	assert.Equal(t, models.LevelNotReached, updated.Chain[1].Status)
	assert.Equal(t, models.LevelNotReached, updated.Chain[2].Status)
	require.NotNil(t, updated.CompletedAt)
}

func TestReject_ShortCircuits(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	eng := newTestEngine(t, st, DefaultConfig())

	// Risk 45 yields a two-level chain
	w, err := eng.Create(ctx, models.BypassAuditRecord{
		BypassID: "bypass-1", ReasonCategory: "limit-bypass", RiskScore: 45,
	}, "op")
	require.NoError(t, err)

	actor := models.Actor{UserID: "sup-1", Role: policy.RoleShiftSupervisor}
	updated, err := eng.Reject(ctx, w.ID, actor, "suspicious pattern")
	require.NoError(t, err)

	assert.Equal(t, models.StatusRejected, updated.Status)
	assert.Equal(t, 0, updated.CompletionPercentage())
	assert.Equal(t, models.LevelRejected, updated.Chain[0].Status)
	assert.Equal(t, models.LevelNotReached, updated.Chain[1].Status)

	// Terminal: no further decisions
	_, err = eng.Approve(ctx, w.ID, models.Actor{UserID: "fm-1", Role: policy.RoleFloorManager}, "late approval")
	assert.ErrorIs(t, err, ErrWorkflowNotPending)
}

func TestApprove_Guards(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	eng := newTestEngine(t, st, DefaultConfig())

	w, err := eng.Create(ctx, models.BypassAuditRecord{
		BypassID: "bypass-1", ReasonCategory: "limit-bypass", RiskScore: 45,
	}, "op")
	require.NoError(t, err)

	t.Run("role mismatch", func(t *testing.T) {
		_, err := eng.Approve(ctx, w.ID, models.Actor{UserID: "gm-1", Role: policy.RoleGeneralManager}, "wrong role")
		assert.ErrorIs(t, err, ErrRoleMismatch)
	})

	t.Run("notes too short", func(t *testing.T) {
		_, err := eng.Approve(ctx, w.ID, models.Actor{UserID: "sup-1", Role: policy.RoleShiftSupervisor}, "ok")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unknown workflow", func(t *testing.T) {
		_, err := eng.Approve(ctx, "missing", models.Actor{UserID: "sup-1", Role: policy.RoleShiftSupervisor}, "valid notes")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestApprove_LateDecision(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	actor := models.Actor{UserID: "sup-1", Role: policy.RoleShiftSupervisor}

	t.Run("rejected by default", func(t *testing.T) {
		st := store.NewMemoryStore()
		eng := newTestEngine(t, st, DefaultConfig()).WithClock(fixedClock(now))
		w, err := eng.Create(ctx, models.BypassAuditRecord{
			BypassID: "bypass-1", ReasonCategory: "limit-bypass", RiskScore: 10,
		}, "op")
		require.NoError(t, err)

		eng.WithClock(fixedClock(now.Add(5 * time.Hour)))
		_, err = eng.Approve(ctx, w.ID, actor, "too late")
		assert.ErrorIs(t, err, ErrDeadlinePassed)
	})

	t.Run("accepted when configured", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.AcceptLateDecisions = true
		st := store.NewMemoryStore()
		eng := newTestEngine(t, st, cfg).WithClock(fixedClock(now))
		w, err := eng.Create(ctx, models.BypassAuditRecord{
			BypassID: "bypass-1", ReasonCategory: "limit-bypass", RiskScore: 10,
		}, "op")
		require.NoError(t, err)

		eng.WithClock(fixedClock(now.Add(5 * time.Hour)))
		updated, err := eng.Approve(ctx, w.ID, actor, "late but honored")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, updated.Status)
	})
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	eng := newTestEngine(t, st, DefaultConfig())

	w, err := eng.Create(ctx, models.BypassAuditRecord{
		BypassID: "bypass-1", ReasonCategory: "limit-bypass", RiskScore: 45,
	}, "op")
	require.NoError(t, err)

	t.Run("non-initiator forbidden", func(t *testing.T) {
		_, err := eng.Cancel(ctx, w.ID, models.Actor{UserID: "someone-else"})
		assert.ErrorIs(t, err, ErrNotInitiator)
	})

	t.Run("initiator cancels at first level", func(t *testing.T) {
		updated, err := eng.Cancel(ctx, w.ID, models.Actor{UserID: "op"})
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, updated.Status)
	})

	t.Run("too late after first decision", func(t *testing.T) {
		w2, err := eng.Create(ctx, models.BypassAuditRecord{
			BypassID: "bypass-2", ReasonCategory: "limit-bypass", RiskScore: 45,
		}, "op")
		require.NoError(t, err)

		_, err = eng.Approve(ctx, w2.ID, models.Actor{UserID: "sup-1", Role: policy.RoleShiftSupervisor}, "level one done")
		require.NoError(t, err)

		_, err = eng.Cancel(ctx, w2.ID, models.Actor{UserID: "op"})
		assert.ErrorIs(t, err, ErrCancelTooLate)
	})
}

func TestEscalate_ReassignsRole(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	now := time.Now()
	eng := newTestEngine(t, st, DefaultConfig()).WithClock(fixedClock(now))

	w, err := eng.Create(ctx, models.BypassAuditRecord{
		BypassID: "bypass-1", ReasonCategory: "limit-bypass", RiskScore: 10,
	}, "op")
	require.NoError(t, err)

	later := now.Add(10 * time.Minute)
	eng.WithClock(fixedClock(later))

	updated, err := eng.Escalate(ctx, w.ID, models.Actor{UserID: "sup-1", Role: policy.RoleShiftSupervisor}, "needs senior review")
	require.NoError(t, err)

	level := updated.CurrentLevel()
	require.NotNil(t, level)
	assert.Equal(t, policy.RoleFloorManager, level.RequiredRole)
	assert.Equal(t, models.LevelPending, level.Status)
	assert.Equal(t, 0, updated.CurrentLevelIndex, "reassign must not move the level pointer")
	assert.Equal(t, 1, updated.EscalationCount)
	require.NotNil(t, level.DeadlineAt)
	assert.Equal(t, later.Add(4*time.Hour), *level.DeadlineAt, "deadline resets on escalation")
}

func TestEscalate_TopOfLadder(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	eng := newTestEngine(t, st, DefaultConfig())

	w, err := eng.Create(ctx, models.BypassAuditRecord{
		BypassID: "bypass-1", ReasonCategory: "limit-bypass", RiskScore: 10,
	}, "op")
	require.NoError(t, err)

	actor := models.Actor{UserID: "sup-1", Role: policy.RoleShiftSupervisor}
	for i := 0; i < 3; i++ {
		_, err = eng.Escalate(ctx, w.ID, actor, "push it up")
		require.NoError(t, err)
	}

	_, err = eng.Escalate(ctx, w.ID, actor, "one rung too far")
	assert.ErrorIs(t, err, policy.ErrNoFurtherEscalation)

	current, err := eng.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, current.EscalationCount)
	assert.Equal(t, policy.RoleRegionalDirector, current.CurrentLevel().RequiredRole)
}

func TestApprove_ConcurrentApprovesOneWinner(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	eng := newTestEngine(t, st, DefaultConfig())

	w, err := eng.Create(ctx, models.BypassAuditRecord{
		BypassID: "bypass-1", ReasonCategory: "limit-bypass", RiskScore: 10,
	}, "op")
	require.NoError(t, err)

	actor := models.Actor{UserID: "sup-1", Role: policy.RoleShiftSupervisor}
	const approvers = 2
	var wg sync.WaitGroup
	errs := make(chan error, approvers)

	for i := 0; i < approvers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Approve(ctx, w.ID, actor, "both raced for this")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		// The loser either re-reads a completed workflow or exhausts its
		// retries on the conflict
		ok := errors.Is(err, ErrWorkflowNotPending) ||
			errors.Is(err, ErrAlreadyDecided) ||
			errors.Is(err, store.ErrVersionConflict)
		assert.True(t, ok, "unexpected loser error: %v", err)
	}
	assert.Equal(t, 1, wins)

	final, err := eng.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.EqualValues(t, 2, final.Version, "exactly one decision landed")

	history, err := st.HistoryFor(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, history, 2, "the losing approve must not append history")
}

// flakyStore forces version conflicts for the first N updates
type flakyStore struct {
	*store.MemoryStore
	conflicts int
}

func (f *flakyStore) Update(ctx context.Context, w *models.ApprovalWorkflow, expectedVersion int64, history ...*models.ApprovalHistory) error {
	if f.conflicts > 0 {
		f.conflicts--
		return store.ErrVersionConflict
	}
	return f.MemoryStore.Update(ctx, w, expectedVersion, history...)
}

func TestMutate_RetriesOnVersionConflict(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{MemoryStore: store.NewMemoryStore(), conflicts: 2}
	eng := newTestEngine(t, st, DefaultConfig())

	w, err := eng.Create(ctx, models.BypassAuditRecord{
		BypassID: "bypass-1", ReasonCategory: "limit-bypass", RiskScore: 10,
	}, "op")
	require.NoError(t, err)

	updated, err := eng.Approve(ctx, w.ID, models.Actor{UserID: "sup-1", Role: policy.RoleShiftSupervisor}, "approved after retries")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, updated.Status)
}

func TestMutate_ExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{MemoryStore: store.NewMemoryStore(), conflicts: 10}
	eng := newTestEngine(t, st, DefaultConfig())

	w, err := eng.Create(ctx, models.BypassAuditRecord{
		BypassID: "bypass-1", ReasonCategory: "limit-bypass", RiskScore: 10,
	}, "op")
	require.NoError(t, err)

	_, err = eng.Approve(ctx, w.ID, models.Actor{UserID: "sup-1", Role: policy.RoleShiftSupervisor}, "never lands")
	assert.ErrorIs(t, err, store.ErrVersionConflict)
}
