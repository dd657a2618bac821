package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/floorops/approval-engine/internal/models"
	"github.com/floorops/approval-engine/pkg/database"
)

// SQLiteStore is the durable Store implementation. The chain is stored as a
// JSON column; the version column carries the optimistic-concurrency check.
type SQLiteStore struct {
	db     *database.DB
	logger *zap.Logger
}

// NewSQLiteStore creates a sqlite-backed workflow store
func NewSQLiteStore(db *database.DB, logger *zap.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger}
}

const workflowColumns = `id, subject_id, category, initiated_by, status, urgency_level,
	current_level_index, escalation_count, chain, version, created_at, last_updated_at, completed_at`

// Create persists a new workflow at version 1
func (s *SQLiteStore) Create(ctx context.Context, w *models.ApprovalWorkflow, history ...*models.ApprovalHistory) error {
	chainJSON, err := json.Marshal(w.Chain)
	if err != nil {
		return fmt.Errorf("failed to marshal chain: %w", err)
	}

	w.Version = 1
	err = s.db.WithTransaction(func(tx *sql.Tx) error {
		query := `
			INSERT INTO approval_workflows (` + workflowColumns + `, current_deadline_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.Exec(query,
			w.ID,
			w.SubjectID,
			w.Category,
			w.InitiatedBy,
			w.Status,
			w.UrgencyLevel,
			w.CurrentLevelIndex,
			w.EscalationCount,
			string(chainJSON),
			w.Version,
			w.CreatedAt,
			w.LastUpdatedAt,
			nullTime(w.CompletedAt),
			nullTime(currentDeadline(w)),
		)
		if err != nil {
			return fmt.Errorf("failed to insert workflow: %w", err)
		}

		for _, h := range history {
			if err := insertHistory(tx, h); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create workflow", zap.String("id", w.ID), zap.Error(err))
		return err
	}
	return nil
}

// GetByID returns the workflow or ErrNotFound
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM approval_workflows WHERE id = ?`

	w, err := s.scanWorkflow(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		s.logger.Error("Failed to get workflow", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return w, nil
}

// Update writes the aggregate guarded by the version check. The version
// predicate in the WHERE clause makes concurrent writers lose cleanly:
// RowsAffected 0 with an existing row means someone else won the version.
func (s *SQLiteStore) Update(ctx context.Context, w *models.ApprovalWorkflow, expectedVersion int64, history ...*models.ApprovalHistory) error {
	chainJSON, err := json.Marshal(w.Chain)
	if err != nil {
		return fmt.Errorf("failed to marshal chain: %w", err)
	}

	newVersion := expectedVersion + 1
	err = s.db.WithTransaction(func(tx *sql.Tx) error {
		query := `
			UPDATE approval_workflows
			SET status = ?, urgency_level = ?, current_level_index = ?,
				escalation_count = ?, chain = ?, version = ?,
				last_updated_at = ?, completed_at = ?, current_deadline_at = ?
			WHERE id = ? AND version = ?
		`
		result, err := tx.Exec(query,
			w.Status,
			w.UrgencyLevel,
			w.CurrentLevelIndex,
			w.EscalationCount,
			string(chainJSON),
			newVersion,
			w.LastUpdatedAt,
			nullTime(w.CompletedAt),
			nullTime(currentDeadline(w)),
			w.ID,
			expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to update workflow: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected == 0 {
			var exists int
			if err := tx.QueryRow("SELECT COUNT(1) FROM approval_workflows WHERE id = ?", w.ID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check workflow existence: %w", err)
			}
			if exists == 0 {
				return fmt.Errorf("%w: %s", ErrNotFound, w.ID)
			}
			return fmt.Errorf("%w: %s at version %d", ErrVersionConflict, w.ID, expectedVersion)
		}

		for _, h := range history {
			if err := insertHistory(tx, h); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.Version = newVersion
	return nil
}

// ListPending returns pending workflows matching the filter, oldest first.
// The deadline predicate runs in SQL against the mirrored current_deadline_at
// column, so the limit applies to overdue rows only; an overdue workflow can
// never hide behind a page of fresh ones.
func (s *SQLiteStore) ListPending(ctx context.Context, filter PendingFilter) ([]*models.ApprovalWorkflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM approval_workflows WHERE status = ?`
	args := []interface{}{models.StatusPending}

	if filter.Urgency != "" {
		query += ` AND urgency_level = ?`
		args = append(args, filter.Urgency)
	}
	if filter.DeadlineBefore != nil {
		query += ` AND current_deadline_at IS NOT NULL AND current_deadline_at < ?`
		args = append(args, *filter.DeadlineBefore)
	}
	query += ` ORDER BY created_at ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	return s.queryWorkflows(ctx, query, args...)
}

// ListWindow returns workflows created or completed within [from, to]
func (s *SQLiteStore) ListWindow(ctx context.Context, from, to time.Time) ([]*models.ApprovalWorkflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM approval_workflows
		WHERE (created_at >= ? AND created_at <= ?)
			OR (completed_at IS NOT NULL AND completed_at >= ? AND completed_at <= ?)
		ORDER BY created_at ASC`
	return s.queryWorkflows(ctx, query, from, to, from, to)
}

// HistoryFor returns the audit trail for a workflow, oldest first
func (s *SQLiteStore) HistoryFor(ctx context.Context, workflowID string) ([]*models.ApprovalHistory, error) {
	query := `
		SELECT id, workflow_id, previous_status, new_status, action_type,
			actor_user_id, actor_role, level_number, notes, timestamp
		FROM approval_history
		WHERE workflow_id = ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		s.logger.Error("Failed to query history", zap.String("workflow_id", workflowID), zap.Error(err))
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []*models.ApprovalHistory
	for rows.Next() {
		var h models.ApprovalHistory
		if err := rows.Scan(
			&h.ID,
			&h.WorkflowID,
			&h.PreviousStatus,
			&h.NewStatus,
			&h.ActionType,
			&h.ActorUserID,
			&h.ActorRole,
			&h.LevelNumber,
			&h.Notes,
			&h.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, &h)
	}
	return entries, rows.Err()
}

func insertHistory(tx *sql.Tx, h *models.ApprovalHistory) error {
	query := `
		INSERT INTO approval_history (
			workflow_id, previous_status, new_status, action_type,
			actor_user_id, actor_role, level_number, notes, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.Exec(query,
		h.WorkflowID,
		h.PreviousStatus,
		h.NewStatus,
		h.ActionType,
		h.ActorUserID,
		h.ActorRole,
		h.LevelNumber,
		h.Notes,
		h.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get history id: %w", err)
	}
	h.ID = id
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLiteStore) scanWorkflow(row rowScanner) (*models.ApprovalWorkflow, error) {
	var w models.ApprovalWorkflow
	var chainJSON string
	var completedAt sql.NullTime

	err := row.Scan(
		&w.ID,
		&w.SubjectID,
		&w.Category,
		&w.InitiatedBy,
		&w.Status,
		&w.UrgencyLevel,
		&w.CurrentLevelIndex,
		&w.EscalationCount,
		&chainJSON,
		&w.Version,
		&w.CreatedAt,
		&w.LastUpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(chainJSON), &w.Chain); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chain: %w", err)
	}
	if completedAt.Valid {
		w.CompletedAt = &completedAt.Time
	}
	return &w, nil
}

func (s *SQLiteStore) queryWorkflows(ctx context.Context, query string, args ...interface{}) ([]*models.ApprovalWorkflow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Failed to query workflows", zap.Error(err))
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.ApprovalWorkflow
	for rows.Next() {
		w, err := s.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

// currentDeadline is the pending level's deadline, mirrored into its own
// column on every write so sweep queries can filter and limit in SQL.
func currentDeadline(w *models.ApprovalWorkflow) *time.Time {
	if w.Status != models.StatusPending {
		return nil
	}
	level := w.CurrentLevel()
	if level == nil {
		return nil
	}
	return level.DeadlineAt
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
