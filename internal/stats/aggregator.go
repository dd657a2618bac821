// Package stats computes read-only workflow statistics over a time window.
package stats

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/floorops/approval-engine/internal/models"
	"github.com/floorops/approval-engine/internal/store"
)

// Aggregator computes counts and duration metrics from a store snapshot
type Aggregator struct {
	store  store.Store
	logger *zap.Logger
}

// NewAggregator creates a statistics aggregator
func NewAggregator(st store.Store, logger *zap.Logger) *Aggregator {
	return &Aggregator{store: st, logger: logger}
}

// GetStatistics aggregates workflows over the [from, to] window.
//
// Counts and AverageResponseTime cover workflows created in the window.
// AverageTotalDuration is the mean creation-to-terminal duration across
// workflows that reached a terminal state in the window, including long-lived
// ones created before it.
func (a *Aggregator) GetStatistics(ctx context.Context, from, to time.Time) (*models.AggregateStats, error) {
	workflows, err := a.store.ListWindow(ctx, from, to)
	if err != nil {
		a.logger.Error("Failed to list workflows for statistics", zap.Error(err))
		return nil, err
	}

	stats := &models.AggregateStats{}

	var responseTotal time.Duration
	var responseCount int
	var durationTotal time.Duration
	var durationCount int

	for _, w := range workflows {
		createdIn := !w.CreatedAt.Before(from) && !w.CreatedAt.After(to)
		completedIn := w.CompletedAt != nil && !w.CompletedAt.Before(from) && !w.CompletedAt.After(to)

		if createdIn {
			stats.TotalWorkflows++
			switch w.Status {
			case models.StatusCompleted:
				stats.ApprovedWorkflows++
			case models.StatusRejected:
				stats.RejectedWorkflows++
			case models.StatusExpired:
				stats.ExpiredWorkflows++
			}
			if w.EscalationCount > 0 {
				stats.EscalatedCount++
			}

			for i := range w.Chain {
				level := &w.Chain[i]
				if level.DecidedAt != nil && level.ActivatedAt != nil {
					responseTotal += level.DecidedAt.Sub(*level.ActivatedAt)
					responseCount++
				}
			}
		}

		if completedIn && models.IsTerminalStatus(w.Status) {
			durationTotal += w.CompletedAt.Sub(w.CreatedAt)
			durationCount++
		}
	}

	if responseCount > 0 {
		stats.AverageResponseTime = responseTotal / time.Duration(responseCount)
	}
	if durationCount > 0 {
		stats.AverageTotalDuration = durationTotal / time.Duration(durationCount)
	}
	return stats, nil
}
