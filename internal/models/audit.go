package models

import "time"

// BypassAuditRecord is the input handed over by the bypass-execution
// subsystem when a risk-flagged request needs authorization.
type BypassAuditRecord struct {
	BypassID        string  `json:"bypass_id"`
	ReasonCategory  string  `json:"reason_category"`
	FinancialImpact float64 `json:"financial_impact"`
	RiskScore       int     `json:"risk_score"`
}

// Action type constants for history entries
const (
	ActionCreate   = "CREATE"
	ActionApprove  = "APPROVE"
	ActionReject   = "REJECT"
	ActionCancel   = "CANCEL"
	ActionEscalate = "ESCALATE"
	ActionExpire   = "EXPIRE"
)

// ApprovalHistory is one audit entry for a workflow transition
type ApprovalHistory struct {
	ID             int64     `json:"id"`
	WorkflowID     string    `json:"workflow_id"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	ActionType     string    `json:"action_type"`
	ActorUserID    string    `json:"actor_user_id,omitempty"`
	ActorRole      string    `json:"actor_role,omitempty"`
	LevelNumber    int       `json:"level_number"`
	Notes          string    `json:"notes,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// AggregateStats holds workflow counts and duration metrics over a window
type AggregateStats struct {
	TotalWorkflows       int           `json:"total_workflows"`
	ApprovedWorkflows    int           `json:"approved_workflows"`
	RejectedWorkflows    int           `json:"rejected_workflows"`
	ExpiredWorkflows     int           `json:"expired_workflows"`
	EscalatedCount       int           `json:"escalated_count"`
	AverageResponseTime  time.Duration `json:"average_response_time"`
	AverageTotalDuration time.Duration `json:"average_total_duration"`
}
