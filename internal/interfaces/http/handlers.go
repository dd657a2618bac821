package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/floorops/approval-engine/internal/engine"
	"github.com/floorops/approval-engine/internal/models"
	"github.com/floorops/approval-engine/internal/policy"
	"github.com/floorops/approval-engine/internal/service"
	"github.com/floorops/approval-engine/internal/settlement"
	"github.com/floorops/approval-engine/internal/store"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	approvals   service.ApprovalService
	settlements *settlement.Service
	logger      Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(approvals service.ApprovalService, settlements *settlement.Service, logger Logger) *Handlers {
	return &Handlers{
		approvals:   approvals,
		settlements: settlements,
		logger:      logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// CreateWorkflowRequest is the body of POST /api/approvals
type CreateWorkflowRequest struct {
	BypassID        string  `json:"bypass_id" binding:"required"`
	ReasonCategory  string  `json:"reason_category" binding:"required"`
	FinancialImpact float64 `json:"financial_impact"`
	RiskScore       int     `json:"risk_score"`
	InitiatedBy     string  `json:"initiated_by" binding:"required"`
}

// DecisionRequest is the body of POST /api/approvals/:id/decision
type DecisionRequest struct {
	Decision  string `json:"decision" binding:"required"`
	ActorID   string `json:"actor_id" binding:"required"`
	ActorRole string `json:"actor_role" binding:"required"`
	Notes     string `json:"notes"`
}

// EscalateRequest is the body of escalation endpoints
type EscalateRequest struct {
	ActorID   string `json:"actor_id" binding:"required"`
	ActorRole string `json:"actor_role"`
	Reason    string `json:"reason"`
}

// CancelRequest is the body of POST /api/approvals/:id/cancel
type CancelRequest struct {
	ActorID string `json:"actor_id" binding:"required"`
}

// CreateSettlementRequest is the body of POST /api/settlements
type CreateSettlementRequest struct {
	SettlementID string `json:"settlement_id" binding:"required"`
	InitiatedBy  string `json:"initiated_by" binding:"required"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// CreateWorkflow handles POST /api/approvals
func (h *Handlers) CreateWorkflow(c *gin.Context) {
	var req CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	summary, err := h.approvals.CreateWorkflow(c.Request.Context(), models.BypassAuditRecord{
		BypassID:        req.BypassID,
		ReasonCategory:  req.ReasonCategory,
		FinancialImpact: req.FinancialImpact,
		RiskScore:       req.RiskScore,
	}, req.InitiatedBy)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: summary})
}

// ListPendingApprovals handles GET /api/approvals?urgency=
func (h *Handlers) ListPendingApprovals(c *gin.Context) {
	summaries, err := h.approvals.ListPendingApprovals(c.Request.Context(), c.Query("urgency"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: summaries})
}

// GetWorkflow handles GET /api/approvals/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	summary, err := h.approvals.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: summary})
}

// GetHistory handles GET /api/approvals/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	history, err := h.approvals.GetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: history})
}

// ProcessApproval handles POST /api/approvals/:id/decision
func (h *Handlers) ProcessApproval(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	actor := models.Actor{UserID: req.ActorID, Role: req.ActorRole}
	summary, err := h.approvals.ProcessApproval(c.Request.Context(), c.Param("id"), req.Decision, actor, req.Notes)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: summary})
}

// EscalateApproval handles POST /api/approvals/:id/escalate
func (h *Handlers) EscalateApproval(c *gin.Context) {
	var req EscalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	actor := models.Actor{UserID: req.ActorID, Role: req.ActorRole}
	summary, err := h.approvals.EscalateApproval(c.Request.Context(), c.Param("id"), actor, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: summary})
}

// CancelApproval handles POST /api/approvals/:id/cancel
func (h *Handlers) CancelApproval(c *gin.Context) {
	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	summary, err := h.approvals.CancelApproval(c.Request.Context(), c.Param("id"), models.Actor{UserID: req.ActorID})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: summary})
}

// GetStatistics handles GET /api/statistics?from=&to= (RFC3339 timestamps;
// defaults to the trailing 24 hours)
func (h *Handlers) GetStatistics(c *gin.Context) {
	to := time.Now()
	from := to.Add(-24 * time.Hour)

	if v := c.Query("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid 'from' timestamp"})
			return
		}
		from = parsed
	}
	if v := c.Query("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid 'to' timestamp"})
			return
		}
		to = parsed
	}

	stats, err := h.approvals.GetStatistics(c.Request.Context(), from, to)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: stats})
}

// CreateSettlement handles POST /api/settlements
func (h *Handlers) CreateSettlement(c *gin.Context) {
	var req CreateSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	w, err := h.settlements.Create(c.Request.Context(), req.SettlementID, req.InitiatedBy)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: models.NewSummary(w, time.Now())})
}

// GetSettlement handles GET /api/settlements/:id
func (h *Handlers) GetSettlement(c *gin.Context) {
	summary, err := h.settlements.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: summary})
}

// EscalateSettlement handles POST /api/settlements/:id/escalate
func (h *Handlers) EscalateSettlement(c *gin.Context) {
	var req EscalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	actor := models.Actor{UserID: req.ActorID, Role: req.ActorRole}
	summary, err := h.settlements.Escalate(c.Request.Context(), c.Param("id"), actor, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: summary})
}

// ResolveSettlement handles POST /api/settlements/:id/resolve
func (h *Handlers) ResolveSettlement(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	actor := models.Actor{UserID: req.ActorID, Role: req.ActorRole}
	summary, err := h.settlements.Resolve(c.Request.Context(), c.Param("id"), actor, req.Notes)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: summary})
}

// writeError maps the engine's error taxonomy onto HTTP status codes
func (h *Handlers) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrRoleMismatch), errors.Is(err, engine.ErrNotInitiator):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrAlreadyDecided),
		errors.Is(err, engine.ErrWorkflowNotPending),
		errors.Is(err, engine.ErrCancelTooLate),
		errors.Is(err, engine.ErrDeadlinePassed),
		errors.Is(err, store.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrValidation), errors.Is(err, policy.ErrPolicy):
		status = http.StatusBadRequest
	case errors.Is(err, policy.ErrNoFurtherEscalation):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "error", err)
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}
