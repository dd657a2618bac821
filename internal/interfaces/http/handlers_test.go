package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/floorops/approval-engine/internal/engine"
	"github.com/floorops/approval-engine/internal/policy"
	"github.com/floorops/approval-engine/internal/service"
	"github.com/floorops/approval-engine/internal/settlement"
	"github.com/floorops/approval-engine/internal/stats"
	"github.com/floorops/approval-engine/internal/store"
)

type testLogger struct{}

func (testLogger) Info(msg string, keysAndValues ...interface{})  {}
func (testLogger) Error(msg string, keysAndValues ...interface{}) {}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	st := store.NewMemoryStore()
	chains := policy.NewChainPolicy(policy.DefaultConfig())
	eng := engine.New(st, chains, policy.NewReassignEscalation(chains), engine.DefaultConfig(), zap.NewNop())
	agg := stats.NewAggregator(st, zap.NewNop())
	approvals := service.NewApprovalService(eng, st, agg, testLogger{})
	settlements := settlement.NewService(st, chains, engine.DefaultConfig(), settlement.DefaultMaxLevel, zap.NewNop())

	server := NewServer(DefaultServerConfig(), approvals, settlements, testLogger{})
	return server.Router()
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func createApproval(t *testing.T, router *gin.Engine, riskScore int) string {
	t.Helper()
	rec, resp := doJSON(t, router, http.MethodPost, "/api/approvals", gin.H{
		"bypass_id":       "bypass-1",
		"reason_category": "limit-bypass",
		"risk_score":      riskScore,
		"initiated_by":    "op-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	data := resp.Data.(map[string]interface{})
	return data["id"].(string)
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(t)

	rec, resp := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}

func TestCreateWorkflow(t *testing.T) {
	router := newTestRouter(t)

	rec, resp := doJSON(t, router, http.MethodPost, "/api/approvals", gin.H{
		"bypass_id":       "bypass-1",
		"reason_category": "limit-bypass",
		"risk_score":      85,
		"initiated_by":    "op-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "PENDING", data["status"])
	assert.Equal(t, "critical", data["urgency_level"])
	assert.Equal(t, "shift-supervisor", data["current_role"])
}

func TestCreateWorkflow_BadRequest(t *testing.T) {
	router := newTestRouter(t)

	// Missing required fields
	rec, _ := doJSON(t, router, http.MethodPost, "/api/approvals", gin.H{"bypass_id": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Out-of-range risk score
	rec, _ = doJSON(t, router, http.MethodPost, "/api/approvals", gin.H{
		"bypass_id":       "bypass-1",
		"reason_category": "limit-bypass",
		"risk_score":      200,
		"initiated_by":    "op-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessApproval_Lifecycle(t *testing.T) {
	router := newTestRouter(t)
	id := createApproval(t, router, 50)

	rec, resp := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/approvals/%s/decision", id), gin.H{
		"decision":   "approve",
		"actor_id":   "sup-1",
		"actor_role": "shift-supervisor",
		"notes":      "numbers check out",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "floor-manager", data["current_role"])
	assert.EqualValues(t, 50, data["completion_percentage"])

	// History carries both the create and the approve
	rec, resp = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/approvals/%s/history", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data.([]interface{}), 2)
}

func TestProcessApproval_ErrorMapping(t *testing.T) {
	router := newTestRouter(t)
	id := createApproval(t, router, 50)

	tests := []struct {
		name       string
		path       string
		body       gin.H
		wantStatus int
	}{
		{
			name: "role mismatch is forbidden",
			path: fmt.Sprintf("/api/approvals/%s/decision", id),
			body: gin.H{
				"decision": "approve", "actor_id": "gm-1",
				"actor_role": "general-manager", "notes": "valid notes",
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name: "short notes are a validation error",
			path: fmt.Sprintf("/api/approvals/%s/decision", id),
			body: gin.H{
				"decision": "approve", "actor_id": "sup-1",
				"actor_role": "shift-supervisor", "notes": "ok",
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "unknown workflow is not found",
			path: "/api/approvals/missing/decision",
			body: gin.H{
				"decision": "approve", "actor_id": "sup-1",
				"actor_role": "shift-supervisor", "notes": "valid notes",
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name: "cancel by non-initiator is forbidden",
			path: fmt.Sprintf("/api/approvals/%s/cancel", id),
			body: gin.H{
				"actor_id": "someone-else",
			},
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := doJSON(t, router, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestProcessApproval_DecidedLevelConflicts(t *testing.T) {
	router := newTestRouter(t)
	id := createApproval(t, router, 10) // single level

	body := gin.H{
		"decision": "approve", "actor_id": "sup-1",
		"actor_role": "shift-supervisor", "notes": "numbers check out",
	}
	rec, _ := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/approvals/%s/decision", id), body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/approvals/%s/decision", id), body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListPendingApprovals(t *testing.T) {
	router := newTestRouter(t)
	createApproval(t, router, 10)
	createApproval(t, router, 90)

	rec, resp := doJSON(t, router, http.MethodGet, "/api/approvals", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data.([]interface{}), 2)

	rec, resp = doJSON(t, router, http.MethodGet, "/api/approvals?urgency=critical", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data.([]interface{}), 1)
}

func TestGetStatistics(t *testing.T) {
	router := newTestRouter(t)
	createApproval(t, router, 10)

	rec, resp := doJSON(t, router, http.MethodGet, "/api/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.EqualValues(t, 1, data["total_workflows"])

	rec, _ = doJSON(t, router, http.MethodGet, "/api/statistics?from=not-a-time", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettlementEndpoints(t *testing.T) {
	router := newTestRouter(t)

	rec, resp := doJSON(t, router, http.MethodPost, "/api/settlements", gin.H{
		"settlement_id": "stl-1",
		"initiated_by":  "cashier-3",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := resp.Data.(map[string]interface{})["id"].(string)

	rec, resp = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/settlements/%s/escalate", id), gin.H{
		"actor_id":   "op-9",
		"actor_role": "settlement-operator",
		"reason":     "no response",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, resp.Data.(map[string]interface{})["current_level_index"])

	rec, resp = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/settlements/%s/resolve", id), gin.H{
		"decision":   "approve",
		"actor_id":   "op-9",
		"actor_role": "settlement-operator",
		"notes":      "settled in full",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "COMPLETED", resp.Data.(map[string]interface{})["status"])

	rec, _ = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/settlements/%s", id), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEscalateSettlement_PastTopLevel(t *testing.T) {
	router := newTestRouter(t)

	rec, resp := doJSON(t, router, http.MethodPost, "/api/settlements", gin.H{
		"settlement_id": "stl-1",
		"initiated_by":  "cashier-3",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := resp.Data.(map[string]interface{})["id"].(string)

	body := gin.H{"actor_id": "op-9", "actor_role": "settlement-operator", "reason": "still open"}
	for i := 0; i < settlement.DefaultMaxLevel; i++ {
		rec, _ := doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/settlements/%s/escalate", id), body)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, _ = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/settlements/%s/escalate", id), body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
