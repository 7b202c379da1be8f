package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zedops/warden/internal/agents"
	"github.com/zedops/warden/internal/api/http/dto"
	"github.com/zedops/warden/internal/rbac"
	"github.com/zedops/warden/internal/reconcile"
)

type AgentSyncer interface {
	SyncAgent(ctx context.Context, agentID string) (reconcile.Result, error)
}

type AgentHandler struct {
	agents     *agents.Service
	reconciler AgentSyncer
	authz      *Authz
}

func NewAgentHandler(agentService *agents.Service, reconciler AgentSyncer, authz *Authz) *AgentHandler {
	return &AgentHandler{agents: agentService, reconciler: reconciler, authz: authz}
}

func agentResponse(a agents.Agent) dto.AgentResponse {
	resp := dto.AgentResponse{
		ID:       a.ID,
		Name:     a.Name,
		Status:   a.Status,
		Metadata: a.Metadata,
		Created:  a.CreatedAt.Format(time.RFC3339),
	}
	if a.LastSeenAt != nil {
		resp.LastSeen = a.LastSeenAt.Format(time.RFC3339)
	}
	return resp
}

func (h *AgentHandler) List(c *gin.Context) {
	list, err := h.agents.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]dto.AgentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, agentResponse(a))
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

func (h *AgentHandler) Get(c *gin.Context) {
	agentID := c.Param("agent_id")
	if !h.authz.allow(c, rbac.ResourceAgent, agentID, canView) {
		return
	}

	a, err := h.agents.GetByID(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentResponse(*a))
}

func (h *AgentHandler) CreateEnrollKey(c *gin.Context) {
	var req dto.CreateEnrollKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	expiresIn := time.Duration(req.ExpiresInMins) * time.Minute
	if expiresIn <= 0 {
		expiresIn = 24 * time.Hour
	}

	key, plaintext, err := h.agents.CreateEnrollKey(c.Request.Context(), c.GetString("user_id"), req.AgentName, expiresIn)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.CreateEnrollKeyResponse{
		ID:        key.ID,
		Key:       plaintext,
		AgentName: key.AgentName,
		ExpiresAt: key.ExpiresAt.Format(time.RFC3339),
	})
}

// Enroll redeems an install key. Called by the agent installer itself, before
// any channel credential exists, so it sits outside the JWT boundary.
func (h *AgentHandler) Enroll(c *gin.Context) {
	var req dto.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.agents.Redeem(c.Request.Context(), req.Key)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.EnrollResponse{
		AgentID:  result.AgentID,
		AgentKey: result.AgentKey,
	})
}

func (h *AgentHandler) RevokeEnrollKey(c *gin.Context) {
	if err := h.agents.RevokeEnrollKey(c.Request.Context(), c.Param("key_id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AgentHandler) CancelPending(c *gin.Context) {
	if err := h.agents.CancelPending(c.Request.Context(), c.Param("agent_id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AgentHandler) ConnectionHistory(c *gin.Context) {
	agentID := c.Param("agent_id")
	if !h.authz.allow(c, rbac.ResourceAgent, agentID, canView) {
		return
	}

	logs, err := h.agents.ConnectionHistory(c.Request.Context(), agentID, 50)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]dto.ConnectionLogResponse, len(logs))
	for i, l := range logs {
		out[i] = dto.ConnectionLogResponse{
			ConnectedAt:      l.ConnectedAt.Format(time.RFC3339),
			DisconnectReason: l.DisconnectReason,
		}
		if l.DisconnectedAt != nil {
			out[i].DisconnectedAt = l.DisconnectedAt.Format(time.RFC3339)
		}
	}
	c.JSON(http.StatusOK, gin.H{"connections": out})
}

// Sync triggers a reconciliation pass for one agent and reports the result.
func (h *AgentHandler) Sync(c *gin.Context) {
	agentID := c.Param("agent_id")
	if !h.authz.allow(c, rbac.ResourceAgent, agentID, canControl) {
		return
	}

	result, err := h.reconciler.SyncAgent(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
