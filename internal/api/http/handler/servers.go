package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zedops/warden/internal/api/http/dto"
	"github.com/zedops/warden/internal/orchestrate"
	"github.com/zedops/warden/internal/rbac"
	"github.com/zedops/warden/internal/servers"
)

type ServerHandler struct {
	orch  *orchestrate.Orchestrator
	store *servers.Store
	authz *Authz
}

func NewServerHandler(orch *orchestrate.Orchestrator, store *servers.Store, authz *Authz) *ServerHandler {
	return &ServerHandler{orch: orch, store: store, authz: authz}
}

func (h *ServerHandler) List(c *gin.Context) {
	agentID := c.Query("agent_id")
	if agentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agent_id query parameter is required"})
		return
	}
	if !h.authz.allow(c, rbac.ResourceAgent, agentID, canView) {
		return
	}

	var (
		list []servers.Server
		err  error
	)
	if c.Query("deleted") == "true" {
		list, err = h.store.ListDeletedByAgent(c.Request.Context(), agentID)
	} else {
		list, err = h.store.ListByAgent(c.Request.Context(), agentID)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"servers": list})
}

func (h *ServerHandler) Get(c *gin.Context) {
	serverID := c.Param("server_id")
	if !h.authz.allow(c, rbac.ResourceServer, serverID, canView) {
		return
	}

	srv, err := h.store.Get(c.Request.Context(), serverID)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{"server": srv}
	if op, ok := h.orch.InFlight(srv.ID); ok {
		resp["operationInProgress"] = op
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ServerHandler) Create(c *gin.Context) {
	var req dto.CreateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.authz.allow(c, rbac.ResourceAgent, req.AgentID, canControl) {
		return
	}

	srv, err := h.orch.CreateServer(c.Request.Context(), servers.CreateRequest{
		AgentID:        req.AgentID,
		Name:           req.Name,
		Config:         req.Config,
		Image:          req.Image,
		ImageTag:       req.ImageTag,
		GamePort:       req.GamePort,
		UDPPort:        req.UDPPort,
		RCONPort:       req.RCONPort,
		ServerDataPath: req.ServerDataPath,
	})
	if err != nil {
		// A failed materialization still has a record worth returning.
		if srv != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "server": srv})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, srv)
}

func (h *ServerHandler) Adopt(c *gin.Context) {
	var req dto.AdoptServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.authz.allow(c, rbac.ResourceAgent, req.AgentID, canControl) {
		return
	}

	srv, err := h.orch.Adopt(c.Request.Context(), orchestrate.AdoptRequest{
		AgentID:     req.AgentID,
		ContainerID: req.ContainerID,
		Name:        req.Name,
		Config:      req.Config,
		Image:       req.Image,
		ImageTag:    req.ImageTag,
		GamePort:    req.GamePort,
		UDPPort:     req.UDPPort,
		RCONPort:    req.RCONPort,
	})
	if err != nil {
		if srv != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "server": srv})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, srv)
}

func (h *ServerHandler) control(c *gin.Context, op func(string) error) {
	serverID := c.Param("server_id")
	if !h.authz.allow(c, rbac.ResourceServer, serverID, canControl) {
		return
	}

	if err := op(serverID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.OperationResponse{Success: true})
}

func (h *ServerHandler) Start(c *gin.Context) {
	h.control(c, func(id string) error { return h.orch.Start(c.Request.Context(), id) })
}

func (h *ServerHandler) Stop(c *gin.Context) {
	h.control(c, func(id string) error { return h.orch.Stop(c.Request.Context(), id) })
}

func (h *ServerHandler) Restart(c *gin.Context) {
	h.control(c, func(id string) error { return h.orch.Restart(c.Request.Context(), id) })
}

func (h *ServerHandler) Rebuild(c *gin.Context) {
	h.control(c, func(id string) error { return h.orch.Rebuild(c.Request.Context(), id) })
}

func (h *ServerHandler) Delete(c *gin.Context) {
	serverID := c.Param("server_id")
	if !h.authz.allow(c, rbac.ResourceServer, serverID, canDelete) {
		return
	}

	if err := h.orch.Delete(c.Request.Context(), serverID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.OperationResponse{Success: true, Message: "server deleted, data preserved"})
}

func (h *ServerHandler) Restore(c *gin.Context) {
	serverID := c.Param("server_id")
	if !h.authz.allow(c, rbac.ResourceServer, serverID, canControl) {
		return
	}

	srv, err := h.orch.RestoreServer(c.Request.Context(), serverID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, srv)
}

func (h *ServerHandler) Purge(c *gin.Context) {
	serverID := c.Param("server_id")
	if !h.authz.allow(c, rbac.ResourceServer, serverID, canDelete) {
		return
	}

	var req dto.PurgeRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.orch.Purge(c.Request.Context(), serverID, req.DeleteData); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.OperationResponse{Success: true, Message: "server purged"})
}

func (h *ServerHandler) UpdateConfig(c *gin.Context) {
	serverID := c.Param("server_id")
	if !h.authz.allow(c, rbac.ResourceServer, serverID, canControl) {
		return
	}

	var req dto.UpdateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	srv, change, err := h.orch.UpdateConfig(c.Request.Context(), serverID, servers.ConfigUpdate{
		Config:         req.Config,
		ImageTag:       req.ImageTag,
		ServerDataPath: req.ServerDataPath,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"server":          srv,
		"pendingRestart":  change.PendingRestart,
		"dataPathChanged": change.DataPathChanged,
		"imageTagChanged": change.ImageTagChanged,
	})
}

func (h *ServerHandler) ApplyConfig(c *gin.Context) {
	serverID := c.Param("server_id")
	if !h.authz.allow(c, rbac.ResourceServer, serverID, canControl) {
		return
	}

	var req dto.ApplyConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.orch.ApplyConfig(c.Request.Context(), serverID, req.OldDataPath); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.OperationResponse{Success: true})
}

// CleanupFailed bulk-removes an agent's failed servers. Per-item errors come
// back in the body; the batch itself always succeeds.
func (h *ServerHandler) CleanupFailed(c *gin.Context) {
	agentID := c.Param("agent_id")
	if !h.authz.allow(c, rbac.ResourceAgent, agentID, canDelete) {
		return
	}

	result, err := h.orch.CleanupFailed(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Progress streams operation progress for a server as server-sent events
// until a terminal phase or client disconnect.
func (h *ServerHandler) Progress(c *gin.Context) {
	serverID := c.Param("server_id")
	if !h.authz.allow(c, rbac.ResourceServer, serverID, canView) {
		return
	}
	srv, err := h.store.Get(c.Request.Context(), serverID)
	if err != nil {
		respondError(c, err)
		return
	}

	watch, cancel := h.orch.Watch(srv.Name)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case p, ok := <-watch:
			if !ok {
				return false
			}
			c.SSEvent("progress", p)
			return !p.Terminal()
		case <-c.Request.Context().Done():
			return false
		}
	})
}
