package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zedops/warden/internal/api/http/dto"
	"github.com/zedops/warden/internal/rbac"
	"github.com/zedops/warden/internal/rcon"
)

type RCONHandler struct {
	broker *rcon.Broker
	authz  *Authz
}

func NewRCONHandler(broker *rcon.Broker, authz *Authz) *RCONHandler {
	return &RCONHandler{broker: broker, authz: authz}
}

func (h *RCONHandler) Connect(c *gin.Context) {
	var req dto.RCONConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.authz.allow(c, rbac.ResourceServer, req.ServerID, canControl) {
		return
	}

	sessionID, err := h.broker.Connect(c.Request.Context(), req.ServerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RCONConnectResponse{SessionID: sessionID})
}

func (h *RCONHandler) Command(c *gin.Context) {
	var req dto.RCONCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response, err := h.broker.Command(c.Request.Context(), c.Param("session_id"), req.Command)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RCONCommandResponse{Response: response})
}

func (h *RCONHandler) Disconnect(c *gin.Context) {
	if err := h.broker.Disconnect(c.Request.Context(), c.Param("session_id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
