package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zedops/warden/internal/api/http/dto"
	"github.com/zedops/warden/internal/orchestrate"
	"github.com/zedops/warden/internal/rbac"
)

type BackupHandler struct {
	orch  *orchestrate.Orchestrator
	authz *Authz
}

func NewBackupHandler(orch *orchestrate.Orchestrator, authz *Authz) *BackupHandler {
	return &BackupHandler{orch: orch, authz: authz}
}

func (h *BackupHandler) List(c *gin.Context) {
	serverID := c.Param("server_id")
	if !h.authz.allow(c, rbac.ResourceServer, serverID, canView) {
		return
	}

	backups, err := h.orch.ListBackups(c.Request.Context(), serverID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"backups": backups})
}

func (h *BackupHandler) Create(c *gin.Context) {
	serverID := c.Param("server_id")
	if !h.authz.allow(c, rbac.ResourceServer, serverID, canControl) {
		return
	}

	b, err := h.orch.CreateBackup(c.Request.Context(), serverID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *BackupHandler) Restore(c *gin.Context) {
	serverID := c.Param("server_id")
	if !h.authz.allow(c, rbac.ResourceServer, serverID, canControl) {
		return
	}

	var req dto.RestoreBackupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.orch.RestoreBackup(c.Request.Context(), serverID, req.BackupID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.OperationResponse{Success: true, Message: "backup restored"})
}
