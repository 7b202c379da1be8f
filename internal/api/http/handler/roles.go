package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zedops/warden/internal/api/http/dto"
	"github.com/zedops/warden/internal/rbac"
)

type RoleHandler struct {
	rbac *rbac.Service
}

func NewRoleHandler(rbacService *rbac.Service) *RoleHandler {
	return &RoleHandler{rbac: rbacService}
}

func (h *RoleHandler) Grant(c *gin.Context) {
	var req dto.GrantRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := h.rbac.Grant(c.Request.Context(), rbac.Assignment{
		UserID:     req.UserID,
		Role:       rbac.Role(req.Role),
		Scope:      rbac.Scope(req.Scope),
		ResourceID: req.ResourceID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *RoleHandler) Revoke(c *gin.Context) {
	if err := h.rbac.Revoke(c.Request.Context(), c.Param("assignment_id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoleHandler) ListForUser(c *gin.Context) {
	assignments, err := h.rbac.ListByUser(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assignments": assignments})
}

// Effective reports the caller's own permission on a resource, for UI gating.
func (h *RoleHandler) Effective(c *gin.Context) {
	resType := rbac.ResourceType(c.Query("resource_type"))
	if resType != rbac.ResourceAgent && resType != rbac.ResourceServer {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resource_type must be agent or server"})
		return
	}

	perm, err := h.rbac.EffectivePermission(c.Request.Context(), c.GetString("user_id"), resType, c.Query("resource_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, perm)
}
