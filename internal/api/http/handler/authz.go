package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zedops/warden/internal/rbac"
)

// Authz checks scoped permissions inside handlers, after JWTAuth has
// populated the user context. System admins pass every check.
type Authz struct {
	rbac *rbac.Service
}

func NewAuthz(rbacService *rbac.Service) *Authz {
	return &Authz{rbac: rbacService}
}

type capability func(rbac.Permission) bool

func canView(p rbac.Permission) bool    { return p.View }
func canControl(p rbac.Permission) bool { return p.Control }
func canDelete(p rbac.Permission) bool  { return p.Delete }

// allow resolves the caller's effective permission on a resource and aborts
// with 403 when the capability is missing. Returns false when aborted.
func (a *Authz) allow(c *gin.Context, resType rbac.ResourceType, resourceID string, need capability) bool {
	userID := c.GetString("user_id")
	perm, err := a.rbac.EffectivePermission(c.Request.Context(), userID, resType, resourceID)
	if err != nil {
		respondError(c, err)
		return false
	}
	if !need(perm) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions for this resource"})
		return false
	}
	return true
}
