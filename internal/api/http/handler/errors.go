package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zedops/warden/internal/agents"
	"github.com/zedops/warden/internal/console"
	"github.com/zedops/warden/internal/orchestrate"
	"github.com/zedops/warden/internal/rbac"
	"github.com/zedops/warden/internal/rcon"
	"github.com/zedops/warden/internal/relay"
	"github.com/zedops/warden/internal/servers"
	"github.com/zedops/warden/internal/users"
)

// respondError maps domain errors onto HTTP statuses. Unrecognized errors are
// logged and masked as 500.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, servers.ErrValidation),
		errors.Is(err, rbac.ErrInvalidAssignment),
		errors.Is(err, orchestrate.ErrNotRebuildable):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, servers.ErrServerNotFound),
		errors.Is(err, agents.ErrAgentNotFound),
		errors.Is(err, agents.ErrKeyNotFound),
		errors.Is(err, users.ErrUserNotFound),
		errors.Is(err, rbac.ErrAssignmentNotFound),
		errors.Is(err, rcon.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, servers.ErrNameConflict),
		errors.Is(err, servers.ErrPortConflict),
		errors.Is(err, users.ErrUsernameExists),
		errors.Is(err, orchestrate.ErrOperationInProgress),
		errors.Is(err, console.ErrNoContainer),
		errors.Is(err, agents.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, agents.ErrKeyExpired),
		errors.Is(err, agents.ErrKeyExhausted):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, relay.ErrAgentUnavailable),
		errors.Is(err, rcon.ErrServerNotReady):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, relay.ErrReplyTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrate.ErrMigrationVerifyFailed),
		errors.Is(err, orchestrate.ErrAgentError):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		slog.Error("Unhandled request error", "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
