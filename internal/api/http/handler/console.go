package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zedops/warden/internal/console"
	"github.com/zedops/warden/internal/rbac"
)

type ConsoleHandler struct {
	streamer *console.Streamer
	authz    *Authz
}

func NewConsoleHandler(streamer *console.Streamer, authz *Authz) *ConsoleHandler {
	return &ConsoleHandler{streamer: streamer, authz: authz}
}

func (h *ConsoleHandler) History(c *gin.Context) {
	serverID := c.Param("server_id")
	if !h.authz.allow(c, rbac.ResourceServer, serverID, canView) {
		return
	}

	tail, _ := strconv.Atoi(c.Query("tail"))
	lines, err := h.streamer.History(c.Request.Context(), serverID, tail)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}

func (h *ConsoleHandler) Stream(c *gin.Context) {
	serverID := c.Param("server_id")
	if !h.authz.allow(c, rbac.ResourceServer, serverID, canView) {
		return
	}

	lines, stop, err := h.streamer.Follow(c.Request.Context(), serverID)
	if err != nil {
		respondError(c, err)
		return
	}
	defer stop()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case line, ok := <-lines:
			if !ok {
				return false
			}
			c.SSEvent("log", line)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
