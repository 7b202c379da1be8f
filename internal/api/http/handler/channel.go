package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/zedops/warden/internal/agents"
	"github.com/zedops/warden/internal/relay"
)

const (
	agentIDHeader  = "X-Agent-ID"
	agentKeyHeader = "X-Agent-Key"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Agents authenticate with their channel credential, not an Origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ChannelHandler upgrades authenticated agents onto their persistent relay
// channel and pumps it until the socket dies.
type ChannelHandler struct {
	hub    *relay.Hub
	agents *agents.Service
}

func NewChannelHandler(hub *relay.Hub, agentService *agents.Service) *ChannelHandler {
	return &ChannelHandler{hub: hub, agents: agentService}
}

func (h *ChannelHandler) Connect(c *gin.Context) {
	agentID := c.GetHeader(agentIDHeader)
	key := c.GetHeader(agentKeyHeader)
	if agentID == "" || key == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing agent credentials"})
		return
	}

	if err := h.agents.VerifyKey(c.Request.Context(), agentID, key); err != nil {
		slog.Warn("Agent channel auth failed", "agent_id", agentID, "client_ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid agent credentials"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("Websocket upgrade failed", "agent_id", agentID, "error", err)
		return
	}

	logID, err := h.agents.LogConnect(c.Request.Context(), agentID, time.Now())
	if err != nil {
		slog.Warn("Connection log write failed", "agent_id", agentID, "error", err)
	}

	ch := h.hub.Register(agentID, conn)
	slog.Info("Agent channel established", "agent_id", agentID, "client_ip", c.ClientIP())

	serveErr := h.hub.Serve(ch)

	reason := "connection closed"
	if serveErr != nil {
		reason = serveErr.Error()
	}
	h.hub.Deregister(agentID, reason)
	_ = conn.Close()

	// The request context is dead once the socket drops; the log write gets
	// its own.
	if logID != "" {
		if err := h.agents.LogDisconnect(context.Background(), logID, time.Now(), reason); err != nil {
			slog.Warn("Connection log close failed", "agent_id", agentID, "error", err)
		}
	}
}
