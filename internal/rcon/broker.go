package rcon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"

	"github.com/zedops/warden/internal/relay"
	"github.com/zedops/warden/internal/servers"
)

var (
	ErrSessionNotFound = errors.New("rcon session not found")
	ErrServerNotReady  = errors.New("server is not running")
)

const (
	connectAttempts = 5
	commandTimeout  = 30 * time.Second

	// The RCON credential lives in the server's env-var config blob.
	passwordKey = "RCON_PASSWORD"
)

type Requester interface {
	Request(ctx context.Context, agentID, subject string, data any) (relay.Envelope, error)
	RequestSession(ctx context.Context, agentID, subject string, data any, sessionID string, timeout time.Duration) (relay.Envelope, error)
}

type ServerGetter interface {
	Get(ctx context.Context, id string) (*servers.Server, error)
}

// Broker relays RCON conversations between API callers and the agent that
// hosts the game server. One broker session maps to one agent-side RCON
// connection; commands within a session are replied to in submission order.
type Broker struct {
	hub      Requester
	registry ServerGetter
	sessions *relay.SessionTable
}

func NewBroker(hub Requester, registry ServerGetter, sessions *relay.SessionTable) *Broker {
	return &Broker{hub: hub, registry: registry, sessions: sessions}
}

type connectReply struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// connectionRefused matches the agent-side dial error of a game server whose
// RCON listener is not up yet, typically mid-restart.
func connectionRefused(err error) bool {
	return err != nil && strings.Contains(err.Error(), "connection refused")
}

// Connect opens an RCON session to a running server. Connection-refused
// failures are retried with exponential backoff since they usually mean the
// server is still booting; every other failure is terminal.
func (b *Broker) Connect(ctx context.Context, serverID string) (string, error) {
	srv, err := b.registry.Get(ctx, serverID)
	if err != nil {
		return "", err
	}
	if srv.Status != servers.StatusRunning {
		return "", fmt.Errorf("%w: %s is %s", ErrServerNotReady, srv.Name, srv.Status)
	}
	password := srv.Config[passwordKey]
	if password == "" {
		return "", fmt.Errorf("%w: config of %s has no %s", servers.ErrValidation, srv.Name, passwordKey)
	}

	var agentSession string
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(connectAttempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(connectionRefused),
	)
	err = r.Do(func() error {
		reply, reqErr := b.hub.Request(ctx, srv.AgentID, "rcon.connect", map[string]any{
			"serverId":    srv.ID,
			"containerId": srv.ContainerID,
			"port":        srv.RCONPort,
			"password":    password,
		})
		if reqErr != nil {
			return reqErr
		}
		var result connectReply
		if decErr := reply.Decode(&result); decErr != nil {
			return decErr
		}
		if !result.Success {
			return fmt.Errorf("rcon connect %s: %s", srv.Name, result.Error)
		}
		agentSession = result.SessionID
		return nil
	})
	if err != nil {
		return "", err
	}

	s := b.sessions.Create(relay.SessionRCON, srv.AgentID, agentSession)
	slog.Info("RCON session opened", "server", srv.Name, "session_id", s.ID)
	return s.ID, nil
}

// Command runs one RCON command in an open session and returns the server's
// textual response.
func (b *Broker) Command(ctx context.Context, sessionID, command string) (string, error) {
	s, ok := b.sessions.Get(sessionID)
	if !ok {
		return "", ErrSessionNotFound
	}

	reply, err := b.hub.RequestSession(ctx, s.AgentID, "rcon.command", map[string]any{
		"sessionId": s.CorrelationID,
		"command":   command,
	}, s.ID, commandTimeout)
	if err != nil {
		return "", err
	}

	var result struct {
		Success  bool   `json:"success"`
		Error    string `json:"error,omitempty"`
		Response string `json:"response"`
	}
	if err := reply.Decode(&result); err != nil {
		return "", err
	}
	if !result.Success {
		return "", fmt.Errorf("rcon command: %s", result.Error)
	}
	return result.Response, nil
}

// Disconnect closes a session on both ends. The agent-side teardown is best
// effort; the local session is gone either way.
func (b *Broker) Disconnect(ctx context.Context, sessionID string) error {
	s, ok := b.sessions.Close(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	_, err := b.hub.Request(ctx, s.AgentID, "rcon.disconnect", map[string]any{
		"sessionId": s.CorrelationID,
	})
	if err != nil {
		slog.Warn("RCON disconnect not acknowledged", "session_id", sessionID, "error", err)
	}
	return nil
}
