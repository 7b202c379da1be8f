package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zedops/warden/internal/relay"
	"github.com/zedops/warden/internal/servers"
)

var ErrNoContainer = errors.New("server has no container to read logs from")

const (
	historyTimeout = 30 * time.Second
	defaultTail    = 100
	maxTail        = 1000
	lineBuffer     = 256
)

type Channel interface {
	Request(ctx context.Context, agentID, subject string, data any) (relay.Envelope, error)
	Subscribe(prefix string, handler relay.SubscriptionHandler) int
	Unsubscribe(id int)
}

type ServerGetter interface {
	Get(ctx context.Context, id string) (*servers.Server, error)
}

// Line is one console log entry as reported by the agent's Docker log reader.
type Line struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    string    `json:"stream"`
	Text      string    `json:"text"`
}

// Streamer serves game-server console output: bounded history reads and live
// follow sessions relayed from the hosting agent.
type Streamer struct {
	hub      Channel
	registry ServerGetter
	sessions *relay.SessionTable
}

func NewStreamer(hub Channel, registry ServerGetter, sessions *relay.SessionTable) *Streamer {
	return &Streamer{hub: hub, registry: registry, sessions: sessions}
}

// History returns the last tail lines of the server's console. tail is
// clamped to [1, 1000]; zero means the default of 100.
func (s *Streamer) History(ctx context.Context, serverID string, tail int) ([]Line, error) {
	srv, err := s.registry.Get(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if srv.ContainerID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoContainer, srv.Name)
	}

	if tail <= 0 {
		tail = defaultTail
	}
	if tail > maxTail {
		tail = maxTail
	}

	reply, err := s.hub.Request(ctx, srv.AgentID, "log.history", map[string]any{
		"containerId": srv.ContainerID,
		"tail":        tail,
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
		Lines   []Line `json:"lines"`
	}
	if err := reply.Decode(&result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("log history %s: %s", srv.Name, result.Error)
	}
	return result.Lines, nil
}

// Follow opens a live log session: the agent starts pushing log.line.<id>
// envelopes, which are decoded onto the returned channel. The stop func tears
// down the subscription, the session row and the agent-side follower; after
// stop the channel is closed.
func (s *Streamer) Follow(ctx context.Context, serverID string) (<-chan Line, func(), error) {
	srv, err := s.registry.Get(ctx, serverID)
	if err != nil {
		return nil, nil, err
	}
	if srv.ContainerID == "" {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoContainer, srv.Name)
	}

	session := s.sessions.Create(relay.SessionLog, srv.AgentID, srv.ContainerID)

	reply, err := s.hub.Request(ctx, srv.AgentID, "log.subscribe", map[string]any{
		"containerId": srv.ContainerID,
		"sessionId":   session.ID,
	})
	if err != nil {
		s.sessions.Close(session.ID)
		return nil, nil, err
	}
	var ack struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
	if err := reply.Decode(&ack); err != nil {
		s.sessions.Close(session.ID)
		return nil, nil, err
	}
	if !ack.Success {
		s.sessions.Close(session.ID)
		return nil, nil, fmt.Errorf("log subscribe %s: %s", srv.Name, ack.Error)
	}

	lines := make(chan Line, lineBuffer)
	subID := s.hub.Subscribe("log.line."+session.ID, func(agentID string, env relay.Envelope) {
		var line Line
		if err := env.Decode(&line); err != nil {
			slog.Warn("Undecodable log line dropped", "session_id", session.ID, "error", err)
			return
		}
		select {
		case lines <- line:
		default:
			// A stalled reader sheds lines rather than stalling the hub.
		}
	})

	var stopped bool
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		s.hub.Unsubscribe(subID)
		s.sessions.Close(session.ID)
		close(lines)
		_, err := s.hub.Request(context.Background(), srv.AgentID, "log.unsubscribe", map[string]any{
			"sessionId": session.ID,
		})
		if err != nil {
			slog.Warn("Log unsubscribe not acknowledged", "session_id", session.ID, "error", err)
		}
	}

	slog.Info("Log follow session opened", "server", srv.Name, "session_id", session.ID)
	return lines, stop, nil
}
