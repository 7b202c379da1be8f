package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zedops/warden/internal/metrics"
)

var (
	// ErrAgentUnavailable is returned for any dispatch to an agent with no
	// live channel. Commands are never queued for offline agents.
	ErrAgentUnavailable = errors.New("agent unavailable")
)

const (
	sendChannelBuffer = 100
	sendTimeout       = 5 * time.Second
	staleTimeout      = 2 * time.Minute
	sweepInterval     = 30 * time.Second
)

// Conn is the subset of a websocket connection the hub needs. Satisfied by
// *websocket.Conn.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// AgentStatusStore persists connectivity transitions. Optional; a nil store
// keeps the hub purely in-memory.
type AgentStatusStore interface {
	MarkOnline(ctx context.Context, agentID string) error
	MarkOffline(ctx context.Context, agentID string) error
	UpdateLastSeen(ctx context.Context, agentID string, t time.Time) error
	UpdateMetrics(ctx context.Context, agentID string, metrics json.RawMessage) error
}


type AgentChannel struct {
	AgentID  string
	SendCh   chan Envelope
	LastSeen time.Time

	conn   Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Hub tracks one persistent channel per agent and relays envelopes between
// callers and agents through the Mux.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]*AgentChannel
	mux      *Mux
	sessions *SessionTable
	status   AgentStatusStore
	mtx      *metrics.Metrics
	stopCh   chan struct{}
	once     sync.Once
}

func NewHub(status AgentStatusStore, mtx *metrics.Metrics) *Hub {
	h := &Hub{
		channels: make(map[string]*AgentChannel),
		mux:      NewMux(),
		sessions: NewSessionTable(),
		status:   status,
		mtx:      mtx,
		stopCh:   make(chan struct{}),
	}
	go h.sweepStale()
	return h
}

func (h *Hub) Mux() *Mux { return h.mux }

func (h *Hub) Sessions() *SessionTable { return h.sessions }

// Register records the channel for an agent, replacing and cancelling any
// existing one, and flips the stored agent status to online.
func (h *Hub) Register(agentID string, conn Conn) *AgentChannel {
	h.mu.Lock()
	if existing, ok := h.channels[agentID]; ok {
		slog.Warn("Agent already connected, replacing channel", "agent_id", agentID)
		existing.cancel()
		delete(h.channels, agentID)
		if h.mtx != nil {
			h.mtx.ConnectedAgents.Dec()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := &AgentChannel{
		AgentID:  agentID,
		SendCh:   make(chan Envelope, sendChannelBuffer),
		LastSeen: time.Now(),
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
	}
	h.channels[agentID] = ch
	total := len(h.channels)
	h.mu.Unlock()

	if h.mtx != nil {
		h.mtx.ConnectedAgents.Inc()
	}
	h.persistStatus(agentID, true)

	slog.Info("Agent channel registered", "agent_id", agentID, "total_connections", total)
	return ch
}

// Deregister drops the agent's channel, marks it offline, and cancels every
// pending reply and session bound to it. Last-known agent state is retained
// in the store so the UI can show cached data for an offline agent.
func (h *Hub) Deregister(agentID string, reason string) {
	h.mu.Lock()
	ch, ok := h.channels[agentID]
	if ok {
		ch.cancel()
		delete(h.channels, agentID)
	}
	total := len(h.channels)
	h.mu.Unlock()

	if !ok {
		return
	}
	if h.mtx != nil {
		h.mtx.ConnectedAgents.Dec()
	}

	for _, s := range h.sessions.CloseAgent(agentID) {
		h.mux.CancelSession(s.ID)
	}
	h.persistStatus(agentID, false)

	slog.Info("Agent channel deregistered",
		"agent_id", agentID,
		"reason", reason,
		"total_connections", total)
}

func (h *Hub) Lookup(agentID string) (*AgentChannel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.channels[agentID]
	return ch, ok
}

func (h *Hub) IsConnected(agentID string) bool {
	_, ok := h.Lookup(agentID)
	return ok
}

func (h *Hub) Connected() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.channels))
	for id := range h.channels {
		ids = append(ids, id)
	}
	return ids
}

// Send queues an envelope for the agent. Fails immediately with
// ErrAgentUnavailable when no live channel exists.
func (h *Hub) Send(agentID string, env Envelope) error {
	h.mu.RLock()
	ch, ok := h.channels[agentID]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentUnavailable, agentID)
	}

	select {
	case ch.SendCh <- env:
		slog.Debug("Envelope queued", "agent_id", agentID, "subject", env.Subject)
		return nil
	case <-time.After(sendTimeout):
		return fmt.Errorf("timeout sending %s to agent %s", env.Subject, agentID)
	case <-ch.ctx.Done():
		return fmt.Errorf("%w: %s", ErrAgentUnavailable, agentID)
	}
}

// Request sends a request envelope and waits for the one reply on a generated
// inbox. The waiter always carries a deadline so a hung agent cannot leak it.
func (h *Hub) Request(ctx context.Context, agentID, subject string, data any) (Envelope, error) {
	return h.RequestSession(ctx, agentID, subject, data, "", defaultReplyTimeout)
}

// RequestTimeout is Request with an explicit reply deadline, for operations
// that legitimately outlive the default command timeout.
func (h *Hub) RequestTimeout(ctx context.Context, agentID, subject string, data any, timeout time.Duration) (Envelope, error) {
	return h.RequestSession(ctx, agentID, subject, data, "", timeout)
}

// Subscribe installs a long-lived handler on the hub's mux.
func (h *Hub) Subscribe(prefix string, handler SubscriptionHandler) int {
	return h.mux.Subscribe(prefix, handler)
}

// Unsubscribe removes a handler installed by Subscribe.
func (h *Hub) Unsubscribe(id int) {
	h.mux.Unsubscribe(id)
}

// RequestSession is Request with an owning session id (its waiter is evicted
// if the session closes) and an explicit timeout.
func (h *Hub) RequestSession(ctx context.Context, agentID, subject string, data any, sessionID string, timeout time.Duration) (Envelope, error) {
	env, err := NewEnvelope(subject, data)
	if err != nil {
		return Envelope{}, err
	}
	env.Reply = NewInbox()

	replyCh := h.mux.Await(env.Reply, timeout, sessionID)
	if err := h.Send(agentID, env); err != nil {
		h.mux.Forget(env.Reply)
		return Envelope{}, err
	}

	select {
	case reply, ok := <-replyCh:
		if !ok {
			return Envelope{}, fmt.Errorf("%s to %s: %w", subject, agentID, ErrReplyTimeout)
		}
		return reply, nil
	case <-ctx.Done():
		h.mux.Forget(env.Reply)
		return Envelope{}, ctx.Err()
	}
}

// Serve pumps the channel until it fails or is cancelled. Blocks; the caller
// owns the websocket upgrade and final close.
func (h *Hub) Serve(ch *AgentChannel) error {
	errCh := make(chan error, 2)
	done := make(chan struct{})

	go h.readLoop(ch, done, errCh)
	go h.writeLoop(ch, done, errCh)

	select {
	case err := <-errCh:
		close(done)
		return err
	case <-ch.ctx.Done():
		close(done)
		return ch.ctx.Err()
	}
}

func (h *Hub) readLoop(ch *AgentChannel, done chan struct{}, errCh chan error) {
	for {
		select {
		case <-done:
			return
		default:
			var env Envelope
			if err := ch.conn.ReadJSON(&env); err != nil {
				errCh <- err
				return
			}
			if h.mtx != nil {
				h.mtx.RelayMessages.WithLabelValues("inbound").Inc()
			}
			h.touch(ch)
			h.handleInbound(ch.AgentID, env)
		}
	}
}

// writeLoop drains SendCh onto the socket. SendCh is never closed; teardown
// is signalled through the channel context so senders cannot race a close.
func (h *Hub) writeLoop(ch *AgentChannel, done chan struct{}, errCh chan error) {
	for {
		select {
		case <-done:
			return
		case <-ch.ctx.Done():
			return
		case env := <-ch.SendCh:
			if err := ch.conn.WriteJSON(env); err != nil {
				slog.Error("Error writing to agent channel", "agent_id", ch.AgentID, "error", err)
				errCh <- err
				return
			}
			if h.mtx != nil {
				h.mtx.RelayMessages.WithLabelValues("outbound").Inc()
			}
		}
	}
}

func (h *Hub) handleInbound(agentID string, env Envelope) {
	switch env.Subject {
	case "agent.ping":
		pong, err := NewEnvelope("agent.pong", map[string]any{})
		if err == nil {
			if env.Reply != "" {
				pong.Subject = env.Reply
			}
			if err := h.Send(agentID, pong); err != nil {
				slog.Debug("Failed to answer ping", "agent_id", agentID, "error", err)
			}
		}
	case "agent.metrics":
		if h.status != nil {
			metrics := env.Data
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := h.status.UpdateMetrics(ctx, agentID, metrics); err != nil {
					slog.Debug("Failed to store agent metrics", "agent_id", agentID, "error", err)
				}
			}()
		}
	default:
		h.mux.Dispatch(agentID, env)
	}
}

func (h *Hub) touch(ch *AgentChannel) {
	now := time.Now()
	h.mu.Lock()
	ch.LastSeen = now
	h.mu.Unlock()

	if h.status != nil {
		agentID := ch.AgentID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.status.UpdateLastSeen(ctx, agentID, now); err != nil {
				slog.Debug("Failed to update last seen", "agent_id", agentID, "error", err)
			}
		}()
	}
}

func (h *Hub) persistStatus(agentID string, online bool) {
	if h.status == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var err error
		if online {
			err = h.status.MarkOnline(ctx, agentID)
		} else {
			err = h.status.MarkOffline(ctx, agentID)
		}
		if err != nil {
			slog.Error("Failed to persist agent status", "agent_id", agentID, "online", online, "error", err)
		}
	}()
}

func (h *Hub) Stop() {
	h.once.Do(func() { close(h.stopCh) })

	h.mu.Lock()
	for agentID, ch := range h.channels {
		ch.cancel()
		slog.Info("Agent channel closed on shutdown", "agent_id", agentID)
	}
	h.channels = make(map[string]*AgentChannel)
	h.mu.Unlock()

	h.mux.Stop()
}

func (h *Hub) sweepStale() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.dropStale()
		case <-h.stopCh:
			return
		}
	}
}

func (h *Hub) dropStale() {
	h.mu.RLock()
	stale := make([]string, 0)
	now := time.Now()
	for agentID, ch := range h.channels {
		if now.Sub(ch.LastSeen) > staleTimeout {
			stale = append(stale, agentID)
		}
	}
	h.mu.RUnlock()

	for _, agentID := range stale {
		slog.Warn("Dropping stale agent channel", "agent_id", agentID)
		h.Deregister(agentID, "heartbeat timeout")
	}
}
