package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zedops/warden/internal/metrics"
)

// fakeConn is an in-memory Conn: inbound envelopes are fed through recvCh,
// writes are captured for inspection.
type fakeConn struct {
	mu     sync.Mutex
	recvCh chan Envelope
	sent   []Envelope
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{recvCh: make(chan Envelope, 16)}
}

func (c *fakeConn) ReadJSON(v any) error {
	env, ok := <-c.recvCh
	if !ok {
		return errors.New("connection closed")
	}
	*(v.(*Envelope)) = env
	return nil
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	c.sent = append(c.sent, v.(Envelope))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.recvCh)
	}
	return nil
}

func (c *fakeConn) sentEnvelopes() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, len(c.sent))
	copy(out, c.sent)
	return out
}

type fakeStatusStore struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (s *fakeStatusStore) MarkOnline(_ context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = append(s.online, agentID)
	return nil
}

func (s *fakeStatusStore) MarkOffline(_ context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = append(s.offline, agentID)
	return nil
}

func (s *fakeStatusStore) UpdateLastSeen(context.Context, string, time.Time) error { return nil }

func (s *fakeStatusStore) UpdateMetrics(context.Context, string, json.RawMessage) error { return nil }

func TestHub_RegisterLookup(t *testing.T) {
	h := NewHub(nil, nil)
	defer h.Stop()

	conn := newFakeConn()
	ch := h.Register("agent-1", conn)
	require.NotNil(t, ch)
	assert.Equal(t, "agent-1", ch.AgentID)

	got, ok := h.Lookup("agent-1")
	require.True(t, ok)
	assert.Same(t, ch, got)
	assert.True(t, h.IsConnected("agent-1"))
	assert.ElementsMatch(t, []string{"agent-1"}, h.Connected())
}

func TestHub_SendToUnknownAgent(t *testing.T) {
	h := NewHub(nil, nil)
	defer h.Stop()

	env, err := NewEnvelope("server.start", nil)
	require.NoError(t, err)

	err = h.Send("agent-x", env)
	assert.ErrorIs(t, err, ErrAgentUnavailable)
}

func TestHub_RequestToOfflineAgentFailsImmediately(t *testing.T) {
	h := NewHub(nil, nil)
	defer h.Stop()

	start := time.Now()
	_, err := h.Request(context.Background(), "agent-x", "docker.inspect", nil)
	assert.ErrorIs(t, err, ErrAgentUnavailable)
	assert.Less(t, time.Since(start), time.Second, "offline dispatch must not wait")
	assert.Equal(t, 0, h.Mux().PendingWaiters(), "failed send must forget its waiter")
}

func TestHub_RequestReply(t *testing.T) {
	h := NewHub(nil, nil)
	defer h.Stop()

	conn := newFakeConn()
	ch := h.Register("agent-1", conn)

	serveDone := make(chan struct{})
	go func() {
		_ = h.Serve(ch)
		close(serveDone)
	}()

	// Agent side: echo every request back on its reply inbox.
	go func() {
		for {
			time.Sleep(5 * time.Millisecond)
			for _, env := range conn.sentEnvelopes() {
				if env.Reply != "" {
					reply, _ := NewEnvelope(env.Reply, map[string]any{"success": true})
					conn.recvCh <- reply
					return
				}
			}
		}
	}()

	reply, err := h.Request(context.Background(), "agent-1", "docker.inspect", map[string]any{"containerId": "abc"})
	require.NoError(t, err)

	var out struct {
		Success bool `json:"success"`
	}
	require.NoError(t, reply.Decode(&out))
	assert.True(t, out.Success)

	conn.Close()
	<-serveDone
}

func TestHub_DeregisterMarksOfflineAndCancelsSessions(t *testing.T) {
	store := &fakeStatusStore{}
	h := NewHub(store, nil)
	defer h.Stop()

	h.Register("agent-1", newFakeConn())
	s := h.Sessions().Create(SessionRCON, "agent-1", "rcon-42")
	pending := h.Mux().Await(NewInbox(), time.Minute, s.ID)

	h.Deregister("agent-1", "test")

	assert.False(t, h.IsConnected("agent-1"))
	assert.Equal(t, 0, h.Sessions().Count())

	_, ok := <-pending
	assert.False(t, ok, "pending replies of the agent's sessions must be cancelled")

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.offline) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHub_RegisterReplacesExistingChannel(t *testing.T) {
	h := NewHub(nil, nil)
	defer h.Stop()

	first := h.Register("agent-1", newFakeConn())
	second := h.Register("agent-1", newFakeConn())

	got, ok := h.Lookup("agent-1")
	require.True(t, ok)
	assert.Same(t, second, got)

	select {
	case <-first.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("replaced channel context not cancelled")
	}
}

func TestSessionTable_CloseAgent(t *testing.T) {
	tbl := NewSessionTable()
	a := tbl.Create(SessionRCON, "agent-1", "c1")
	tbl.Create(SessionLog, "agent-2", "c2")

	closed := tbl.CloseAgent("agent-1")
	require.Len(t, closed, 1)
	assert.Equal(t, a.ID, closed[0].ID)
	assert.Equal(t, 1, tbl.Count())

	_, ok := tbl.Get(a.ID)
	assert.False(t, ok)
}

func TestHub_DeregisterUnblocksPendingSend(t *testing.T) {
	h := NewHub(nil, nil)
	defer h.Stop()

	h.Register("agent-1", newFakeConn())
	env, err := NewEnvelope("server.start", nil)
	require.NoError(t, err)

	// No Serve loop is draining, so the send buffer fills up and the next
	// Send blocks inside its select.
	for i := 0; i < sendChannelBuffer; i++ {
		require.NoError(t, h.Send("agent-1", env))
	}

	sendErr := make(chan error, 1)
	go func() { sendErr <- h.Send("agent-1", env) }()
	time.Sleep(20 * time.Millisecond)

	h.Deregister("agent-1", "test")

	select {
	case err := <-sendErr:
		assert.ErrorIs(t, err, ErrAgentUnavailable)
	case <-time.After(time.Second):
		t.Fatal("blocked send not released by deregister")
	}
}

func TestHub_CountsRelayedEnvelopes(t *testing.T) {
	mtx := metrics.New(nil)
	h := NewHub(nil, mtx)
	defer h.Stop()

	conn := newFakeConn()
	ch := h.Register("agent-1", conn)
	serveDone := make(chan struct{})
	go func() {
		_ = h.Serve(ch)
		close(serveDone)
	}()

	out, err := NewEnvelope("server.start", nil)
	require.NoError(t, err)
	require.NoError(t, h.Send("agent-1", out))

	in, err := NewEnvelope("agent.ping", nil)
	require.NoError(t, err)
	conn.recvCh <- in

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(mtx.RelayMessages.WithLabelValues("outbound")) == 1 &&
			testutil.ToFloat64(mtx.RelayMessages.WithLabelValues("inbound")) == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()
	<-serveDone
}
