package console

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zedops/warden/internal/relay"
	"github.com/zedops/warden/internal/servers"
)

type MockChannel struct {
	mock.Mock
	handlers map[int]handlerEntry
	nextID   int
}

type handlerEntry struct {
	prefix  string
	handler relay.SubscriptionHandler
}

func (m *MockChannel) Request(ctx context.Context, agentID, subject string, data any) (relay.Envelope, error) {
	args := m.Called(agentID, subject, data)
	return args.Get(0).(relay.Envelope), args.Error(1)
}

func (m *MockChannel) Subscribe(prefix string, handler relay.SubscriptionHandler) int {
	if m.handlers == nil {
		m.handlers = make(map[int]handlerEntry)
	}
	m.nextID++
	m.handlers[m.nextID] = handlerEntry{prefix: prefix, handler: handler}
	return m.nextID
}

func (m *MockChannel) Unsubscribe(id int) {
	delete(m.handlers, id)
}

func (m *MockChannel) deliver(t *testing.T, agentID string, data any) {
	t.Helper()
	for _, e := range m.handlers {
		env, err := relay.NewEnvelope(e.prefix, data)
		require.NoError(t, err)
		e.handler(agentID, env)
	}
}

type MockServers struct {
	mock.Mock
}

func (m *MockServers) Get(ctx context.Context, id string) (*servers.Server, error) {
	args := m.Called(id)
	return args.Get(0).(*servers.Server), args.Error(1)
}

func envelope(t *testing.T, data any) relay.Envelope {
	t.Helper()
	env, err := relay.NewEnvelope("_reply", data)
	require.NoError(t, err)
	return env
}

func runningServer() *servers.Server {
	return &servers.Server{
		ID:          "s1",
		AgentID:     "agent-1",
		Name:        "zed1",
		ContainerID: "c-1",
		Status:      servers.StatusRunning,
	}
}

func TestHistory_ClampsTail(t *testing.T) {
	hub := new(MockChannel)
	registry := new(MockServers)
	s := NewStreamer(hub, registry, relay.NewSessionTable())

	registry.On("Get", "s1").Return(runningServer(), nil)
	hub.On("Request", "agent-1", "log.history", map[string]any{
		"containerId": "c-1",
		"tail":        1000,
	}).Return(envelope(t, map[string]any{
		"success": true,
		"lines":   []map[string]any{{"text": "hello", "stream": "stdout"}},
	}), nil)

	lines, err := s.History(context.Background(), "s1", 50000)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "hello", lines[0].Text)
}

func TestHistory_DefaultsTail(t *testing.T) {
	hub := new(MockChannel)
	registry := new(MockServers)
	s := NewStreamer(hub, registry, relay.NewSessionTable())

	registry.On("Get", "s1").Return(runningServer(), nil)
	hub.On("Request", "agent-1", "log.history", map[string]any{
		"containerId": "c-1",
		"tail":        100,
	}).Return(envelope(t, map[string]any{"success": true}), nil)

	_, err := s.History(context.Background(), "s1", 0)
	require.NoError(t, err)
	hub.AssertExpectations(t)
}

func TestHistory_NoContainer(t *testing.T) {
	hub := new(MockChannel)
	registry := new(MockServers)
	s := NewStreamer(hub, registry, relay.NewSessionTable())

	srv := runningServer()
	srv.ContainerID = ""
	registry.On("Get", "s1").Return(srv, nil)

	_, err := s.History(context.Background(), "s1", 10)
	assert.ErrorIs(t, err, ErrNoContainer)
	hub.AssertNotCalled(t, "Request", mock.Anything, mock.Anything, mock.Anything)
}

func TestFollow_DeliversLinesUntilStopped(t *testing.T) {
	hub := new(MockChannel)
	registry := new(MockServers)
	sessions := relay.NewSessionTable()
	s := NewStreamer(hub, registry, sessions)

	registry.On("Get", "s1").Return(runningServer(), nil)
	hub.On("Request", "agent-1", "log.subscribe", mock.Anything).
		Return(envelope(t, map[string]any{"success": true}), nil)
	hub.On("Request", "agent-1", "log.unsubscribe", mock.Anything).
		Return(envelope(t, map[string]any{"success": true}), nil)

	lines, stop, err := s.Follow(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, sessions.Count())

	hub.deliver(t, "agent-1", map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"stream":    "stdout",
		"text":      "player connected",
	})
	line := <-lines
	assert.Equal(t, "player connected", line.Text)

	stop()
	assert.Equal(t, 0, sessions.Count())
	assert.Empty(t, hub.handlers)
	_, open := <-lines
	assert.False(t, open)
}

func TestFollow_SubscribeFailureLeavesNoSession(t *testing.T) {
	hub := new(MockChannel)
	registry := new(MockServers)
	sessions := relay.NewSessionTable()
	s := NewStreamer(hub, registry, sessions)

	registry.On("Get", "s1").Return(runningServer(), nil)
	hub.On("Request", "agent-1", "log.subscribe", mock.Anything).
		Return(envelope(t, map[string]any{"success": false, "error": "container gone"}), nil)

	_, _, err := s.Follow(context.Background(), "s1")
	assert.Error(t, err)
	assert.Equal(t, 0, sessions.Count())
	assert.Empty(t, hub.handlers)
}
