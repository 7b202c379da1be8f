package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type SessionKind string

const (
	SessionRCON     SessionKind = "rcon"
	SessionLog      SessionKind = "log"
	SessionProgress SessionKind = "progress"
)

// Session is an ephemeral logical conversation multiplexed over an agent
// channel. Sessions live in memory only; none survive a manager restart.
type Session struct {
	ID            string
	Kind          SessionKind
	AgentID       string
	CorrelationID string
	CreatedAt     time.Time
}

type SessionTable struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewSessionTable() *SessionTable {
	return &SessionTable{sessions: make(map[string]Session)}
}

// Create registers a session. correlationID is the agent-side identifier
// (e.g. the RCON session id the agent handed back).
func (t *SessionTable) Create(kind SessionKind, agentID, correlationID string) Session {
	s := Session{
		ID:            uuid.NewString(),
		Kind:          kind,
		AgentID:       agentID,
		CorrelationID: correlationID,
		CreatedAt:     time.Now(),
	}
	t.mu.Lock()
	t.sessions[s.ID] = s
	t.mu.Unlock()
	return s
}

func (t *SessionTable) Get(id string) (Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

func (t *SessionTable) Close(id string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if ok {
		delete(t.sessions, id)
	}
	return s, ok
}

// CloseAgent drops every session bound to the agent and returns them so the
// caller can cancel their pending replies.
func (t *SessionTable) CloseAgent(agentID string) []Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	closed := make([]Session, 0)
	for id, s := range t.sessions {
		if s.AgentID == agentID {
			closed = append(closed, s)
			delete(t.sessions, id)
		}
	}
	return closed
}

func (t *SessionTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
