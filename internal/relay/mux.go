package relay

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	ErrReplyTimeout  = errors.New("reply timeout")
	ErrWaiterEvicted = errors.New("reply waiter evicted")
)

const (
	defaultReplyTimeout = 30 * time.Second
	evictionInterval    = 5 * time.Second
)

// waiter is a one-shot reply handler keyed by its inbox subject. Every waiter
// carries a deadline; the eviction loop removes any that outlive it so an
// agent that never answers cannot leak table entries.
type waiter struct {
	ch        chan Envelope
	deadline  time.Time
	sessionID string
}

// SubscriptionHandler receives pushed envelopes for a long-lived subscription.
type SubscriptionHandler func(agentID string, env Envelope)

type subscription struct {
	id      int
	prefix  string
	handler SubscriptionHandler
}

// Mux correlates reply inboxes to waiters and dispatches pushed subjects to
// subscriptions, turning one channel into many concurrent logical exchanges.
type Mux struct {
	mu      sync.Mutex
	waiters map[string]*waiter
	subs    []*subscription
	nextSub int
	stopCh  chan struct{}
	once    sync.Once
}

func NewMux() *Mux {
	m := &Mux{
		waiters: make(map[string]*waiter),
		stopCh:  make(chan struct{}),
	}
	go m.evictLoop()
	return m
}

// Await registers a one-shot waiter for the given inbox. The returned channel
// receives at most one envelope; it is closed on eviction or cancellation.
func (m *Mux) Await(inbox string, timeout time.Duration, sessionID string) <-chan Envelope {
	if timeout <= 0 {
		timeout = defaultReplyTimeout
	}
	w := &waiter{
		ch:        make(chan Envelope, 1),
		deadline:  time.Now().Add(timeout),
		sessionID: sessionID,
	}
	m.mu.Lock()
	m.waiters[inbox] = w
	m.mu.Unlock()
	return w.ch
}

// Forget removes a waiter without delivering anything.
func (m *Mux) Forget(inbox string) {
	m.mu.Lock()
	if w, ok := m.waiters[inbox]; ok {
		delete(m.waiters, inbox)
		close(w.ch)
	}
	m.mu.Unlock()
}

// Deliver routes a reply envelope to its registered waiter. Returns false if
// no waiter exists (already evicted or never registered).
func (m *Mux) Deliver(env Envelope) bool {
	m.mu.Lock()
	w, ok := m.waiters[env.Subject]
	if ok {
		delete(m.waiters, env.Subject)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	w.ch <- env
	close(w.ch)
	return true
}

// Subscribe installs a long-lived handler for all subjects under prefix.
// It stays active until Unsubscribe.
func (m *Mux) Subscribe(prefix string, handler SubscriptionHandler) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	m.subs = append(m.subs, &subscription{id: m.nextSub, prefix: prefix, handler: handler})
	return m.nextSub
}

func (m *Mux) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.id == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

// Dispatch routes an inbound envelope: inbox subjects go to their waiter,
// everything else to matching subscriptions.
func (m *Mux) Dispatch(agentID string, env Envelope) {
	if IsInbox(env.Subject) {
		if !m.Deliver(env) {
			slog.Debug("Reply with no waiter dropped", "agent_id", agentID, "subject", env.Subject)
		}
		return
	}

	m.mu.Lock()
	matched := make([]*subscription, 0, 2)
	for _, s := range m.subs {
		if strings.HasPrefix(env.Subject, s.prefix) {
			matched = append(matched, s)
		}
	}
	m.mu.Unlock()

	for _, s := range matched {
		s.handler(agentID, env)
	}
}

// CancelSession evicts every pending waiter registered under the session id.
// Used when an RCON or log session closes with replies still outstanding.
func (m *Mux) CancelSession(sessionID string) {
	if sessionID == "" {
		return
	}
	m.mu.Lock()
	for inbox, w := range m.waiters {
		if w.sessionID == sessionID {
			delete(m.waiters, inbox)
			close(w.ch)
		}
	}
	m.mu.Unlock()
}

func (m *Mux) PendingWaiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

func (m *Mux) Stop() {
	m.once.Do(func() { close(m.stopCh) })
}

func (m *Mux) evictLoop() {
	ticker := time.NewTicker(evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictExpired(time.Now())
		case <-m.stopCh:
			return
		}
	}
}

func (m *Mux) evictExpired(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for inbox, w := range m.waiters {
		if now.After(w.deadline) {
			slog.Debug("Evicting expired reply waiter", "inbox", inbox)
			delete(m.waiters, inbox)
			close(w.ch)
		}
	}
}
