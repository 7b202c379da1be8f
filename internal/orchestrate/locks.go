package orchestrate

import (
	"errors"
	"fmt"
	"sync"
)

// ErrOperationInProgress rejects a second structural operation on a server
// that already has one in flight. Requests are rejected, never queued.
var ErrOperationInProgress = errors.New("operation already in progress")

type opLocks struct {
	mu       sync.Mutex
	inflight map[string]string
}

func newOpLocks() *opLocks {
	return &opLocks{inflight: make(map[string]string)}
}

func (l *opLocks) acquire(serverID, op string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if current, ok := l.inflight[serverID]; ok {
		return fmt.Errorf("%w: %s", ErrOperationInProgress, current)
	}
	l.inflight[serverID] = op
	return nil
}

func (l *opLocks) release(serverID string) {
	l.mu.Lock()
	delete(l.inflight, serverID)
	l.mu.Unlock()
}

func (l *opLocks) current(serverID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	op, ok := l.inflight[serverID]
	return op, ok
}
