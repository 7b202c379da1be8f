package orchestrate

import (
	"log/slog"
	"sync"

	"github.com/zedops/warden/internal/relay"
)

// Progress is the phase report contract for multi-phase operations, relayed
// from the agent and consumed by the caller until a terminal phase.
type Progress struct {
	ServerName  string `json:"serverName"`
	BackupID    string `json:"backupId,omitempty"`
	Phase       string `json:"phase"`
	Percent     int    `json:"percent"`
	BytesTotal  int64  `json:"bytesTotal,omitempty"`
	BytesCopied int64  `json:"bytesCopied,omitempty"`
	FilesTotal  int64  `json:"filesTotal,omitempty"`
	FilesCopied int64  `json:"filesCopied,omitempty"`
	CurrentFile string `json:"currentFile,omitempty"`
	Error       string `json:"error,omitempty"`
}

const (
	PhaseComplete = "complete"
	PhaseError    = "error"
)

func (p Progress) Terminal() bool {
	return p.Phase == PhaseComplete || p.Phase == PhaseError
}

const watchBuffer = 32

// progressFanout distributes operation progress to per-server watchers.
// Slow watchers lose events rather than blocking the relay.
type progressFanout struct {
	mu       sync.Mutex
	watchers map[string][]chan Progress
}

func newProgressFanout() *progressFanout {
	return &progressFanout{watchers: make(map[string][]chan Progress)}
}

// Watch returns a progress feed for a server name plus a cancel func. The
// channel closes after a terminal phase or on cancel.
func (f *progressFanout) Watch(serverName string) (<-chan Progress, func()) {
	ch := make(chan Progress, watchBuffer)
	f.mu.Lock()
	f.watchers[serverName] = append(f.watchers[serverName], ch)
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		list := f.watchers[serverName]
		for i, c := range list {
			if c == ch {
				f.watchers[serverName] = append(list[:i], list[i+1:]...)
				close(c)
				return
			}
		}
	}
	return ch, cancel
}

// publish fans an event out to the server's watchers. Sends and closes happen
// under the mutex so a concurrent cancel can never close a channel mid-send;
// only channels still in the map are ever touched.
func (f *progressFanout) publish(p Progress) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.watchers[p.ServerName] {
		select {
		case c <- p:
		default:
			slog.Debug("Progress watcher lagging, event dropped", "server", p.ServerName, "phase", p.Phase)
		}
		if p.Terminal() {
			close(c)
		}
	}
	if p.Terminal() {
		delete(f.watchers, p.ServerName)
	}
}

// handleProgress decodes a progress envelope from the agent and fans it out.
func (f *progressFanout) handleProgress(agentID string, env relay.Envelope) {
	var p Progress
	if err := env.Decode(&p); err != nil {
		slog.Warn("Malformed progress envelope", "agent_id", agentID, "subject", env.Subject, "error", err)
		return
	}
	slog.Debug("Operation progress",
		"agent_id", agentID,
		"subject", env.Subject,
		"server", p.ServerName,
		"phase", p.Phase,
		"percent", p.Percent)
	f.publish(p)
}
