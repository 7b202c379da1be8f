package agents

import (
	"encoding/json"
	"time"
)

// Agent statuses. Status is mutated only by connectivity events: online
// requires a live channel in the hub, pending means the install placeholder
// has not connected yet.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusPending = "pending"
)

type Agent struct {
	ID         string
	Name       string
	Status     string
	LastSeenAt *time.Time
	Metadata   map[string]any
	CreatedAt  time.Time
}

type EnrollKey struct {
	ID        string
	KeyHash   string
	CreatedBy string
	AgentName string
	Status    string
	MaxUses   int
	UsedCount int
	ExpiresAt time.Time
	CreatedAt time.Time
}

type EnrollResult struct {
	AgentID  string
	AgentKey string
}

type ConnectionLog struct {
	ID               string
	AgentID          string
	ConnectedAt      time.Time
	DisconnectedAt   *time.Time
	DisconnectReason string
}

func decodeMetadata(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}
