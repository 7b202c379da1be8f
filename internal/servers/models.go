package servers

import "time"

type Status string

const (
	StatusCreating Status = "creating"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusFailed   Status = "failed"
	StatusDeleting Status = "deleting"
	StatusMissing  Status = "missing"
	StatusDeleted  Status = "deleted"
)

// Server is the desired-state record for one managed game server container.
// ContainerID is authoritative only while Status is running, stopped or
// failed; missing means the recorded container no longer resolves on the
// agent.
type Server struct {
	ID             string            `json:"id"`
	AgentID        string            `json:"agent_id"`
	Name           string            `json:"name"`
	ContainerID    string            `json:"container_id,omitempty"`
	Config         map[string]string `json:"config"`
	Image          string            `json:"image,omitempty"`
	ImageTag       string            `json:"image_tag"`
	GamePort       int               `json:"game_port"`
	UDPPort        int               `json:"udp_port"`
	RCONPort       int               `json:"rcon_port"`
	ServerDataPath string            `json:"server_data_path,omitempty"`
	Status         Status            `json:"status"`
	DataExists     bool              `json:"data_exists"`
	DeletedAt      *time.Time        `json:"deleted_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// HasContainer reports whether ContainerID can be trusted for this status.
func (s *Server) HasContainer() bool {
	switch s.Status {
	case StatusRunning, StatusStopped, StatusFailed:
		return s.ContainerID != ""
	}
	return false
}

type Backup struct {
	ID          string    `json:"id"`
	ServerID    string    `json:"server_id"`
	ServerName  string    `json:"server_name"`
	SizeBytes   int64     `json:"size_bytes"`
	ArchivePath string    `json:"archive_path"`
	CreatedAt   time.Time `json:"created_at"`
}
