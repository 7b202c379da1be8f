package dto

type CreateServerRequest struct {
	AgentID        string            `json:"agent_id" binding:"required"`
	Name           string            `json:"name" binding:"required"`
	Config         map[string]string `json:"config"`
	Image          string            `json:"image"`
	ImageTag       string            `json:"image_tag"`
	GamePort       int               `json:"game_port" binding:"required"`
	UDPPort        int               `json:"udp_port" binding:"required"`
	RCONPort       int               `json:"rcon_port" binding:"required"`
	ServerDataPath string            `json:"server_data_path"`
}

type AdoptServerRequest struct {
	AgentID     string            `json:"agent_id" binding:"required"`
	ContainerID string            `json:"container_id" binding:"required"`
	Name        string            `json:"name" binding:"required"`
	Config      map[string]string `json:"config"`
	Image       string            `json:"image"`
	ImageTag    string            `json:"image_tag"`
	GamePort    int               `json:"game_port" binding:"required"`
	UDPPort     int               `json:"udp_port" binding:"required"`
	RCONPort    int               `json:"rcon_port" binding:"required"`
}

type UpdateConfigRequest struct {
	Config         map[string]string `json:"config"`
	ImageTag       string            `json:"image_tag"`
	ServerDataPath *string           `json:"server_data_path"`
}

type ApplyConfigRequest struct {
	OldDataPath string `json:"old_data_path"`
}

type PurgeRequest struct {
	DeleteData bool `json:"delete_data"`
}

type OperationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type RestoreBackupRequest struct {
	BackupID string `json:"backup_id" binding:"required"`
}

type RCONConnectRequest struct {
	ServerID string `json:"server_id" binding:"required"`
}

type RCONConnectResponse struct {
	SessionID string `json:"session_id"`
}

type RCONCommandRequest struct {
	Command string `json:"command" binding:"required"`
}

type RCONCommandResponse struct {
	Response string `json:"response"`
}

type GrantRoleRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	Role       string `json:"role" binding:"required"`
	Scope      string `json:"scope" binding:"required"`
	ResourceID string `json:"resource_id"`
}
