package dto

type AgentResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Status   string         `json:"status"`
	LastSeen string         `json:"last_seen,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Created  string         `json:"created_at"`
}

type CreateEnrollKeyRequest struct {
	AgentName     string `json:"agent_name" binding:"required,min=3,max=64"`
	ExpiresInMins int    `json:"expires_in_minutes"`
}

type CreateEnrollKeyResponse struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	AgentName string `json:"agent_name"`
	ExpiresAt string `json:"expires_at"`
}

type EnrollRequest struct {
	Key string `json:"key" binding:"required"`
}

type EnrollResponse struct {
	AgentID  string `json:"agent_id"`
	AgentKey string `json:"agent_key"`
}

type ConnectionLogResponse struct {
	ConnectedAt      string `json:"connected_at"`
	DisconnectedAt   string `json:"disconnected_at,omitempty"`
	DisconnectReason string `json:"disconnect_reason,omitempty"`
}
