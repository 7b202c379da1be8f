package servers

import (
	"errors"
	"fmt"
	"regexp"
)

var nameRE = regexp.MustCompile(`^[a-z][a-z0-9-]{2,31}$`)

// ErrValidation wraps all pre-side-effect request rejections.
var ErrValidation = errors.New("validation error")

type CreateRequest struct {
	AgentID        string            `json:"agent_id"`
	Name           string            `json:"name"`
	Config         map[string]string `json:"config"`
	Image          string            `json:"image,omitempty"`
	ImageTag       string            `json:"image_tag,omitempty"`
	GamePort       int               `json:"game_port"`
	UDPPort        int               `json:"udp_port"`
	RCONPort       int               `json:"rcon_port"`
	ServerDataPath string            `json:"server_data_path,omitempty"`
}

// ValidateCreate rejects malformed creation requests before any side effect.
// Port conflicts against existing servers are checked separately at insert.
func ValidateCreate(req CreateRequest) error {
	if req.AgentID == "" {
		return fmt.Errorf("%w: agent_id is required", ErrValidation)
	}
	if !nameRE.MatchString(req.Name) {
		return fmt.Errorf("%w: name %q must match %s", ErrValidation, req.Name, nameRE.String())
	}
	for _, p := range []struct {
		label string
		port  int
	}{
		{"game_port", req.GamePort},
		{"udp_port", req.UDPPort},
		{"rcon_port", req.RCONPort},
	} {
		if p.port < 1 || p.port > 65535 {
			return fmt.Errorf("%w: %s %d out of range", ErrValidation, p.label, p.port)
		}
	}
	if req.RCONPort == req.GamePort {
		return fmt.Errorf("%w: rcon_port must differ from game_port", ErrValidation)
	}
	return nil
}

// ValidName reports whether a server name matches the required pattern.
func ValidName(name string) bool {
	return nameRE.MatchString(name)
}
