package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zedops/warden/internal/relay"
	"github.com/zedops/warden/internal/servers"
)

// AdoptRequest brings an unmanaged container on an agent under management as
// a new registry record.
type AdoptRequest struct {
	AgentID     string            `json:"agent_id"`
	ContainerID string            `json:"container_id"`
	Name        string            `json:"name"`
	Config      map[string]string `json:"config"`
	Image       string            `json:"image,omitempty"`
	ImageTag    string            `json:"image_tag,omitempty"`
	GamePort    int               `json:"game_port"`
	UDPPort     int               `json:"udp_port"`
	RCONPort    int               `json:"rcon_port"`
}

type adoptInspect struct {
	Exists bool   `json:"exists"`
	State  string `json:"state"`
	Mounts []struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
	} `json:"mounts"`
}

// dataMountSource returns the bind source for the container's data mount, or
// empty when the container carries no bind mounts.
func (in adoptInspect) dataMountSource() string {
	for _, m := range in.Mounts {
		if m.Destination == "/data" {
			return m.Source
		}
	}
	if len(in.Mounts) > 0 {
		return in.Mounts[0].Source
	}
	return ""
}

// Adopt inspects an unmanaged container, persists a registry record for it
// and hands the agent the adoption plan. When the container's bind-mount
// source differs from the standard layout for the chosen name, data is copied
// there first; the original path is left in place as an operator-managed
// backup. Adoption never mutates the source data.
func (o *Orchestrator) Adopt(ctx context.Context, req AdoptRequest) (srv *servers.Server, err error) {
	defer o.observe("adopt", time.Now(), err)

	if req.ContainerID == "" {
		return nil, fmt.Errorf("%w: container_id is required", servers.ErrValidation)
	}
	if !o.hub.IsConnected(req.AgentID) {
		return nil, fmt.Errorf("%w: %s", relay.ErrAgentUnavailable, req.AgentID)
	}

	reply, err := o.hub.Request(ctx, req.AgentID, "docker.inspect", map[string]any{
		"containerId": req.ContainerID,
	})
	if err != nil {
		return nil, err
	}
	var inspect adoptInspect
	if err = reply.Decode(&inspect); err != nil {
		return nil, err
	}
	if !inspect.Exists {
		return nil, fmt.Errorf("%w: container %s not found on agent", servers.ErrValidation, req.ContainerID)
	}

	standardPath := o.StandardDataPath(req.Name)
	source := inspect.dataMountSource()
	willMigrate := source != "" && source != standardPath

	srv, err = o.registry.Create(ctx, servers.CreateRequest{
		AgentID:  req.AgentID,
		Name:     req.Name,
		Config:   req.Config,
		Image:    req.Image,
		ImageTag: req.ImageTag,
		GamePort: req.GamePort,
		UDPPort:  req.UDPPort,
		RCONPort: req.RCONPort,
	})
	if err != nil {
		return nil, err
	}

	if err = o.locks.acquire(srv.ID, "adopt"); err != nil {
		return nil, err
	}
	defer o.locks.release(srv.ID)

	reply, reqErr := o.hub.RequestTimeout(ctx, req.AgentID, "server.adopt", map[string]any{
		"serverId":    srv.ID,
		"name":        srv.Name,
		"containerId": req.ContainerID,
		"config":      srv.Config,
		"image":       srv.Image,
		"imageTag":    srv.ImageTag,
		"gamePort":    srv.GamePort,
		"udpPort":     srv.UDPPort,
		"rconPort":    srv.RCONPort,
		"sourcePath":  source,
		"dataPath":    standardPath,
		"willMigrate": willMigrate,
	}, longOpTimeout)
	if reqErr == nil {
		var result opReply
		result, reqErr = decodeOpReply(reply)
		if reqErr == nil {
			if err = o.registry.UpdateObserved(ctx, srv.ID, servers.StatusRunning, result.ContainerID); err != nil {
				return nil, err
			}
			_ = o.registry.SetDataExists(ctx, srv.ID, true)
			srv.Status = servers.StatusRunning
			srv.ContainerID = result.ContainerID
			slog.Info("Container adopted",
				"server", srv.Name,
				"agent_id", srv.AgentID,
				"migrated", willMigrate,
				"container_id", result.ContainerID)
			return srv, nil
		}
	}

	slog.Error("Adoption failed", "server", srv.Name, "agent_id", srv.AgentID, "error", reqErr)
	_ = o.registry.UpdateStatus(ctx, srv.ID, servers.StatusFailed)
	srv.Status = servers.StatusFailed
	err = reqErr
	return srv, err
}
