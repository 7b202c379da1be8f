package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zedops/warden/internal/servers"
)

// Rebuild tears the container down and recreates it from the current registry
// config, pulling the configured image tag first. Data volumes survive the
// swap. Returns ErrNotRebuildable when the server has no container to swap.
func (o *Orchestrator) Rebuild(ctx context.Context, serverID string) (err error) {
	defer o.observe("rebuild", time.Now(), err)

	if err = o.locks.acquire(serverID, "rebuild"); err != nil {
		return err
	}
	defer o.locks.release(serverID)

	srv, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return err
	}
	if !servers.Rebuildable(srv.Status) {
		return fmt.Errorf("%w: %s is %s", ErrNotRebuildable, srv.Name, srv.Status)
	}
	if !o.hub.IsConnected(srv.AgentID) {
		return fmt.Errorf("agent %s: offline", srv.AgentID)
	}

	wasRunning := srv.Status == servers.StatusRunning

	reply, err := o.hub.RequestTimeout(ctx, srv.AgentID, "server.rebuild", map[string]any{
		"serverId":    srv.ID,
		"name":        srv.Name,
		"containerId": srv.ContainerID,
		"config":      srv.Config,
		"image":       srv.Image,
		"imageTag":    srv.ImageTag,
		"gamePort":    srv.GamePort,
		"udpPort":     srv.UDPPort,
		"rconPort":    srv.RCONPort,
		"dataPath":    o.dataPath(srv),
		"start":       wasRunning,
	}, longOpTimeout)
	if err != nil {
		_ = o.registry.UpdateStatus(ctx, srv.ID, servers.StatusFailed)
		return err
	}
	result, err := decodeOpReply(reply)
	if err != nil {
		_ = o.registry.UpdateStatus(ctx, srv.ID, servers.StatusFailed)
		return err
	}

	status := servers.StatusStopped
	if wasRunning {
		status = servers.StatusRunning
	}
	slog.Info("Server rebuilt", "server", srv.Name, "image_tag", srv.ImageTag, "container_id", result.ContainerID)
	return o.registry.UpdateObserved(ctx, srv.ID, status, result.ContainerID)
}
