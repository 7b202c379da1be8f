package orchestrate

import (
	"context"
	"log/slog"
	"time"

	"github.com/zedops/warden/internal/servers"
)

type CleanupItemError struct {
	ServerID   string `json:"server_id"`
	ServerName string `json:"server_name"`
	Error      string `json:"error"`
}

// CleanupResult reports a bulk cleanup: one bad server never fails the batch.
type CleanupResult struct {
	DeletedCount int                `json:"deletedCount"`
	Errors       []CleanupItemError `json:"errors,omitempty"`
}

// CleanupFailed removes the containers of every failed server on an agent and
// soft-deletes their records. Volumes are preserved so data can be recovered
// or restored later.
func (o *Orchestrator) CleanupFailed(ctx context.Context, agentID string) (res CleanupResult, err error) {
	defer o.observe("cleanup-failed", time.Now(), err)

	failed, err := o.registry.ListFailedByAgent(ctx, agentID)
	if err != nil {
		return CleanupResult{}, err
	}

	for _, srv := range failed {
		if itemErr := o.cleanupOne(ctx, srv); itemErr != nil {
			res.Errors = append(res.Errors, CleanupItemError{
				ServerID:   srv.ID,
				ServerName: srv.Name,
				Error:      itemErr.Error(),
			})
			continue
		}
		res.DeletedCount++
	}

	slog.Info("Failed servers cleaned up",
		"agent_id", agentID,
		"deleted", res.DeletedCount,
		"errors", len(res.Errors))
	return res, nil
}

func (o *Orchestrator) cleanupOne(ctx context.Context, srv servers.Server) error {
	if err := o.locks.acquire(srv.ID, "delete"); err != nil {
		return err
	}
	defer o.locks.release(srv.ID)

	if srv.ContainerID != "" {
		reply, err := o.hub.Request(ctx, srv.AgentID, "server.remove", map[string]any{
			"containerId": srv.ContainerID,
			"keepVolumes": true,
		})
		if err != nil {
			return err
		}
		if _, err := decodeOpReply(reply); err != nil {
			return err
		}
	}
	return o.registry.SoftDelete(ctx, srv.ID)
}
