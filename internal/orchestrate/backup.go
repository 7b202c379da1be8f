package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zedops/warden/internal/servers"
)

// backupID stamps a backup with its server name and UTC creation time, so
// archives sort and dedupe naturally on disk.
func backupID(serverName string, now time.Time) string {
	return serverName + "-" + now.UTC().Format("20060102-150405")
}

// CreateBackup archives a server's data directory on the agent and records
// the result. The agent streams backup.progress while calculating, saving and
// compressing.
func (o *Orchestrator) CreateBackup(ctx context.Context, serverID string) (b *servers.Backup, err error) {
	defer o.observe("backup", time.Now(), err)

	srv, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return nil, err
	}

	id := backupID(srv.Name, time.Now())
	archivePath := fmt.Sprintf("%s/%s/%s.tar.gz", o.config.BackupRoot, srv.Name, id)

	b = &servers.Backup{
		ID:          id,
		ServerID:    srv.ID,
		ServerName:  srv.Name,
		ArchivePath: archivePath,
	}
	if err = o.registry.CreateBackup(ctx, *b); err != nil {
		return nil, err
	}

	reply, err := o.hub.RequestTimeout(ctx, srv.AgentID, "backup.create", map[string]any{
		"backupId":    id,
		"serverName":  srv.Name,
		"dataPath":    o.dataPath(srv),
		"archivePath": archivePath,
	}, longOpTimeout)
	if err != nil {
		return nil, err
	}
	var result struct {
		opReply
		SizeBytes int64 `json:"sizeBytes"`
	}
	if err = reply.Decode(&result); err != nil {
		return nil, err
	}
	if !result.Success {
		err = fmt.Errorf("%w: %s", ErrAgentError, result.Error)
		return nil, err
	}

	if err = o.registry.SetBackupSize(ctx, id, result.SizeBytes); err != nil {
		return nil, err
	}
	b.SizeBytes = result.SizeBytes
	slog.Info("Backup created", "server", srv.Name, "backup_id", id, "bytes", result.SizeBytes)
	return b, nil
}

// ListBackups enumerates recorded backups for a server. Enumeration depends
// only on the registry, so a missing server's backups stay visible.
func (o *Orchestrator) ListBackups(ctx context.Context, serverID string) ([]servers.Backup, error) {
	return o.registry.ListBackups(ctx, serverID)
}

// RestoreBackup stops the server if running, extracts the archive over its
// data directory and starts a container from registry config. Works for
// missing servers too; the container is recreated from scratch.
func (o *Orchestrator) RestoreBackup(ctx context.Context, serverID, backupID string) (err error) {
	defer o.observe("restore-backup", time.Now(), err)

	if err = o.locks.acquire(serverID, "restore"); err != nil {
		return err
	}
	defer o.locks.release(serverID)

	srv, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return err
	}
	b, err := o.registry.GetBackup(ctx, backupID)
	if err != nil {
		return err
	}
	if b.ServerID != srv.ID {
		return fmt.Errorf("%w: backup %s does not belong to server %s", servers.ErrValidation, backupID, srv.Name)
	}

	reply, err := o.hub.RequestTimeout(ctx, srv.AgentID, "backup.restore", map[string]any{
		"backupId":    b.ID,
		"serverName":  srv.Name,
		"archivePath": b.ArchivePath,
		"dataPath":    o.dataPath(srv),
		"containerId": srv.ContainerID,
		"config":      srv.Config,
		"image":       srv.Image,
		"imageTag":    srv.ImageTag,
		"gamePort":    srv.GamePort,
		"udpPort":     srv.UDPPort,
		"rconPort":    srv.RCONPort,
	}, longOpTimeout)
	if err != nil {
		return err
	}
	result, err := decodeOpReply(reply)
	if err != nil {
		return err
	}

	_ = o.registry.SetDataExists(ctx, srv.ID, true)
	slog.Info("Backup restored", "server", srv.Name, "backup_id", b.ID, "container_id", result.ContainerID)
	return o.registry.UpdateObserved(ctx, srv.ID, servers.StatusRunning, result.ContainerID)
}
