package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zedops/warden/internal/metrics"
	"github.com/zedops/warden/internal/relay"
	"github.com/zedops/warden/internal/servers"
)

var (
	ErrNotRebuildable = errors.New("server is not in a rebuildable state")
	ErrAgentError     = errors.New("agent reported failure")
)

// longOpTimeout bounds replies for operations that move data around; plain
// commands use the relay default.
const longOpTimeout = 30 * time.Minute

// Channel is the slice of the relay hub the orchestrator dispatches through.
type Channel interface {
	Request(ctx context.Context, agentID, subject string, data any) (relay.Envelope, error)
	RequestTimeout(ctx context.Context, agentID, subject string, data any, timeout time.Duration) (relay.Envelope, error)
	IsConnected(agentID string) bool
	Subscribe(prefix string, handler relay.SubscriptionHandler) int
}

// Registry is the desired-state store surface the orchestrator mutates.
type Registry interface {
	Create(ctx context.Context, req servers.CreateRequest) (*servers.Server, error)
	Get(ctx context.Context, id string) (*servers.Server, error)
	ListFailedByAgent(ctx context.Context, agentID string) ([]servers.Server, error)
	UpdateObserved(ctx context.Context, id string, status servers.Status, containerID string) error
	UpdateStatus(ctx context.Context, id string, status servers.Status) error
	UpdateConfig(ctx context.Context, id string, upd servers.ConfigUpdate) (*servers.Server, servers.ConfigChange, error)
	SoftDelete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) (*servers.Server, error)
	Purge(ctx context.Context, id string) error
	SetDataExists(ctx context.Context, id string, exists bool) error
	CreateBackup(ctx context.Context, b servers.Backup) error
	SetBackupSize(ctx context.Context, backupID string, sizeBytes int64) error
	ListBackups(ctx context.Context, serverID string) ([]servers.Backup, error)
	GetBackup(ctx context.Context, backupID string) (*servers.Backup, error)
}

type Config struct {
	// DataRoot is the agent-side directory holding the standard per-server
	// data layout (<DataRoot>/<name>).
	DataRoot string `mapstructure:"data_root"`
	// BackupRoot is the agent-side directory holding backup archives.
	BackupRoot string `mapstructure:"backup_root"`
}

type Orchestrator struct {
	registry Registry
	hub      Channel
	config   Config
	locks    *opLocks
	progress *progressFanout
	mtx      *metrics.Metrics
}

func New(registry Registry, hub Channel, config Config, mtx *metrics.Metrics) *Orchestrator {
	if config.DataRoot == "" {
		config.DataRoot = "/srv/warden/servers"
	}
	if config.BackupRoot == "" {
		config.BackupRoot = "/srv/warden/backups"
	}
	o := &Orchestrator{
		registry: registry,
		hub:      hub,
		config:   config,
		locks:    newOpLocks(),
		progress: newProgressFanout(),
	}
	o.mtx = mtx
	hub.Subscribe("adopt.progress", o.progress.handleProgress)
	hub.Subscribe("move.progress", o.progress.handleProgress)
	hub.Subscribe("backup.progress", o.progress.handleProgress)
	return o
}

// Watch returns a live progress feed for a server's current operation.
func (o *Orchestrator) Watch(serverName string) (<-chan Progress, func()) {
	return o.progress.Watch(serverName)
}

// InFlight reports the structural operation currently running on a server.
func (o *Orchestrator) InFlight(serverID string) (string, bool) {
	return o.locks.current(serverID)
}

// StandardDataPath is the canonical agent-side data directory for a server.
func (o *Orchestrator) StandardDataPath(name string) string {
	return o.config.DataRoot + "/" + name
}

func (o *Orchestrator) observe(op string, start time.Time, err error) {
	if o.mtx == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	o.mtx.OperationDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

// opReply is the common terminal reply shape for server operations.
type opReply struct {
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	ContainerID string `json:"containerId,omitempty"`
}

func decodeOpReply(env relay.Envelope) (opReply, error) {
	var r opReply
	if err := env.Decode(&r); err != nil {
		return r, err
	}
	if !r.Success {
		msg := r.Error
		if msg == "" {
			msg = "unspecified agent error"
		}
		return r, fmt.Errorf("%w: %s", ErrAgentError, msg)
	}
	return r, nil
}

// CreateServer validates the request, persists the desired-state record and
// materializes the container on the agent. Conflicts are rejected before any
// record is persisted.
func (o *Orchestrator) CreateServer(ctx context.Context, req servers.CreateRequest) (srv *servers.Server, err error) {
	defer o.observe("create", time.Now(), err)

	if err = servers.ValidateCreate(req); err != nil {
		return nil, err
	}
	if !o.hub.IsConnected(req.AgentID) {
		return nil, fmt.Errorf("%w: %s", relay.ErrAgentUnavailable, req.AgentID)
	}

	srv, err = o.registry.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	if err = o.locks.acquire(srv.ID, "create"); err != nil {
		return nil, err
	}
	defer o.locks.release(srv.ID)

	reply, reqErr := o.hub.RequestTimeout(ctx, srv.AgentID, "server.create", map[string]any{
		"serverId": srv.ID,
		"name":     srv.Name,
		"config":   srv.Config,
		"image":    srv.Image,
		"imageTag": srv.ImageTag,
		"gamePort": srv.GamePort,
		"udpPort":  srv.UDPPort,
		"rconPort": srv.RCONPort,
		"dataPath": o.dataPath(srv),
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
			slog.Info("Server created", "server", srv.Name, "agent_id", srv.AgentID, "container_id", result.ContainerID)
			return srv, nil
		}
	}

	slog.Error("Server creation failed", "server", srv.Name, "agent_id", srv.AgentID, "error", reqErr)
	_ = o.registry.UpdateStatus(ctx, srv.ID, servers.StatusFailed)
	srv.Status = servers.StatusFailed
	err = reqErr
	return srv, err
}

// Start starts a stopped server, or recreates the container from registry
// config when the server is missing (recovery start).
func (o *Orchestrator) Start(ctx context.Context, serverID string) (err error) {
	defer o.observe("start", time.Now(), err)

	srv, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return err
	}

	if srv.Status == servers.StatusMissing {
		return o.recoveryStart(ctx, srv)
	}

	reply, err := o.hub.Request(ctx, srv.AgentID, "server.start", map[string]any{
		"containerId": srv.ContainerID,
	})
	if err != nil {
		return err
	}
	if _, err = decodeOpReply(reply); err != nil {
		return err
	}
	return o.registry.UpdateObserved(ctx, srv.ID, servers.StatusRunning, srv.ContainerID)
}

// recoveryStart rebuilds a missing server's container from the registry
// record; the registry is the source of truth for its configuration.
func (o *Orchestrator) recoveryStart(ctx context.Context, srv *servers.Server) error {
	if err := o.locks.acquire(srv.ID, "create"); err != nil {
		return err
	}
	defer o.locks.release(srv.ID)

	reply, err := o.hub.RequestTimeout(ctx, srv.AgentID, "server.create", map[string]any{
		"serverId": srv.ID,
		"name":     srv.Name,
		"config":   srv.Config,
		"image":    srv.Image,
		"imageTag": srv.ImageTag,
		"gamePort": srv.GamePort,
		"udpPort":  srv.UDPPort,
		"rconPort": srv.RCONPort,
		"dataPath": o.dataPath(srv),
	}, longOpTimeout)
	if err != nil {
		return err
	}
	result, err := decodeOpReply(reply)
	if err != nil {
		return err
	}

	slog.Info("Missing server recovered", "server", srv.Name, "container_id", result.ContainerID)
	return o.registry.UpdateObserved(ctx, srv.ID, servers.StatusRunning, result.ContainerID)
}

func (o *Orchestrator) Stop(ctx context.Context, serverID string) (err error) {
	defer o.observe("stop", time.Now(), err)

	srv, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return err
	}

	reply, err := o.hub.Request(ctx, srv.AgentID, "server.stop", map[string]any{
		"containerId": srv.ContainerID,
	})
	if err != nil {
		return err
	}
	if _, err = decodeOpReply(reply); err != nil {
		return err
	}
	return o.registry.UpdateObserved(ctx, srv.ID, servers.StatusStopped, srv.ContainerID)
}

func (o *Orchestrator) Restart(ctx context.Context, serverID string) error {
	if err := o.Stop(ctx, serverID); err != nil {
		return err
	}
	return o.Start(ctx, serverID)
}

// Delete soft-deletes a server: the container is removed on the agent (its
// volumes preserved) and the record is retained until purge.
func (o *Orchestrator) Delete(ctx context.Context, serverID string) (err error) {
	defer o.observe("delete", time.Now(), err)

	if err = o.locks.acquire(serverID, "delete"); err != nil {
		return err
	}
	defer o.locks.release(serverID)

	srv, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return err
	}

	if err = o.registry.UpdateStatus(ctx, serverID, servers.StatusDeleting); err != nil {
		return err
	}

	if srv.ContainerID != "" && srv.Status != servers.StatusMissing {
		reply, reqErr := o.hub.Request(ctx, srv.AgentID, "server.remove", map[string]any{
			"containerId": srv.ContainerID,
			"keepVolumes": true,
		})
		if reqErr == nil {
			_, reqErr = decodeOpReply(reply)
		}
		if reqErr != nil {
			_ = o.registry.UpdateStatus(ctx, serverID, servers.StatusFailed)
			err = reqErr
			return err
		}
	}

	slog.Info("Server soft-deleted", "server", srv.Name)
	return o.registry.SoftDelete(ctx, serverID)
}

// RestoreServer clears the soft delete. The container is still absent, so the
// record lands on missing until a start recreates it.
func (o *Orchestrator) RestoreServer(ctx context.Context, serverID string) (*servers.Server, error) {
	if err := o.locks.acquire(serverID, "restore"); err != nil {
		return nil, err
	}
	defer o.locks.release(serverID)

	existing, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if existing.Status != servers.StatusDeleted {
		return nil, fmt.Errorf("%w: %s is %s, only deleted servers can be restored", servers.ErrValidation, existing.Name, existing.Status)
	}

	srv, err := o.registry.Restore(ctx, serverID)
	if err != nil {
		return nil, err
	}
	slog.Info("Server restored from soft delete", "server", srv.Name)
	return srv, nil
}

// Purge hard-removes a deleted record, optionally wiping on-disk data.
// Irreversible.
func (o *Orchestrator) Purge(ctx context.Context, serverID string, deleteData bool) (err error) {
	defer o.observe("purge", time.Now(), err)

	if err = o.locks.acquire(serverID, "purge"); err != nil {
		return err
	}
	defer o.locks.release(serverID)

	srv, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return err
	}

	if deleteData {
		reply, reqErr := o.hub.Request(ctx, srv.AgentID, "data.remove", map[string]any{
			"path": o.dataPath(srv),
		})
		if reqErr == nil {
			_, reqErr = decodeOpReply(reply)
		}
		if reqErr != nil {
			err = reqErr
			return err
		}
	}

	slog.Info("Server purged", "server", srv.Name, "delete_data", deleteData)
	return o.registry.Purge(ctx, serverID)
}

func (o *Orchestrator) dataPath(srv *servers.Server) string {
	if srv.ServerDataPath != "" {
		return srv.ServerDataPath
	}
	return o.StandardDataPath(srv.Name)
}

// UpdateConfig applies a config PATCH and reports which restart-relevant
// fields changed; no agent-side effect until ApplyConfig.
func (o *Orchestrator) UpdateConfig(ctx context.Context, serverID string, upd servers.ConfigUpdate) (*servers.Server, servers.ConfigChange, error) {
	return o.registry.UpdateConfig(ctx, serverID, upd)
}

// ApplyConfig makes a previously patched config effective: an optional data
// migration first, then a container recreate with the new settings.
func (o *Orchestrator) ApplyConfig(ctx context.Context, serverID, oldDataPath string) (err error) {
	defer o.observe("apply-config", time.Now(), err)

	srv, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return err
	}

	if oldDataPath != "" && oldDataPath != o.dataPath(srv) {
		if err = o.MigrateData(ctx, serverID, oldDataPath); err != nil {
			return err
		}
	}

	return o.Rebuild(ctx, serverID)
}
