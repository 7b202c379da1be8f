package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zedops/warden/internal/servers"
)

// ErrMigrationVerifyFailed aborts a data-path migration before the old path
// is cleaned, leaving both copies intact.
var ErrMigrationVerifyFailed = errors.New("migrated data does not match source")

type calcReply struct {
	TotalBytes int64 `json:"totalBytes"`
	TotalFiles int64 `json:"totalFiles"`
}

func (o *Orchestrator) calculate(ctx context.Context, agentID, path string) (calcReply, error) {
	reply, err := o.hub.RequestTimeout(ctx, agentID, "data.calculate", map[string]any{
		"path": path,
	}, longOpTimeout)
	if err != nil {
		return calcReply{}, err
	}
	var calc calcReply
	if err := reply.Decode(&calc); err != nil {
		return calcReply{}, err
	}
	return calc, nil
}

// MigrateData moves a server's data from oldPath to its current data path.
// The old path is removed only after the copied size is verified against the
// source; a verification mismatch aborts with ErrMigrationVerifyFailed and
// both copies stay on disk.
func (o *Orchestrator) MigrateData(ctx context.Context, serverID, oldPath string) (err error) {
	defer o.observe("migrate", time.Now(), err)

	if err = o.locks.acquire(serverID, "migrate"); err != nil {
		return err
	}
	defer o.locks.release(serverID)

	srv, err := o.registry.Get(ctx, serverID)
	if err != nil {
		return err
	}
	newPath := o.dataPath(srv)
	if oldPath == "" || oldPath == newPath {
		return fmt.Errorf("%w: nothing to migrate", servers.ErrValidation)
	}

	fail := func(phase string, cause error) error {
		o.progress.publish(Progress{
			ServerName: srv.Name,
			Phase:      PhaseError,
			Error:      cause.Error(),
		})
		slog.Error("Data migration failed", "server", srv.Name, "phase", phase, "error", cause)
		return cause
	}

	o.progress.publish(Progress{ServerName: srv.Name, Phase: "calculating"})
	src, err := o.calculate(ctx, srv.AgentID, oldPath)
	if err != nil {
		return fail("calculating", err)
	}

	// The agent streams move.progress envelopes during the copy; they reach
	// watchers through the fanout subscription, not through this call.
	reply, err := o.hub.RequestTimeout(ctx, srv.AgentID, "data.copy", map[string]any{
		"serverName": srv.Name,
		"source":     oldPath,
		"target":     newPath,
		"totalBytes": src.TotalBytes,
		"totalFiles": src.TotalFiles,
	}, longOpTimeout)
	if err != nil {
		return fail("copying", err)
	}
	if _, err = decodeOpReply(reply); err != nil {
		return fail("copying", err)
	}

	o.progress.publish(Progress{ServerName: srv.Name, Phase: "verifying", Percent: 90,
		BytesTotal: src.TotalBytes, BytesCopied: src.TotalBytes})
	dst, err := o.calculate(ctx, srv.AgentID, newPath)
	if err != nil {
		return fail("verifying", err)
	}
	if dst.TotalBytes != src.TotalBytes || dst.TotalFiles != src.TotalFiles {
		err = fmt.Errorf("%w: source %d bytes/%d files, target %d bytes/%d files",
			ErrMigrationVerifyFailed, src.TotalBytes, src.TotalFiles, dst.TotalBytes, dst.TotalFiles)
		return fail("verifying", err)
	}

	o.progress.publish(Progress{ServerName: srv.Name, Phase: "cleaning", Percent: 95,
		BytesTotal: src.TotalBytes, BytesCopied: src.TotalBytes})
	reply, err = o.hub.Request(ctx, srv.AgentID, "data.remove", map[string]any{
		"path": oldPath,
	})
	if err != nil {
		return fail("cleaning", err)
	}
	if _, err = decodeOpReply(reply); err != nil {
		return fail("cleaning", err)
	}

	o.progress.publish(Progress{ServerName: srv.Name, Phase: PhaseComplete, Percent: 100,
		BytesTotal: src.TotalBytes, BytesCopied: src.TotalBytes})
	slog.Info("Data migrated", "server", srv.Name, "from", oldPath, "to", newPath, "bytes", src.TotalBytes)
	return nil
}
