package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zedops/warden/internal/metrics"
	"github.com/zedops/warden/internal/relay"
	"github.com/zedops/warden/internal/servers"
)

// debounceWindow caps active syncs of one server to once per window, guarding
// against sync storms from a still-converging agent.
const debounceWindow = 10 * time.Second

type ServerStore interface {
	ListByAgent(ctx context.Context, agentID string) ([]servers.Server, error)
	UpdateObserved(ctx context.Context, id string, status servers.Status, containerID string) error
}

type Requester interface {
	Request(ctx context.Context, agentID, subject string, data any) (relay.Envelope, error)
}

type ItemError struct {
	ServerID   string `json:"server_id"`
	ServerName string `json:"server_name"`
	Error      string `json:"error"`
}

// Result reports a sync pass: individual failures are collected, never
// propagated, so one bad server cannot block the rest.
type Result struct {
	Detected int         `json:"detected"`
	Synced   int         `json:"synced"`
	Skipped  int         `json:"skipped"`
	Errors   []ItemError `json:"errors,omitempty"`
}

type Reconciler struct {
	store ServerStore
	hub   Requester
	mtx   *metrics.Metrics

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(store ServerStore, hub Requester, mtx *metrics.Metrics) *Reconciler {
	return &Reconciler{
		store:    store,
		hub:      hub,
		mtx:      mtx,
		limiters: make(map[string]*rate.Limiter),
	}
}

// allow consumes the server's debounce token. One token per window, no burst
// beyond the first.
func (r *Reconciler) allow(serverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.limiters[serverID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(debounceWindow), 1)
		r.limiters[serverID] = lim
	}
	return lim.Allow()
}

type inspectReply struct {
	Exists      bool   `json:"exists"`
	State       string `json:"state"`
	ContainerID string `json:"containerId"`
}

// SyncAgent runs one active pass for an agent: fetch the live container list,
// detect drift, rewrite each flagged server's observed fields from agent
// ground truth. Only status and container_id are ever written; config fields
// belong to the user.
func (r *Reconciler) SyncAgent(ctx context.Context, agentID string) (Result, error) {
	if r.mtx != nil {
		r.mtx.SyncPasses.Inc()
	}

	list, err := r.store.ListByAgent(ctx, agentID)
	if err != nil {
		return Result{}, err
	}

	reply, err := r.hub.Request(ctx, agentID, "docker.list", map[string]any{})
	if err != nil {
		return Result{}, err
	}
	var live struct {
		Containers []Container `json:"containers"`
	}
	if err := reply.Decode(&live); err != nil {
		return Result{}, err
	}

	mismatches := DetectMismatches(list, live.Containers)
	result := Result{Detected: len(mismatches)}

	for _, m := range mismatches {
		srv := m.Server
		if !r.allow(srv.ID) {
			result.Skipped++
			continue
		}

		if err := r.syncOne(ctx, agentID, srv); err != nil {
			slog.Warn("Server sync failed",
				"agent_id", agentID,
				"server", srv.Name,
				"reason", m.Reason,
				"error", err)
			result.Errors = append(result.Errors, ItemError{
				ServerID:   srv.ID,
				ServerName: srv.Name,
				Error:      err.Error(),
			})
			if r.mtx != nil {
				r.mtx.SyncFailures.Inc()
			}
			continue
		}

		slog.Info("Server state reconciled",
			"agent_id", agentID,
			"server", srv.Name,
			"reason", m.Reason)
		result.Synced++
		if r.mtx != nil {
			r.mtx.ServersSynced.Inc()
		}
	}

	return result, nil
}

func (r *Reconciler) syncOne(ctx context.Context, agentID string, srv servers.Server) error {
	reply, err := r.hub.Request(ctx, agentID, "docker.inspect", map[string]any{
		"containerId": srv.ContainerID,
	})
	if err != nil {
		return err
	}

	var inspect inspectReply
	if err := reply.Decode(&inspect); err != nil {
		return err
	}

	status, containerID := observedState(inspect, srv.ContainerID)
	if status == srv.Status && containerID == srv.ContainerID {
		return nil
	}
	return r.store.UpdateObserved(ctx, srv.ID, status, containerID)
}

// observedState maps an inspect reply to the registry fields it dictates.
func observedState(in inspectReply, recorded string) (servers.Status, string) {
	if !in.Exists {
		return servers.StatusMissing, ""
	}
	containerID := in.ContainerID
	if containerID == "" {
		containerID = recorded
	}
	if in.State == "running" {
		return servers.StatusRunning, containerID
	}
	return servers.StatusStopped, containerID
}
