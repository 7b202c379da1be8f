package reconcile

import "github.com/zedops/warden/internal/servers"

// Container is the agent-reported live view of one Docker container.
type Container struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	State string `json:"state"`
}

func (c Container) running() bool { return c.State == "running" }

type MismatchReason string

const (
	// The registry records a container id that no longer resolves on the agent.
	ReasonContainerGone MismatchReason = "container-gone"
	// Registry says running, container is exited or stopped.
	ReasonShouldBeRunning MismatchReason = "should-be-running"
	// Registry says stopped, container is running.
	ReasonShouldBeStopped MismatchReason = "should-be-stopped"
)

type Mismatch struct {
	Server servers.Server `json:"server"`
	Reason MismatchReason `json:"reason"`
}

// DetectMismatches computes the drift set between the desired-state registry
// and the live container list for one agent. Pure; both inputs must belong to
// the same agent. Records mid-transition (creating, deleting) and deleted
// records are never flagged.
func DetectMismatches(list []servers.Server, containers []Container) []Mismatch {
	byID := make(map[string]Container, len(containers))
	for _, c := range containers {
		byID[c.ID] = c
	}

	var out []Mismatch
	for _, srv := range list {
		switch srv.Status {
		case servers.StatusCreating, servers.StatusDeleting, servers.StatusDeleted:
			continue
		}
		if srv.ContainerID == "" {
			continue
		}

		live, exists := byID[srv.ContainerID]
		switch {
		case !exists && srv.Status != servers.StatusMissing:
			out = append(out, Mismatch{Server: srv, Reason: ReasonContainerGone})
		case exists && srv.Status == servers.StatusRunning && !live.running():
			out = append(out, Mismatch{Server: srv, Reason: ReasonShouldBeRunning})
		case exists && srv.Status == servers.StatusStopped && live.running():
			out = append(out, Mismatch{Server: srv, Reason: ReasonShouldBeStopped})
		}
	}
	return out
}
