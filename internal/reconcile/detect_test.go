package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zedops/warden/internal/servers"
)

func srv(id, name, containerID string, status servers.Status) servers.Server {
	return servers.Server{ID: id, Name: name, ContainerID: containerID, Status: status}
}

func TestDetectMismatches_ContainerGone(t *testing.T) {
	list := []servers.Server{
		srv("s1", "zed1", "c1", servers.StatusRunning),
		srv("s2", "zed2", "c2", servers.StatusStopped),
	}
	live := []Container{{ID: "c2", State: "exited"}}

	out := DetectMismatches(list, live)
	require.Len(t, out, 1)
	assert.Equal(t, "zed1", out[0].Server.Name)
	assert.Equal(t, ReasonContainerGone, out[0].Reason)
}

func TestDetectMismatches_StatusDrift(t *testing.T) {
	list := []servers.Server{
		srv("s1", "zed1", "c1", servers.StatusRunning),
		srv("s2", "zed2", "c2", servers.StatusStopped),
		srv("s3", "zed3", "c3", servers.StatusRunning),
	}
	live := []Container{
		{ID: "c1", State: "exited"},
		{ID: "c2", State: "running"},
		{ID: "c3", State: "running"},
	}

	out := DetectMismatches(list, live)
	require.Len(t, out, 2)

	reasons := map[string]MismatchReason{}
	for _, m := range out {
		reasons[m.Server.Name] = m.Reason
	}
	assert.Equal(t, ReasonShouldBeRunning, reasons["zed1"])
	assert.Equal(t, ReasonShouldBeStopped, reasons["zed2"])
}

func TestDetectMismatches_TransitionalStatesIgnored(t *testing.T) {
	list := []servers.Server{
		srv("s1", "zed1", "c1", servers.StatusCreating),
		srv("s2", "zed2", "c2", servers.StatusDeleting),
		srv("s3", "zed3", "c3", servers.StatusDeleted),
		srv("s4", "zed4", "", servers.StatusFailed),
	}

	out := DetectMismatches(list, nil)
	assert.Empty(t, out, "transitional, deleted and container-less records are never flagged")
}

func TestDetectMismatches_MissingNotReflagged(t *testing.T) {
	// A server already marked missing whose container is still gone must not
	// be flagged again; only a sync pass moves it out of missing.
	list := []servers.Server{srv("s1", "zed1", "c1", servers.StatusMissing)}
	out := DetectMismatches(list, nil)
	assert.Empty(t, out)
}

func TestObservedState(t *testing.T) {
	status, id := observedState(inspectReply{Exists: false}, "c1")
	assert.Equal(t, servers.StatusMissing, status)
	assert.Empty(t, id, "missing clears the recorded container id")

	status, id = observedState(inspectReply{Exists: true, State: "running", ContainerID: "c9"}, "c1")
	assert.Equal(t, servers.StatusRunning, status)
	assert.Equal(t, "c9", id)

	status, id = observedState(inspectReply{Exists: true, State: "exited"}, "c1")
	assert.Equal(t, servers.StatusStopped, status)
	assert.Equal(t, "c1", id)
}
