package orchestrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zedops/warden/internal/relay"
	"github.com/zedops/warden/internal/servers"
)

type MockRegistry struct {
	mock.Mock
}

func (m *MockRegistry) Create(ctx context.Context, req servers.CreateRequest) (*servers.Server, error) {
	args := m.Called(req)
	return args.Get(0).(*servers.Server), args.Error(1)
}

func (m *MockRegistry) Get(ctx context.Context, id string) (*servers.Server, error) {
	args := m.Called(id)
	return args.Get(0).(*servers.Server), args.Error(1)
}

func (m *MockRegistry) ListFailedByAgent(ctx context.Context, agentID string) ([]servers.Server, error) {
	args := m.Called(agentID)
	return args.Get(0).([]servers.Server), args.Error(1)
}

func (m *MockRegistry) UpdateObserved(ctx context.Context, id string, status servers.Status, containerID string) error {
	return m.Called(id, status, containerID).Error(0)
}

func (m *MockRegistry) UpdateStatus(ctx context.Context, id string, status servers.Status) error {
	return m.Called(id, status).Error(0)
}

func (m *MockRegistry) UpdateConfig(ctx context.Context, id string, upd servers.ConfigUpdate) (*servers.Server, servers.ConfigChange, error) {
	args := m.Called(id, upd)
	return args.Get(0).(*servers.Server), args.Get(1).(servers.ConfigChange), args.Error(2)
}

func (m *MockRegistry) SoftDelete(ctx context.Context, id string) error {
	return m.Called(id).Error(0)
}

func (m *MockRegistry) Restore(ctx context.Context, id string) (*servers.Server, error) {
	args := m.Called(id)
	return args.Get(0).(*servers.Server), args.Error(1)
}

func (m *MockRegistry) Purge(ctx context.Context, id string) error {
	return m.Called(id).Error(0)
}

func (m *MockRegistry) SetDataExists(ctx context.Context, id string, exists bool) error {
	return m.Called(id, exists).Error(0)
}

func (m *MockRegistry) CreateBackup(ctx context.Context, b servers.Backup) error {
	return m.Called(b).Error(0)
}

func (m *MockRegistry) SetBackupSize(ctx context.Context, backupID string, sizeBytes int64) error {
	return m.Called(backupID, sizeBytes).Error(0)
}

func (m *MockRegistry) ListBackups(ctx context.Context, serverID string) ([]servers.Backup, error) {
	args := m.Called(serverID)
	return args.Get(0).([]servers.Backup), args.Error(1)
}

func (m *MockRegistry) GetBackup(ctx context.Context, backupID string) (*servers.Backup, error) {
	args := m.Called(backupID)
	return args.Get(0).(*servers.Backup), args.Error(1)
}

// MockChannel records fanout subscriptions without expectations; requests go
// through testify mock calls.
type MockChannel struct {
	mock.Mock
	handlers map[string]relay.SubscriptionHandler
}

func (m *MockChannel) Request(ctx context.Context, agentID, subject string, data any) (relay.Envelope, error) {
	args := m.Called(agentID, subject, data)
	return args.Get(0).(relay.Envelope), args.Error(1)
}

func (m *MockChannel) RequestTimeout(ctx context.Context, agentID, subject string, data any, timeout time.Duration) (relay.Envelope, error) {
	args := m.Called(agentID, subject, data)
	return args.Get(0).(relay.Envelope), args.Error(1)
}

func (m *MockChannel) IsConnected(agentID string) bool {
	return m.Called(agentID).Bool(0)
}

func (m *MockChannel) Subscribe(prefix string, handler relay.SubscriptionHandler) int {
	if m.handlers == nil {
		m.handlers = make(map[string]relay.SubscriptionHandler)
	}
	m.handlers[prefix] = handler
	return len(m.handlers)
}

func envelope(t *testing.T, subject string, data any) relay.Envelope {
	t.Helper()
	env, err := relay.NewEnvelope(subject, data)
	require.NoError(t, err)
	return env
}

func okReply(t *testing.T, containerID string) relay.Envelope {
	t.Helper()
	return envelope(t, "_reply", map[string]any{"success": true, "containerId": containerID})
}

func testServer(id, name string, status servers.Status) *servers.Server {
	return &servers.Server{
		ID:          id,
		AgentID:     "agent-1",
		Name:        name,
		ContainerID: "c-" + id,
		ImageTag:    "latest",
		GamePort:    28015,
		UDPPort:     28016,
		RCONPort:    28017,
		Status:      status,
	}
}

func newTestOrchestrator(registry *MockRegistry, hub *MockChannel) *Orchestrator {
	return New(registry, hub, Config{DataRoot: "/srv/warden/servers", BackupRoot: "/srv/warden/backups"}, nil)
}

func TestCreateServer_OfflineAgentNoSideEffect(t *testing.T) {
	registry := new(MockRegistry)
	hub := new(MockChannel)
	o := newTestOrchestrator(registry, hub)

	hub.On("IsConnected", "agent-1").Return(false)

	_, err := o.CreateServer(context.Background(), servers.CreateRequest{
		AgentID:  "agent-1",
		Name:     "zed1",
		GamePort: 28015,
		UDPPort:  28016,
		RCONPort: 28017,
	})
	assert.ErrorIs(t, err, relay.ErrAgentUnavailable)
	registry.AssertNotCalled(t, "Create", mock.Anything)
}

func TestCreateServer_InvalidNameRejectedBeforeAnything(t *testing.T) {
	registry := new(MockRegistry)
	hub := new(MockChannel)
	o := newTestOrchestrator(registry, hub)

	_, err := o.CreateServer(context.Background(), servers.CreateRequest{
		AgentID:  "agent-1",
		Name:     "Bad_Name",
		GamePort: 28015,
		UDPPort:  28016,
		RCONPort: 28017,
	})
	assert.ErrorIs(t, err, servers.ErrValidation)
	registry.AssertNotCalled(t, "Create", mock.Anything)
}

func TestRebuild_SecondRequestRejected(t *testing.T) {
	registry := new(MockRegistry)
	hub := new(MockChannel)
	o := newTestOrchestrator(registry, hub)

	require.NoError(t, o.locks.acquire("s1", "rebuild"))
	defer o.locks.release("s1")

	err := o.Rebuild(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrOperationInProgress)
	registry.AssertNotCalled(t, "Get", mock.Anything)
}

func TestRebuild_NotRebuildable(t *testing.T) {
	registry := new(MockRegistry)
	hub := new(MockChannel)
	o := newTestOrchestrator(registry, hub)

	registry.On("Get", "s1").Return(testServer("s1", "zed1", servers.StatusMissing), nil)

	err := o.Rebuild(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrNotRebuildable)
}

func TestRebuild_PreservesRunState(t *testing.T) {
	registry := new(MockRegistry)
	hub := new(MockChannel)
	o := newTestOrchestrator(registry, hub)

	registry.On("Get", "s1").Return(testServer("s1", "zed1", servers.StatusStopped), nil)
	hub.On("IsConnected", "agent-1").Return(true)
	hub.On("RequestTimeout", "agent-1", "server.rebuild", mock.MatchedBy(func(data any) bool {
		return data.(map[string]any)["start"] == false
	})).Return(okReply(t, "c-new"), nil)
	registry.On("UpdateObserved", "s1", servers.StatusStopped, "c-new").Return(nil)

	require.NoError(t, o.Rebuild(context.Background(), "s1"))
	registry.AssertExpectations(t)
}

func TestMigrateData_VerifyFailureNeverCleans(t *testing.T) {
	registry := new(MockRegistry)
	hub := new(MockChannel)
	o := newTestOrchestrator(registry, hub)

	registry.On("Get", "s1").Return(testServer("s1", "zed1", servers.StatusStopped), nil)
	hub.On("RequestTimeout", "agent-1", "data.calculate", mock.MatchedBy(func(data any) bool {
		return data.(map[string]any)["path"] == "/old/zed1"
	})).Return(envelope(t, "_reply", map[string]any{"totalBytes": 1000, "totalFiles": 10}), nil)
	hub.On("RequestTimeout", "agent-1", "data.copy", mock.Anything).Return(
		envelope(t, "_reply", map[string]any{"success": true}), nil)
	hub.On("RequestTimeout", "agent-1", "data.calculate", mock.MatchedBy(func(data any) bool {
		return data.(map[string]any)["path"] == "/srv/warden/servers/zed1"
	})).Return(envelope(t, "_reply", map[string]any{"totalBytes": 900, "totalFiles": 10}), nil)

	err := o.MigrateData(context.Background(), "s1", "/old/zed1")
	assert.ErrorIs(t, err, ErrMigrationVerifyFailed)
	hub.AssertNotCalled(t, "Request", "agent-1", "data.remove", mock.Anything)
}

func TestMigrateData_CleansOnlyAfterVerify(t *testing.T) {
	registry := new(MockRegistry)
	hub := new(MockChannel)
	o := newTestOrchestrator(registry, hub)

	registry.On("Get", "s1").Return(testServer("s1", "zed1", servers.StatusStopped), nil)
	hub.On("RequestTimeout", "agent-1", "data.calculate", mock.Anything).Return(
		envelope(t, "_reply", map[string]any{"totalBytes": 1000, "totalFiles": 10}), nil)
	hub.On("RequestTimeout", "agent-1", "data.copy", mock.Anything).Return(
		envelope(t, "_reply", map[string]any{"success": true}), nil)
	hub.On("Request", "agent-1", "data.remove", mock.MatchedBy(func(data any) bool {
		return data.(map[string]any)["path"] == "/old/zed1"
	})).Return(envelope(t, "_reply", map[string]any{"success": true}), nil)

	watch, cancel := o.Watch("zed1")
	defer cancel()

	require.NoError(t, o.MigrateData(context.Background(), "s1", "/old/zed1"))
	hub.AssertCalled(t, "Request", "agent-1", "data.remove", mock.Anything)

	var phases []string
	for p := range watch {
		phases = append(phases, p.Phase)
	}
	assert.Equal(t, []string{"calculating", "verifying", "cleaning", "complete"}, phases)
}

func TestAdopt_MatchingPathSkipsMigration(t *testing.T) {
	registry := new(MockRegistry)
	hub := new(MockChannel)
	o := newTestOrchestrator(registry, hub)

	hub.On("IsConnected", "agent-1").Return(true)
	hub.On("Request", "agent-1", "docker.inspect", mock.Anything).Return(
		envelope(t, "_reply", map[string]any{
			"exists": true,
			"state":  "running",
			"mounts": []map[string]any{{"source": "/srv/warden/servers/zed1", "destination": "/data"}},
		}), nil)
	registry.On("Create", mock.Anything).Return(testServer("s1", "zed1", servers.StatusCreating), nil)
	hub.On("RequestTimeout", "agent-1", "server.adopt", mock.MatchedBy(func(data any) bool {
		return data.(map[string]any)["willMigrate"] == false
	})).Return(okReply(t, "c-adopted"), nil)
	registry.On("UpdateObserved", "s1", servers.StatusRunning, "c-adopted").Return(nil)
	registry.On("SetDataExists", "s1", true).Return(nil)

	srv, err := o.Adopt(context.Background(), AdoptRequest{
		AgentID:     "agent-1",
		ContainerID: "c-wild",
		Name:        "zed1",
		GamePort:    28015,
		UDPPort:     28016,
		RCONPort:    28017,
	})
	require.NoError(t, err)
	assert.Equal(t, servers.StatusRunning, srv.Status)
	hub.AssertExpectations(t)
}

func TestAdopt_ForeignPathTriggersMigration(t *testing.T) {
	registry := new(MockRegistry)
	hub := new(MockChannel)
	o := newTestOrchestrator(registry, hub)

	hub.On("IsConnected", "agent-1").Return(true)
	hub.On("Request", "agent-1", "docker.inspect", mock.Anything).Return(
		envelope(t, "_reply", map[string]any{
			"exists": true,
			"state":  "running",
			"mounts": []map[string]any{{"source": "/home/user/rust-data", "destination": "/data"}},
		}), nil)
	registry.On("Create", mock.Anything).Return(testServer("s1", "zed1", servers.StatusCreating), nil)
	hub.On("RequestTimeout", "agent-1", "server.adopt", mock.MatchedBy(func(data any) bool {
		m := data.(map[string]any)
		return m["willMigrate"] == true && m["sourcePath"] == "/home/user/rust-data"
	})).Return(okReply(t, "c-adopted"), nil)
	registry.On("UpdateObserved", "s1", servers.StatusRunning, "c-adopted").Return(nil)
	registry.On("SetDataExists", "s1", true).Return(nil)

	_, err := o.Adopt(context.Background(), AdoptRequest{
		AgentID:     "agent-1",
		ContainerID: "c-wild",
		Name:        "zed1",
		GamePort:    28015,
		UDPPort:     28016,
		RCONPort:    28017,
	})
	require.NoError(t, err)
}

func TestAdopt_UninspectableContainer(t *testing.T) {
	registry := new(MockRegistry)
	hub := new(MockChannel)
	o := newTestOrchestrator(registry, hub)

	hub.On("IsConnected", "agent-1").Return(true)
	hub.On("Request", "agent-1", "docker.inspect", mock.Anything).Return(
		envelope(t, "_reply", map[string]any{"exists": false}), nil)

	_, err := o.Adopt(context.Background(), AdoptRequest{
		AgentID:     "agent-1",
		ContainerID: "c-gone",
		Name:        "zed1",
		GamePort:    28015,
		UDPPort:     28016,
		RCONPort:    28017,
	})
	assert.ErrorIs(t, err, servers.ErrValidation)
	registry.AssertNotCalled(t, "Create", mock.Anything)
}

func TestCleanupFailed_PartialFailure(t *testing.T) {
	registry := new(MockRegistry)
	hub := new(MockChannel)
	o := newTestOrchestrator(registry, hub)

	registry.On("ListFailedByAgent", "agent-1").Return([]servers.Server{
		*testServer("s1", "zed1", servers.StatusFailed),
		*testServer("s2", "zed2", servers.StatusFailed),
	}, nil)
	hub.On("Request", "agent-1", "server.remove", mock.MatchedBy(func(data any) bool {
		return data.(map[string]any)["containerId"] == "c-s1"
	})).Return(relay.Envelope{}, errors.New("docker daemon unreachable"))
	hub.On("Request", "agent-1", "server.remove", mock.MatchedBy(func(data any) bool {
		return data.(map[string]any)["containerId"] == "c-s2"
	})).Return(envelope(t, "_reply", map[string]any{"success": true}), nil)
	registry.On("SoftDelete", "s2").Return(nil)

	res, err := o.CleanupFailed(context.Background(), "agent-1")
	require.NoError(t, err, "batch must survive per-item failures")
	assert.Equal(t, 1, res.DeletedCount)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "zed1", res.Errors[0].ServerName)
	registry.AssertNotCalled(t, "SoftDelete", "s1")
}

func TestCleanupFailed_KeepsVolumes(t *testing.T) {
	registry := new(MockRegistry)
	hub := new(MockChannel)
	o := newTestOrchestrator(registry, hub)

	registry.On("ListFailedByAgent", "agent-1").Return([]servers.Server{
		*testServer("s1", "zed1", servers.StatusFailed),
	}, nil)
	hub.On("Request", "agent-1", "server.remove", mock.MatchedBy(func(data any) bool {
		return data.(map[string]any)["keepVolumes"] == true
	})).Return(envelope(t, "_reply", map[string]any{"success": true}), nil)
	registry.On("SoftDelete", "s1").Return(nil)

	res, err := o.CleanupFailed(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.DeletedCount)
	hub.AssertExpectations(t)
}

func TestStart_MissingServerRecreatesContainer(t *testing.T) {
	registry := new(MockRegistry)
	hub := new(MockChannel)
	o := newTestOrchestrator(registry, hub)

	srv := testServer("s1", "zed1", servers.StatusMissing)
	srv.ContainerID = ""
	registry.On("Get", "s1").Return(srv, nil)
	hub.On("RequestTimeout", "agent-1", "server.create", mock.MatchedBy(func(data any) bool {
		return data.(map[string]any)["name"] == "zed1"
	})).Return(okReply(t, "c-fresh"), nil)
	registry.On("UpdateObserved", "s1", servers.StatusRunning, "c-fresh").Return(nil)

	require.NoError(t, o.Start(context.Background(), "s1"))
	hub.AssertNotCalled(t, "Request", "agent-1", "server.start", mock.Anything)
	registry.AssertExpectations(t)
}

func TestBackupID(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 30, 45, 0, time.UTC)
	assert.Equal(t, "zed1-20240315-103045", backupID("zed1", at))
}

func TestRestoreBackup_RejectsForeignBackup(t *testing.T) {
	registry := new(MockRegistry)
	hub := new(MockChannel)
	o := newTestOrchestrator(registry, hub)

	registry.On("Get", "s1").Return(testServer("s1", "zed1", servers.StatusMissing), nil)
	registry.On("GetBackup", "zed2-20240101-000000").Return(&servers.Backup{
		ID:       "zed2-20240101-000000",
		ServerID: "s2",
	}, nil)

	err := o.RestoreBackup(context.Background(), "s1", "zed2-20240101-000000")
	assert.ErrorIs(t, err, servers.ErrValidation)
}

func TestRestoreServer_OnlyDeletedRestorable(t *testing.T) {
	registry := new(MockRegistry)
	hub := new(MockChannel)
	o := newTestOrchestrator(registry, hub)

	registry.On("Get", "s1").Return(testServer("s1", "zed1", servers.StatusRunning), nil)

	_, err := o.RestoreServer(context.Background(), "s1")
	assert.ErrorIs(t, err, servers.ErrValidation)
	registry.AssertNotCalled(t, "Restore", mock.Anything, mock.Anything)
}

func TestRestoreServer_ComesBackAsMissing(t *testing.T) {
	registry := new(MockRegistry)
	hub := new(MockChannel)
	o := newTestOrchestrator(registry, hub)

	registry.On("Get", "s1").Return(testServer("s1", "zed1", servers.StatusDeleted), nil)
	registry.On("Restore", "s1").Return(testServer("s1", "zed1", servers.StatusMissing), nil)

	srv, err := o.RestoreServer(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, servers.StatusMissing, srv.Status)
}
