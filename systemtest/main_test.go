package systemtest

import (
	"context"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/zedops/warden/internal/agents"
	internalhttp "github.com/zedops/warden/internal/api/http"
	"github.com/zedops/warden/internal/auth"
	"github.com/zedops/warden/internal/console"
	"github.com/zedops/warden/internal/db"
	"github.com/zedops/warden/internal/orchestrate"
	"github.com/zedops/warden/internal/rbac"
	"github.com/zedops/warden/internal/rcon"
	"github.com/zedops/warden/internal/reconcile"
	"github.com/zedops/warden/internal/relay"
	"github.com/zedops/warden/internal/servers"
	"github.com/zedops/warden/internal/users"
	"github.com/zedops/warden/systemtest/postgres"
	"github.com/zedops/warden/systemtest/tests"
)

const jwtSecret = "systemtest-secret"

func TestSystemIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed integration test in short mode")
	}

	ctx := context.Background()

	container, err := postgres.StartPostgres(ctx, "warden", "warden", "warden")
	require.NoError(t, err)
	defer func() {
		require.NoError(t, postgres.TerminatePostgres(ctx, container))
	}()

	dbURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, db.RunMigrations(dbURL, "public"))
	pool, err := db.InitDB(ctx, dbURL, "public")
	require.NoError(t, err)
	defer pool.Close()

	agentService := agents.NewService(pool)
	serverStore := servers.NewStore(pool)
	userService := users.NewService(pool)
	authConfig := auth.Config{Secret: jwtSecret, TTLHours: 1}
	authService := auth.NewService(userService, authConfig)
	rbacService := rbac.NewService(pool, userService, serverStore)

	hub := relay.NewHub(agentService, nil)
	defer hub.Stop()

	reconciler := reconcile.New(serverStore, hub, nil)
	orchestrator := orchestrate.New(serverStore, hub, orchestrate.Config{}, nil)
	rconBroker := rcon.NewBroker(hub, serverStore, hub.Sessions())
	consoleStreamer := console.NewStreamer(hub, serverStore, hub.Sessions())

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	internalhttp.SetupRoute(engine, &internalhttp.Services{
		Hub:          hub,
		Agents:       agentService,
		Servers:      serverStore,
		Users:        userService,
		Auth:         authService,
		RBAC:         rbacService,
		Orchestrator: orchestrator,
		Reconciler:   reconciler,
		RCON:         rconBroker,
		Console:      consoleStreamer,
		JWTSecret:    jwtSecret,
	})

	// Bootstrap admin; registration only ever creates plain users.
	hash, err := users.HashPassword("changeme")
	require.NoError(t, err)
	admin, err := userService.Create(ctx, "root", hash, users.RoleAdmin)
	require.NoError(t, err)

	adminToken := tests.Login(t, engine, "root", "changeme")

	// Offline agent with a real record, for validation scenarios.
	_, key, err := agentService.CreateEnrollKey(ctx, admin.ID, "host-offline", time.Hour)
	require.NoError(t, err)
	enrolled, err := agentService.Redeem(ctx, key)
	require.NoError(t, err)

	t.Run("Register", func(t *testing.T) { tests.TestRegister(t, engine, jwtSecret) })
	t.Run("Login", func(t *testing.T) { tests.TestLogin(t, engine, jwtSecret) })
	t.Run("AgentEnrollment", func(t *testing.T) { tests.TestAgentEnrollment(t, engine, adminToken) })
	t.Run("ServerValidation", func(t *testing.T) { tests.TestServerValidation(t, engine, adminToken, enrolled.AgentID) })
}
