package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zedops/warden/internal/agents"
	"github.com/zedops/warden/internal/api/http/handler"
	"github.com/zedops/warden/internal/api/http/middleware"
	"github.com/zedops/warden/internal/auth"
	"github.com/zedops/warden/internal/console"
	"github.com/zedops/warden/internal/orchestrate"
	"github.com/zedops/warden/internal/rbac"
	"github.com/zedops/warden/internal/rcon"
	"github.com/zedops/warden/internal/relay"
	"github.com/zedops/warden/internal/servers"
	"github.com/zedops/warden/internal/users"
)

type Services struct {
	Hub          *relay.Hub
	Agents       *agents.Service
	Servers      *servers.Store
	Users        *users.Service
	Auth         *auth.Service
	RBAC         *rbac.Service
	Orchestrator *orchestrate.Orchestrator
	Reconciler   handler.AgentSyncer
	RCON         *rcon.Broker
	Console      *console.Streamer
	Registry     *prometheus.Registry
	JWTSecret    string
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)

	if srvs.Registry != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(srvs.Registry, promhttp.HandlerOpts{})))
	}

	authz := handler.NewAuthz(srvs.RBAC)
	authHandler := handler.NewAuthHandler(srvs.Auth, srvs.Users)
	agentHandler := handler.NewAgentHandler(srvs.Agents, srvs.Reconciler, authz)
	serverHandler := handler.NewServerHandler(srvs.Orchestrator, srvs.Servers, authz)
	backupHandler := handler.NewBackupHandler(srvs.Orchestrator, authz)
	rconHandler := handler.NewRCONHandler(srvs.RCON, authz)
	consoleHandler := handler.NewConsoleHandler(srvs.Console, authz)
	roleHandler := handler.NewRoleHandler(srvs.RBAC)
	channelHandler := handler.NewChannelHandler(srvs.Hub, srvs.Agents)

	// Agent-facing endpoints: credentialed by enroll/agent keys, not JWT.
	engine.POST("/agent/enroll", agentHandler.Enroll)
	engine.GET("/agent/connect", channelHandler.Connect)

	api := engine.Group("/api/v1")
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWTAuth(srvs.JWTSecret))
	{
		authed.GET("/auth/me", authHandler.Me)

		authed.GET("/agents", agentHandler.List)
		authed.GET("/agents/:agent_id", agentHandler.Get)
		authed.GET("/agents/:agent_id/connections", agentHandler.ConnectionHistory)
		authed.POST("/agents/:agent_id/sync", agentHandler.Sync)
		authed.POST("/agents/:agent_id/cleanup-failed", serverHandler.CleanupFailed)

		authed.GET("/servers", serverHandler.List)
		authed.POST("/servers", serverHandler.Create)
		authed.POST("/servers/adopt", serverHandler.Adopt)
		authed.GET("/servers/:server_id", serverHandler.Get)
		authed.DELETE("/servers/:server_id", serverHandler.Delete)
		authed.POST("/servers/:server_id/start", serverHandler.Start)
		authed.POST("/servers/:server_id/stop", serverHandler.Stop)
		authed.POST("/servers/:server_id/restart", serverHandler.Restart)
		authed.POST("/servers/:server_id/rebuild", serverHandler.Rebuild)
		authed.POST("/servers/:server_id/restore", serverHandler.Restore)
		authed.POST("/servers/:server_id/purge", serverHandler.Purge)
		authed.PATCH("/servers/:server_id/config", serverHandler.UpdateConfig)
		authed.POST("/servers/:server_id/apply-config", serverHandler.ApplyConfig)
		authed.GET("/servers/:server_id/progress", serverHandler.Progress)
		authed.GET("/servers/:server_id/logs", consoleHandler.History)
		authed.GET("/servers/:server_id/logs/stream", consoleHandler.Stream)

		authed.GET("/servers/:server_id/backups", backupHandler.List)
		authed.POST("/servers/:server_id/backups", backupHandler.Create)
		authed.POST("/servers/:server_id/backups/restore", backupHandler.Restore)

		authed.POST("/rcon/connect", rconHandler.Connect)
		authed.POST("/rcon/:session_id/command", rconHandler.Command)
		authed.DELETE("/rcon/:session_id", rconHandler.Disconnect)

		authed.GET("/roles/effective", roleHandler.Effective)

		admin := authed.Group("")
		admin.Use(middleware.RequireRole(users.RoleAdmin))
		{
			admin.GET("/users", authHandler.ListUsers)
			admin.POST("/agents/enroll-keys", agentHandler.CreateEnrollKey)
			admin.DELETE("/agents/enroll-keys/:key_id", agentHandler.RevokeEnrollKey)
			admin.DELETE("/agents/:agent_id/pending", agentHandler.CancelPending)
			admin.POST("/roles", roleHandler.Grant)
			admin.DELETE("/roles/:assignment_id", roleHandler.Revoke)
			admin.GET("/users/:user_id/roles", roleHandler.ListForUser)
		}
	}
}
