package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zedops/warden/internal/agents"
	internalhttp "github.com/zedops/warden/internal/api/http"
	"github.com/zedops/warden/internal/auth"
	"github.com/zedops/warden/internal/console"
	"github.com/zedops/warden/internal/db"
	"github.com/zedops/warden/internal/metrics"
	"github.com/zedops/warden/internal/orchestrate"
	"github.com/zedops/warden/internal/rbac"
	"github.com/zedops/warden/internal/rcon"
	"github.com/zedops/warden/internal/reconcile"
	"github.com/zedops/warden/internal/relay"
	"github.com/zedops/warden/internal/servers"
	"github.com/zedops/warden/internal/users"
)

var AppVersion string

func main() {
	InitConfig()

	slog.Info("Warden Server", "version", AppVersion)

	ctx := context.Background()

	if err := db.RunMigrations(config.Db.Url, config.Db.Schema); err != nil {
		slog.Error("Migrations failed", "error", err)
		os.Exit(1)
	}

	pool, err := db.InitDB(ctx, config.Db.Url, config.Db.Schema)
	if err != nil {
		slog.Error("Database connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	registry := prometheus.NewRegistry()
	mtx := metrics.New(registry)

	agentService := agents.NewService(pool)
	serverStore := servers.NewStore(pool)
	userService := users.NewService(pool)
	authService := auth.NewService(userService, config.Auth)
	rbacService := rbac.NewService(pool, userService, serverStore)

	hub := relay.NewHub(agentService, mtx)
	defer hub.Stop()

	reconciler := reconcile.New(serverStore, hub, mtx)
	orchestrator := orchestrate.New(serverStore, hub, config.Storage, mtx)
	rconBroker := rcon.NewBroker(hub, serverStore, hub.Sessions())
	consoleStreamer := console.NewStreamer(hub, serverStore, hub.Sessions())

	services := &internalhttp.Services{
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
		Registry:     registry,
		JWTSecret:    config.Auth.Secret,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Http.Port),
		Handler: engine,
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	slog.Info("Shutdown complete")
}
