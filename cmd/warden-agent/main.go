package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/zedops/warden/internal/relay"
)

var AppVersion string

const metricsInterval = 30 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "enroll" {
		if err := runEnroll(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		return
	}

	InitConfig()

	slog.Info("Warden Agent", "version", AppVersion, "agent_id", config.Manager.AgentID)

	if config.Manager.AgentID == "" || config.Manager.AgentKey == "" {
		slog.Error("Missing agent credentials, run 'warden-agent enroll' first")
		os.Exit(1)
	}

	var client *relay.Client
	client = relay.NewClient(channelURL(config.Manager.URL), map[string][]string{
		"X-Agent-ID":  {config.Manager.AgentID},
		"X-Agent-Key": {config.Manager.AgentKey},
	}, func(env relay.Envelope) {
		handleRequest(client, env)
	})

	ctx, cancel := context.WithCancel(context.Background())
	go client.Run(ctx)
	go reportMetrics(ctx, client)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received shutdown signal", "signal", sig)

	cancel()
	client.Close()
	slog.Info("Shutdown complete")
}

// channelURL rewrites the manager's HTTP base URL to its websocket endpoint.
func channelURL(base string) string {
	url := strings.TrimSuffix(base, "/")
	url = strings.Replace(url, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url + "/agent/connect"
}

// handleRequest answers manager-issued requests. Container and data
// operations are delegated to the host-side executor; anything this build
// does not carry gets an explicit failure reply instead of silence.
func handleRequest(client *relay.Client, env relay.Envelope) {
	if env.Reply == "" {
		return
	}

	reply, err := relay.NewEnvelope(env.Reply, map[string]any{
		"success": false,
		"error":   fmt.Sprintf("unsupported operation: %s", env.Subject),
	})
	if err != nil {
		return
	}
	if err := client.Send(reply); err != nil {
		slog.Warn("Reply send failed", "subject", env.Subject, "error", err)
	}
}

// reportMetrics pushes a lightweight heartbeat the manager stores on the
// agent record.
func reportMetrics(ctx context.Context, client *relay.Client) {
	start := time.Now()
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		env, err := relay.NewEnvelope("agent.metrics", map[string]any{
			"uptimeSeconds": int64(time.Since(start).Seconds()),
			"goroutines":    runtime.NumGoroutine(),
			"heapBytes":     mem.HeapAlloc,
			"numCPU":        runtime.NumCPU(),
		})
		if err != nil {
			continue
		}
		if err := client.Send(env); err != nil {
			slog.Debug("Metrics send skipped, channel not open", "error", err)
		}
	}
}
