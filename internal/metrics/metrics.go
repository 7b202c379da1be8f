package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Connected agent channels.
	ConnectedAgents prometheus.Gauge

	// Envelopes relayed per direction (inbound from agents / outbound to agents).
	RelayMessages *prometheus.CounterVec

	// Reconciliation: total sync passes, records rewritten, per-record failures.
	SyncPasses    prometheus.Counter
	ServersSynced prometheus.Counter
	SyncFailures  prometheus.Counter

	// Multi-phase operation latency by operation name and outcome.
	OperationDuration *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		ConnectedAgents: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "warden_connected_agents",
			Help: "Number of agents with a live channel.",
		}),

		RelayMessages: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "warden_relay_messages_total",
			Help: "Total envelopes relayed over agent channels.",
		}, []string{"direction"}),

		SyncPasses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "warden_sync_passes_total",
			Help: "Total reconciliation sync passes.",
		}),

		ServersSynced: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "warden_servers_synced_total",
			Help: "Server records rewritten from agent ground truth.",
		}),

		SyncFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "warden_sync_failures_total",
			Help: "Per-server sync failures (pass continues past them).",
		}),

		OperationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_operation_duration_seconds",
			Help:    "Duration of multi-phase operations.",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"operation", "outcome"}),
	}
}
