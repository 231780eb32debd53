package metrics

import (
	"locallab-hq/locallab/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// TransportMetrics tracks the primary engine and the fallback acceptor.
//
// Metrics:
//   - locallab_transport_connections_total: finished connections by transport and outcome
//   - locallab_transport_active_connections: connections currently being served
//   - locallab_transport_fallback_activations_total: primary engine failures
//   - locallab_transport_active: 1 for the transport currently serving
type TransportMetrics struct {
	connectionsTotal    *prometheus.CounterVec
	activeConnections   *prometheus.GaugeVec
	fallbackActivations *prometheus.CounterVec
	activeTransport     *prometheus.GaugeVec
}

// NewTransportMetrics creates and registers transport metrics with the provided registry.
func NewTransportMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *TransportMetrics {
	tm := &TransportMetrics{
		connectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "transport",
				Name:      "connections_total",
				Help:      "Total number of connections handled by transport and outcome",
			},
			[]string{"transport", "outcome"},
		),
		activeConnections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "transport",
				Name:      "active_connections",
				Help:      "Number of connections currently being served",
			},
			[]string{"transport"},
		),
		fallbackActivations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "transport",
				Name:      "fallback_activations_total",
				Help:      "Number of times the fallback acceptor replaced the primary engine",
			},
			[]string{"reason"},
		),
		activeTransport: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "transport",
				Name:      "active",
				Help:      "Set to 1 for the transport currently serving requests",
			},
			[]string{"transport"},
		),
	}

	registry.MustRegister(
		tm.connectionsTotal,
		tm.activeConnections,
		tm.fallbackActivations,
		tm.activeTransport,
	)

	return tm
}
