package metrics

import (
	"locallab-hq/locallab/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// LifecycleMetrics tracks startup, tunnel, model and journal events.
type LifecycleMetrics struct {
	lifespanStrategy  *prometheus.GaugeVec
	healthPolls       *prometheus.CounterVec
	tunnelAttempts    *prometheus.CounterVec
	modelLoads        *prometheus.CounterVec
	modelLoadDuration *prometheus.HistogramVec
	journalPruned     prometheus.Counter
}

// NewLifecycleMetrics creates and registers lifecycle metrics with the provided registry.
func NewLifecycleMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *LifecycleMetrics {
	lm := &LifecycleMetrics{
		lifespanStrategy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "lifespan",
				Name:      "strategy",
				Help:      "Set to 1 for the negotiated lifespan strategy",
			},
			[]string{"strategy"},
		),
		healthPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "orchestrator",
				Name:      "health_polls_total",
				Help:      "Health polls made while waiting for the server",
			},
			[]string{"result"},
		),
		tunnelAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "tunnel",
				Name:      "attempts_total",
				Help:      "Tunnel provisioning attempts by result",
			},
			[]string{"result"},
		),
		modelLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "model",
				Name:      "loads_total",
				Help:      "Model load attempts by result",
			},
			[]string{"result"},
		),
		modelLoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "model",
				Name:      "load_duration_seconds",
				Help:      "Time taken to load a model",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"model"},
		),
		journalPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "journal",
				Name:      "pruned_records_total",
				Help:      "Journal records removed by retention",
			},
		),
	}

	registry.MustRegister(
		lm.lifespanStrategy,
		lm.healthPolls,
		lm.tunnelAttempts,
		lm.modelLoads,
		lm.modelLoadDuration,
		lm.journalPruned,
	)

	return lm
}
