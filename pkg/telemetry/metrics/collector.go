package metrics

import (
	"time"

	"locallab-hq/locallab/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns the Prometheus registry for a LocalLab process and exposes
// one recording method per event. A nil *Collector is valid and records
// nothing, so components can take an optional collector.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	transportMetrics *TransportMetrics
	requestMetrics   *RequestMetrics
	lifecycleMetrics *LifecycleMetrics
}

// NewCollector creates a new metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a fresh registry is created.
//
// Example:
//
//	cfg := &config.MetricsConfig{Enabled: true, Namespace: "locallab"}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}

	return &Collector{
		config:           cfg,
		registry:         registry,
		transportMetrics: NewTransportMetrics(cfg, registry),
		requestMetrics:   NewRequestMetrics(cfg, registry),
		lifecycleMetrics: NewLifecycleMetrics(cfg, registry),
	}
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// RecordConnection records a finished connection on a transport.
// outcome is "ok", "no_request", "malformed" or "error".
func (c *Collector) RecordConnection(transport, outcome string) {
	if !c.enabled() {
		return
	}
	c.transportMetrics.connectionsTotal.WithLabelValues(transport, outcome).Inc()
}

// ConnectionOpened increments the active connection gauge.
func (c *Collector) ConnectionOpened(transport string) {
	if !c.enabled() {
		return
	}
	c.transportMetrics.activeConnections.WithLabelValues(transport).Inc()
}

// ConnectionClosed decrements the active connection gauge.
func (c *Collector) ConnectionClosed(transport string) {
	if !c.enabled() {
		return
	}
	c.transportMetrics.activeConnections.WithLabelValues(transport).Dec()
}

// RecordFallbackActivation records that the primary engine failed and the
// fallback acceptor took over.
func (c *Collector) RecordFallbackActivation(reason string) {
	if !c.enabled() {
		return
	}
	c.transportMetrics.fallbackActivations.WithLabelValues(reason).Inc()
}

// SetTransport marks the active transport.
func (c *Collector) SetTransport(transport string) {
	if !c.enabled() {
		return
	}
	c.transportMetrics.activeTransport.Reset()
	c.transportMetrics.activeTransport.WithLabelValues(transport).Set(1)
}

// SetLifespanStrategy marks the negotiated lifespan strategy.
func (c *Collector) SetLifespanStrategy(strategy string) {
	if !c.enabled() {
		return
	}
	c.lifecycleMetrics.lifespanStrategy.Reset()
	c.lifecycleMetrics.lifespanStrategy.WithLabelValues(strategy).Set(1)
}

// RecordRequest records a completed application request.
func (c *Collector) RecordRequest(method, route string, status int, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.requestMetrics.RecordRequest(method, route, status, duration)
}

// RecordHealthPoll records one health poll made by the orchestrator.
func (c *Collector) RecordHealthPoll(result string) {
	if !c.enabled() {
		return
	}
	c.lifecycleMetrics.healthPolls.WithLabelValues(result).Inc()
}

// RecordTunnelAttempt records one tunnel provisioning attempt.
func (c *Collector) RecordTunnelAttempt(result string) {
	if !c.enabled() {
		return
	}
	c.lifecycleMetrics.tunnelAttempts.WithLabelValues(result).Inc()
}

// HealthPolls returns the orchestrator's health poll counts keyed by result.
func (c *Collector) HealthPolls() map[string]int {
	return c.resultCounts("orchestrator", "health_polls_total")
}

// TunnelAttempts returns the tunnel provisioning attempt counts keyed by result.
func (c *Collector) TunnelAttempts() map[string]int {
	return c.resultCounts("tunnel", "attempts_total")
}

// resultCounts reads a counter family with a "result" label back from the
// registry. A nil or disabled collector returns an empty map.
func (c *Collector) resultCounts(subsystem, name string) map[string]int {
	counts := make(map[string]int)
	if !c.enabled() {
		return counts
	}
	families, err := c.registry.Gather()
	if err != nil {
		return counts
	}
	fqName := prometheus.BuildFQName(c.config.Namespace, subsystem, name)
	for _, mf := range families {
		if mf.GetName() != fqName {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "result" {
					counts[lp.GetValue()] += int(m.GetCounter().GetValue())
				}
			}
		}
	}
	return counts
}

// RecordModelLoad records a model load and its duration.
func (c *Collector) RecordModelLoad(model, result string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.lifecycleMetrics.modelLoads.WithLabelValues(result).Inc()
	c.lifecycleMetrics.modelLoadDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordJournalPruned records the number of journal records removed by retention.
func (c *Collector) RecordJournalPruned(n int64) {
	if !c.enabled() {
		return
	}
	c.lifecycleMetrics.journalPruned.Add(float64(n))
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
