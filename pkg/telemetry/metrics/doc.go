// Package metrics provides Prometheus metrics collection for LocalLab.
//
// # Metrics Categories
//
//   - Transport: connections by transport and outcome, fallback activations
//   - Requests: application request count and duration
//   - Lifecycle: lifespan strategy, health polls, tunnel attempts, model loads,
//     journal pruning
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordConnection("fallback", "ok")
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
//
// All recording methods are safe on a nil *Collector.
package metrics
