// Package telemetry groups the observability packages of LocalLab.
//
//   - logging: slog setup with secret redaction and connection context
//   - metrics: Prometheus collectors for transports, requests and lifecycle
//   - health: liveness and readiness endpoints
package telemetry
