// Package health provides the liveness, readiness and version endpoints of
// the embedded application.
//
// Liveness (/health) answers 200 as soon as the server is bound and reports
// "initializing" while the default model is still loading, then "healthy".
// The orchestrator's startup poll keys on the status code only, so a slow
// model load never fails startup.
//
// Readiness (/ready) runs the registered component checks (model loaded,
// journal reachable) and answers 503 until all pass.
//
//	checker := health.New(5 * time.Second)
//	checker.SetLiveness(func() string { return runtime.HealthStatus() })
//	checker.RegisterCheck("model", modelManager.Check)
//	mux.HandleFunc("/health", checker.LivenessHandler())
//	mux.HandleFunc("/ready", checker.ReadinessHandler())
package health
