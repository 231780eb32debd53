// Package server runs the embedded application under supervision.
//
// A Server negotiates the application's lifespan, binds the primary
// net/http engine and, when that fails, falls back to one fallback.Acceptor
// per listen address. A 50ms supervisory loop watches an exit flag set by
// SIGINT/SIGTERM; the first signal also arms a watchdog that forces the
// process to exit if shutdown has not completed within the grace period.
//
// Lifecycle:
//
//	srv := server.New(server.Config{Addrs: []string{"127.0.0.1:8000"}, App: app})
//	err := srv.Serve(ctx) // Start, startup callback, Run, Shutdown
//
// Shutdown is idempotent: a second call neither closes sockets again nor
// runs the application's shutdown hook again.
package server
