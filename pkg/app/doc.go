// Package app is the embedded inference application served by the
// supervised server.
//
// App implements protocol.Application, so it runs unchanged on the primary
// net/http engine and on the fallback acceptor, and exposes
// Startup/Shutdown hooks that the lifespan negotiator picks up. Startup
// begins loading the default model in the background and returns at once;
// Shutdown stops background work and unloads the model.
//
// Routes:
//
//	GET  /health                    liveness ("initializing" while loading)
//	GET  /ready                     readiness (model loaded)
//	GET  /startup-status            loading progress and uptime
//	POST /generate                  completion, SSE when "stream" is set
//	POST /chat                      chat completion, SSE when "stream" is set
//	POST /generate/batch            several prompts in order
//	POST /models/load               load a model
//	GET  /models/current            active model
//	GET  /models/available          registry
//	POST /models/unload             release the active model
//	GET  /system/info               runtime, model and request statistics
//	GET  /system/instructions       system prompt (global or ?model_id=)
//	POST /system/instructions       set the system prompt
//	POST /system/instructions/reset restore defaults
//	GET  /metrics                   Prometheus metrics
//	GET  /version                   build information
//
// Every response carries X-Request-ID, X-Process-Time and X-Request-Count.
// Requests other than health checks are journaled, and those slower than
// SlowRequestThreshold are logged as warnings.
package app
