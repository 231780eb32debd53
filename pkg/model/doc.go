// Package model manages the active language model.
//
// A Manager keeps a Registry of known models, tracks which one is loaded
// and delegates generation to a Backend. HTTPBackend talks to any
// OpenAI-compatible completion server (/v1/models, /v1/completions).
//
// Loading is slow and is normally started in the background from the
// application's lifespan startup; the Manager mirrors its progress into
// state.Runtime so /health can report "initializing" meanwhile. A model
// whose load fails is replaced by its registry fallback when one exists.
//
// Idle unloading runs on a cron schedule (github.com/robfig/cron/v3) and
// releases the model after Options.IdleTimeout without use.
package model
