package model

import "sync"

// DefaultInstructions is the system prompt used until one is set.
const DefaultInstructions = "You are a helpful AI assistant. Answer clearly and concisely."

// Instructions holds the global system prompt and per-model overrides.
type Instructions struct {
	mu       sync.RWMutex
	global   string
	perModel map[string]string
}

// NewInstructions creates Instructions holding DefaultInstructions.
func NewInstructions() *Instructions {
	return &Instructions{global: DefaultInstructions, perModel: make(map[string]string)}
}

// Get returns the instructions for modelID, falling back to the global
// ones. An empty modelID selects the global instructions.
func (in *Instructions) Get(modelID string) string {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if s, ok := in.perModel[modelID]; ok && modelID != "" {
		return s
	}
	return in.global
}

// SetGlobal replaces the global instructions.
func (in *Instructions) SetGlobal(s string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.global = s
}

// SetModel sets instructions for one model.
func (in *Instructions) SetModel(modelID, s string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.perModel[modelID] = s
}

// Reset drops the override for modelID, or restores every default when
// modelID is empty.
func (in *Instructions) Reset(modelID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if modelID != "" {
		delete(in.perModel, modelID)
		return
	}
	in.global = DefaultInstructions
	in.perModel = make(map[string]string)
}
