package model

import (
	"sort"
	"sync"
)

// DefaultMaxLength is the generation length for models without their own.
const DefaultMaxLength = 512

// Info describes a registry entry.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Path is the identifier the backend knows the model by.
	Path string `json:"path"`

	MaxLength int    `json:"max_length"`
	RAM       string `json:"ram,omitempty"`
	VRAM      string `json:"vram,omitempty"`

	// Fallback is loaded instead when this model fails to load.
	Fallback string `json:"fallback,omitempty"`
}

// Registry is a concurrency-safe set of known models.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Info
}

// NewRegistry creates a registry holding infos.
func NewRegistry(infos ...Info) *Registry {
	r := &Registry{models: make(map[string]Info, len(infos))}
	for _, info := range infos {
		r.Register(info)
	}
	return r
}

// DefaultRegistry returns the built-in model set.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Info{
			ID:          "qwen-0.5b",
			Name:        "Qwen2.5 0.5B Instruct",
			Description: "Small instruction-tuned model, runs on CPU",
			Path:        "Qwen/Qwen2.5-0.5B-Instruct",
			MaxLength:   2048,
			RAM:         "1GB",
			VRAM:        "1GB",
		},
		Info{
			ID:          "tinyllama",
			Name:        "TinyLlama 1.1B Chat",
			Description: "Compact chat model",
			Path:        "TinyLlama/TinyLlama-1.1B-Chat-v1.0",
			MaxLength:   2048,
			RAM:         "2GB",
			VRAM:        "2GB",
			Fallback:    "qwen-0.5b",
		},
		Info{
			ID:          "phi-2",
			Name:        "Phi-2",
			Description: "2.7B model tuned for reasoning and code",
			Path:        "microsoft/phi-2",
			MaxLength:   2048,
			RAM:         "6GB",
			VRAM:        "6GB",
			Fallback:    "qwen-0.5b",
		},
		Info{
			ID:          "mistral-7b",
			Name:        "Mistral 7B Instruct",
			Description: "General purpose 7B instruction model",
			Path:        "mistralai/Mistral-7B-Instruct-v0.2",
			MaxLength:   4096,
			RAM:         "16GB",
			VRAM:        "14GB",
			Fallback:    "phi-2",
		},
	)
}

// Register adds or replaces info.
func (r *Registry) Register(info Info) {
	if info.Path == "" {
		info.Path = info.ID
	}
	if info.Name == "" {
		info.Name = info.ID
	}
	if info.MaxLength <= 0 {
		info.MaxLength = DefaultMaxLength
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[info.ID] = info
}

// Get returns the entry for id.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.models[id]
	return info, ok
}

// List returns all entries sorted by ID.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.models))
	for _, info := range r.models {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Resolve returns the registry entry for id, or an ad-hoc entry that uses
// id as the backend path for models not in the registry.
func (r *Registry) Resolve(id string) (Info, bool) {
	if info, ok := r.Get(id); ok {
		return info, true
	}
	return Info{ID: id, Name: id, Path: id, MaxLength: DefaultMaxLength}, false
}
