package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"locallab-hq/locallab/pkg/model"
	"locallab-hq/locallab/pkg/telemetry/health"
)

// maxRequestBody bounds decoded JSON bodies.
const maxRequestBody = 4 << 20

var knownRoutes = map[string]struct{}{
	"/health":                    {},
	"/ready":                     {},
	"/startup-status":            {},
	"/generate":                  {},
	"/chat":                      {},
	"/generate/batch":            {},
	"/models/load":               {},
	"/models/current":            {},
	"/models/available":          {},
	"/models/unload":             {},
	"/system/info":               {},
	"/system/instructions":       {},
	"/system/instructions/reset": {},
	"/metrics":                   {},
	"/version":                   {},
}

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	Prompt             string  `json:"prompt"`
	ModelID            string  `json:"model_id,omitempty"`
	Stream             bool    `json:"stream,omitempty"`
	MaxLength          int     `json:"max_length,omitempty"`
	Temperature        float64 `json:"temperature,omitempty"`
	TopP               float64 `json:"top_p,omitempty"`
	SystemInstructions string  `json:"system_instructions,omitempty"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Messages    []model.ChatMessage `json:"messages"`
	ModelID     string              `json:"model_id,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
	MaxLength   int                 `json:"max_length,omitempty"`
	Temperature float64             `json:"temperature,omitempty"`
	TopP        float64             `json:"top_p,omitempty"`
}

// BatchGenerateRequest is the body of POST /generate/batch.
type BatchGenerateRequest struct {
	Prompts     []string `json:"prompts"`
	ModelID     string   `json:"model_id,omitempty"`
	MaxLength   int      `json:"max_length,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
}

// SystemInstructionsRequest is the body of POST /system/instructions.
type SystemInstructionsRequest struct {
	Instructions string `json:"instructions"`
	ModelID      string `json:"model_id,omitempty"`
}

// SystemInfo is the body of GET /system/info.
type SystemInfo struct {
	ActiveModel  string  `json:"active_model"`
	ModelLoading bool    `json:"model_loading"`
	Uptime       float64 `json:"uptime"`
	RequestCount int64   `json:"request_count"`
	Status       string  `json:"status"`
	Transport    string  `json:"transport,omitempty"`
	Lifespan     string  `json:"lifespan,omitempty"`
	GoVersion    string  `json:"go_version"`
	NumCPU       int     `json:"num_cpu"`
	Goroutines   int     `json:"goroutines"`
	MemoryAlloc  string  `json:"memory_alloc"`
	MemorySys    string  `json:"memory_sys"`
}

type chatChoice struct {
	Message model.ChatMessage `json:"message"`
}

func (a *App) routes(version, commit, buildTime string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", a.checker.LivenessHandler())
	mux.HandleFunc("/ready", a.checker.ReadinessHandler())
	mux.HandleFunc("GET /startup-status", a.handleStartupStatus)
	mux.HandleFunc("GET /version", health.VersionHandler(version, commit, buildTime))

	mux.HandleFunc("POST /generate", a.handleGenerate)
	mux.HandleFunc("POST /chat", a.handleChat)
	mux.HandleFunc("POST /generate/batch", a.handleBatch)

	mux.HandleFunc("POST /models/load", a.handleLoadModel)
	mux.HandleFunc("GET /models/current", a.handleCurrentModel)
	mux.HandleFunc("GET /models/available", a.handleAvailableModels)
	mux.HandleFunc("POST /models/unload", a.handleUnloadModel)

	mux.HandleFunc("GET /system/info", a.handleSystemInfo)
	mux.HandleFunc("GET /system/instructions", a.handleGetInstructions)
	mux.HandleFunc("POST /system/instructions", a.handleSetInstructions)
	mux.HandleFunc("POST /system/instructions/reset", a.handleResetInstructions)

	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}
	return mux
}

func (a *App) handleStartupStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"server_ready":  true,
		"model_loading": a.runtime.ModelLoading(),
		"current_model": a.manager.Current(),
		"uptime":        time.Since(a.started).Seconds(),
	})
}

func (a *App) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusUnprocessableEntity, "prompt is required")
		return
	}

	params := model.GenerateParams{
		Prompt:             req.Prompt,
		ModelID:            req.ModelID,
		MaxLength:          req.MaxLength,
		Temperature:        req.Temperature,
		TopP:               req.TopP,
		SystemInstructions: req.SystemInstructions,
	}
	if req.Stream {
		a.stream(w, r, params)
		return
	}

	text, err := a.manager.Generate(r.Context(), params)
	if err != nil {
		a.generationFailed(w, r, "generation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": text})
}

func (a *App) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "messages are required")
		return
	}

	params := model.GenerateParams{
		Prompt:      model.FormatChat(req.Messages),
		ModelID:     req.ModelID,
		MaxLength:   req.MaxLength,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.Stream {
		a.stream(w, r, params)
		return
	}

	text, err := a.manager.Generate(r.Context(), params)
	if err != nil {
		a.generationFailed(w, r, "chat completion failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"choices": []chatChoice{{Message: model.ChatMessage{Role: "assistant", Content: text}}},
	})
}

func (a *App) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchGenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Prompts) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "prompts are required")
		return
	}

	responses := make([]string, 0, len(req.Prompts))
	for _, prompt := range req.Prompts {
		text, err := a.manager.Generate(r.Context(), model.GenerateParams{
			Prompt:      prompt,
			ModelID:     req.ModelID,
			MaxLength:   req.MaxLength,
			Temperature: req.Temperature,
			TopP:        req.TopP,
		})
		if err != nil {
			a.generationFailed(w, r, "batch generation failed", err)
			return
		}
		responses = append(responses, text)
	}
	writeJSON(w, http.StatusOK, map[string]any{"responses": responses})
}

// stream writes chunks as server-sent events terminated by [DONE]. Errors
// after the first byte are reported in-band.
func (a *App) stream(w http.ResponseWriter, r *http.Request, params model.GenerateParams) {
	flusher, _ := w.(http.Flusher)
	started := false

	err := a.manager.Stream(r.Context(), params, func(chunk string) error {
		if !started {
			started = true
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
		}
		if err := writeEvent(w, chunk); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})

	if err != nil && !started {
		a.generationFailed(w, r, "streaming generation failed", err)
		return
	}
	if !started {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
	}
	if err != nil {
		a.logger.ErrorContext(r.Context(), "streaming generation failed", "error", err)
		fmt.Fprintf(w, "data: [ERROR] %s\n\n", oneLine(err.Error()))
		return
	}
	io.WriteString(w, "data: [DONE]\n\n")
}

// writeEvent frames chunk as one SSE event; embedded newlines become
// additional data lines.
func writeEvent(w io.Writer, chunk string) error {
	var b strings.Builder
	for _, line := range strings.Split(chunk, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

func oneLine(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}

func (a *App) generationFailed(w http.ResponseWriter, r *http.Request, msg string, err error) {
	a.logger.ErrorContext(r.Context(), msg, "error", err)
	status := http.StatusInternalServerError
	if errors.Is(err, model.ErrNoModelLoaded) {
		status = http.StatusServiceUnavailable
	}
	writeError(w, status, err.Error())
}

func (a *App) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ModelID string `json:"model_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ModelID == "" {
		writeError(w, http.StatusUnprocessableEntity, "model_id is required")
		return
	}

	if err := a.manager.Load(r.Context(), req.ModelID); err != nil {
		a.logger.ErrorContext(r.Context(), "model loading failed", "model", req.ModelID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "success",
		"model_id": a.manager.Current(),
	})
}

func (a *App) handleCurrentModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.Info())
}

func (a *App) handleAvailableModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": a.manager.Registry().List()})
}

func (a *App) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.manager.Unload(); ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "Model unloaded successfully"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "No model was loaded"})
}

func (a *App) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	snap := a.runtime.Snapshot()

	count := snap.Requests
	if a.journal != nil {
		n, err := a.journal.Count(r.Context())
		if err != nil {
			a.logger.WarnContext(r.Context(), "journal count failed", "error", err)
		} else {
			count = n
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, SystemInfo{
		ActiveModel:  a.manager.Current(),
		ModelLoading: snap.ModelLoading,
		Uptime:       time.Since(a.started).Seconds(),
		RequestCount: count,
		Status:       string(snap.Status),
		Transport:    snap.Transport,
		Lifespan:     snap.Lifespan,
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		Goroutines:   runtime.NumGoroutine(),
		MemoryAlloc:  humanize.IBytes(mem.Alloc),
		MemorySys:    humanize.IBytes(mem.Sys),
	})
}

func (a *App) handleGetInstructions(w http.ResponseWriter, r *http.Request) {
	modelID := r.URL.Query().Get("model_id")
	scope := modelID
	if scope == "" {
		scope = "global"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"instructions": a.manager.Instructions().Get(modelID),
		"model_id":     scope,
	})
}

func (a *App) handleSetInstructions(w http.ResponseWriter, r *http.Request) {
	var req SystemInstructionsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ModelID != "" {
		a.manager.Instructions().SetModel(req.ModelID, req.Instructions)
		writeJSON(w, http.StatusOK, map[string]string{"message": "Updated system instructions for model " + req.ModelID})
		return
	}
	a.manager.Instructions().SetGlobal(req.Instructions)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Updated global system instructions"})
}

func (a *App) handleResetInstructions(w http.ResponseWriter, r *http.Request) {
	modelID := r.URL.Query().Get("model_id")
	a.manager.Instructions().Reset(modelID)
	target := "all models"
	if modelID != "" {
		target = "model " + modelID
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Reset system instructions for " + target})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
