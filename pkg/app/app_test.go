package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"locallab-hq/locallab/pkg/fallback"
	"locallab-hq/locallab/pkg/journal"
	"locallab-hq/locallab/pkg/lifespan"
	"locallab-hq/locallab/pkg/model"
	"locallab-hq/locallab/pkg/protocol"
	"locallab-hq/locallab/pkg/state"
	"locallab-hq/locallab/pkg/telemetry/logging"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeBackend struct {
	mu      sync.Mutex
	prompts []string
	release chan struct{}
	failGen error
}

func (f *fakeBackend) LoadModel(ctx context.Context, path string) error {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeBackend) Complete(ctx context.Context, req model.CompletionRequest) (string, error) {
	if f.failGen != nil {
		return "", f.failGen
	}
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()
	return "echo:" + req.Prompt[strings.LastIndex(req.Prompt, "\n")+1:], nil
}

func (f *fakeBackend) Stream(ctx context.Context, req model.CompletionRequest, emit func(string) error) error {
	if f.failGen != nil {
		return f.failGen
	}
	for _, c := range []string{"Hello", ", ", "world"} {
		if err := emit(c); err != nil {
			return err
		}
	}
	return nil
}

type fixture struct {
	app     *App
	backend *fakeBackend
	runtime *state.Runtime
	journal *journal.Journal
}

func newFixture(t *testing.T, defaultModel string) *fixture {
	t.Helper()
	backend := &fakeBackend{}
	rt := state.New()
	j := journal.New(journal.NewMemoryStore(), discardLogger)
	manager := model.NewManager(model.Options{
		Registry: model.NewRegistry(
			model.Info{ID: "tiny", Path: "org/tiny", MaxLength: 64},
			model.Info{ID: "other", Path: "org/other"},
		),
		Backend:      backend,
		DefaultModel: defaultModel,
		Runtime:      rt,
		Logger:       discardLogger,
	})
	a := New(Options{
		Manager: manager,
		Runtime: rt,
		Journal: j,
		Logger:  discardLogger,
		Version: "1.2.3",
	})
	return &fixture{app: a, backend: backend, runtime: rt, journal: j}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.app.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthReportsInitializingWhileLoading(t *testing.T) {
	f := newFixture(t, "tiny")
	f.backend.release = make(chan struct{})

	if err := f.app.Startup(context.Background()); err != nil {
		t.Fatalf("startup failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !f.runtime.ModelLoading() {
		if time.Now().After(deadline) {
			t.Fatal("expected background load to start")
		}
		time.Sleep(time.Millisecond)
	}

	rec := f.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 while loading, got %d", rec.Code)
	}
	if got := decode(t, rec)["status"]; got != "initializing" {
		t.Errorf("expected initializing, got %v", got)
	}
	if rec := f.do(http.MethodGet, "/ready", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected /ready 503 while loading, got %d", rec.Code)
	}
	status := decode(t, f.do(http.MethodGet, "/startup-status", ""))
	if status["model_loading"] != true || status["server_ready"] != true {
		t.Errorf("unexpected startup status %v", status)
	}

	close(f.backend.release)
	deadline = time.Now().Add(time.Second)
	for f.runtime.ModelLoading() {
		if time.Now().After(deadline) {
			t.Fatal("expected background load to finish")
		}
		time.Sleep(time.Millisecond)
	}

	if got := decode(t, f.do(http.MethodGet, "/health", ""))["status"]; got != "healthy" {
		t.Errorf("expected healthy, got %v", got)
	}
	if rec := f.do(http.MethodGet, "/ready", ""); rec.Code != http.StatusOK {
		t.Errorf("expected /ready 200, got %d", rec.Code)
	}

	if err := f.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if f.app.manager.Current() != "" {
		t.Error("expected model unloaded at shutdown")
	}
}

func TestShutdownCancelsBackgroundLoad(t *testing.T) {
	f := newFixture(t, "tiny")
	f.backend.release = make(chan struct{})

	f.app.Startup(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.app.Shutdown(ctx); err != nil {
		t.Fatalf("expected background load to stop on shutdown, got %v", err)
	}
	if f.runtime.ModelLoading() {
		t.Error("expected loading flag cleared")
	}
}

func TestResponseHeaders(t *testing.T) {
	f := newFixture(t, "tiny")

	first := f.do(http.MethodGet, "/models/current", "")
	second := f.do(http.MethodGet, "/models/current", "")

	if first.Header().Get("X-Process-Time") == "" {
		t.Error("expected X-Process-Time header")
	}
	if first.Header().Get(RequestIDHeader) == "" {
		t.Error("expected generated request id")
	}
	if first.Header().Get("X-Request-Count") != "1" || second.Header().Get("X-Request-Count") != "2" {
		t.Errorf("expected request counts 1 and 2, got %s and %s",
			first.Header().Get("X-Request-Count"), second.Header().Get("X-Request-Count"))
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "client-id")
	rec := httptest.NewRecorder()
	f.app.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "client-id" {
		t.Errorf("expected client request id echoed, got %q", got)
	}
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantText   string
	}{
		{name: "ok", body: `{"prompt":"hi"}`, wantStatus: 200, wantText: "echo:hi"},
		{name: "missing prompt", body: `{"prompt":"  "}`, wantStatus: 422},
		{name: "bad json", body: `{"prompt":`, wantStatus: 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "tiny")
			rec := f.do(http.MethodPost, "/generate", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantText != "" {
				if got := decode(t, rec)["response"]; got != tt.wantText {
					t.Errorf("expected %q, got %v", tt.wantText, got)
				}
			}
		})
	}
}

func TestGenerateErrors(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodPost, "/generate", `{"prompt":"hi"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a model, got %d", rec.Code)
	}

	f = newFixture(t, "tiny")
	f.backend.failGen = errors.New("backend down")
	rec = f.do(http.MethodPost, "/generate", `{"prompt":"hi"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if got := decode(t, rec)["detail"]; got != "backend down" {
		t.Errorf("expected detail, got %v", got)
	}
}

func TestGenerateStream(t *testing.T) {
	f := newFixture(t, "tiny")
	rec := f.do(http.MethodPost, "/generate", `{"prompt":"hi","stream":true}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}

	var events []string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
			events = append(events, data)
		}
	}
	want := []string{"Hello", ", ", "world", "[DONE]"}
	if strings.Join(events, "|") != strings.Join(want, "|") {
		t.Errorf("expected events %v, got %v", want, events)
	}
}

func TestStreamErrorBeforeFirstChunk(t *testing.T) {
	f := newFixture(t, "tiny")
	f.backend.failGen = errors.New("backend down")
	rec := f.do(http.MethodPost, "/chat", `{"messages":[{"role":"user","content":"x"}],"stream":true}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestChat(t *testing.T) {
	f := newFixture(t, "tiny")
	rec := f.do(http.MethodPost, "/chat", `{"messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hello"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var out struct {
		Choices []struct {
			Message model.ChatMessage `json:"message"`
		} `json:"choices"`
	}
	json.Unmarshal(rec.Body.Bytes(), &out)
	if len(out.Choices) != 1 || out.Choices[0].Message.Role != "assistant" {
		t.Fatalf("unexpected response %s", rec.Body.String())
	}
	if out.Choices[0].Message.Content != "echo:user: hello" {
		t.Errorf("unexpected content %q", out.Choices[0].Message.Content)
	}
	if !strings.Contains(f.backend.prompts[0], "system: be brief\nuser: hello") {
		t.Errorf("expected formatted chat prompt, got %q", f.backend.prompts[0])
	}

	if rec := f.do(http.MethodPost, "/chat", `{"messages":[]}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for empty messages, got %d", rec.Code)
	}
}

func TestBatch(t *testing.T) {
	f := newFixture(t, "tiny")
	rec := f.do(http.MethodPost, "/generate/batch", `{"prompts":["a","b","c"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out struct {
		Responses []string `json:"responses"`
	}
	json.Unmarshal(rec.Body.Bytes(), &out)
	if strings.Join(out.Responses, ",") != "echo:a,echo:b,echo:c" {
		t.Errorf("unexpected responses %v", out.Responses)
	}
}

func TestModelRoutes(t *testing.T) {
	f := newFixture(t, "")

	if got := decode(t, f.do(http.MethodGet, "/models/current", ""))["status"]; got != "No model loaded" {
		t.Errorf("expected no model, got %v", got)
	}

	rec := f.do(http.MethodPost, "/models/load", `{"model_id":"other"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decode(t, rec)["model_id"]; got != "other" {
		t.Errorf("expected other loaded, got %v", got)
	}
	if got := decode(t, f.do(http.MethodGet, "/models/current", ""))["model_id"]; got != "other" {
		t.Errorf("expected current other, got %v", got)
	}

	var available struct {
		Models []model.Info `json:"models"`
	}
	json.Unmarshal(f.do(http.MethodGet, "/models/available", "").Body.Bytes(), &available)
	if len(available.Models) != 2 || available.Models[0].ID != "other" {
		t.Errorf("unexpected registry listing %+v", available.Models)
	}

	if got := decode(t, f.do(http.MethodPost, "/models/unload", ""))["status"]; got != "Model unloaded successfully" {
		t.Errorf("unexpected unload status %v", got)
	}
	if got := decode(t, f.do(http.MethodPost, "/models/unload", ""))["status"]; got != "No model was loaded" {
		t.Errorf("unexpected second unload status %v", got)
	}

	if rec := f.do(http.MethodGet, "/models/load", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET /models/load, got %d", rec.Code)
	}
}

func TestInstructionRoutes(t *testing.T) {
	f := newFixture(t, "")

	if got := decode(t, f.do(http.MethodGet, "/system/instructions", ""))["model_id"]; got != "global" {
		t.Errorf("expected global scope, got %v", got)
	}

	f.do(http.MethodPost, "/system/instructions", `{"instructions":"be terse","model_id":"tiny"}`)
	out := decode(t, f.do(http.MethodGet, "/system/instructions?model_id=tiny", ""))
	if out["instructions"] != "be terse" || out["model_id"] != "tiny" {
		t.Errorf("unexpected instructions %v", out)
	}

	msg := decode(t, f.do(http.MethodPost, "/system/instructions/reset?model_id=tiny", ""))["message"]
	if msg != "Reset system instructions for model tiny" {
		t.Errorf("unexpected reset message %v", msg)
	}
	if got := decode(t, f.do(http.MethodGet, "/system/instructions?model_id=tiny", ""))["instructions"]; got != model.DefaultInstructions {
		t.Errorf("expected default instructions, got %v", got)
	}
}

func TestSystemInfoCountsJournaledRequests(t *testing.T) {
	f := newFixture(t, "")
	f.runtime.SetTransport("primary")

	f.do(http.MethodGet, "/health", "")
	f.do(http.MethodGet, "/startup-status", "")
	f.do(http.MethodGet, "/models/current", "")
	f.do(http.MethodGet, "/models/available", "")

	var info SystemInfo
	json.Unmarshal(f.do(http.MethodGet, "/system/info", "").Body.Bytes(), &info)

	if info.RequestCount != 2 {
		t.Errorf("expected 2 journaled requests before /system/info, got %d", info.RequestCount)
	}
	if info.Transport != "primary" {
		t.Errorf("expected transport primary, got %q", info.Transport)
	}
	if info.NumCPU == 0 || info.MemoryAlloc == "" {
		t.Errorf("expected runtime statistics, got %+v", info)
	}
}

func TestServedThroughFallbackBridge(t *testing.T) {
	f := newFixture(t, "tiny")
	bridge := fallback.NewBridge(f.app, discardLogger)

	raw := "POST /generate HTTP/1.1\r\nHost: localhost\r\nContent-Type: application/json\r\nContent-Length: 15\r\n\r\n{\"prompt\":\"yo\"}"
	req, err := fallback.ReadRequest(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("read request: %v", err)
	}

	ctx := logging.WithTransport(context.Background(), fallback.TransportName)
	msgs := bridge.Dispatch(ctx, req, protocol.Addr{Host: "127.0.0.1", Port: 8000}, protocol.Addr{Host: "127.0.0.1", Port: 50000})

	if len(msgs) < 2 || msgs[0].Type != protocol.TypeResponseStart || msgs[0].Status != http.StatusOK {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	var body bytes.Buffer
	for _, m := range msgs[1:] {
		body.Write(m.Body)
	}
	if !strings.Contains(body.String(), "echo:yo") {
		t.Errorf("expected echoed completion, got %q", body.String())
	}

	recent, _ := f.journal.Recent(context.Background(), 1)
	if len(recent) != 1 || recent[0].Transport != fallback.TransportName || recent[0].Path != "/generate" {
		t.Errorf("expected fallback request journaled, got %+v", recent)
	}
}

func TestLifespanNegotiation(t *testing.T) {
	f := newFixture(t, "")
	_, strategy := lifespan.NewNegotiator(discardLogger).Negotiate(f.app)
	if strategy != "context-hooks" {
		t.Errorf("expected context-hooks strategy, got %s", strategy)
	}
}
