// End-to-end tests for the Codeloom server stack.
//
// This test exercises the full stack:
//   - Real HTTP router (chi)
//   - Real SQLite store and step ledger (WAL mode, temp dir)
//   - Real event bus (in-memory pub/sub)
//   - Real engine orchestration with replay
//   - Simulated sandbox (records writes, serves reads)
//   - Fake LLM (deterministic tool calls and summaries)
//
// Does NOT require API keys or network access.
package codeloom_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	codeloom "github.com/codeloom/codeloom"
	"github.com/codeloom/codeloom/engine"
	"github.com/codeloom/codeloom/eventbus"
	"github.com/codeloom/codeloom/httpapi"
	"github.com/codeloom/codeloom/ledger"
	"github.com/codeloom/codeloom/llm"
	"github.com/codeloom/codeloom/model"
	"github.com/codeloom/codeloom/pipeline"
	"github.com/codeloom/codeloom/sandbox"
	"github.com/codeloom/codeloom/store"
	sqliteStore "github.com/codeloom/codeloom/store/sqlite"
)

// ---------------------------------------------------------------------------
// Simulated sandbox: records all writes, serves reads from them
// ---------------------------------------------------------------------------

type simSandbox struct {
	mu      sync.Mutex
	creates int
	files   map[string]string
	cmds    []string
}

func newSimSandbox() *simSandbox {
	return &simSandbox{files: make(map[string]string)}
}

func (s *simSandbox) Create(_ context.Context, template string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	return fmt.Sprintf("sim-%d", s.creates), nil
}

func (s *simSandbox) RunCommand(_ context.Context, _, command string) (sandbox.CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, command)
	return sandbox.CommandResult{Stdout: "added 1 package in 2s"}, nil
}

func (s *simSandbox) WriteFile(_ context.Context, _, path, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = content
	return nil
}

func (s *simSandbox) ReadFile(_ context.Context, _, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if content, ok := s.files[path]; ok {
		return content, nil
	}
	return "", sandbox.ErrNotFound
}

func (s *simSandbox) ResolveHost(_ context.Context, sandboxID string, port int) (string, error) {
	return fmt.Sprintf("https://%d-%s.example.dev", port, sandboxID), nil
}

func (s *simSandbox) snapshot() (int, map[string]string, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	files := make(map[string]string, len(s.files))
	for k, v := range s.files {
		files[k] = v
	}
	cmds := make([]string, len(s.cmds))
	copy(cmds, s.cmds)
	return s.creates, files, cmds
}

// ---------------------------------------------------------------------------
// Fake LLM: installs a dependency, writes a page, then summarizes
// ---------------------------------------------------------------------------

type fakeLLM struct{}

func (f *fakeLLM) Chat(_ context.Context, req llm.Request) (*llm.Response, error) {
	if len(req.Tools) == 0 {
		// Derive prompts.
		if strings.Contains(req.System, "title") {
			return &llm.Response{Text: "Pricing Page"}, nil
		}
		return &llm.Response{Text: "Here's your pricing page with three tiers."}, nil
	}

	toolTurns := 0
	for _, m := range req.Messages {
		if m.Role == "tool" {
			toolTurns++
		}
	}
	switch toolTurns {
	case 0:
		return &llm.Response{ToolCalls: []llm.ToolCall{{
			ID:        "call-terminal",
			Name:      "terminal",
			Arguments: json.RawMessage(`{"command":"npm install lucide-react --yes"}`),
		}}}, nil
	case 1:
		return &llm.Response{ToolCalls: []llm.ToolCall{{
			ID:        "call-write",
			Name:      "createOrUpdateFile",
			Arguments: json.RawMessage(`{"files":[{"path":"app/pricing/page.tsx","content":"export default function Pricing() { return null }"}]}`),
		}}}, nil
	default:
		return &llm.Response{Text: "<task_summary>Built a pricing page with three tiers.</task_summary>"}, nil
	}
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type e2eHarness struct {
	handler *httpapi.Handler
	sb      *simSandbox
	eng     *engine.Engine
	st      *sqliteStore.Store
}

func setupE2E(t *testing.T) *e2eHarness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "e2e.db")
	st, err := sqliteStore.New(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sb := newSimSandbox()
	client := &fakeLLM{}

	eng := engine.New(
		engine.Config{Template: "e2e-template"},
		st,
		ledger.New(st),
		eventbus.New(),
		sb,
		client,
		pipeline.NewDeriver(client, pipeline.DefaultTitlePrompt, pipeline.DefaultResponsePrompt),
	)

	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)
	t.Cleanup(func() {
		cancel()
		eng.Stop()
	})

	handler := httpapi.New(eng)
	return &e2eHarness{handler: handler, sb: sb, eng: eng, st: st}
}

func (h *e2eHarness) do(method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.handler.Router().ServeHTTP(w, req)
	return w
}

// waitForRun polls GET /api/runs/:id until the run reaches a terminal state.
func (h *e2eHarness) waitForRun(t *testing.T, id string, timeout time.Duration) engine.Run {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		w := h.do("GET", "/api/runs/"+id, "")
		var run engine.Run
		json.NewDecoder(w.Body).Decode(&run)
		if run.Status == engine.StatusComplete || run.Status == engine.StatusError {
			return run
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("run %s did not complete within %v", id, timeout)
	return engine.Run{}
}

// ---------------------------------------------------------------------------
// E2E Tests
// ---------------------------------------------------------------------------

// TestE2E_RunFullLifecycle tests the happy path: POST run, the agent
// installs a dependency, writes a file, summarizes; the fragment lands
// on the project's conversation with a preview URL.
func TestE2E_RunFullLifecycle(t *testing.T) {
	h := setupE2E(t)

	w := h.do("POST", "/api/runs", `{"project_id":"demo","prompt":"build a pricing page with three tiers"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created struct {
		ID string `json:"id"`
	}
	json.NewDecoder(w.Body).Decode(&created)
	if created.ID == "" {
		t.Fatal("expected non-empty run ID")
	}

	run := h.waitForRun(t, created.ID, 10*time.Second)
	if run.Status != engine.StatusComplete {
		t.Fatalf("expected 'complete', got %q (error: %s)", run.Status, run.Error)
	}
	if run.Outcome == nil || run.Outcome.Fragment == nil {
		t.Fatalf("expected outcome with fragment: %+v", run.Outcome)
	}
	frag := run.Outcome.Fragment
	if frag.Title != "Pricing Page" {
		t.Fatalf("unexpected fragment title: %q", frag.Title)
	}
	if frag.Files["app/pricing/page.tsx"] == "" {
		t.Fatalf("expected written file in fragment, got %v", frag.Files)
	}
	if !strings.HasPrefix(frag.PreviewURL, "https://3000-") {
		t.Fatalf("unexpected preview URL: %q", frag.PreviewURL)
	}

	// The sandbox saw exactly the agent's side effects.
	creates, files, cmds := h.sb.snapshot()
	if creates != 1 {
		t.Fatalf("expected 1 sandbox, got %d", creates)
	}
	if files["app/pricing/page.tsx"] == "" {
		t.Fatal("expected file written to sandbox")
	}
	if len(cmds) != 1 || !strings.Contains(cmds[0], "npm install") {
		t.Fatalf("unexpected sandbox commands: %v", cmds)
	}

	// Conversation: user prompt then result message with the fragment.
	msgs, err := h.eng.Store().MessagesByRun(created.ID)
	if err != nil {
		t.Fatalf("messages by run: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[1].Type != store.TypeResult {
		t.Fatalf("unexpected conversation: %+v", msgs)
	}
	if msgs[1].Fragment == nil || msgs[1].Fragment.Title != "Pricing Page" {
		t.Fatalf("unexpected persisted fragment: %+v", msgs[1].Fragment)
	}

	// Progress events were stored, ending with "done".
	events, err := h.eng.Store().GetEvents(created.ID, 0)
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	eventTypes := map[string]int{}
	for _, ev := range events {
		eventTypes[ev.Type]++
	}
	if eventTypes["status"] == 0 {
		t.Fatal("expected 'status' events")
	}
	if eventTypes["done"] == 0 {
		t.Fatal("expected 'done' event")
	}
}

// TestE2E_ReplayAfterRestart simulates a crash-restart by executing the
// same run ID a second time against the same database: no model calls
// or sandbox effects repeat, and the outcome is identical.
func TestE2E_ReplayAfterRestart(t *testing.T) {
	h := setupE2E(t)

	req := model.RunRequest{RunID: "e2e-replay", ProjectID: "demo", Prompt: "build it"}
	first, err := h.eng.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	creates1, files1, cmds1 := h.sb.snapshot()

	// A fresh engine over the same store stands in for a restart.
	eng2 := engine.New(
		engine.Config{Template: "e2e-template"},
		h.st,
		ledger.New(h.st),
		eventbus.New(),
		h.sb,
		&fakeLLM{},
		pipeline.NewDeriver(&fakeLLM{}, pipeline.DefaultTitlePrompt, pipeline.DefaultResponsePrompt),
	)
	second, err := eng2.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("replay execute: %v", err)
	}

	creates2, files2, cmds2 := h.sb.snapshot()
	if creates2 != creates1 {
		t.Fatalf("replay provisioned a sandbox: %d -> %d", creates1, creates2)
	}
	if len(cmds2) != len(cmds1) {
		t.Fatalf("replay re-ran commands: %v -> %v", cmds1, cmds2)
	}
	if len(files2) != len(files1) {
		t.Fatalf("replay re-wrote files: %v -> %v", files1, files2)
	}
	if second.Status != first.Status || second.Content != first.Content {
		t.Fatalf("replay outcome diverged: %+v vs %+v", first, second)
	}

	msgs, _ := h.eng.Store().MessagesByRun("e2e-replay")
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages after replay, got %d", len(msgs))
	}
}

// TestE2E_EventStreamReplaysHistory verifies the SSE endpoint replays
// stored events for a finished run.
func TestE2E_EventStreamReplaysHistory(t *testing.T) {
	h := setupE2E(t)

	w := h.do("POST", "/api/runs", `{"project_id":"demo","prompt":"build a page"}`)
	var created struct {
		ID string `json:"id"`
	}
	json.NewDecoder(w.Body).Decode(&created)
	h.waitForRun(t, created.ID, 10*time.Second)

	sseCtx, sseCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer sseCancel()
	sseReq := httptest.NewRequest("GET", "/api/runs/"+created.ID+"/events", nil)
	sseReq = sseReq.WithContext(sseCtx)
	sseW := httptest.NewRecorder()

	sseDone := make(chan struct{})
	go func() {
		defer close(sseDone)
		h.handler.Router().ServeHTTP(sseW, sseReq)
	}()
	<-sseDone

	sseEventCount := 0
	scanner := bufio.NewScanner(sseW.Body)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "data: ") {
			sseEventCount++
		}
	}
	if sseEventCount == 0 {
		t.Fatal("expected SSE endpoint to stream historical events")
	}
}

// TestE2E_RunNotFound verifies 404 for non-existent runs.
func TestE2E_RunNotFound(t *testing.T) {
	h := setupE2E(t)

	w := h.do("GET", "/api/runs/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

// TestE2E_HealthCheck verifies the /health endpoint.
func TestE2E_HealthCheck(t *testing.T) {
	h := setupE2E(t)

	w := h.do("GET", "/health", "")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Fatalf("expected 'ok', got %q", w.Body.String())
	}
}

// Compile-time check that top-level types are referenced.
var _ = codeloom.Config{}
