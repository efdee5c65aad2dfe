package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/codeloom/codeloom/agent"
	"github.com/codeloom/codeloom/ledger"
	"github.com/codeloom/codeloom/llm"
	"github.com/codeloom/codeloom/sandbox"
)

// fakeSandbox is an in-memory sandbox.Runtime for tool tests.
type fakeSandbox struct {
	mu         sync.Mutex
	files      map[string]string
	writes     int
	commandErr error
	cmdResult  sandbox.CommandResult
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{files: map[string]string{}}
}

func (f *fakeSandbox) Create(_ context.Context, _ string) (string, error) { return "sbx-test", nil }

func (f *fakeSandbox) RunCommand(_ context.Context, _, command string) (sandbox.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commandErr != nil {
		return f.cmdResult, f.commandErr
	}
	return sandbox.CommandResult{Stdout: "ran: " + command}, nil
}

func (f *fakeSandbox) WriteFile(_ context.Context, _, path, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
		return sandbox.ErrWriteDenied
	}
	f.files[path] = content
	f.writes++
	return nil
}

func (f *fakeSandbox) ReadFile(_ context.Context, _, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[path]
	if !ok {
		return "", sandbox.ErrNotFound
	}
	return content, nil
}

func (f *fakeSandbox) ResolveHost(_ context.Context, _ string, _ int) (string, error) {
	return "https://3000-sbx-test.sandboxes.dev", nil
}

func (f *fakeSandbox) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func newTestRegistry(t *testing.T, sb sandbox.Runtime) (*Registry, *agent.State) {
	t.Helper()
	state := agent.NewState()
	reg := NewRegistry(ledger.New(ledger.NewMemoryStore()), "run-1", state)
	for _, tool := range Builtin(sb, "sbx-test") {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("registering %s: %v", tool.Name, err)
		}
	}
	return reg, state
}

func call(name, args string) llm.ToolCall {
	return llm.ToolCall{ID: "c1", Name: name, Arguments: json.RawMessage(args)}
}

func TestTerminalReturnsStdout(t *testing.T) {
	reg, _ := newTestRegistry(t, newFakeSandbox())

	got, err := reg.Dispatch(context.Background(), 1, 0, call("terminal", `{"command":"npm install --yes"}`))
	if err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	if got != "ran: npm install --yes" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestTerminalFailureBecomesDiagnostic(t *testing.T) {
	sb := newFakeSandbox()
	sb.commandErr = errors.New("exit status 1")
	sb.cmdResult = sandbox.CommandResult{Stdout: "partial out", Stderr: "npm ERR!"}
	reg, _ := newTestRegistry(t, sb)

	got, err := reg.Dispatch(context.Background(), 1, 0, call("terminal", `{"command":"npm run build"}`))
	if err != nil {
		t.Fatalf("tool failure must not raise: %v", err)
	}
	for _, want := range []string{"Command failed", "partial out", "npm ERR!"} {
		if !strings.Contains(got, want) {
			t.Fatalf("diagnostic missing %q: %s", want, got)
		}
	}
}

func TestCreateOrUpdateFileWritesSandboxAndState(t *testing.T) {
	sb := newFakeSandbox()
	reg, state := newTestRegistry(t, sb)

	args := `{"files":[{"path":"app/page.tsx","content":"export default Page"},{"path":"lib/utils.ts","content":"export const cn = 1"}]}`
	got, err := reg.Dispatch(context.Background(), 1, 0, call("createOrUpdateFile", args))
	if err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	if !strings.Contains(got, "2 file(s)") {
		t.Fatalf("unexpected result: %q", got)
	}
	if sb.files["app/page.tsx"] != "export default Page" {
		t.Fatal("sandbox write missing")
	}
	if state.FileCount() != 2 {
		t.Fatalf("expected 2 files in state, got %d", state.FileCount())
	}
	paths := state.Paths()
	if paths[0] != "app/page.tsx" || paths[1] != "lib/utils.ts" {
		t.Fatalf("insertion order lost: %v", paths)
	}
}

func TestCreateOrUpdateFileFailureLeavesStateUntouched(t *testing.T) {
	sb := newFakeSandbox()
	reg, state := newTestRegistry(t, sb)

	// Second path escapes the working directory, so the write fails.
	args := `{"files":[{"path":"app/page.tsx","content":"x"},{"path":"../escape.txt","content":"y"}]}`
	got, err := reg.Dispatch(context.Background(), 1, 0, call("createOrUpdateFile", args))
	if err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	if !strings.Contains(got, "Failed to create or update files") {
		t.Fatalf("expected diagnostic, got %q", got)
	}
	if state.FileCount() != 0 {
		t.Fatalf("state mutated on failed call: %v", state.Paths())
	}
}

func TestSchemaRejectionBeforeSandboxWrite(t *testing.T) {
	sb := newFakeSandbox()
	reg, state := newTestRegistry(t, sb)

	got, err := reg.Dispatch(context.Background(), 1, 0, call("createOrUpdateFile", `{"paths":["nope"]}`))
	if err != nil {
		t.Fatalf("validation fault must not raise: %v", err)
	}
	if !strings.Contains(got, "invalid arguments for createOrUpdateFile") {
		t.Fatalf("expected validation diagnostic, got %q", got)
	}
	if sb.writeCount() != 0 {
		t.Fatal("sandbox written despite schema rejection")
	}
	if state.FileCount() != 0 {
		t.Fatal("state mutated despite schema rejection")
	}
}

func TestReadFilesReturnsStructuredContents(t *testing.T) {
	sb := newFakeSandbox()
	sb.files["components/ui/button.tsx"] = "button source"
	reg, _ := newTestRegistry(t, sb)

	got, err := reg.Dispatch(context.Background(), 1, 0, call("readFiles", `{"files":["components/ui/button.tsx"]}`))
	if err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	var contents []File
	if err := json.Unmarshal([]byte(got), &contents); err != nil {
		t.Fatalf("result is not structured JSON: %q", got)
	}
	if len(contents) != 1 || contents[0].Content != "button source" {
		t.Fatalf("unexpected contents: %+v", contents)
	}
}

func TestReadFilesMissingBecomesDiagnostic(t *testing.T) {
	reg, _ := newTestRegistry(t, newFakeSandbox())

	got, err := reg.Dispatch(context.Background(), 1, 0, call("readFiles", `{"files":["missing.tsx"]}`))
	if err != nil {
		t.Fatalf("dispatch error: %v", err)
	}
	if !strings.Contains(got, "Failed to read files") {
		t.Fatalf("expected diagnostic, got %q", got)
	}
}

func TestUnknownToolReported(t *testing.T) {
	reg, _ := newTestRegistry(t, newFakeSandbox())

	got, err := reg.Dispatch(context.Background(), 1, 0, call("deleteEverything", `{}`))
	if err != nil {
		t.Fatalf("unknown tool must not raise: %v", err)
	}
	if !strings.Contains(got, "unknown tool") {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestDispatchReplaySkipsSideEffect(t *testing.T) {
	sb := newFakeSandbox()
	reg, state := newTestRegistry(t, sb)

	args := `{"files":[{"path":"app/page.tsx","content":"v1"}]}`
	if _, err := reg.Dispatch(context.Background(), 2, 0, call("createOrUpdateFile", args)); err != nil {
		t.Fatal(err)
	}
	writesAfterFirst := sb.writeCount()

	// Same turn and index replays the recorded step: no new sandbox
	// write, but the state mutation is re-applied.
	if _, err := reg.Dispatch(context.Background(), 2, 0, call("createOrUpdateFile", args)); err != nil {
		t.Fatal(err)
	}
	if sb.writeCount() != writesAfterFirst {
		t.Fatal("replay repeated the sandbox write")
	}
	if content, _ := state.File("app/page.tsx"); content != "v1" {
		t.Fatalf("state not rebuilt on replay: %q", content)
	}
}

func TestConcurrentDisjointFileCalls(t *testing.T) {
	sb := newFakeSandbox()
	reg, state := newTestRegistry(t, sb)

	var wg sync.WaitGroup
	for i, args := range []string{
		`{"files":[{"path":"app/a.tsx","content":"A"}]}`,
		`{"files":[{"path":"app/b.tsx","content":"B"}]}`,
	} {
		wg.Add(1)
		go func(i int, args string) {
			defer wg.Done()
			if _, err := reg.Dispatch(context.Background(), 1, i, call("createOrUpdateFile", args)); err != nil {
				t.Errorf("dispatch %d: %v", i, err)
			}
		}(i, args)
	}
	wg.Wait()

	files := state.Files()
	if files["app/a.tsx"] != "A" || files["app/b.tsx"] != "B" {
		t.Fatalf("concurrent disjoint writes lost: %v", files)
	}
}
