// Package tools maps structured, schema-validated tool invocations
// emitted by the model to handler functions. Every handler executes as
// a ledgered step, so a replayed run returns recorded results instead
// of repeating sandbox side effects.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/codeloom/codeloom/agent"
	"github.com/codeloom/codeloom/ledger"
	"github.com/codeloom/codeloom/llm"

	"encoding/json"
)

// File is one generated file carried in a tool's output.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Output is the ledgered result of one tool execution. Text goes back
// to the model; Files are state mutations applied outside the step so
// they are re-applied, in order, on replay.
type Output struct {
	Text  string `json:"text"`
	Files []File `json:"files,omitempty"`
}

// Tool is one named capability offered to the model.
type Tool struct {
	Name        string
	Description string
	// Schema is the JSON Schema the arguments must conform to.
	Schema json.RawMessage
	// Handler executes the tool. Failures internal to the tool are
	// embedded in Output.Text as diagnostics; a returned error is
	// treated as fatal to the run.
	Handler func(ctx context.Context, args json.RawMessage) (Output, error)
}

// Registry validates and dispatches tool invocations for one run.
type Registry struct {
	ledger *ledger.Ledger
	runID  string
	state  *agent.State

	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema
	order   []string
}

var _ agent.ToolDispatcher = (*Registry)(nil)

// NewRegistry creates an empty registry bound to one run's ledger and
// state.
func NewRegistry(l *ledger.Ledger, runID string, state *agent.State) *Registry {
	return &Registry{
		ledger:  l,
		runID:   runID,
		state:   state,
		tools:   make(map[string]Tool),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool. The schema must compile.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tools: name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: %s: handler is required", t.Name)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(t.Schema))
	if err != nil {
		return fmt.Errorf("tools: %s: compiling schema: %w", t.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
	r.schemas[t.Name] = schema
	return nil
}

// Definitions returns tool declarations in registration order.
func (r *Registry) Definitions() []llm.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Schema,
		})
	}
	return defs
}

// Dispatch validates and executes one tool call. Validation faults and
// unknown tools are reported to the agent as tool-level errors in the
// returned string, before any side effect runs. The handler itself
// executes as a ledgered step named by turn and call index, so step
// names stay unique across the run.
func (r *Registry) Dispatch(ctx context.Context, turn, index int, call llm.ToolCall) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[call.Name]
	schema := r.schemas[call.Name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Sprintf("Tool error: unknown tool %q", call.Name), nil
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	validation, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Sprintf("Tool error: invalid arguments for %s: %v", call.Name, err), nil
	}
	if !validation.Valid() {
		return fmt.Sprintf("Tool error: invalid arguments for %s: %s", call.Name, validationDetails(validation)), nil
	}

	stepName := fmt.Sprintf("turn-%d/tool-%d-%s", turn, index, call.Name)
	out, err := ledger.Do(ctx, r.ledger, r.runID, stepName, func(ctx context.Context) (Output, error) {
		return t.Handler(ctx, args)
	})
	if err != nil {
		return "", err
	}

	// State mutations are applied outside the ledgered step so a
	// replayed run rebuilds the same in-memory state from the
	// recorded output.
	for _, f := range out.Files {
		r.state.WriteFile(f.Path, f.Content)
	}

	return out.Text, nil
}

func validationDetails(result *gojsonschema.Result) string {
	details := ""
	for i, desc := range result.Errors() {
		if i > 0 {
			details += "; "
		}
		details += desc.String()
	}
	return details
}
