package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/codeloom/codeloom/llm"
)

// Decision is the router's verdict after a turn.
type Decision int

const (
	// Continue hands the next turn back to the agent.
	Continue Decision = iota
	// Stop terminates the loop.
	Stop
)

// Router decides after every turn whether the loop continues. It is a
// pure function of the state so it stays testable without a model.
type Router func(s *State) Decision

// SummaryRouter stops as soon as the completion summary has been set.
func SummaryRouter(s *State) Decision {
	if s.Summary() != "" {
		return Stop
	}
	return Continue
}

// ToolDispatcher executes one validated tool invocation and returns
// the textual result fed back to the model. Failures internal to a
// tool surface in the returned string; a non-nil error is fatal to
// the run (ledger or persistence fault).
type ToolDispatcher interface {
	Definitions() []llm.ToolDef
	Dispatch(ctx context.Context, turn, index int, call llm.ToolCall) (string, error)
}

// DefaultMaxTurns is the hard iteration ceiling of the loop.
const DefaultMaxTurns = 15

// Network drives repeated agent turns against the model, dispatching
// tool calls and feeding their results back as conversation context,
// until the router stops it or the turn cap is reached.
type Network struct {
	model    llm.Client
	tools    ToolDispatcher
	router   Router
	system   string
	maxTurns int

	// OnResponse inspects the assistant's text after each turn. The
	// default extracts the completion summary marker into the state.
	OnResponse func(text string, s *State)
}

// NewNetwork creates a network with the summary router and default
// turn cap.
func NewNetwork(model llm.Client, tools ToolDispatcher, system string) *Network {
	return &Network{
		model:    model,
		tools:    tools,
		router:   SummaryRouter,
		system:   system,
		maxTurns: DefaultMaxTurns,
		OnResponse: func(text string, s *State) {
			if summary, ok := ExtractSummary(text); ok {
				s.SetSummary(summary)
			}
		},
	}
}

// WithMaxTurns overrides the turn cap (tests use small values).
func (n *Network) WithMaxTurns(max int) *Network {
	n.maxTurns = max
	return n
}

// WithRouter overrides the routing policy.
func (n *Network) WithRouter(r Router) *Network {
	n.router = r
	return n
}

// Result is the terminal outcome of a loop run.
type Result struct {
	State *State
	// Turns is the number of model invocations made.
	Turns int
	// CapReached reports that the loop was cut off at the turn cap
	// without the router stopping it.
	CapReached bool
}

// Run executes the loop for one prompt. history is the prior
// conversation in chronological order. The state is mutated in place
// and returned inside the terminal Result.
func (n *Network) Run(ctx context.Context, state *State, prompt string, history []llm.Message) (*Result, error) {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: prompt})

	for turn := 1; turn <= n.maxTurns; turn++ {
		resp, err := n.model.Chat(ctx, llm.Request{
			System:   n.system,
			Messages: messages,
			Tools:    n.tools.Definitions(),
		})
		if err != nil {
			return nil, fmt.Errorf("turn %d: model invocation: %w", turn, err)
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) > 0 {
			results, err := n.dispatchAll(ctx, turn, resp.ToolCalls)
			if err != nil {
				return nil, fmt.Errorf("turn %d: %w", turn, err)
			}
			for i, call := range resp.ToolCalls {
				messages = append(messages, llm.Message{
					Role:       "tool",
					Content:    results[i],
					ToolCallID: call.ID,
				})
			}
		}

		if n.OnResponse != nil && resp.Text != "" {
			n.OnResponse(resp.Text, state)
		}

		if n.router(state) == Stop {
			return &Result{State: state, Turns: turn}, nil
		}
	}

	return &Result{State: state, Turns: n.maxTurns, CapReached: true}, nil
}

// dispatchAll executes all tool calls of one turn concurrently and
// returns their results in call order.
func (n *Network) dispatchAll(ctx context.Context, turn int, calls []llm.ToolCall) ([]string, error) {
	results := make([]string, len(calls))
	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			results[i], errs[i] = n.tools.Dispatch(ctx, turn, i, call)
		}(i, call)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("dispatching %s: %w", calls[i].Name, err)
		}
	}
	return results, nil
}
