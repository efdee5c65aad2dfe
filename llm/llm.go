// Package llm defines the model invocation protocol: a request carrying
// system instructions, message history, and tool declarations, returning
// assistant text and/or tool invocations. Providers are thin HTTP
// clients; callers depend only on the Client interface.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Message is one entry of the conversation sent to the model.
type Message struct {
	// Role is "user", "assistant", or "tool".
	Role    string
	Content string
	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall
	// ToolCallID links a "tool" role message to the call it answers.
	ToolCallID string
}

// ToolCall is a structured tool invocation emitted by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolDef declares a callable tool to the model. Parameters is a JSON
// Schema object describing the arguments.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request is one model invocation.
type Request struct {
	System   string
	Messages []Message
	Tools    []ToolDef
}

// Response is the model's reply: zero or more tool calls and/or text.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Client is the minimal interface for making model API calls.
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}

// Complete makes a single-turn, tool-free call and returns plain text.
func Complete(ctx context.Context, c Client, system, user string) (string, error) {
	resp, err := c.Chat(ctx, Request{
		System:   system,
		Messages: []Message{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// NewClientFromEnv creates a Client from environment variables.
// Prefers Anthropic if ANTHROPIC_API_KEY is set, falls back to OpenAI.
func NewClientFromEnv() (Client, error) {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return NewAnthropicClient(key, os.Getenv("CODELOOM_MODEL")), nil
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return NewOpenAIClient(key, os.Getenv("CODELOOM_MODEL")), nil
	}
	return nil, fmt.Errorf("no LLM API key found (set ANTHROPIC_API_KEY or OPENAI_API_KEY)")
}
