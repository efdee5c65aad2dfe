// Package model defines the core domain types shared across all Codeloom
// packages. It has zero dependencies on other Codeloom packages.
package model

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry of a project's conversation history.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// RunRequest is the inbound trigger for one orchestration run.
// It is immutable once accepted; History is already truncated to the
// most recent window, in chronological order.
type RunRequest struct {
	RunID     string        `json:"run_id"`
	ProjectID string        `json:"project_id"`
	Prompt    string        `json:"prompt"`
	History   []ChatMessage `json:"history,omitempty"`
}

// OutcomeStatus classifies a finished run.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeError   OutcomeStatus = "error"
)

// Fragment is the artifact bundle produced by a successful run.
type Fragment struct {
	Title      string            `json:"title"`
	Files      map[string]string `json:"files"`
	PreviewURL string            `json:"preview_url"`
}

// Outcome is the single, terminal record written for a run.
type Outcome struct {
	RunID     string        `json:"run_id"`
	ProjectID string        `json:"project_id"`
	Status    OutcomeStatus `json:"status"`
	Content   string        `json:"content"`
	Fragment  *Fragment     `json:"fragment,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Event is a single progress event in a run's lifecycle.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"` // "status", "output", "error", "done"
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		r := []rune(s)
		if len(r) <= maxLen {
			return s
		}
		return string(r[:maxLen])
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
