// Package store defines the persistence contracts for project
// conversations, run outcomes, and run progress events. The SQLite
// implementation lives in store/sqlite.
package store

import (
	"time"

	"github.com/codeloom/codeloom/model"
)

// MessageType distinguishes conversational entries from terminal run
// outcomes.
type MessageType string

const (
	// TypeText is a plain conversational message (the user's prompt).
	TypeText MessageType = "text"
	// TypeResult is a successful run outcome carrying a fragment.
	TypeResult MessageType = "result"
	// TypeError is a failed run outcome.
	TypeError MessageType = "error"
)

// Message is one persisted entry of a project's conversation. Run
// outcomes are assistant messages with a RunID and, on success, an
// attached fragment.
type Message struct {
	ID        int64           `json:"id"`
	ProjectID string          `json:"project_id"`
	RunID     string          `json:"run_id,omitempty"`
	Role      model.Role      `json:"role"`
	Type      MessageType     `json:"type"`
	Content   string          `json:"content"`
	Fragment  *model.Fragment `json:"fragment,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store persists conversations, outcomes, and events.
type Store interface {
	// AppendMessage inserts a message and assigns its ID.
	AppendMessage(msg *Message) error
	// RecentMessages returns up to n messages of a project, newest
	// first.
	RecentMessages(projectID string, n int) ([]*Message, error)
	// MessagesByRun returns the messages recorded for a run.
	MessagesByRun(runID string) ([]*Message, error)

	// AddEvent inserts a run progress event and assigns its ID.
	AddEvent(event *model.Event) error
	// GetEvents returns events for a run after the given event ID.
	GetEvents(runID string, afterID int64) ([]*model.Event, error)

	Close() error
}
