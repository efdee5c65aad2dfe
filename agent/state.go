// Package agent implements the agent loop: shared run state, the
// routing policy deciding loop continuation, and the turn-by-turn
// network that drives a model with tool dispatch.
package agent

import (
	"strings"
	"sync"
)

// State is the shared mutable state of one run. Tool handlers mutate
// it concurrently within a turn: file writes to disjoint paths
// parallelize, the insertion-order bookkeeping is a short critical
// section.
type State struct {
	files sync.Map // path -> content

	mu      sync.Mutex
	order   []string
	summary string
}

// NewState creates an empty state.
func NewState() *State {
	return &State{}
}

// Summary returns the completion summary, empty until set.
func (s *State) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// SetSummary records the completion summary. A non-empty summary is
// never overwritten: the first well-formed completion marker wins.
func (s *State) SetSummary(summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summary == "" {
		s.summary = summary
	}
}

// WriteFile records the content of one generated file. The last write
// to a path wins; a new path is appended to the insertion order.
func (s *State) WriteFile(path, content string) {
	if _, loaded := s.files.Swap(path, content); !loaded {
		s.mu.Lock()
		s.order = append(s.order, path)
		s.mu.Unlock()
	}
}

// File returns the recorded content for a path.
func (s *State) File(path string) (string, bool) {
	v, ok := s.files.Load(path)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// FileCount returns the number of distinct recorded paths.
func (s *State) FileCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Files returns a snapshot of the recorded files.
func (s *State) Files() map[string]string {
	s.mu.Lock()
	order := make([]string, len(s.order))
	copy(order, s.order)
	s.mu.Unlock()

	out := make(map[string]string, len(order))
	for _, path := range order {
		if v, ok := s.files.Load(path); ok {
			out[path] = v.(string)
		}
	}
	return out
}

// Paths returns the recorded paths in insertion order.
func (s *State) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

const (
	summaryOpenTag  = "<task_summary>"
	summaryCloseTag = "</task_summary>"
)

// ExtractSummary returns the first well-formed
// <task_summary>...</task_summary> block in text, tags included.
// An unclosed or order-reversed marker yields ok=false.
func ExtractSummary(text string) (string, bool) {
	start := strings.Index(text, summaryOpenTag)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(summaryOpenTag):]
	end := strings.Index(rest, summaryCloseTag)
	if end < 0 {
		return "", false
	}
	return text[start : start+len(summaryOpenTag)+end+len(summaryCloseTag)], true
}
