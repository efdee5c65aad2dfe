// Package ledger implements the durable step ledger that makes run
// replay safe. Each named unit of work executes at most once per run:
// the first invocation runs the function and records its outcome, every
// later invocation of the same (runID, step name) returns the recorded
// outcome without touching the side effect again.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Record is a write-once entry for one completed step.
type Record struct {
	RunID       string          `json:"run_id"`
	Name        string          `json:"name"`
	Result      json.RawMessage `json:"result,omitempty"`
	Err         string          `json:"error,omitempty"`
	Seq         int64           `json:"seq"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Store is the durable backend for step records. Put must be atomic:
// a record is either fully persisted or not persisted at all.
type Store interface {
	// GetStep returns the record for (runID, name), or nil if absent.
	GetStep(runID, name string) (*Record, error)
	// PutStep persists a record and assigns Seq in first-write order.
	PutStep(rec *Record) error
	// DeleteStep removes a record so the step may run again.
	DeleteStep(runID, name string) error
	// ListSteps returns all records for a run in Seq order.
	ListSteps(runID string) ([]*Record, error)
}

// StepError is a step failure recorded in the ledger. It is returned on
// the first execution and on every replay of that step.
type StepError struct {
	Name    string
	Message string
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %s", e.Name, e.Message)
}

// Ledger memoizes step execution on top of a Store. Concurrent calls
// with the same (runID, name) serialize on a per-key mutex so the
// function body executes at most once.
type Ledger struct {
	store Store

	mu   sync.Mutex
	keys map[string]*sync.Mutex
}

// New creates a Ledger backed by the given store.
func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		keys:  make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) keyLock(runID, name string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := runID + "\x00" + name
	if m, ok := l.keys[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.keys[key] = m
	return m
}

// Run executes fn at most once for (runID, name). On replay the
// recorded result is returned (or the recorded error re-raised)
// without invoking fn. Store failures are fatal and returned as-is:
// a step result that cannot be recorded is never handed to the caller,
// since that would break the at-most-once guarantee on the next replay.
func (l *Ledger) Run(ctx context.Context, runID, name string, fn func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	lock := l.keyLock(runID, name)
	lock.Lock()
	defer lock.Unlock()

	rec, err := l.store.GetStep(runID, name)
	if err != nil {
		return nil, fmt.Errorf("ledger: reading step %q: %w", name, err)
	}
	if rec != nil {
		if rec.Err != "" {
			return nil, &StepError{Name: name, Message: rec.Err}
		}
		return rec.Result, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, fnErr := fn(ctx)

	rec = &Record{
		RunID:       runID,
		Name:        name,
		CompletedAt: time.Now().UTC(),
	}
	if fnErr != nil {
		rec.Err = fnErr.Error()
	} else {
		rec.Result = result
	}

	if err := l.store.PutStep(rec); err != nil {
		return nil, fmt.Errorf("ledger: recording step %q: %w", name, err)
	}

	if fnErr != nil {
		return nil, &StepError{Name: name, Message: rec.Err}
	}
	return result, nil
}

// Forget clears the record for (runID, name), typically after
// inspecting a recorded error, so a caller may deliberately retry
// a failed step.
func (l *Ledger) Forget(runID, name string) error {
	lock := l.keyLock(runID, name)
	lock.Lock()
	defer lock.Unlock()
	return l.store.DeleteStep(runID, name)
}

// Steps returns the recorded steps of a run in first-request order.
func (l *Ledger) Steps(runID string) ([]*Record, error) {
	return l.store.ListSteps(runID)
}

// Do is a typed wrapper around Ledger.Run: fn's return value is
// JSON-encoded into the record and decoded back on replay.
func Do[T any](ctx context.Context, l *Ledger, runID, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := l.Run(ctx, runID, name, func(ctx context.Context) (json.RawMessage, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding result: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("ledger: decoding step %q result: %w", name, err)
	}
	return out, nil
}
