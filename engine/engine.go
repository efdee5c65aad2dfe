// Package engine orchestrates a single coding-agent run from inbound
// request to persisted outcome. It depends only on interfaces (store,
// sandbox, llm, eventbus) plus the ledger, so every step survives a
// crash and replays deterministically.
package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeloom/codeloom/agent"
	"github.com/codeloom/codeloom/eventbus"
	"github.com/codeloom/codeloom/ledger"
	"github.com/codeloom/codeloom/llm"
	"github.com/codeloom/codeloom/model"
	"github.com/codeloom/codeloom/pipeline"
	"github.com/codeloom/codeloom/sandbox"
	"github.com/codeloom/codeloom/store"
	"github.com/codeloom/codeloom/tools"
)

// ErrContent is the user-facing content persisted for failed runs.
const ErrContent = "Something went wrong"

// Config holds engine-specific configuration.
type Config struct {
	// Template names the sandbox image runs are provisioned from.
	Template string
	// MaxTurns bounds the agent loop; zero means the default cap.
	MaxTurns int
	// HistoryDepth is how many prior messages are loaded as context.
	HistoryDepth int
	// PreviewPort is the sandbox port exposed as the fragment preview.
	PreviewPort int
	// AgentPrompt overrides the default system prompt when non-empty.
	AgentPrompt string
}

func (c Config) withDefaults() Config {
	if c.Template == "" {
		c.Template = "codeloom-nextjs"
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = agent.DefaultMaxTurns
	}
	if c.HistoryDepth <= 0 {
		c.HistoryDepth = 5
	}
	if c.PreviewPort <= 0 {
		c.PreviewPort = 3000
	}
	if c.AgentPrompt == "" {
		c.AgentPrompt = pipeline.DefaultAgentPrompt
	}
	return c
}

// RunStatus is the in-memory lifecycle state of a run.
type RunStatus string

const (
	StatusPending  RunStatus = "pending"
	StatusRunning  RunStatus = "running"
	StatusComplete RunStatus = "complete"
	StatusError    RunStatus = "error"
)

// Run is the engine's in-memory view of one accepted request.
type Run struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	Prompt    string          `json:"prompt"`
	Status    RunStatus       `json:"status"`
	Error     string          `json:"error,omitempty"`
	Outcome   *model.Outcome  `json:"outcome,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Engine drives runs end to end.
type Engine struct {
	config  Config
	store   store.Store
	ledger  *ledger.Ledger
	bus     eventbus.Bus
	sandbox sandbox.Runtime
	model   llm.Client
	deriver *pipeline.Deriver

	mu   sync.RWMutex
	runs map[string]*Run

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Engine with all dependencies.
func New(
	cfg Config,
	st store.Store,
	led *ledger.Ledger,
	bus eventbus.Bus,
	sb sandbox.Runtime,
	client llm.Client,
	deriver *pipeline.Deriver,
) *Engine {
	return &Engine{
		config:  cfg.withDefaults(),
		store:   st,
		ledger:  led,
		bus:     bus,
		sandbox: sb,
		model:   client,
		deriver: deriver,
		runs:    make(map[string]*Run),
	}
}

// Start prepares the engine for background runs. Call Stop to shut down.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
}

// Stop cancels all background work and waits for in-flight runs.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Store returns the message store.
func (e *Engine) Store() store.Store { return e.store }

// Bus returns the event bus.
func (e *Engine) Bus() eventbus.Bus { return e.bus }

// GetRun returns a snapshot of a run, if known.
func (e *Engine) GetRun(runID string) (*Run, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[runID]
	if !ok {
		return nil, false
	}
	copied := *r
	return &copied, true
}

// ListRuns returns snapshots of all runs accepted since start.
func (e *Engine) ListRuns() []*Run {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Run, 0, len(e.runs))
	for _, r := range e.runs {
		copied := *r
		out = append(out, &copied)
	}
	return out
}

// Submit accepts a request and executes it in the background. A missing
// RunID is assigned.
func (e *Engine) Submit(req model.RunRequest) (*Run, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if req.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}

	run := &Run{
		ID:        req.RunID,
		ProjectID: req.ProjectID,
		Prompt:    req.Prompt,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	e.mu.Lock()
	if _, exists := e.runs[run.ID]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("run %s already accepted", run.ID)
	}
	e.runs[run.ID] = run
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx := e.ctx
		if ctx == nil {
			ctx = context.Background()
		}

		e.setStatus(run.ID, StatusRunning, "")
		outcome, err := e.Execute(ctx, req)
		if err != nil {
			log.Printf("Run %s failed: %v", run.ID, err)
			e.setStatus(run.ID, StatusError, err.Error())
			e.emitEvent(run.ID, "error", err.Error())
			return
		}

		e.mu.Lock()
		run.Outcome = outcome
		e.mu.Unlock()
		if outcome.Status == model.OutcomeError {
			e.setStatus(run.ID, StatusError, outcome.Content)
		} else {
			e.setStatus(run.ID, StatusComplete, "")
		}
	}()

	return run, nil
}

func (e *Engine) setStatus(runID string, status RunStatus, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.runs[runID]; ok {
		r.Status = status
		r.Error = errMsg
	}
}

// Execute drives one run to completion and returns the persisted
// outcome. It is safe to call again for the same run after a crash:
// every step replays from the ledger.
func (e *Engine) Execute(ctx context.Context, req model.RunRequest) (*model.Outcome, error) {
	e.emitEvent(req.RunID, "status", "Provisioning sandbox...")

	sandboxID, err := ledger.Do(ctx, e.ledger, req.RunID, "create-sandbox", func(ctx context.Context) (string, error) {
		return e.sandbox.Create(ctx, e.config.Template)
	})
	if err != nil {
		return nil, fmt.Errorf("creating sandbox: %w", err)
	}

	history, err := e.loadHistory(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	if req.Prompt != "" {
		userMsg := &store.Message{
			ProjectID: req.ProjectID,
			RunID:     req.RunID,
			Role:      model.RoleUser,
			Type:      store.TypeText,
			Content:   req.Prompt,
		}
		if _, err := ledger.Do(ctx, e.ledger, req.RunID, "record-prompt", func(ctx context.Context) (int64, error) {
			if err := e.store.AppendMessage(userMsg); err != nil {
				return 0, err
			}
			return userMsg.ID, nil
		}); err != nil {
			return nil, fmt.Errorf("recording prompt: %w", err)
		}
	}

	state := agent.NewState()
	registry := tools.NewRegistry(e.ledger, req.RunID, state)
	for _, t := range tools.Builtin(e.sandbox, sandboxID) {
		if err := registry.Register(t); err != nil {
			return nil, fmt.Errorf("registering tool %s: %w", t.Name, err)
		}
	}

	stepped := &steppedModel{inner: e.model, ledger: e.ledger, runID: req.RunID}

	network := agent.NewNetwork(stepped, registry, e.config.AgentPrompt).
		WithMaxTurns(e.config.MaxTurns)
	network.OnResponse = func(text string, s *agent.State) {
		if summary, ok := agent.ExtractSummary(text); ok {
			s.SetSummary(summary)
		}
	}

	e.emitEvent(req.RunID, "status", "Running agent...")
	result, err := network.Run(ctx, state, req.Prompt, history)
	if err != nil {
		return nil, fmt.Errorf("agent loop: %w", err)
	}
	if result.CapReached {
		e.emitEvent(req.RunID, "status", fmt.Sprintf("Turn limit reached after %d turns", result.Turns))
	}

	summary := state.Summary()
	failed := summary == "" || state.FileCount() == 0

	var title, response string
	if failed {
		title = ErrContent
		response = ErrContent
	} else {
		e.emitEvent(req.RunID, "status", "Deriving title and response...")
		var wg sync.WaitGroup
		var titleErr, responseErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			title, titleErr = ledger.Do(ctx, e.ledger, req.RunID, "derive-title", func(ctx context.Context) (string, error) {
				return e.deriver.Title(ctx, summary), nil
			})
		}()
		go func() {
			defer wg.Done()
			response, responseErr = ledger.Do(ctx, e.ledger, req.RunID, "derive-response", func(ctx context.Context) (string, error) {
				return e.deriver.Response(ctx, summary), nil
			})
		}()
		wg.Wait()
		// The deriver falls back internally, so an error here means the
		// ledger could not record the step. That is fatal.
		if titleErr != nil {
			return nil, fmt.Errorf("deriving title: %w", titleErr)
		}
		if responseErr != nil {
			return nil, fmt.Errorf("deriving response: %w", responseErr)
		}
	}

	// Preview resolution is best-effort; a sandbox with no listening
	// service still produces a valid fragment.
	previewURL, err := ledger.Do(ctx, e.ledger, req.RunID, "resolve-preview", func(ctx context.Context) (string, error) {
		url, err := e.sandbox.ResolveHost(ctx, sandboxID, e.config.PreviewPort)
		if err != nil {
			log.Printf("Run %s: preview not resolvable: %v", req.RunID, err)
			return "", nil
		}
		return url, nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolving preview: %w", err)
	}

	outcome := &model.Outcome{
		RunID:     req.RunID,
		ProjectID: req.ProjectID,
		CreatedAt: time.Now().UTC(),
	}
	if failed {
		outcome.Status = model.OutcomeError
		outcome.Content = ErrContent
	} else {
		outcome.Status = model.OutcomeSuccess
		outcome.Content = response
		outcome.Fragment = &model.Fragment{
			Title:      title,
			Files:      state.Files(),
			PreviewURL: previewURL,
		}
	}

	if _, err := ledger.Do(ctx, e.ledger, req.RunID, "persist-outcome", func(ctx context.Context) (int64, error) {
		msg := &store.Message{
			ProjectID: outcome.ProjectID,
			RunID:     outcome.RunID,
			Role:      model.RoleAssistant,
			Content:   outcome.Content,
			CreatedAt: outcome.CreatedAt,
		}
		if outcome.Status == model.OutcomeError {
			msg.Type = store.TypeError
		} else {
			msg.Type = store.TypeResult
			msg.Fragment = outcome.Fragment
		}
		if err := e.store.AppendMessage(msg); err != nil {
			return 0, err
		}
		return msg.ID, nil
	}); err != nil {
		return nil, fmt.Errorf("persisting outcome: %w", err)
	}

	if failed {
		e.emitEvent(req.RunID, "error", ErrContent)
	} else {
		e.emitEvent(req.RunID, "done", outcome.Content)
	}
	return outcome, nil
}

// loadHistory returns the prior conversation in chronological order.
// An explicit History on the request wins; otherwise the most recent
// stored messages of the project are loaded through the ledger so a
// replayed run sees the same context even after new messages arrive.
func (e *Engine) loadHistory(ctx context.Context, req model.RunRequest) ([]llm.Message, error) {
	if len(req.History) > 0 {
		out := make([]llm.Message, 0, len(req.History))
		for _, m := range req.History {
			out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
		}
		return out, nil
	}

	recent, err := ledger.Do(ctx, e.ledger, req.RunID, "load-history", func(ctx context.Context) ([]model.ChatMessage, error) {
		msgs, err := e.store.RecentMessages(req.ProjectID, e.config.HistoryDepth)
		if err != nil {
			return nil, err
		}
		// RecentMessages is newest first; reverse to chronological.
		out := make([]model.ChatMessage, 0, len(msgs))
		for i := len(msgs) - 1; i >= 0; i-- {
			out = append(out, model.ChatMessage{Role: msgs[i].Role, Content: msgs[i].Content})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]llm.Message, 0, len(recent))
	for _, m := range recent {
		out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return out, nil
}

func (e *Engine) emitEvent(runID, eventType, data string) {
	event := &model.Event{
		RunID:     runID,
		Type:      eventType,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.AddEvent(event); err != nil {
		log.Printf("Error storing event: %v", err)
	}
	e.bus.Publish(runID, event)
}

// steppedModel records each model invocation in the ledger so a
// replayed run reproduces the exact same tool-call sequence without
// re-invoking the model.
type steppedModel struct {
	inner  llm.Client
	ledger *ledger.Ledger
	runID  string

	mu   sync.Mutex
	turn int
}

func (m *steppedModel) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.turn++
	name := fmt.Sprintf("inference/turn-%d", m.turn)
	m.mu.Unlock()

	return ledger.Do(ctx, m.ledger, m.runID, name, func(ctx context.Context) (*llm.Response, error) {
		return m.inner.Chat(ctx, req)
	})
}
