// Package codeloom is the top-level entry point for the Codeloom
// orchestration engine.
//
// Use the Builder to compose a custom Codeloom application:
//
//	app, err := codeloom.NewBuilder().Build()
//	app.Start(ctx)
//
// Or customize every component:
//
//	app, err := codeloom.NewBuilder().
//	    WithStore(myStore).
//	    WithSandbox(myRuntime).
//	    WithModel(myClient).
//	    Build()
package codeloom

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/codeloom/codeloom/channel"
	"github.com/codeloom/codeloom/engine"
	"github.com/codeloom/codeloom/eventbus"
	"github.com/codeloom/codeloom/httpapi"
	"github.com/codeloom/codeloom/ledger"
	"github.com/codeloom/codeloom/llm"
	"github.com/codeloom/codeloom/pipeline"
	"github.com/codeloom/codeloom/sandbox"
	"github.com/codeloom/codeloom/store"
)

// Config holds top-level configuration for a Codeloom application.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (default ":7090").
	ServerAddr string

	// DataDir is the directory for persistent data (default "~/.codeloom").
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// SandboxBaseURL is the base URL of the sandbox provider API.
	SandboxBaseURL string

	// SandboxAPIKey authenticates against the sandbox provider.
	SandboxAPIKey string

	// SandboxTemplate is the image template runs are provisioned from
	// (default "codeloom-nextjs").
	SandboxTemplate string

	// MaxTurns bounds the agent loop per run (default 15).
	MaxTurns int

	// HistoryDepth is how many prior project messages runs load (default 5).
	HistoryDepth int

	// PreviewPort is the sandbox port exposed as the fragment preview
	// (default 3000).
	PreviewPort int
}

// Builder constructs a Codeloom App.
type Builder struct {
	config   Config
	store    store.Store
	ledStore ledger.Store
	bus      eventbus.Bus
	sandbox  sandbox.Runtime
	model    llm.Client
	deriver  *pipeline.Deriver
	channels []channel.Channel
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the message store implementation.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithLedgerStore sets the step-record store implementation. By
// default the SQLite message store doubles as the ledger store.
func (b *Builder) WithLedgerStore(s ledger.Store) *Builder {
	b.ledStore = s
	return b
}

// WithBus sets the event bus implementation.
func (b *Builder) WithBus(bus eventbus.Bus) *Builder {
	b.bus = bus
	return b
}

// WithSandbox sets the sandbox runtime implementation.
func (b *Builder) WithSandbox(s sandbox.Runtime) *Builder {
	b.sandbox = s
	return b
}

// WithModel sets the LLM client driving the agent loop and the
// title/response derivation.
func (b *Builder) WithModel(client llm.Client) *Builder {
	b.model = client
	return b
}

// WithDeriver sets a custom title/response deriver.
func (b *Builder) WithDeriver(d *pipeline.Deriver) *Builder {
	b.deriver = d
	return b
}

// WithChannel adds a channel (Slack, etc.) to the application.
func (b *Builder) WithChannel(ch channel.Channel) *Builder {
	b.channels = append(b.channels, ch)
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	eng := engine.New(
		engine.Config{
			Template:     b.config.SandboxTemplate,
			MaxTurns:     b.config.MaxTurns,
			HistoryDepth: b.config.HistoryDepth,
			PreviewPort:  b.config.PreviewPort,
		},
		b.store,
		ledger.New(b.ledStore),
		b.bus,
		b.sandbox,
		b.model,
		b.deriver,
	)

	handler := httpapi.New(eng)

	return &App{
		config:   b.config,
		engine:   eng,
		handler:  handler,
		channels: b.channels,
	}, nil
}

// App is a running Codeloom application.
type App struct {
	config   Config
	engine   *engine.Engine
	handler  *httpapi.Handler
	channels []channel.Channel
}

// Engine returns the underlying engine for direct access.
func (a *App) Engine() *engine.Engine { return a.engine }

// AddChannel registers a channel on a built App. Must be called
// before Start.
func (a *App) AddChannel(ch channel.Channel) {
	a.channels = append(a.channels, ch)
}

// Start starts the HTTP server and all channels. Blocks until ctx is done.
func (a *App) Start(ctx context.Context) error {
	a.engine.Start(ctx)

	for _, ch := range a.channels {
		ch := ch
		go func() {
			if err := ch.Run(ctx); err != nil {
				log.Printf("%s channel error: %v", ch.Name(), err)
			}
		}()
	}

	srv := &http.Server{
		Addr:    a.config.ServerAddr,
		Handler: a.handler.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Codeloom server listening on %s", a.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	a.engine.Stop()
	return a.engine.Store().Close()
}
