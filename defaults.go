package codeloom

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/codeloom/codeloom/eventbus"
	"github.com/codeloom/codeloom/ledger"
	"github.com/codeloom/codeloom/llm"
	"github.com/codeloom/codeloom/pipeline"
	"github.com/codeloom/codeloom/sandbox/remote"
	sqliteStore "github.com/codeloom/codeloom/store/sqlite"
)

// applyDefaults fills in missing fields on the builder with sensible defaults.
func applyDefaults(b *Builder) error {
	// Config defaults.
	if b.config.ServerAddr == "" {
		b.config.ServerAddr = ":7090"
	}
	if b.config.DataDir == "" {
		b.config.DataDir = defaultDataDir()
	}
	if b.config.DatabasePath == "" {
		b.config.DatabasePath = filepath.Join(b.config.DataDir, "codeloom.db")
	}
	if b.config.SandboxTemplate == "" {
		b.config.SandboxTemplate = "codeloom-nextjs"
	}
	if b.config.MaxTurns == 0 {
		b.config.MaxTurns = 15
	}
	if b.config.HistoryDepth == 0 {
		b.config.HistoryDepth = 5
	}
	if b.config.PreviewPort == 0 {
		b.config.PreviewPort = 3000
	}

	// Ensure data dir exists.
	if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Store. The SQLite store doubles as the ledger store unless a
	// separate one was provided.
	if b.store == nil {
		st, err := sqliteStore.New(b.config.DatabasePath)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		b.store = st
		if b.ledStore == nil {
			b.ledStore = st
		}
	}
	if b.ledStore == nil {
		if st, ok := b.store.(ledger.Store); ok {
			b.ledStore = st
		} else {
			b.ledStore = ledger.NewMemoryStore()
		}
	}

	// Event bus.
	if b.bus == nil {
		b.bus = eventbus.New()
	}

	// Sandbox runtime.
	if b.sandbox == nil {
		rt, err := remote.New(remote.Config{
			BaseURL: b.config.SandboxBaseURL,
			APIKey:  b.config.SandboxAPIKey,
		})
		if err != nil {
			return fmt.Errorf("initializing sandbox runtime: %w", err)
		}
		b.sandbox = rt
	}

	// Model.
	if b.model == nil {
		client, err := llm.NewClientFromEnv()
		if err != nil {
			return fmt.Errorf("initializing model client: %w", err)
		}
		b.model = client
	}

	// Deriver.
	if b.deriver == nil {
		b.deriver = pipeline.NewDeriver(b.model, pipeline.DefaultTitlePrompt, pipeline.DefaultResponsePrompt)
	}

	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codeloom"
	}
	return filepath.Join(home, ".codeloom")
}
