// Package config provides configuration management for Codeloom.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all configuration for the Codeloom server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7090").
	ServerAddr string

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// LLM provider API keys. Anthropic is preferred when both are set.
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// Model overrides the provider's default model when non-empty.
	Model string

	// SandboxBaseURL is the base URL of the sandbox provider API.
	SandboxBaseURL string
	// SandboxAPIKey authenticates against the sandbox provider.
	SandboxAPIKey string
	// SandboxTemplate is the image template runs are provisioned from.
	SandboxTemplate string

	// MaxTurns bounds the agent loop per run. Default: 15.
	MaxTurns int
	// HistoryDepth is how many prior project messages runs load. Default: 5.
	HistoryDepth int
	// PreviewPort is the sandbox port exposed as the fragment preview.
	// Default: 3000.
	PreviewPort int

	// Slack integration (optional -- Socket Mode).
	// SlackBotToken is the Bot User OAuth Token (xoxb-...).
	SlackBotToken string
	// SlackAppToken is the App-Level Token (xapp-...) required for Socket Mode.
	SlackAppToken string
}

// Load creates a Config from environment variables with sensible defaults.
func Load() (*Config, error) {
	dataDir := envOr("CODELOOM_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:      envOr("CODELOOM_ADDR", ":7090"),
		DataDir:         dataDir,
		DatabasePath:    filepath.Join(dataDir, "codeloom.db"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		Model:           os.Getenv("CODELOOM_MODEL"),
		SandboxBaseURL:  os.Getenv("CODELOOM_SANDBOX_URL"),
		SandboxAPIKey:   os.Getenv("CODELOOM_SANDBOX_API_KEY"),
		SandboxTemplate: envOr("CODELOOM_SANDBOX_TEMPLATE", "codeloom-nextjs"),
		MaxTurns:        envOrInt("CODELOOM_MAX_TURNS", 15),
		HistoryDepth:    envOrInt("CODELOOM_HISTORY_DEPTH", 5),
		PreviewPort:     envOrInt("CODELOOM_PREVIEW_PORT", 3000),
		SlackBotToken:   os.Getenv("SLACK_BOT_TOKEN"),
		SlackAppToken:   os.Getenv("SLACK_APP_TOKEN"),
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.AnthropicAPIKey == "" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("at least one of ANTHROPIC_API_KEY or OPENAI_API_KEY is required")
	}
	if c.SandboxBaseURL == "" {
		return fmt.Errorf("CODELOOM_SANDBOX_URL is required")
	}
	if c.SandboxAPIKey == "" {
		return fmt.Errorf("CODELOOM_SANDBOX_API_KEY is required")
	}
	return nil
}

// SlackEnabled returns true if Slack Socket Mode is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codeloom"
	}
	return filepath.Join(home, ".codeloom")
}
