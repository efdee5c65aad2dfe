package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codeloom/codeloom"
	slackChannel "github.com/codeloom/codeloom/channel/slack"
	"github.com/codeloom/codeloom/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Codeloom server",
	Long:  "Start the Codeloom API server that accepts runs and drives the coding agent.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	app, err := codeloom.NewBuilder().WithConfig(codeloom.Config{
		ServerAddr:      cfg.ServerAddr,
		DataDir:         cfg.DataDir,
		DatabasePath:    cfg.DatabasePath,
		SandboxBaseURL:  cfg.SandboxBaseURL,
		SandboxAPIKey:   cfg.SandboxAPIKey,
		SandboxTemplate: cfg.SandboxTemplate,
		MaxTurns:        cfg.MaxTurns,
		HistoryDepth:    cfg.HistoryDepth,
		PreviewPort:     cfg.PreviewPort,
	}).Build()
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}

	if cfg.SlackEnabled() {
		bot := slackChannel.NewBot(cfg.SlackBotToken, cfg.SlackAppToken,
			app.Engine().Bus(), app.Engine())
		app.AddChannel(bot)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	return app.Start(ctx)
}
