// Codeloom
//
// A durable orchestration engine that drives an LLM coding agent
// through a sandboxed build loop. Send a prompt, get a fragment.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "codeloom",
	Short: "Codeloom - durable coding-agent runs",
	Long: `Codeloom drives an LLM coding agent through a sandboxed build loop
and persists the resulting code fragment. Send a prompt, get a fragment.

  codeloom serve                                     Start the server
  codeloom run "build a pricing page" --project p1   Submit a run
  codeloom list                                      List runs
  codeloom status <id>                               Check run status
  codeloom logs <id> --follow                        Stream run events`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("CODELOOM_SERVER", "http://localhost:7090"), "Codeloom server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
