package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Get the status of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var logsFollow bool

var logsCmd = &cobra.Command{
	Use:   "logs [run-id]",
	Short: "View run events",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow event output")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	id := args[0]

	resp, err := http.Get(serverURL + "/api/runs/" + id)
	if err != nil {
		return fmt.Errorf("connecting to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))
	}

	var run struct {
		ID        string `json:"id"`
		ProjectID string `json:"project_id"`
		Prompt    string `json:"prompt"`
		Status    string `json:"status"`
		Error     string `json:"error"`
		CreatedAt string `json:"created_at"`
		Outcome   *struct {
			Content  string `json:"content"`
			Fragment *struct {
				Title      string            `json:"title"`
				Files      map[string]string `json:"files"`
				PreviewURL string            `json:"preview_url"`
			} `json:"fragment"`
		} `json:"outcome"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("Run:      %s\n", run.ID)
	fmt.Printf("Project:  %s\n", run.ProjectID)
	fmt.Printf("Status:   %s\n", statusIcon(run.Status))
	fmt.Printf("Prompt:   %s\n", run.Prompt)
	fmt.Printf("Created:  %s\n", run.CreatedAt)
	if run.Error != "" {
		fmt.Printf("Error:    %s\n", run.Error)
	}
	if run.Outcome != nil && run.Outcome.Fragment != nil {
		frag := run.Outcome.Fragment
		fmt.Printf("Fragment: %s (%d files)\n", frag.Title, len(frag.Files))
		if frag.PreviewURL != "" {
			fmt.Printf("Preview:  %s\n", frag.PreviewURL)
		}
	}

	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	// The event stream replays stored events first, so follow and
	// non-follow modes share one code path; without --follow the
	// stream ends at the terminal event.
	return streamEvents(args[0])
}
