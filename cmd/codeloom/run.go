package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var runProject string

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Submit a coding run",
	Long: `Submit a prompt that drives an AI coding agent inside a fresh sandbox.
The agent writes code, and the resulting fragment (title, files, preview
URL) is persisted on the project's conversation.

Example:
  codeloom run "build a kanban board with drag and drop" --project demo
  codeloom run "make the hero section dark" --project demo`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runProject, "project", "p", "", "Project the run belongs to")
	runCmd.MarkFlagRequired("project")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	prompt := args[0]

	body, _ := json.Marshal(map[string]string{
		"project_id": runProject,
		"prompt":     prompt,
	})

	resp, err := http.Post(serverURL+"/api/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("connecting to server: %w\nIs the server running? Start it with: codeloom serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("Run %s started\n", result.ID)
	fmt.Printf("Streaming events...\n\n")

	return streamEvents(result.ID)
}

func streamEvents(runID string) error {
	req, _ := http.NewRequest("GET", serverURL+"/api/runs/"+runID+"/events", nil)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		var event struct {
			Type string `json:"type"`
			Data string `json:"data"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		switch event.Type {
		case "status":
			fmt.Printf("\033[36m[status]\033[0m %s\n", event.Data)
		case "output":
			fmt.Println(event.Data)
		case "error":
			fmt.Fprintf(os.Stderr, "\033[31m[error]\033[0m %s\n", event.Data)
			return nil
		case "done":
			fmt.Printf("\n\033[32m✓ Done:\033[0m %s\n", event.Data)
			return nil
		}
	}

	return scanner.Err()
}
