package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codeloom/codeloom/sandbox"
)

// Builtin returns the three built-in tools bound to one sandbox.
func Builtin(rt sandbox.Runtime, sandboxID string) []Tool {
	return []Tool{
		terminalTool(rt, sandboxID),
		createOrUpdateFileTool(rt, sandboxID),
		readFilesTool(rt, sandboxID),
	}
}

func terminalTool(rt sandbox.Runtime, sandboxID string) Tool {
	return Tool{
		Name:        "terminal",
		Description: "Run commands in the terminal",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string"}
			},
			"required": ["command"],
			"additionalProperties": false
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Output, error) {
			var input struct {
				Command string `json:"command"`
			}
			if err := json.Unmarshal(args, &input); err != nil {
				return Output{Text: fmt.Sprintf("Command failed: %v \nstdout:  \nstderr: ", err)}, nil
			}

			result, err := rt.RunCommand(ctx, sandboxID, input.Command)
			if err != nil {
				// Non-fatal: the agent receives the failure as a normal
				// tool result and may retry or adapt.
				return Output{Text: fmt.Sprintf("Command failed: %v \nstdout: %s \nstderr: %s", err, result.Stdout, result.Stderr)}, nil
			}
			return Output{Text: result.Stdout}, nil
		},
	}
}

func createOrUpdateFileTool(rt sandbox.Runtime, sandboxID string) Tool {
	return Tool{
		Name:        "createOrUpdateFile",
		Description: "Create or update files in the sandbox",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"files": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"path": {"type": "string"},
							"content": {"type": "string"}
						},
						"required": ["path", "content"],
						"additionalProperties": false
					}
				}
			},
			"required": ["files"],
			"additionalProperties": false
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Output, error) {
			var input struct {
				Files []File `json:"files"`
			}
			if err := json.Unmarshal(args, &input); err != nil {
				return Output{Text: fmt.Sprintf("Failed to create or update files: %v", err)}, nil
			}

			// All writes of one call succeed together or the state is
			// left unmodified for this call.
			for _, f := range input.Files {
				if err := rt.WriteFile(ctx, sandboxID, f.Path, f.Content); err != nil {
					return Output{Text: fmt.Sprintf("Failed to create or update files: %v", err)}, nil
				}
			}

			paths := make([]string, len(input.Files))
			for i, f := range input.Files {
				paths[i] = f.Path
			}
			return Output{
				Text:  fmt.Sprintf("Updated %d file(s): %s", len(input.Files), strings.Join(paths, ", ")),
				Files: input.Files,
			}, nil
		},
	}
}

func readFilesTool(rt sandbox.Runtime, sandboxID string) Tool {
	return Tool{
		Name:        "readFiles",
		Description: "Read files from the sandbox",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"files": {
					"type": "array",
					"items": {"type": "string"}
				}
			},
			"required": ["files"],
			"additionalProperties": false
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (Output, error) {
			var input struct {
				Files []string `json:"files"`
			}
			if err := json.Unmarshal(args, &input); err != nil {
				return Output{Text: fmt.Sprintf("Failed to read files: %v", err)}, nil
			}

			contents := make([]File, 0, len(input.Files))
			for _, path := range input.Files {
				content, err := rt.ReadFile(ctx, sandboxID, path)
				if err != nil {
					return Output{Text: fmt.Sprintf("Failed to read files: %v", err)}, nil
				}
				contents = append(contents, File{Path: path, Content: content})
			}

			encoded, err := json.Marshal(contents)
			if err != nil {
				return Output{Text: fmt.Sprintf("Failed to read files: %v", err)}, nil
			}
			return Output{Text: string(encoded)}, nil
		},
	}
}
