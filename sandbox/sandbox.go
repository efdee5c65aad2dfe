// Package sandbox defines the protocol surface of the remote, per-run
// ephemeral execution environment: command execution with captured
// output, file transfer, and preview host resolution. Implementations
// live in subpackages (remote HTTP protocol client); tests use fakes.
package sandbox

import (
	"context"
	"errors"
)

// Typed failures of the sandbox protocol. Callers branch with errors.Is.
var (
	// ErrProvision means a new environment could not be created
	// (quota exhausted, provisioning timeout).
	ErrProvision = errors.New("sandbox: provisioning failed")
	// ErrNotFound means the requested file does not exist.
	ErrNotFound = errors.New("sandbox: file not found")
	// ErrWriteDenied means the path is outside the permitted working
	// directory.
	ErrWriteDenied = errors.New("sandbox: write denied")
	// ErrNotReady means no service has exposed the requested port yet.
	ErrNotReady = errors.New("sandbox: port not ready")
)

// CommandResult carries the accumulated output streams of one command.
// Both buffers are populated even when the command or transport fails,
// so partial output is never lost.
type CommandResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Runtime is the client contract for one sandbox provider. All methods
// block on network I/O and are safe to call from multiple concurrent
// tool-handler goroutines within one run.
type Runtime interface {
	// Create provisions a new environment from a template and returns
	// its opaque sandbox ID. Fails with ErrProvision.
	Create(ctx context.Context, template string) (string, error)

	// RunCommand executes a shell command, streaming stdout/stderr into
	// the returned buffers. On failure the captured buffers are still
	// returned alongside the error.
	RunCommand(ctx context.Context, sandboxID, command string) (CommandResult, error)

	// WriteFile writes content to a path inside the sandbox working
	// directory. Fails with ErrWriteDenied for paths outside it.
	WriteFile(ctx context.Context, sandboxID, path, content string) error

	// ReadFile returns the content of a file. Fails with ErrNotFound.
	ReadFile(ctx context.Context, sandboxID, path string) (string, error)

	// ResolveHost returns the externally reachable URL for a service
	// listening on port. Fails with ErrNotReady.
	ResolveHost(ctx context.Context, sandboxID string, port int) (string, error)
}
