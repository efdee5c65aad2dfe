// Package remote implements sandbox.Runtime against an HTTP sandbox
// provider. One Runtime serves many sandboxes; per-sandbox connections
// are cached and lazily re-resolved when stale, so a long-lived run can
// survive provider-side connection recycling.
package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/codeloom/codeloom/sandbox"
)

// Config holds connection settings for the sandbox provider.
type Config struct {
	// BaseURL is the provider API root (e.g. "https://api.sandboxes.dev").
	BaseURL string
	// APIKey authenticates provider requests.
	APIKey string
	// ConnTTL is how long a cached sandbox connection is trusted before
	// being re-resolved (default 60s).
	ConnTTL time.Duration
	// HTTPClient overrides the transport (default http.DefaultClient).
	HTTPClient *http.Client
}

// Runtime is the HTTP protocol client.
type Runtime struct {
	config Config
	client *http.Client

	mu    sync.Mutex
	conns map[string]*conn
}

// conn is one cached sandbox connection. Command execution serializes
// on execMu so interleaved exec requests cannot corrupt the streamed
// output of one another.
type conn struct {
	sandboxID  string
	resolvedAt time.Time
	execMu     sync.Mutex
}

var _ sandbox.Runtime = (*Runtime)(nil)

// New creates a remote sandbox runtime.
func New(cfg Config) (*Runtime, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote: BaseURL is required")
	}
	if cfg.ConnTTL <= 0 {
		cfg.ConnTTL = 60 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Runtime{
		config: cfg,
		client: client,
		conns:  make(map[string]*conn),
	}, nil
}

// Create provisions a new environment from the given template.
func (r *Runtime) Create(ctx context.Context, template string) (string, error) {
	body, _ := json.Marshal(map[string]string{"template": template})
	resp, err := r.do(ctx, "POST", "/sandboxes", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", sandbox.ErrProvision, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: provider returned %d: %s", sandbox.ErrProvision, resp.StatusCode, readBody(resp))
	}

	var created struct {
		SandboxID string `json:"sandbox_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", sandbox.ErrProvision, err)
	}
	if created.SandboxID == "" {
		return "", fmt.Errorf("%w: provider returned empty sandbox id", sandbox.ErrProvision)
	}

	r.mu.Lock()
	r.conns[created.SandboxID] = &conn{sandboxID: created.SandboxID, resolvedAt: time.Now()}
	r.mu.Unlock()

	return created.SandboxID, nil
}

// connect returns the cached connection for sandboxID, re-resolving it
// against the provider when the cache entry is stale or missing.
func (r *Runtime) connect(ctx context.Context, sandboxID string) (*conn, error) {
	r.mu.Lock()
	c, ok := r.conns[sandboxID]
	if ok && time.Since(c.resolvedAt) < r.config.ConnTTL {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	resp, err := r.do(ctx, "GET", "/sandboxes/"+url.PathEscape(sandboxID), nil)
	if err != nil {
		return nil, fmt.Errorf("reconnecting to sandbox %s: %w", sandboxID, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reconnecting to sandbox %s: provider returned %d", sandboxID, resp.StatusCode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.conns[sandboxID]; ok {
		c.resolvedAt = time.Now()
		return c, nil
	}
	c = &conn{sandboxID: sandboxID, resolvedAt: time.Now()}
	r.conns[sandboxID] = c
	return c, nil
}

// execEvent is one line of the newline-delimited JSON exec stream.
type execEvent struct {
	Stream   string `json:"stream,omitempty"` // "stdout" or "stderr"
	Data     string `json:"data,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RunCommand executes a command and accumulates the streamed output.
// Whatever reached the buffers before a failure is returned with the
// error, never discarded.
func (r *Runtime) RunCommand(ctx context.Context, sandboxID, command string) (sandbox.CommandResult, error) {
	var result sandbox.CommandResult

	c, err := r.connect(ctx, sandboxID)
	if err != nil {
		return result, err
	}

	c.execMu.Lock()
	defer c.execMu.Unlock()

	body, _ := json.Marshal(map[string]string{"command": command})
	resp, err := r.do(ctx, "POST", "/sandboxes/"+url.PathEscape(sandboxID)+"/exec", bytes.NewReader(body))
	if err != nil {
		return result, fmt.Errorf("exec: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("exec: provider returned %d: %s", resp.StatusCode, readBody(resp))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ev execEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return result, fmt.Errorf("exec: malformed stream event: %w", err)
		}
		switch {
		case ev.Error != "":
			return result, fmt.Errorf("exec: %s", ev.Error)
		case ev.ExitCode != nil:
			if *ev.ExitCode != 0 {
				return result, fmt.Errorf("exec: command exited with code %d", *ev.ExitCode)
			}
			return result, nil
		case ev.Stream == "stderr":
			result.Stderr += ev.Data
		default:
			result.Stdout += ev.Data
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("exec: stream interrupted: %w", err)
	}
	return result, fmt.Errorf("exec: stream ended without exit status")
}

// WriteFile writes content to a path inside the sandbox.
func (r *Runtime) WriteFile(ctx context.Context, sandboxID, path, content string) error {
	if _, err := r.connect(ctx, sandboxID); err != nil {
		return err
	}

	body, _ := json.Marshal(map[string]string{"path": path, "content": content})
	resp, err := r.do(ctx, "PUT", "/sandboxes/"+url.PathEscape(sandboxID)+"/files", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", sandbox.ErrWriteDenied, path)
	default:
		return fmt.Errorf("writing %s: provider returned %d: %s", path, resp.StatusCode, readBody(resp))
	}
}

// ReadFile returns the content of a file inside the sandbox.
func (r *Runtime) ReadFile(ctx context.Context, sandboxID, path string) (string, error) {
	if _, err := r.connect(ctx, sandboxID); err != nil {
		return "", err
	}

	resp, err := r.do(ctx, "GET", "/sandboxes/"+url.PathEscape(sandboxID)+"/files?path="+url.QueryEscape(path), nil)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		return string(data), nil
	case http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", sandbox.ErrNotFound, path)
	default:
		return "", fmt.Errorf("reading %s: provider returned %d: %s", path, resp.StatusCode, readBody(resp))
	}
}

// ResolveHost returns the public URL for a port exposed by the sandbox.
func (r *Runtime) ResolveHost(ctx context.Context, sandboxID string, port int) (string, error) {
	if _, err := r.connect(ctx, sandboxID); err != nil {
		return "", err
	}

	resp, err := r.do(ctx, "GET", "/sandboxes/"+url.PathEscape(sandboxID)+"/host?port="+strconv.Itoa(port), nil)
	if err != nil {
		return "", fmt.Errorf("resolving host for port %d: %w", port, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var host struct {
			Host string `json:"host"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&host); err != nil {
			return "", fmt.Errorf("resolving host: decoding response: %w", err)
		}
		return "https://" + host.Host, nil
	case http.StatusConflict, http.StatusServiceUnavailable:
		return "", fmt.Errorf("%w: port %d", sandbox.ErrNotReady, port)
	default:
		return "", fmt.Errorf("resolving host: provider returned %d: %s", resp.StatusCode, readBody(resp))
	}
}

func (r *Runtime) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.config.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	}
	return r.client.Do(req)
}

func readBody(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return string(bytes.TrimSpace(data))
}
