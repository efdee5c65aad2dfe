package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codeloom/codeloom/sandbox"
)

func newTestRuntime(t *testing.T, handler http.Handler) (*Runtime, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	r, err := New(Config{BaseURL: srv.URL, APIKey: "test"})
	if err != nil {
		t.Fatalf("creating runtime: %v", err)
	}
	return r, srv
}

func TestCreateReturnsSandboxID(t *testing.T) {
	r, _ := newTestRuntime(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != "POST" || req.URL.Path != "/sandboxes" {
			t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
		}
		var body struct {
			Template string `json:"template"`
		}
		json.NewDecoder(req.Body).Decode(&body)
		if body.Template != "codeloom-nextjs" {
			t.Errorf("unexpected template %q", body.Template)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"sandbox_id":"sbx-123"}`)
	}))

	id, err := r.Create(context.Background(), "codeloom-nextjs")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "sbx-123" {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestCreateProvisionFailure(t *testing.T) {
	r, _ := newTestRuntime(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))

	_, err := r.Create(context.Background(), "codeloom-nextjs")
	if !errors.Is(err, sandbox.ErrProvision) {
		t.Fatalf("expected ErrProvision, got %v", err)
	}
}

func TestRunCommandAccumulatesStreams(t *testing.T) {
	r, _ := newTestRuntime(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/sandboxes/sbx-1":
			w.WriteHeader(http.StatusOK)
		case "/sandboxes/sbx-1/exec":
			fmt.Fprintln(w, `{"stream":"stdout","data":"hello "}`)
			fmt.Fprintln(w, `{"stream":"stderr","data":"warn: slow\n"}`)
			fmt.Fprintln(w, `{"stream":"stdout","data":"world"}`)
			fmt.Fprintln(w, `{"exit_code":0}`)
		default:
			t.Errorf("unexpected path %s", req.URL.Path)
		}
	}))

	res, err := r.RunCommand(context.Background(), "sbx-1", "echo hello world")
	if err != nil {
		t.Fatalf("run command: %v", err)
	}
	if res.Stdout != "hello world" {
		t.Fatalf("unexpected stdout %q", res.Stdout)
	}
	if res.Stderr != "warn: slow\n" {
		t.Fatalf("unexpected stderr %q", res.Stderr)
	}
}

func TestRunCommandKeepsBuffersOnFailure(t *testing.T) {
	r, _ := newTestRuntime(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/sandboxes/sbx-1":
			w.WriteHeader(http.StatusOK)
		case "/sandboxes/sbx-1/exec":
			fmt.Fprintln(w, `{"stream":"stdout","data":"partial output"}`)
			fmt.Fprintln(w, `{"stream":"stderr","data":"npm ERR! build failed"}`)
			fmt.Fprintln(w, `{"exit_code":1}`)
		}
	}))

	res, err := r.RunCommand(context.Background(), "sbx-1", "npm run build")
	if err == nil {
		t.Fatal("expected command failure")
	}
	if res.Stdout != "partial output" {
		t.Fatalf("stdout lost on failure: %q", res.Stdout)
	}
	if res.Stderr != "npm ERR! build failed" {
		t.Fatalf("stderr lost on failure: %q", res.Stderr)
	}
}

func TestWriteFileDenied(t *testing.T) {
	r, _ := newTestRuntime(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Path == "/sandboxes/sbx-1":
			w.WriteHeader(http.StatusOK)
		case req.Method == "PUT":
			w.WriteHeader(http.StatusForbidden)
		}
	}))

	err := r.WriteFile(context.Background(), "sbx-1", "../etc/passwd", "x")
	if !errors.Is(err, sandbox.ErrWriteDenied) {
		t.Fatalf("expected ErrWriteDenied, got %v", err)
	}
}

func TestReadFileNotFound(t *testing.T) {
	r, _ := newTestRuntime(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Path == "/sandboxes/sbx-1":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	_, err := r.ReadFile(context.Background(), "sbx-1", "/home/user/missing.tsx")
	if !errors.Is(err, sandbox.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveHost(t *testing.T) {
	r, _ := newTestRuntime(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/sandboxes/sbx-1":
			w.WriteHeader(http.StatusOK)
		case "/sandboxes/sbx-1/host":
			if req.URL.Query().Get("port") != "3000" {
				t.Errorf("unexpected port %s", req.URL.Query().Get("port"))
			}
			fmt.Fprint(w, `{"host":"3000-sbx-1.sandboxes.dev"}`)
		}
	}))

	url, err := r.ResolveHost(context.Background(), "sbx-1", 3000)
	if err != nil {
		t.Fatalf("resolve host: %v", err)
	}
	if url != "https://3000-sbx-1.sandboxes.dev" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestResolveHostNotReady(t *testing.T) {
	r, _ := newTestRuntime(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/sandboxes/sbx-1":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusConflict)
		}
	}))

	_, err := r.ResolveHost(context.Background(), "sbx-1", 3000)
	if !errors.Is(err, sandbox.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestStaleConnectionIsReResolved(t *testing.T) {
	var resolves int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/sandboxes/sbx-1":
			atomic.AddInt32(&resolves, 1)
			w.WriteHeader(http.StatusOK)
		default:
			fmt.Fprint(w, "content")
		}
	}))
	defer srv.Close()

	r, err := New(Config{BaseURL: srv.URL, ConnTTL: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := r.ReadFile(context.Background(), "sbx-1", "/a"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadFile(context.Background(), "sbx-1", "/b"); err != nil {
		t.Fatal(err)
	}
	first := atomic.LoadInt32(&resolves)

	time.Sleep(20 * time.Millisecond)
	if _, err := r.ReadFile(context.Background(), "sbx-1", "/c"); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&resolves) <= first {
		t.Fatal("expected stale connection to be re-resolved after TTL")
	}
}
