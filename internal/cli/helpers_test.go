package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/toursync/internal/config"
)

// cliEnv runs commands against one temporary database.
type cliEnv struct {
	t  *testing.T
	db string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	t.Setenv(config.EnvRemoteURL, "")
	t.Setenv(config.EnvAuthToken, "")
	t.Setenv(config.EnvDatabase, "")
	t.Setenv(config.EnvEphemeral, "")
	dir := t.TempDir()
	return &cliEnv{t: t, db: filepath.Join(dir, "toursync.db")}
}

type execResult struct {
	stdout string
	stderr string
	code   int
}

func (e *cliEnv) run(args ...string) execResult {
	e.t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--db", e.db, "--config", filepath.Join(e.t.TempDir(), "missing.yaml")}, args...)
	code := Execute(context.Background(), full, &stdout, &stderr)
	return execResult{stdout: stdout.String(), stderr: stderr.String(), code: code}
}

// mustRun fails the test unless the command exits 0.
func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	res := e.run(args...)
	require.Equal(e.t, ExitSuccess, res.code, "args %v\nstdout: %s\nstderr: %s", args, res.stdout, res.stderr)
	return res.stdout
}

// envelope is CLIResponse with the payload left raw.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func (e *cliEnv) runJSON(out any, args ...string) {
	e.t.Helper()
	stdout := e.mustRun(append(args, "--format", "json")...)
	var env envelope
	require.NoError(e.t, json.Unmarshal([]byte(stdout), &env), stdout)
	require.Equal(e.t, "ok", env.Status)
	require.NoError(e.t, json.Unmarshal(env.Data, out))
}

// remoteStub records writes and answers every request with status.
type remoteStub struct {
	mu     sync.Mutex
	status int
	puts   map[string]string
}

func newRemoteStub(t *testing.T, status int) (*remoteStub, *httptest.Server) {
	t.Helper()
	stub := &remoteStub{status: status, puts: map[string]string{}}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	t.Setenv(config.EnvRemoteURL, srv.URL)
	return stub, srv
}

func (s *remoteStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != http.StatusOK {
		http.Error(w, "unavailable", s.status)
		return
	}
	if r.Method == http.MethodPut {
		body, _ := io.ReadAll(r.Body)
		s.puts[r.URL.Path] = strings.TrimSpace(string(body))
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte("null"))
}

func (s *remoteStub) written(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.puts[path]
	return v, ok
}
