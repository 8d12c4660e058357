package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm/logger"

	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/database"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/directory"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/idle"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/sshaudit"
	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/sshterminal"
)

const (
	badPassword  = "wrong"
	downPassword = "unreachable"
)

// echoShell writes every input chunk straight back as output.
type echoShell struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
}

func newEchoShell() *echoShell {
	r, w := io.Pipe()
	return &echoShell{r: r, w: w}
}

func (s *echoShell) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *echoShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.written.Write(p)
	s.mu.Unlock()
	return s.w.Write(p)
}

func (s *echoShell) Close() error {
	s.w.Close()
	return nil
}

// hangup simulates the remote end closing the shell.
func (s *echoShell) hangup() { s.w.Close() }

func (s *echoShell) input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

type echoTransport struct {
	shell *echoShell
}

func (t *echoTransport) OpenShell(pty sshterminal.PTYConfig) (sshterminal.Shell, error) {
	return t.shell, nil
}

func (t *echoTransport) Exec(ctx context.Context, command string) ([]byte, error) {
	if command == "pwd" {
		return []byte("/home/tester\n"), nil
	}
	return nil, errors.New("exit status 127")
}

func (t *echoTransport) KeepAlive() error { return nil }
func (t *echoTransport) Close() error     { return nil }

type echoDialer struct {
	mu     sync.Mutex
	shells []*echoShell
}

func (d *echoDialer) Dial(ctx context.Context, target sshterminal.Target, password string) (sshterminal.Transport, error) {
	switch password {
	case badPassword:
		return nil, errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password], no supported methods remain")
	case downPassword:
		return nil, errors.New("dial tcp " + target.Address() + ": connect: connection refused")
	}
	sh := newEchoShell()
	d.mu.Lock()
	d.shells = append(d.shells, sh)
	d.mu.Unlock()
	return &echoTransport{shell: sh}, nil
}

func (d *echoDialer) last() *echoShell {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.shells) == 0 {
		return nil
	}
	return d.shells[len(d.shells)-1]
}

type testEnv struct {
	server   *httptest.Server
	sessions *sshterminal.SessionManager
	dialer   *echoDialer
	dir      *directory.FileRepository
	auditor  *sshaudit.Auditor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(":memory:", logger.Silent)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close(db) })

	dir := directory.NewFileRepository(filepath.Join(t.TempDir(), "ServerInfo.json"))
	if err := dir.Load(); err != nil {
		t.Fatalf("load directory: %v", err)
	}

	dialer := &echoDialer{}
	clock := idle.NewClock()
	sessions := sshterminal.NewSessionManager(dialer, sshterminal.Options{
		OnActivity: clock.Touch,
	})
	auditor := sshaudit.NewAuditor(db, 30)
	sessions.AddObserver(auditor.Observer())
	t.Cleanup(func() { sessions.CloseAll() })

	h := New(Deps{Sessions: sessions, Directory: dir, Auditor: auditor, Clock: clock, DB: db})
	r := chi.NewRouter()
	h.Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, sessions: sessions, dialer: dialer, dir: dir, auditor: auditor}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

// openSession opens an inline-target session and returns its id.
func (e *testEnv) openSession(t *testing.T) string {
	t.Helper()
	resp, body := e.do(t, "POST", "/api/v1/sessions", map[string]interface{}{
		"name": "box", "host": "10.0.0.1", "username": "tester", "password": "pw",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open session: %d %s", resp.StatusCode, body)
	}
	var info sshterminal.Info
	if err := json.Unmarshal(body, &info); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return info.ID
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func decodeDetail(t *testing.T, body []byte) map[string]string {
	t.Helper()
	var m map[string]string
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	return m
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}
