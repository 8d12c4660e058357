package sshterminal

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
	"google.golang.org/grpc/test/bufconn"
)

// --- In-process SSH server ---

const (
	testUser     = "tester"
	testPassword = "s3cret"
	testHomeDir  = "/home/tester"
)

func newHostSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	return signer
}

// serveTestSSH accepts connections on ln until it is closed. The server
// accepts testUser/testPassword, echoes shell input back with an "echo:"
// prefix, answers the "pwd" exec with testHomeDir and ends the shell when
// it receives "exit".
func serveTestSSH(t *testing.T, ln net.Listener, hostSigner ssh.Signer) {
	t.Helper()

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if conn.User() == testUser && string(password) == testPassword {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected for %q", conn.User())
		},
	}
	config.AddHostKey(hostSigner)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			netConn, err := ln.Accept()
			if err != nil {
				return
			}
			go handleTestConnection(netConn, config)
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		<-done
	})
}

func handleTestConnection(netConn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go handleTestSession(ch, requests)
	}
}

func sendExitStatus(ch ssh.Channel, status uint32) {
	ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
}

func handleTestSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	var hasPTY bool
	for req := range requests {
		switch req.Type {
		case "pty-req":
			hasPTY = true
			if req.WantReply {
				req.Reply(true, nil)
			}

		case "exec":
			var payload struct{ Command string }
			ssh.Unmarshal(req.Payload, &payload)
			if req.WantReply {
				req.Reply(true, nil)
			}
			if payload.Command == "pwd" {
				ch.Write([]byte(testHomeDir + "\n"))
				sendExitStatus(ch, 0)
			} else {
				ch.Stderr().Write([]byte("unknown command\n"))
				sendExitStatus(ch, 127)
			}
			ch.Close()
			return

		case "shell":
			if req.WantReply {
				req.Reply(true, nil)
			}
			fmt.Fprintf(ch, "PTY:%v\n", hasPTY)
			go func() {
				buf := make([]byte, 4096)
				for {
					n, err := ch.Read(buf)
					if n > 0 {
						if strings.Contains(string(buf[:n]), "exit") {
							ch.Write([]byte("bye\n"))
							sendExitStatus(ch, 0)
							ch.Close()
							return
						}
						ch.Write([]byte("echo:"))
						ch.Write(buf[:n])
					}
					if err != nil {
						return
					}
				}
			}()

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// startTCPServer starts the test server on a loopback port.
func startTCPServer(t *testing.T) (host string, port int, hostKey ssh.PublicKey) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	signer := newHostSigner(t)
	serveTestSSH(t, ln, signer)
	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port, signer.PublicKey()
}

// startMemServer starts the test server on an in-memory listener and
// returns a dialer that reaches it.
func startMemServer(t *testing.T) *SSHDialer {
	t.Helper()
	ln := bufconn.Listen(32 * 1024)
	serveTestSSH(t, ln, newHostSigner(t))
	return &SSHDialer{
		Timeout: 5 * time.Second,
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return ln.DialContext(ctx)
		},
	}
}

// closedPort returns a loopback port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// --- Fake transport ---

// fakeShell is an in-memory shell channel. Tests play the remote side by
// writing to remote.
type fakeShell struct {
	out    *io.PipeReader
	remote *io.PipeWriter
	order  *callOrder

	mu         sync.Mutex
	written    bytes.Buffer
	writeErr   error
	closeErr   error
	closeCount int
}

func newFakeShell(order *callOrder) *fakeShell {
	r, w := io.Pipe()
	return &fakeShell{out: r, remote: w, order: order}
}

func (s *fakeShell) Read(p []byte) (int, error) {
	return s.out.Read(p)
}

func (s *fakeShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.written.Write(p)
}

func (s *fakeShell) Close() error {
	s.mu.Lock()
	s.closeCount++
	err := s.closeErr
	s.mu.Unlock()
	s.order.add("shell")
	s.out.CloseWithError(io.EOF)
	return err
}

func (s *fakeShell) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

func (s *fakeShell) setWriteErr(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

func (s *fakeShell) closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

type fakeTransport struct {
	shell *fakeShell
	order *callOrder

	mu            sync.Mutex
	keepAliveErr  error
	keepAliveHang chan struct{}
	openShellErr  error
	execOut       string
	closeCount    int
}

func (t *fakeTransport) OpenShell(PTYConfig) (Shell, error) {
	if t.openShellErr != nil {
		return nil, t.openShellErr
	}
	return t.shell, nil
}

func (t *fakeTransport) Exec(ctx context.Context, command string) ([]byte, error) {
	return []byte(t.execOut), nil
}

func (t *fakeTransport) KeepAlive() error {
	t.mu.Lock()
	hang, err := t.keepAliveHang, t.keepAliveErr
	t.mu.Unlock()
	if hang != nil {
		<-hang
	}
	return err
}

// hangKeepAlive makes KeepAlive block until the returned release is called.
func (t *fakeTransport) hangKeepAlive() (release func()) {
	hang := make(chan struct{})
	t.mu.Lock()
	t.keepAliveHang = hang
	t.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(hang) }) }
}

func (t *fakeTransport) setKeepAliveErr(err error) {
	t.mu.Lock()
	t.keepAliveErr = err
	t.mu.Unlock()
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closeCount++
	t.mu.Unlock()
	t.order.add("transport")
	return nil
}

func (t *fakeTransport) closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCount
}

// callOrder records the order in which handles are released.
type callOrder struct {
	mu    sync.Mutex
	calls []string
}

func (o *callOrder) add(name string) {
	o.mu.Lock()
	o.calls = append(o.calls, name)
	o.mu.Unlock()
}

func (o *callOrder) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.calls...)
}

// fakeDialer hands out a fresh fakeTransport per successful dial.
type fakeDialer struct {
	mu         sync.Mutex
	errs       []error // consumed one per dial; nil entries succeed
	block      chan struct{}
	transports []*fakeTransport
	dials      int
}

func (d *fakeDialer) Dial(ctx context.Context, target Target, password string) (Transport, error) {
	d.mu.Lock()
	d.dials++
	var err error
	if len(d.errs) > 0 {
		err = d.errs[0]
		d.errs = d.errs[1:]
	}
	block := d.block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	order := &callOrder{}
	tr := &fakeTransport{shell: newFakeShell(order), order: order}
	d.mu.Lock()
	d.transports = append(d.transports, tr)
	d.mu.Unlock()
	return tr, nil
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

var errAuthRejected = errors.New("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password], no supported methods remain")

// --- Event recording ---

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) output() string {
	var b strings.Builder
	for _, ev := range r.snapshot() {
		if ev.Type == EventOutput {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

func (r *eventRecorder) count(typ EventType, match func(Event) bool) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Type == typ && (match == nil || match(ev)) {
			n++
		}
	}
	return n
}

func (r *eventRecorder) statuses() []SessionState {
	var states []SessionState
	for _, ev := range r.snapshot() {
		if ev.Type == EventStatus {
			states = append(states, ev.State)
		}
	}
	return states
}

func isState(state SessionState) func(Event) bool {
	return func(ev Event) bool { return ev.State == state }
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// waitOutput waits until the recorded output contains target.
func waitOutput(t *testing.T, rec *eventRecorder, target string, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		out := rec.output()
		if strings.Contains(out, target) {
			return out
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %q, got: %q", target, out)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// newFakeSession returns a session wired to a fake dialer and recorder.
func newFakeSession(t *testing.T, opts Options) (*Session, *fakeDialer, *eventRecorder) {
	t.Helper()
	d := &fakeDialer{}
	s, err := NewSession("sess-1", Target{Name: "box", Host: "10.0.0.1", Port: 22, Username: "root"}, d, opts)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	rec := &eventRecorder{}
	s.Subscribe(rec.handle)
	t.Cleanup(func() { s.Disconnect() })
	return s, d, rec
}
