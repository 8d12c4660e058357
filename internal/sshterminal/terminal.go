package sshterminal

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/logutil"
)

// PTYConfig describes the pseudo-terminal requested for the shell channel.
type PTYConfig struct {
	Term string
	Cols int
	Rows int
}

// DefaultPTY matches a classic 80x24 xterm.
var DefaultPTY = PTYConfig{Term: "xterm", Cols: 80, Rows: 24}

// Dialer establishes an authenticated transport to a target.
type Dialer interface {
	Dial(ctx context.Context, target Target, password string) (Transport, error)
}

// Transport is an authenticated connection able to host channels.
type Transport interface {
	// OpenShell opens an interactive shell channel with a PTY.
	OpenShell(pty PTYConfig) (Shell, error)
	// Exec runs a single command on a separate channel and returns its
	// combined output.
	Exec(ctx context.Context, command string) ([]byte, error)
	// KeepAlive checks that the peer still answers; an error means the transport is dead.
	KeepAlive() error
	Close() error
}

// Shell is the bidirectional byte stream of an interactive shell channel.
type Shell interface {
	io.Reader
	io.Writer
	Close() error
}

// defaultConnectTimeout bounds the TCP dial when the caller's context has
// no deadline of its own.
const defaultConnectTimeout = 10 * time.Second

// SSHDialer dials targets with golang.org/x/crypto/ssh using password and
// keyboard-interactive authentication.
type SSHDialer struct {
	// Timeout bounds the TCP dial. Zero selects defaultConnectTimeout.
	Timeout time.Duration
	// HostKeyCallback verifies the server key. Nil accepts any key.
	HostKeyCallback ssh.HostKeyCallback
	// DialContext opens the raw connection. Nil uses net.Dialer.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// HostKeyCallbackFromFile returns a callback that checks server keys
// against an OpenSSH known_hosts file. An empty path accepts any key.
func HostKeyCallbackFromFile(path string) (ssh.HostKeyCallback, error) {
	if path == "" {
		log.Printf("[session] WARNING: no known_hosts file configured, host keys are not verified")
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", logutil.SanitizeForLog(path), err)
	}
	return cb, nil
}

// Dial connects and authenticates. The context bounds both the TCP dial
// and the SSH handshake.
func (d *SSHDialer) Dial(ctx context.Context, target Target, password string) (Transport, error) {
	if err := target.Validate(); err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	hostKeyCallback := d.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	config := &ssh.ClientConfig{
		User: target.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := target.Address()
	dial := d.DialContext
	if dial == nil {
		nd := &net.Dialer{Timeout: timeout}
		dial = nd.DialContext
	}
	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", logutil.SanitizeForLog(addr), err)
	}

	var (
		client       *ssh.Client
		handshakeErr error
	)
	handshakeDone := make(chan struct{})
	go func() {
		defer close(handshakeDone)
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		if err != nil {
			handshakeErr = err
			return
		}
		client = ssh.NewClient(c, chans, reqs)
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		<-handshakeDone
		if client != nil {
			client.Close()
		}
		return nil, fmt.Errorf("handshake with %s: %w", logutil.SanitizeForLog(addr), ctx.Err())
	case <-handshakeDone:
		if handshakeErr != nil {
			conn.Close()
			return nil, fmt.Errorf("handshake with %s: %w", logutil.SanitizeForLog(addr), handshakeErr)
		}
	}

	return &sshTransport{client: client}, nil
}

// sshTransport adapts *ssh.Client to Transport.
type sshTransport struct {
	client *ssh.Client
}

// OpenShell requests a PTY and starts the login shell.
func (t *sshTransport) OpenShell(pty PTYConfig) (Shell, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(pty.Term, pty.Rows, pty.Cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return &sshShell{session: session, stdin: stdin, stdout: stdout}, nil
}

// Exec runs command on its own channel. Cancelling ctx closes the channel.
func (t *sshTransport) Exec(ctx context.Context, command string) ([]byte, error) {
	session, err := t.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(command)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return r.out, fmt.Errorf("exec: %w", r.err)
		}
		return r.out, nil
	}
}

func (t *sshTransport) KeepAlive() error {
	_, _, err := t.client.SendRequest("keepalive@openssh.com", true, nil)
	return err
}

func (t *sshTransport) Close() error {
	return t.client.Close()
}

// sshShell is an interactive shell channel.
type sshShell struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
}

func (s *sshShell) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *sshShell) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Close terminates the channel. Closing an already closed channel
// returns io.EOF, which is not reported as a failure.
func (s *sshShell) Close() error {
	err := s.session.Close()
	if err == io.EOF {
		return nil
	}
	return err
}
