package sshterminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Aurora-Studio-Dev/SimpleSSH/internal/logutil"
)

// Options configures how a Session talks to its remote shell.
type Options struct {
	PTY PTYConfig
	// Encoding is the WHATWG label of the remote text encoding.
	Encoding string
	// LineEnding terminates every command written by Execute.
	LineEnding string
	// ConnectTimeout bounds dial, handshake and shell setup.
	ConnectTimeout time.Duration
	// KeepaliveInterval is the period of transport keepalive requests.
	// Zero disables them.
	KeepaliveInterval time.Duration
	// ScrollbackSize is the number of output bytes kept for late
	// subscribers. Zero selects the default, negative disables it.
	ScrollbackSize int
	// OnActivity is called for every user action on the session: each
	// connect attempt and each command. Incoming output does not count.
	OnActivity func()
}

func (o Options) withDefaults() Options {
	if o.PTY.Term == "" {
		o.PTY.Term = DefaultPTY.Term
	}
	if o.PTY.Cols <= 0 {
		o.PTY.Cols = DefaultPTY.Cols
	}
	if o.PTY.Rows <= 0 {
		o.PTY.Rows = DefaultPTY.Rows
	}
	if o.LineEnding == "" {
		o.LineEnding = "\n"
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	return o
}

// readBufferSize is the size of a single read from the shell channel.
const readBufferSize = 32 * 1024

// Session is one interactive remote shell.
type Session struct {
	ID        string
	Target    Target
	CreatedAt time.Time

	dialer Dialer
	opts   Options
	codec  *textCodec
	router *router
	nowFn  func() time.Time

	mu            sync.Mutex
	state         SessionState
	transitions   transitionLog
	transport     Transport
	shell         Shell
	runCtx        context.Context
	runCancel     context.CancelFunc
	readerDone    chan struct{}
	connectCancel context.CancelFunc
	connectDone   chan struct{}
	teardownDone  chan struct{}
	connectedAt   time.Time
	lastErr       *Error
	onDisconnect  func(*Session)

	// writeMu serializes writes to the shell channel.
	writeMu sync.Mutex
}

// NewSession creates a disconnected session for target.
func NewSession(id string, target Target, dialer Dialer, opts Options) (*Session, error) {
	opts = opts.withDefaults()
	codec, err := newTextCodec(opts.Encoding)
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:     id,
		Target: target,
		dialer: dialer,
		opts:   opts,
		codec:  codec,
		router: newRouter(id, opts.ScrollbackSize),
		nowFn:  time.Now,
		state:  StateDisconnected,
	}
	s.CreatedAt = s.nowFn()
	return s, nil
}

// setStateLocked records and announces a transition. The caller holds s.mu,
// which keeps status events in step with the state they describe.
func (s *Session) setStateLocked(to SessionState) {
	from := s.state
	if from == to {
		return
	}
	now := s.nowFn()
	s.state = to
	s.transitions.record(from, to, now)
	s.router.emit(Event{Type: EventStatus, State: to, Timestamp: now})
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transitions returns a copy of the recent state transitions.
func (s *Session) Transitions() []StateTransition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitions.snapshot()
}

// LastError returns the error that ended the most recent connection, if any.
func (s *Session) LastError() *Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Subscribe registers h for this session's events.
func (s *Session) Subscribe(h EventHandler) (unsubscribe func()) {
	_, unsubscribe = s.router.subscribe(h, false)
	return unsubscribe
}

// SubscribeWithHistory registers h and returns the output produced so far.
// Output emitted after the returned history is delivered to h.
func (s *Session) SubscribeWithHistory(h EventHandler) (history string, unsubscribe func()) {
	return s.router.subscribe(h, true)
}

// Scrollback returns the retained output of the session.
func (s *Session) Scrollback() string {
	return s.router.history()
}

func (s *Session) touch() {
	if s.opts.OnActivity != nil {
		s.opts.OnActivity()
	}
}

type connectResult struct {
	transport Transport
	shell     Shell
	err       error
}

// Connect dials the target, authenticates with password and opens the
// interactive shell. It blocks until the attempt completes, ctx is done
// or Disconnect aborts it. On failure the returned *Error has also been
// reported as one EventError and the session is left in StateFailed.
func (s *Session) Connect(ctx context.Context, password string) error {
	s.mu.Lock()
	if !s.state.IsIdle() {
		state := s.state
		s.mu.Unlock()
		return &Error{Kind: KindInvalidState, Op: "connect", Err: fmt.Errorf("session is %s", state)}
	}
	attemptCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	done := make(chan struct{})
	s.connectCancel, s.connectDone = cancel, done
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	defer close(done)
	defer cancel()
	s.touch()

	results := make(chan connectResult, 1)
	go s.establish(attemptCtx, password, results)

	var res connectResult
	select {
	case res = <-results:
	case <-attemptCtx.Done():
		res.err = attemptCtx.Err()
		go func() {
			late := <-results
			if late.err == nil {
				late.shell.Close()
				late.transport.Close()
			}
		}()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectCancel, s.connectDone = nil, nil

	if res.err != nil {
		se := &Error{Kind: classifyConnectError(res.err), Op: "connect", Err: res.err}
		s.lastErr = se
		s.router.emit(Event{Type: EventError, Kind: se.Kind, Text: se.Error()})
		s.setStateLocked(StateFailed)
		log.Printf("[session] %s: connect to %s failed (%s): %v",
			s.ID, logutil.SanitizeForLog(s.Target.String()), se.Kind, res.err)
		return se
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	s.transport, s.shell = res.transport, res.shell
	s.runCtx, s.runCancel = runCtx, runCancel
	s.readerDone = make(chan struct{})
	s.connectedAt = s.nowFn()
	s.lastErr = nil
	s.setStateLocked(StateConnected)

	go s.readLoop(runCtx, res.shell, s.readerDone)
	if s.opts.KeepaliveInterval > 0 {
		go s.keepaliveLoop(runCtx, res.transport)
	}

	log.Printf("[session] %s: connected to %s", s.ID, logutil.SanitizeForLog(s.Target.String()))
	return nil
}

// establish runs the blocking part of Connect on its own goroutine.
func (s *Session) establish(ctx context.Context, password string, results chan<- connectResult) {
	defer func() {
		if p := recover(); p != nil {
			results <- connectResult{err: fmt.Errorf("connect panic: %v", p)}
		}
	}()

	transport, err := s.dialer.Dial(ctx, s.Target, password)
	if err != nil {
		results <- connectResult{err: err}
		return
	}
	shell, err := transport.OpenShell(s.opts.PTY)
	if err != nil {
		transport.Close()
		results <- connectResult{err: fmt.Errorf("open shell: %w", err)}
		return
	}
	results <- connectResult{transport: transport, shell: shell}
}

// Execute writes command followed by the line terminator to the shell.
// Output is not correlated with commands: the echo and any response
// arrive later as EventOutput.
func (s *Session) Execute(command string) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return &Error{Kind: KindStreamNotInitialized, Op: "execute"}
	}
	shell, runCtx := s.shell, s.runCtx
	s.mu.Unlock()

	s.touch()

	payload, err := s.codec.encode(command + s.opts.LineEnding)
	if err != nil {
		return fmt.Errorf("execute: encode command: %w", err)
	}

	s.writeMu.Lock()
	_, err = shell.Write(payload)
	s.writeMu.Unlock()
	if err != nil {
		se := &Error{Kind: KindTransport, Op: "execute", Err: err}
		s.dropConnection(runCtx, se, false)
		return se
	}
	return nil
}

// ChangeDirectory switches the shell's working directory.
func (s *Session) ChangeDirectory(path string) error {
	if path == "" {
		return s.Execute("cd")
	}
	return s.Execute("cd " + shellQuote(path))
}

// WorkingDirectory asks the server for the login directory of a fresh
// exec channel. It does not observe cd commands sent to the shell.
func (s *Session) WorkingDirectory(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return "", &Error{Kind: KindStreamNotInitialized, Op: "pwd"}
	}
	transport := s.transport
	s.mu.Unlock()

	out, err := transport.Exec(ctx, "pwd")
	if err != nil {
		return "", fmt.Errorf("pwd: %w", err)
	}
	dir := strings.TrimSpace(string(out))
	if dir == "" {
		dir = "/"
	}
	return dir, nil
}

// Disconnect closes the session. It is safe to call from any state and
// any number of times. A connected session emits exactly one
// StatusChanged(disconnected); a session that is already disconnected
// or failed emits nothing. A connect in progress is aborted and fails
// with a connection error.
func (s *Session) Disconnect() error {
	for {
		s.mu.Lock()
		switch s.state {
		case StateConnecting:
			cancel, done := s.connectCancel, s.connectDone
			s.mu.Unlock()
			cancel()
			<-done
		case StateDisconnecting:
			done := s.teardownDone
			s.mu.Unlock()
			<-done
			return nil
		case StateConnected:
			td := s.beginTeardownLocked()
			s.mu.Unlock()
			return s.finishTeardown(td, true)
		default:
			s.mu.Unlock()
			return nil
		}
	}
}

// teardown holds the handles of a connection being closed.
type teardown struct {
	cancel     context.CancelFunc
	shell      Shell
	transport  Transport
	readerDone chan struct{}
}

// beginTeardownLocked detaches the connection handles and moves the
// session to StateDisconnecting. The caller holds s.mu.
func (s *Session) beginTeardownLocked() teardown {
	td := teardown{
		cancel:     s.runCancel,
		shell:      s.shell,
		transport:  s.transport,
		readerDone: s.readerDone,
	}
	s.shell, s.transport = nil, nil
	s.runCtx, s.runCancel = nil, nil
	s.teardownDone = make(chan struct{})
	s.setStateLocked(StateDisconnecting)
	return td
}

// finishTeardown releases the shell channel then the transport, waits for
// the reader unless called from it, and reports StateDisconnected.
func (s *Session) finishTeardown(td teardown, waitReader bool) error {
	td.cancel()

	var errs []error
	if err := td.shell.Close(); err != nil && !isClosedErr(err) {
		errs = append(errs, fmt.Errorf("close shell: %w", err))
	}
	if err := td.transport.Close(); err != nil && !isClosedErr(err) {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}
	if waitReader {
		<-td.readerDone
	}

	s.mu.Lock()
	s.setStateLocked(StateDisconnected)
	done := s.teardownDone
	s.teardownDone = nil
	hook := s.onDisconnect
	s.mu.Unlock()
	close(done)

	log.Printf("[session] %s: disconnected from %s", s.ID, logutil.SanitizeForLog(s.Target.String()))
	if hook != nil {
		hook(s)
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		log.Printf("[session] %s: teardown: %v", s.ID, err)
		return err
	}
	return nil
}

// dropConnection ends the connection identified by runCtx after a
// transport failure or end of stream. serr, when non-nil, is reported
// before the transition. It does nothing if that connection is already
// being torn down.
func (s *Session) dropConnection(runCtx context.Context, serr *Error, fromReader bool) {
	s.mu.Lock()
	if s.state != StateConnected || runCtx == nil || runCtx.Err() != nil {
		s.mu.Unlock()
		return
	}
	if serr != nil {
		s.lastErr = serr
		s.router.emit(Event{Type: EventError, Kind: serr.Kind, Text: serr.Error()})
		log.Printf("[session] %s: %v", s.ID, serr)
	}
	td := s.beginTeardownLocked()
	s.mu.Unlock()

	s.finishTeardown(td, !fromReader)
}

// readLoop delivers decoded shell output until the connection ends.
func (s *Session) readLoop(ctx context.Context, shell Shell, done chan struct{}) {
	defer close(done)
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[session] %s: reader panic: %v", s.ID, p)
			s.dropConnection(ctx, &Error{Kind: KindTransport, Op: "read", Err: fmt.Errorf("reader panic: %v", p)}, true)
		}
	}()

	r := s.codec.reader(shell)
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if ctx.Err() != nil {
			return
		}
		if n > 0 {
			s.router.emit(Event{Type: EventOutput, Text: string(buf[:n])})
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Printf("[session] %s: remote shell closed the stream", s.ID)
				s.dropConnection(ctx, nil, true)
			} else {
				s.dropConnection(ctx, &Error{Kind: KindTransport, Op: "read", Err: err}, true)
			}
			return
		}
	}
}

// keepaliveLoop pings the transport until the connection ends.
func (s *Session) keepaliveLoop(ctx context.Context, transport Transport) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[session] %s: keepalive panic: %v", s.ID, p)
		}
	}()

	ticker := time.NewTicker(s.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.keepAlive(ctx, transport); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.dropConnection(ctx, &Error{Kind: KindTransport, Op: "keepalive", Err: err}, false)
				return
			}
		}
	}
}

// errKeepaliveTimeout reports a keepalive the peer never answered.
var errKeepaliveTimeout = errors.New("keepalive timed out")

// keepAlive sends one keepalive request. A peer that does not answer within
// the keepalive interval is treated as gone.
func (s *Session) keepAlive(ctx context.Context, transport Transport) error {
	done := make(chan error, 1)
	go func() { done <- transport.KeepAlive() }()

	timer := time.NewTimer(s.opts.KeepaliveInterval)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return errKeepaliveTimeout
	case <-ctx.Done():
		return nil
	}
}

// Info is a point-in-time description of a session.
type Info struct {
	ID          string       `json:"id"`
	Target      Target       `json:"target"`
	State       SessionState `json:"state"`
	CreatedAt   time.Time    `json:"created_at"`
	ConnectedAt time.Time    `json:"connected_at,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:          s.ID,
		Target:      s.Target,
		State:       s.state,
		CreatedAt:   s.CreatedAt,
		ConnectedAt: s.connectedAt,
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	return info
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
