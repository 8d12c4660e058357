// Package sshterminal manages interactive remote shells over SSH: the
// connect/execute/disconnect lifecycle of each session, the background
// reader that turns shell output into events, and the keyed collection
// of open sessions.
//
// The SSH protocol itself is golang.org/x/crypto/ssh. [SSHDialer] performs
// the dial and password or keyboard-interactive authentication, and opens
// a PTY-backed login shell. Tests substitute their own [Dialer].
//
// # Core Components
//
//   - [Session]: one remote shell with its state machine, reader goroutine,
//     optional keepalive goroutine and per-session event router.
//   - [SessionManager]: map of open sessions keyed by a uuid that is never
//     reused. Only sessions that connected successfully are stored.
//   - [Event] / [EventHandler]: output, error and status notifications bound
//     to one session id. There is no process-wide event bus.
//   - [Error] / [ErrorKind]: classified failures (authentication, connection,
//     stream not initialized, transport, invalid state).
//
// # Session Lifecycle
//
//	disconnected -> connecting -> connected -> disconnecting -> disconnected
//	                     |
//	                     +-> failed (accepts Connect again)
//
// Every transition emits an [EventStatus]. A failed connect emits exactly
// one [EventError] followed by the transition to failed. A read, write or
// keepalive failure on a connected session emits one [EventError] of kind
// [KindTransport] and then tears the session down. A clean end of stream
// (the remote shell exited) tears down without an error event.
//
// [Session.Disconnect] is idempotent. On a session that is already
// disconnected or failed it does nothing and emits nothing. Teardown closes
// the shell channel, then the transport, waits for the reader to exit and
// only then reports disconnected, so no output event follows it.
//
// # Commands and Output
//
// [Session.Execute] writes the command and a line terminator to the shell
// under a per-session write lock. It does not wait for, or correlate,
// output: the remote echo and the command's response arrive later as
// [EventOutput] chunks. Output is decoded with golang.org/x/text; multi-byte
// characters split across reads are reassembled.
//
// # Event Delivery
//
// Events of one session are queued in the order they are produced and
// delivered by a dispatcher goroutine, one handler call at a time. A slow
// handler delays later events of the same session only. Handler panics are
// recovered and logged. [Session.SubscribeWithHistory] returns the retained
// output atomically with the subscription so a late subscriber sees every
// byte once.
//
// # Log Prefixes
//
// Sessions log at the [session] prefix. Session manager operations log at
// the [session-mgr] prefix.
package sshterminal
