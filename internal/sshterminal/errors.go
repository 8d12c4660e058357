package sshterminal

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a session failure.
type ErrorKind string

const (
	// KindAuthentication: the server rejected the credential.
	KindAuthentication ErrorKind = "authentication"
	// KindConnection: network, DNS, timeout or handshake failure during connect.
	KindConnection ErrorKind = "connection"
	// KindStreamNotInitialized: a command was issued while not connected.
	KindStreamNotInitialized ErrorKind = "stream_not_initialized"
	// KindTransport: a read or write failed on an established session.
	KindTransport ErrorKind = "transport"
	// KindInvalidState: Connect was called while connecting or connected.
	KindInvalidState ErrorKind = "invalid_state"
)

// Error is the failure type returned and reported by a Session.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err if it is, or wraps, an *Error.
// It returns "" for any other error.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// classifyConnectError maps a dial, handshake or shell-open failure to
// its kind. x/crypto/ssh does not export a typed client auth error, so
// authentication failures are recognised by the handshake message.
// Everything else that goes wrong before the shell is open (refused,
// DNS, timeout, cancelled, truncated handshake) is a connection error.
func classifyConnectError(err error) ErrorKind {
	if k := KindOf(err); k != "" {
		return k
	}
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") {
		return KindAuthentication
	}
	return KindConnection
}
