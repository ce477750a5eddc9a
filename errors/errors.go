package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrNotConnected       = fmt.Errorf("socket is not connected")
	ErrConnectionLost     = fmt.Errorf("cannot send: connection lost")
	ErrReconnectExhausted = fmt.Errorf("reconnect attempts exhausted")
	ErrAckTimeout         = fmt.Errorf("message was not acknowledged in time")
	ErrSessionClosed      = fmt.Errorf("chat session is closed")
	ErrInvalidEndpoint    = fmt.Errorf("invalid socket endpoint")
	ErrUnauthorized       = fmt.Errorf("unauthorized")
	ErrEmptyMessage       = fmt.Errorf("cannot send an empty message")
)

// Kind classifies failures of the chat stack.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConnection is a transport, TLS or DNS failure.
	KindConnection
	// KindProtocol is a malformed frame.
	KindProtocol
	// KindApplication is a failed HTTP call, typically the history load.
	KindApplication
	// KindUserAction is an action refused because of the current state.
	KindUserAction
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindProtocol:
		return "protocol"
	case KindApplication:
		return "application"
	case KindUserAction:
		return "user_action"
	default:
		return "unknown"
	}
}

// ParseError is returned when an inbound frame cannot be decoded.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Reason
}

// ApplicationError wraps a failed REST call.
type ApplicationError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ApplicationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ApplicationError) Unwrap() error { return e.Err }

// ConnectionError wraps a transport level failure.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// KindOf maps an error onto the chat error taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var parseErr *ParseError
	var appErr *ApplicationError
	var connErr *ConnectionError
	switch {
	case stderrors.As(err, &parseErr):
		return KindProtocol
	case stderrors.As(err, &appErr):
		return KindApplication
	case stderrors.As(err, &connErr),
		stderrors.Is(err, ErrNotConnected),
		stderrors.Is(err, ErrReconnectExhausted):
		return KindConnection
	case stderrors.Is(err, ErrConnectionLost),
		stderrors.Is(err, ErrSessionClosed),
		stderrors.Is(err, ErrAckTimeout),
		stderrors.Is(err, ErrEmptyMessage):
		return KindUserAction
	default:
		return KindUnknown
	}
}
