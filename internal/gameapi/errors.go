package gameapi

import (
	"errors"
	"fmt"
)

// Kind classifies a failed call to the simulation API.
type Kind string

const (
	// KindTransport covers unreachable hosts, timeouts and malformed URLs.
	KindTransport Kind = "transport"
	// KindProtocol is any non-200 status.
	KindProtocol Kind = "protocol"
	// KindDecode is a 200 whose body does not have the expected shape.
	KindDecode Kind = "decode"
)

var (
	ErrNoGame    = errors.New("no_game")
	ErrTransport = errors.New("transport_error")
	ErrProtocol  = errors.New("protocol_error")
	ErrDecode    = errors.New("decode_error")
)

type Error struct {
	Op     string
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindProtocol:
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets callers match on the failure class with errors.Is.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrProtocol:
		return e.Kind == KindProtocol
	case ErrDecode:
		return e.Kind == KindDecode
	}
	return false
}

// KindOf returns the failure class of err, or "" when err did not come from
// the transport.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
