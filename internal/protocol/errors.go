package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownKind   = errors.New("protocol: unknown kind")
	ErrArity         = errors.New("protocol: arity mismatch")
	ErrArgumentType  = errors.New("protocol: argument type mismatch")
	ErrKindMismatch  = errors.New("protocol: response kind does not answer request")
	ErrWrongClass    = errors.New("protocol: wrong envelope class")
	ErrMissingDetail = errors.New("protocol: error response without detail")
)

// ProtocolError reports a payload that does not fit its kind's contract.
type ProtocolError struct {
	Kind     Kind
	Response bool
	Expected Shape
	Err      error
	Detail   string
}

func (e *ProtocolError) Error() string {
	class := "request"
	if e.Response {
		class = "response"
	}
	if errors.Is(e.Err, ErrUnknownKind) {
		return fmt.Sprintf("protocol: unknown %s kind %s", class, e.Kind)
	}
	msg := fmt.Sprintf("protocol: %s %s expects %s", e.Kind, class, e.Expected)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// TransportError reports a failure to move one envelope across a connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is or wraps a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsProtocol reports whether err is or wraps a ProtocolError.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
