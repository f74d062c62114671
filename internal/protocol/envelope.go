package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Request is one validated request envelope.
type Request struct {
	kind Kind
	args []any
}

// Response is one validated response envelope. It carries either a payload
// or an error detail, never both.
type Response struct {
	kind   Kind
	args   []any
	detail *ErrorDetail
}

// ErrorDetail is the opaque failure description carried by error responses.
type ErrorDetail struct {
	Message string       `msgpack:"message"`
	Cause   *ErrorDetail `msgpack:"cause,omitempty"`
}

func (d *ErrorDetail) Error() string {
	if d == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(d.Message)
	for c := d.Cause; c != nil; c = c.Cause {
		b.WriteString(": ")
		b.WriteString(c.Message)
	}
	return b.String()
}

func (d *ErrorDetail) Unwrap() error {
	if d == nil || d.Cause == nil {
		return nil
	}
	return d.Cause
}

const maxDetailDepth = 8

// DetailFrom converts an error chain into a detail chain. Each level keeps
// only its own text so the rendered detail does not repeat itself.
func DetailFrom(message string, err error) *ErrorDetail {
	root := &ErrorDetail{Message: message}
	tail := root
	for depth := 0; err != nil && depth < maxDetailDepth; depth++ {
		text := err.Error()
		next := errors.Unwrap(err)
		if next != nil {
			text = strings.TrimSuffix(text, ": "+next.Error())
		}
		tail.Cause = &ErrorDetail{Message: text}
		tail = tail.Cause
		err = next
	}
	return root
}

// NewRequest validates args against kind's request contract.
func NewRequest(kind Kind, args ...any) (Request, error) {
	c, ok := contracts[kind]
	if !ok {
		return Request{}, &ProtocolError{Kind: kind, Err: ErrUnknownKind}
	}
	if err := checkShape(kind, false, c.Request, args); err != nil {
		return Request{}, err
	}
	return Request{kind: kind, args: cloneArgs(args)}, nil
}

// NewResponse validates args against kind's success response contract.
func NewResponse(kind Kind, args ...any) (Response, error) {
	c, ok := contracts[kind]
	if !ok {
		return Response{}, &ProtocolError{Kind: kind, Response: true, Err: ErrUnknownKind}
	}
	if err := checkShape(kind, true, c.Response, args); err != nil {
		return Response{}, err
	}
	return Response{kind: kind, args: cloneArgs(args)}, nil
}

// NewErrorResponse builds an error response carrying detail.
func NewErrorResponse(detail *ErrorDetail) Response {
	if detail == nil {
		detail = &ErrorDetail{Message: "unspecified error"}
	}
	return Response{kind: KindError, detail: detail}
}

// ErrorResponse builds an error response from a message and an optional cause.
func ErrorResponse(message string, cause error) Response {
	return NewErrorResponse(DetailFrom(message, cause))
}

func checkShape(kind Kind, response bool, shape Shape, args []any) error {
	if !shape.Accepts(len(args)) {
		return &ProtocolError{
			Kind:     kind,
			Response: response,
			Expected: shape,
			Err:      ErrArity,
			Detail:   fmt.Sprintf("got %d argument(s)", len(args)),
		}
	}
	for i, arg := range args {
		got, ok := TypeOf(arg)
		if !ok || got != shape.Slot(i) {
			return &ProtocolError{
				Kind:     kind,
				Response: response,
				Expected: shape,
				Err:      ErrArgumentType,
				Detail:   fmt.Sprintf("argument %d is %T", i, arg),
			}
		}
	}
	return nil
}

func cloneArgs(args []any) []any {
	if len(args) == 0 {
		return nil
	}
	out := make([]any, len(args))
	copy(out, args)
	return out
}

func (r Request) Kind() Kind { return r.kind }

// Args returns a copy of the payload.
func (r Request) Args() []any { return cloneArgs(r.args) }

func (r Request) Len() int { return len(r.args) }

func (r Request) String() string {
	return fmt.Sprintf("%s%s", r.kind, formatArgs(r.args))
}

func (r Response) Kind() Kind { return r.kind }

// Args returns a copy of the payload.
func (r Response) Args() []any { return cloneArgs(r.args) }

func (r Response) Len() int { return len(r.args) }

func (r Response) IsError() bool { return r.kind == KindError }

// Detail returns the error detail, or nil for a success response.
func (r Response) Detail() *ErrorDetail { return r.detail }

// Answers reports whether r is a valid answer to a request of kind k.
func (r Response) Answers(k Kind) bool {
	return r.kind == k || r.kind == KindError
}

func (r Response) String() string {
	if r.IsError() {
		return fmt.Sprintf("error(%s)", r.detail.Error())
	}
	return fmt.Sprintf("%s%s", r.kind, formatArgs(r.args))
}

func formatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case string:
			parts[i] = fmt.Sprintf("%q", v)
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
