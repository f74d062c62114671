// Package wire moves one protocol envelope per direction over a byte stream.
//
// A request or response is one frame whose TLV payload holds one field per
// argument slot. Guest, log and entry values, and the error detail, are
// MessagePack encoded inside their fields.
package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/guestbook/internal/guest"
	"github.com/danmuck/guestbook/internal/protocol"
	"github.com/danmuck/guestbook/internal/protocol/frame"
	"github.com/danmuck/guestbook/internal/protocol/schema"
	"github.com/danmuck/guestbook/internal/protocol/tlv"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec reads and writes envelopes under fixed frame limits.
type Codec struct {
	Limits frame.Limits
}

var defaultCodec = NewCodec()

// NewCodec returns a codec with the default frame limits.
func NewCodec() Codec {
	return Codec{Limits: frame.DefaultLimits()}
}

func WriteRequest(w io.Writer, id uint64, req protocol.Request) error {
	return defaultCodec.WriteRequest(w, id, req)
}

func ReadRequest(r io.Reader) (uint64, protocol.Request, error) {
	return defaultCodec.ReadRequest(r)
}

func WriteResponse(w io.Writer, id uint64, resp protocol.Response) error {
	return defaultCodec.WriteResponse(w, id, resp)
}

func ReadResponse(r io.Reader) (uint64, protocol.Response, error) {
	return defaultCodec.ReadResponse(r)
}

func (c Codec) WriteRequest(w io.Writer, id uint64, req protocol.Request) error {
	const op = "write request"
	fields, err := encodeArgs(req.Args())
	if err != nil {
		return &protocol.TransportError{Op: op, Err: err}
	}
	f := frame.Frame{
		Header:  frame.Header{MessageID: id, MessageType: uint32(req.Kind())},
		Payload: tlv.EncodeFields(fields),
	}
	if err := frame.WriteFrame(w, f, c.Limits); err != nil {
		return &protocol.TransportError{Op: op, Err: err}
	}
	return nil
}

func (c Codec) WriteResponse(w io.Writer, id uint64, resp protocol.Response) error {
	const op = "write response"
	h := frame.Header{MessageID: id, MessageType: uint32(resp.Kind()), Flags: frame.FlagIsResponse}
	var fields []tlv.Field
	if resp.IsError() {
		h.Flags |= frame.FlagIsError
		raw, err := msgpack.Marshal(resp.Detail())
		if err != nil {
			return &protocol.TransportError{Op: op, Err: err}
		}
		fields = []tlv.Field{{ID: schema.FieldErrorDetail, Type: tlv.TypeError, Value: raw}}
	} else {
		var err error
		if fields, err = encodeArgs(resp.Args()); err != nil {
			return &protocol.TransportError{Op: op, Err: err}
		}
	}
	f := frame.Frame{Header: h, Payload: tlv.EncodeFields(fields)}
	if err := frame.WriteFrame(w, f, c.Limits); err != nil {
		return &protocol.TransportError{Op: op, Err: err}
	}
	return nil
}

// ReadRequest returns the message id whenever the frame header was read,
// so a caller can echo it on an error response.
func (c Codec) ReadRequest(r io.Reader) (uint64, protocol.Request, error) {
	const op = "read request"
	f, fields, err := c.readFrame(r, op, false)
	if err != nil {
		return f.Header.MessageID, protocol.Request{}, err
	}
	kind := protocol.Kind(f.Header.MessageType)
	args, err := decodePayload(kind, false, f.Header, fields)
	if err != nil {
		return f.Header.MessageID, protocol.Request{}, err
	}
	req, err := protocol.NewRequest(kind, args...)
	return f.Header.MessageID, req, err
}

func (c Codec) ReadResponse(r io.Reader) (uint64, protocol.Response, error) {
	const op = "read response"
	f, fields, err := c.readFrame(r, op, true)
	if err != nil {
		return f.Header.MessageID, protocol.Response{}, err
	}
	if f.Header.IsError() {
		field, ok := tlv.GetField(fields, schema.FieldErrorDetail)
		if !ok {
			return f.Header.MessageID, protocol.Response{}, &protocol.TransportError{Op: op, Err: protocol.ErrMissingDetail}
		}
		var detail protocol.ErrorDetail
		if err := msgpack.Unmarshal(field.Value, &detail); err != nil {
			return f.Header.MessageID, protocol.Response{}, &protocol.TransportError{Op: op, Err: err}
		}
		return f.Header.MessageID, protocol.NewErrorResponse(&detail), nil
	}
	kind := protocol.Kind(f.Header.MessageType)
	args, err := decodePayload(kind, true, f.Header, fields)
	if err != nil {
		return f.Header.MessageID, protocol.Response{}, err
	}
	resp, err := protocol.NewResponse(kind, args...)
	return f.Header.MessageID, resp, err
}

func (c Codec) readFrame(r io.Reader, op string, response bool) (frame.Frame, []tlv.Field, error) {
	f, err := frame.ReadFrame(r, c.Limits)
	if err != nil {
		return f, nil, &protocol.TransportError{Op: op, Err: err}
	}
	if f.Header.IsResponse() != response {
		return f, nil, &protocol.TransportError{Op: op, Err: protocol.ErrWrongClass}
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return f, nil, &protocol.TransportError{Op: op, Err: err}
	}
	kind := protocol.Kind(f.Header.MessageType)
	if !f.Header.IsError() && (f.Header.MessageType > 0xFF || !kind.Valid()) {
		return f, nil, &protocol.ProtocolError{Kind: kind, Response: response, Err: protocol.ErrUnknownKind}
	}
	if err := schema.Validate(f.Header.MessageType, response, f.Header.IsError(), fields); err != nil {
		if f.Header.IsError() {
			return f, nil, &protocol.TransportError{Op: op, Err: fmt.Errorf("%w: %w", protocol.ErrMissingDetail, err)}
		}
		return f, nil, shapeError(kind, response, err)
	}
	return f, fields, nil
}

func shapeError(kind protocol.Kind, response bool, err error) error {
	var shape protocol.Shape
	if c, ok := protocol.ContractOf(kind); ok {
		shape = c.Request
		if response {
			shape = c.Response
		}
	}
	return &protocol.ProtocolError{Kind: kind, Response: response, Expected: shape, Err: err, Detail: err.Error()}
}

func encodeArgs(args []any) ([]tlv.Field, error) {
	fields := make([]tlv.Field, 0, len(args))
	for i, arg := range args {
		f, err := encodeValue(schema.FieldID(i), arg)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func encodeValue(id uint16, v any) (tlv.Field, error) {
	switch val := v.(type) {
	case bool:
		return tlv.Bool(id, val), nil
	case string:
		return tlv.String(id, val), nil
	case uint64:
		return tlv.U64(id, val), nil
	case guest.Guest:
		return record(id, tlv.TypeGuest, val)
	case guest.Log:
		return record(id, tlv.TypeLog, val)
	case guest.Entry:
		return record(id, tlv.TypeEntry, val)
	default:
		return tlv.Field{}, fmt.Errorf("wire: no encoding for %T", v)
	}
}

func record(id uint16, typ uint8, v any) (tlv.Field, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return tlv.Field{}, fmt.Errorf("wire: encode field %d: %w", id, err)
	}
	return tlv.Field{ID: id, Type: typ, Value: raw}, nil
}

func decodePayload(kind protocol.Kind, response bool, h frame.Header, fields []tlv.Field) ([]any, error) {
	op := "read request"
	if response {
		op = "read response"
	}
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		v, err := decodeValue(f)
		if err != nil {
			if errors.Is(err, guest.ErrInvalidField) || errors.Is(err, guest.ErrEmailRequired) {
				return nil, shapeError(kind, response, err)
			}
			return nil, &protocol.TransportError{
				Op:  op,
				Err: fmt.Errorf("message %d field %d: %w", h.MessageID, f.ID, err),
			}
		}
		args = append(args, v)
	}
	return args, nil
}

func decodeValue(f tlv.Field) (any, error) {
	switch f.Type {
	case tlv.TypeBool:
		return f.AsBool()
	case tlv.TypeString:
		return f.AsString()
	case tlv.TypeU64:
		return f.AsU64()
	case tlv.TypeGuest:
		var g guest.Guest
		if err := msgpack.Unmarshal(f.Value, &g); err != nil {
			return nil, err
		}
		return g, nil
	case tlv.TypeLog:
		var l guest.Log
		if err := msgpack.Unmarshal(f.Value, &l); err != nil {
			return nil, err
		}
		return l, l.Validate()
	case tlv.TypeEntry:
		var e guest.Entry
		if err := msgpack.Unmarshal(f.Value, &e); err != nil {
			return nil, err
		}
		return e, e.Validate()
	default:
		return nil, fmt.Errorf("%w: field %d type %d", tlv.ErrTypeMismatch, f.ID, f.Type)
	}
}
