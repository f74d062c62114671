package schema

import (
	"fmt"

	"github.com/danmuck/guestbook/internal/protocol"
	"github.com/danmuck/guestbook/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Field ID of the single error detail field on error responses.
const FieldErrorDetail uint16 = 1

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var tlvTypes = map[protocol.ValueType]uint8{
	protocol.TypeBool:   tlv.TypeBool,
	protocol.TypeString: tlv.TypeString,
	protocol.TypeID:     tlv.TypeU64,
	protocol.TypeGuest:  tlv.TypeGuest,
	protocol.TypeLog:    tlv.TypeLog,
	protocol.TypeEntry:  tlv.TypeEntry,
}

// TLVType returns the wire type carrying values of t.
func TLVType(t protocol.ValueType) (uint8, bool) {
	v, ok := tlvTypes[t]
	return v, ok
}

// FieldID is the TLV id of payload slot i.
func FieldID(i int) uint16 {
	return uint16(i + 1)
}

// Validate checks that fields form the payload of messageType in the given
// direction: one field per slot, ids in slot order, wire types matching the
// kind's declared shape. Error responses carry exactly one detail field.
func Validate(messageType uint32, response, isError bool, fields []tlv.Field) error {
	log.Debug().Uint32("message_type", messageType).Int("fields", len(fields)).Msg("schema.Validate")
	if isError {
		if messageType != uint32(protocol.KindError) {
			return ValidationError{MessageType: messageType, Reason: "error flag on non-error kind"}
		}
		if len(fields) != 1 {
			return ValidationError{MessageType: messageType, Reason: fmt.Sprintf("error response carries %d fields", len(fields))}
		}
		f := fields[0]
		if f.ID != FieldErrorDetail || f.Type != tlv.TypeError {
			return ValidationError{MessageType: messageType, FieldID: f.ID, Reason: "error detail field expected"}
		}
		return nil
	}
	if messageType > 0xFF {
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	contract, ok := protocol.ContractOf(protocol.Kind(messageType))
	if !ok {
		log.Debug().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	shape := contract.Request
	if response {
		shape = contract.Response
	}
	if !shape.Accepts(len(fields)) {
		return ValidationError{
			MessageType: messageType,
			Reason:      fmt.Sprintf("expected %s, got %d field(s)", shape, len(fields)),
		}
	}
	for i, f := range fields {
		if f.ID != FieldID(i) {
			return ValidationError{MessageType: messageType, FieldID: f.ID, Reason: fmt.Sprintf("out of order, want id %d", FieldID(i))}
		}
		want, _ := TLVType(shape.Slot(i))
		if f.Type != want {
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", f.ID).
				Uint8("got", f.Type).
				Uint8("want", want).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: f.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
