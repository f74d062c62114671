package protocol

import (
	"fmt"
	"strings"

	"github.com/danmuck/guestbook/internal/guest"
)

// Kind tags a request and the success response that answers it.
type Kind uint8

const (
	KindLogin Kind = iota + 1
	KindRegister
	KindUpdateGuest
	KindRetrieveGuest
	KindDeleteGuest
	KindSubmitComment
	KindGetEntries
	KindGetLogs
	KindGetUsers

	// KindError is the response kind shared by every failed request.
	KindError Kind = 0xFF
)

var kindNames = map[Kind]string{
	KindLogin:         "login",
	KindRegister:      "register",
	KindUpdateGuest:   "update-guest",
	KindRetrieveGuest: "retrieve-guest",
	KindDeleteGuest:   "delete-guest",
	KindSubmitComment: "submit-comment",
	KindGetEntries:    "get-entries",
	KindGetLogs:       "get-logs",
	KindGetUsers:      "get-users",
	KindError:         "error",
}

// Kinds returns every request kind in code order.
func Kinds() []Kind {
	return []Kind{
		KindLogin,
		KindRegister,
		KindUpdateGuest,
		KindRetrieveGuest,
		KindDeleteGuest,
		KindSubmitComment,
		KindGetEntries,
		KindGetLogs,
		KindGetUsers,
	}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is a request kind.
func (k Kind) Valid() bool {
	_, ok := contracts[k]
	return ok
}

// ParseKind resolves a kind by its wire name.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name && k != KindError {
			return k, true
		}
	}
	return 0, false
}

// ValueType is the declared type of one payload slot.
type ValueType uint8

const (
	TypeBool ValueType = iota + 1
	TypeString
	TypeID
	TypeGuest
	TypeLog
	TypeEntry
)

func (t ValueType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeID:
		return "id"
	case TypeGuest:
		return "guest"
	case TypeLog:
		return "log"
	case TypeEntry:
		return "entry"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// TypeOf maps a payload value to its declared type.
func TypeOf(v any) (ValueType, bool) {
	switch v.(type) {
	case bool:
		return TypeBool, true
	case string:
		return TypeString, true
	case uint64:
		return TypeID, true
	case guest.Guest:
		return TypeGuest, true
	case guest.Log:
		return TypeLog, true
	case guest.Entry:
		return TypeEntry, true
	default:
		return 0, false
	}
}

// Shape is the payload layout of one envelope direction. A non-zero
// Repeated means the payload is any number of values of that type.
type Shape struct {
	Fixed    []ValueType
	Repeated ValueType
}

func (s Shape) String() string {
	if s.Repeated != 0 {
		return fmt.Sprintf("(%s...)", s.Repeated)
	}
	parts := make([]string, len(s.Fixed))
	for i, t := range s.Fixed {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Slot returns the declared type at index i, or zero when i is out of range.
func (s Shape) Slot(i int) ValueType {
	if s.Repeated != 0 {
		return s.Repeated
	}
	if i < 0 || i >= len(s.Fixed) {
		return 0
	}
	return s.Fixed[i]
}

// Accepts reports whether a payload of n values fits the shape's arity.
func (s Shape) Accepts(n int) bool {
	if s.Repeated != 0 {
		return true
	}
	return n == len(s.Fixed)
}

// Contract pairs the request and success response shapes of a kind.
type Contract struct {
	Request  Shape
	Response Shape
}

func fixed(types ...ValueType) Shape { return Shape{Fixed: types} }

var contracts = map[Kind]Contract{
	KindLogin:         {Request: fixed(TypeString, TypeString), Response: fixed(TypeBool, TypeBool)},
	KindRegister:      {Request: fixed(TypeString), Response: fixed(TypeBool)},
	KindUpdateGuest:   {Request: fixed(TypeGuest), Response: fixed(TypeBool)},
	KindRetrieveGuest: {Request: fixed(TypeGuest), Response: fixed(TypeBool, TypeGuest)},
	KindDeleteGuest:   {Request: fixed(TypeGuest), Response: fixed(TypeBool)},
	KindSubmitComment: {Request: fixed(TypeEntry), Response: fixed(TypeBool)},
	KindGetEntries:    {Request: fixed(), Response: Shape{Repeated: TypeEntry}},
	KindGetLogs:       {Request: fixed(), Response: Shape{Repeated: TypeLog}},
	KindGetUsers:      {Request: fixed(TypeGuest), Response: Shape{Repeated: TypeGuest}},
}

// ContractOf returns the payload contract for a request kind.
func ContractOf(k Kind) (Contract, bool) {
	c, ok := contracts[k]
	return c, ok
}
