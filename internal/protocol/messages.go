package protocol

import (
	"fmt"

	"github.com/danmuck/guestbook/internal/guest"
)

func mustRequest(kind Kind, args ...any) Request {
	req, err := NewRequest(kind, args...)
	if err != nil {
		panic(err)
	}
	return req
}

func mustResponse(kind Kind, args ...any) Response {
	resp, err := NewResponse(kind, args...)
	if err != nil {
		panic(err)
	}
	return resp
}

func LoginRequest(email, password string) Request {
	return mustRequest(KindLogin, email, password)
}

func RegisterRequest(email string) Request {
	return mustRequest(KindRegister, email)
}

func UpdateGuestRequest(g guest.Guest) Request {
	return mustRequest(KindUpdateGuest, g)
}

func RetrieveGuestRequest(g guest.Guest) Request {
	return mustRequest(KindRetrieveGuest, g)
}

func DeleteGuestRequest(g guest.Guest) Request {
	return mustRequest(KindDeleteGuest, g)
}

func SubmitCommentRequest(e guest.Entry) Request {
	return mustRequest(KindSubmitComment, e)
}

func GetEntriesRequest() Request {
	return mustRequest(KindGetEntries)
}

func GetLogsRequest() Request {
	return mustRequest(KindGetLogs)
}

func GetUsersRequest(criteria guest.Guest) Request {
	return mustRequest(KindGetUsers, criteria)
}

func LoginResponse(valid, admin bool) Response {
	return mustResponse(KindLogin, valid, admin)
}

// SuccessResponse answers the single-flag kinds: register, update-guest,
// delete-guest and submit-comment.
func SuccessResponse(kind Kind, ok bool) (Response, error) {
	return NewResponse(kind, ok)
}

func RetrieveGuestResponse(found bool, g guest.Guest) Response {
	return mustResponse(KindRetrieveGuest, found, g)
}

func EntriesResponse(entries []guest.Entry) Response {
	return mustResponse(KindGetEntries, spread(entries)...)
}

func LogsResponse(logs []guest.Log) Response {
	return mustResponse(KindGetLogs, spread(logs)...)
}

func UsersResponse(guests []guest.Guest) Response {
	return mustResponse(KindGetUsers, spread(guests)...)
}

func spread[T any](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func argAt[T any](kind Kind, args []any, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(args) {
		return zero, fmt.Errorf("%w: %s has no argument %d", ErrArity, kind, i)
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s argument %d is %T", ErrArgumentType, kind, i, args[i])
	}
	return v, nil
}

func collect[T any](kind Kind, args []any) ([]T, error) {
	out := make([]T, 0, len(args))
	for i := range args {
		v, err := argAt[T](kind, args, i)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (r Request) Text(i int) (string, error) { return argAt[string](r.kind, r.args, i) }
func (r Request) Guest(i int) (guest.Guest, error) { return argAt[guest.Guest](r.kind, r.args, i) }
func (r Request) Entry(i int) (guest.Entry, error) { return argAt[guest.Entry](r.kind, r.args, i) }
func (r Response) Bool(i int) (bool, error) { return argAt[bool](r.kind, r.args, i) }
func (r Response) Guest(i int) (guest.Guest, error) { return argAt[guest.Guest](r.kind, r.args, i) }

func (r Response) Entries() ([]guest.Entry, error) { return collect[guest.Entry](r.kind, r.args) }
func (r Response) Logs() ([]guest.Log, error) { return collect[guest.Log](r.kind, r.args) }
func (r Response) Guests() ([]guest.Guest, error) { return collect[guest.Guest](r.kind, r.args) }
