package protocol

import (
	"errors"
	"testing"

	"github.com/danmuck/guestbook/internal/guest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGuest(t *testing.T) guest.Guest {
	t.Helper()
	g, err := guest.New(guest.Fields{Name: "Ann", Email: "a@b.com"})
	require.NoError(t, err)
	return g
}

func sampleEntry(t *testing.T) guest.Entry {
	t.Helper()
	e, err := guest.NewEntry(0, "a@b.com", "hi", "")
	require.NoError(t, err)
	return e
}

func validRequestArgs(t *testing.T) map[Kind][]any {
	g := sampleGuest(t)
	return map[Kind][]any{
		KindLogin:         {"a@b.com", "pw"},
		KindRegister:      {"a@b.com"},
		KindUpdateGuest:   {g},
		KindRetrieveGuest: {g},
		KindDeleteGuest:   {g},
		KindSubmitComment: {sampleEntry(t)},
		KindGetEntries:    {},
		KindGetLogs:       {},
		KindGetUsers:      {g},
	}
}

func TestNewRequestAcceptsEveryContract(t *testing.T) {
	valid := validRequestArgs(t)
	require.Len(t, valid, len(Kinds()))
	for _, kind := range Kinds() {
		req, err := NewRequest(kind, valid[kind]...)
		require.NoError(t, err, kind.String())
		assert.Equal(t, kind, req.Kind())
		assert.Equal(t, len(valid[kind]), req.Len())
	}
}

func TestNewRequestRejectsExtraArgument(t *testing.T) {
	valid := validRequestArgs(t)
	for _, kind := range Kinds() {
		args := append(append([]any{}, valid[kind]...), "extra")
		_, err := NewRequest(kind, args...)
		var pe *ProtocolError
		require.ErrorAs(t, err, &pe, kind.String())
		assert.Equal(t, kind, pe.Kind)
		assert.ErrorIs(t, err, ErrArity)
	}
}

func TestNewRequestLoginShapeErrors(t *testing.T) {
	_, err := NewRequest(KindLogin, "a@b.com")
	assert.ErrorIs(t, err, ErrArity)
	assert.Contains(t, err.Error(), "(string, string)")

	_, err = NewRequest(KindLogin, 7, "pw")
	assert.ErrorIs(t, err, ErrArgumentType)
	assert.True(t, IsProtocol(err))

	_, err = NewRequest(KindSubmitComment, sampleGuest(t))
	assert.ErrorIs(t, err, ErrArgumentType)
}

func TestNewRequestUnknownKind(t *testing.T) {
	_, err := NewRequest(Kind(42))
	assert.ErrorIs(t, err, ErrUnknownKind)
	_, err = NewRequest(KindError)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestNewResponseContracts(t *testing.T) {
	_, err := NewResponse(KindLogin, true)
	assert.ErrorIs(t, err, ErrArity)

	_, err = NewResponse(KindRetrieveGuest, true, guest.Guest{})
	assert.NoError(t, err)

	resp, err := NewResponse(KindGetEntries)
	require.NoError(t, err)
	entries, err := resp.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = NewResponse(KindGetLogs, sampleEntry(t))
	assert.ErrorIs(t, err, ErrArgumentType)
}

func TestTypedAccessors(t *testing.T) {
	req := LoginRequest("a@b.com", "pw")
	email, err := req.Text(0)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", email)
	_, err = req.Guest(0)
	assert.ErrorIs(t, err, ErrArgumentType)
	_, err = req.Text(5)
	assert.ErrorIs(t, err, ErrArity)

	resp := RetrieveGuestResponse(true, sampleGuest(t))
	found, err := resp.Bool(0)
	require.NoError(t, err)
	assert.True(t, found)
	g, err := resp.Guest(1)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", g.ID())
}

func TestEnvelopeArgsAreCopies(t *testing.T) {
	req := LoginRequest("a@b.com", "pw")
	args := req.Args()
	args[0] = "mallory@b.com"
	email, _ := req.Text(0)
	assert.Equal(t, "a@b.com", email)
}

func TestErrorResponseCarriesNestedCause(t *testing.T) {
	root := errors.New("disk full")
	wrapped := &TransportError{Op: "append", Err: root}
	resp := ErrorResponse("submit-comment failed", wrapped)

	require.True(t, resp.IsError())
	assert.Zero(t, resp.Len())
	assert.True(t, resp.Answers(KindSubmitComment))
	d := resp.Detail()
	require.NotNil(t, d)
	assert.Equal(t, "submit-comment failed", d.Message)
	require.NotNil(t, d.Cause)
	require.NotNil(t, d.Cause.Cause)
	assert.Equal(t, "disk full", d.Cause.Cause.Message)
	assert.Equal(t, "submit-comment failed: transport: append: disk full", d.Error())
}

func TestSuccessResponseAnswersOnlyItsKind(t *testing.T) {
	resp, err := SuccessResponse(KindRegister, true)
	require.NoError(t, err)
	assert.True(t, resp.Answers(KindRegister))
	assert.False(t, resp.Answers(KindDeleteGuest))
	assert.Nil(t, resp.Detail())
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, ok := ParseKind(k.String())
		require.True(t, ok)
		assert.Equal(t, k, got)
	}
	_, ok := ParseKind("error")
	assert.False(t, ok)
}
