package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"time"

	"github.com/danmuck/guestbook/internal/guest"
	"github.com/danmuck/guestbook/internal/observability"
	"github.com/danmuck/guestbook/internal/protocol"
	"github.com/danmuck/guestbook/internal/protocol/frame"
	"github.com/danmuck/guestbook/internal/protocol/wire"
	"github.com/danmuck/guestbook/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrCriteriaRecord rejects update, retrieve and delete requests whose
// guest record has no email identity.
var ErrCriteriaRecord = errors.New("server: guest record has no email identity")

// Handler serves exactly one request per connection.
type Handler struct {
	store store.Store
	codec wire.Codec
	now   func() time.Time
	log   zerolog.Logger
}

func NewHandler(st store.Store, logger zerolog.Logger) *Handler {
	return &Handler{
		store: st,
		codec: wire.NewCodec(),
		now:   time.Now,
		log:   logger,
	}
}

// Serve reads one request, writes one response and closes conn. It never
// panics. Cancelling ctx expires every deadline on conn so blocked I/O
// returns.
func (h *Handler) Serve(ctx context.Context, conn net.Conn) {
	start := time.Now()
	defer observability.TrackInflight()()

	logger := h.log.With().
		Str("conn_id", uuid.NewString()).
		Str("remote", conn.RemoteAddr().String()).
		Logger()

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Debug().Err(err).Msg("close connection")
		}
	}()
	var (
		id      uint64
		replied bool
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("handler panic")
			if !replied {
				h.reply(conn, id, protocol.ErrorResponse("internal error", fmt.Errorf("panic: %v", r)), logger)
			}
			observability.RecordRequest("unknown", "panic", time.Since(start))
		}
	}()

	id, req, err := h.codec.ReadRequest(conn)
	if err != nil {
		event := logger.Warn()
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			event = logger.Debug()
		}
		event.Err(err).Msg("read request")
		h.reply(conn, id, protocol.ErrorResponse("malformed request", err), logger)
		observability.RecordRequest("unknown", "rejected", time.Since(start))
		return
	}

	logger = logger.With().Str("kind", req.Kind().String()).Uint64("message_id", id).Logger()
	resp := h.Dispatch(ctx, req, peerIP(conn))
	replied = true
	h.reply(conn, id, resp, logger)

	status := "ok"
	if resp.IsError() {
		status = "error"
		logger.Warn().Str("detail", resp.Detail().Error()).Msg("request failed")
	} else {
		logger.Debug().Dur("elapsed", time.Since(start)).Msg("request served")
	}
	observability.RecordRequest(req.Kind().String(), status, time.Since(start))
}

// reply writes resp. A response over the frame limit is replaced by an
// error response so the client is not left without an answer.
func (h *Handler) reply(conn net.Conn, id uint64, resp protocol.Response, logger zerolog.Logger) {
	err := h.codec.WriteResponse(conn, id, resp)
	if errors.Is(err, frame.ErrPayloadTooLarge) {
		logger.Warn().Err(err).Msg("response too large")
		err = h.codec.WriteResponse(conn, id, protocol.ErrorResponse("response too large", err))
	}
	if err != nil {
		logger.Debug().Err(err).Msg("write response")
	}
}

func peerIP(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// Dispatch runs the store flow for req and converts any failure into an
// error response.
func (h *Handler) Dispatch(ctx context.Context, req protocol.Request, peer string) protocol.Response {
	resp, err := h.dispatch(ctx, req, peer)
	if err != nil {
		return protocol.ErrorResponse(req.Kind().String()+" failed", err)
	}
	return resp
}

func (h *Handler) dispatch(ctx context.Context, req protocol.Request, peer string) (protocol.Response, error) {
	switch req.Kind() {
	case protocol.KindLogin:
		return h.login(ctx, req, peer)
	case protocol.KindRegister:
		return h.register(ctx, req)
	case protocol.KindUpdateGuest:
		return h.updateGuest(ctx, req)
	case protocol.KindRetrieveGuest:
		return h.retrieveGuest(ctx, req)
	case protocol.KindDeleteGuest:
		return h.deleteGuest(ctx, req)
	case protocol.KindSubmitComment:
		return h.submitComment(ctx, req)
	case protocol.KindGetEntries:
		entries, err := h.store.ListEntries(ctx)
		if err != nil {
			return protocol.Response{}, err
		}
		return protocol.EntriesResponse(entries), nil
	case protocol.KindGetLogs:
		logs, err := h.store.ListLogs(ctx)
		if err != nil {
			return protocol.Response{}, err
		}
		return protocol.LogsResponse(logs), nil
	case protocol.KindGetUsers:
		criteria, err := req.Guest(0)
		if err != nil {
			return protocol.Response{}, err
		}
		users, err := h.store.ListUsers(ctx, criteria)
		if err != nil {
			return protocol.Response{}, err
		}
		return protocol.UsersResponse(users), nil
	default:
		return protocol.Response{}, &protocol.ProtocolError{Kind: req.Kind(), Err: protocol.ErrUnknownKind}
	}
}

// login writes a visit log only for a valid login. The admin flag is only
// looked up once the credentials check out.
func (h *Handler) login(ctx context.Context, req protocol.Request, peer string) (protocol.Response, error) {
	email, err := req.Text(0)
	if err != nil {
		return protocol.Response{}, err
	}
	password, err := req.Text(1)
	if err != nil {
		return protocol.Response{}, err
	}
	valid, err := h.store.ValidLogin(ctx, email, password)
	if err != nil || !valid {
		return protocol.LoginResponse(false, false), err
	}
	admin, err := h.store.IsAdmin(ctx, email)
	if err != nil {
		return protocol.Response{}, err
	}
	visit, err := guest.NewLog(0, guest.NormalizeEmail(email), peer, guest.Timestamp(h.now()))
	if err != nil {
		return protocol.Response{}, err
	}
	if _, err := h.store.InsertLog(ctx, visit); err != nil {
		return protocol.Response{}, err
	}
	return protocol.LoginResponse(true, admin), nil
}

// register creates a record whose initial password is the email itself.
func (h *Handler) register(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	email, err := req.Text(0)
	if err != nil {
		return protocol.Response{}, err
	}
	g, err := guest.New(guest.Fields{Email: email, Password: email})
	if err != nil {
		return protocol.Response{}, err
	}
	exists, err := h.store.Exists(ctx, g.ID())
	if err != nil {
		return protocol.Response{}, err
	}
	if exists {
		return protocol.SuccessResponse(protocol.KindRegister, false)
	}
	if err := h.store.Create(ctx, g); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return protocol.SuccessResponse(protocol.KindRegister, false)
		}
		return protocol.Response{}, err
	}
	return protocol.SuccessResponse(protocol.KindRegister, true)
}

func (h *Handler) identified(req protocol.Request) (guest.Guest, error) {
	g, err := req.Guest(0)
	if err != nil {
		return guest.Guest{}, err
	}
	if g.IsCriteria() {
		return guest.Guest{}, ErrCriteriaRecord
	}
	return g, nil
}

func (h *Handler) updateGuest(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	g, err := h.identified(req)
	if err != nil {
		return protocol.Response{}, err
	}
	exists, err := h.store.Exists(ctx, g.ID())
	if err != nil || !exists {
		return h.flag(protocol.KindUpdateGuest, false, err)
	}
	if err := h.store.Update(ctx, g); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return h.flag(protocol.KindUpdateGuest, false, nil)
		}
		return protocol.Response{}, err
	}
	return h.flag(protocol.KindUpdateGuest, true, nil)
}

func (h *Handler) retrieveGuest(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	g, err := h.identified(req)
	if err != nil {
		return protocol.Response{}, err
	}
	exists, err := h.store.Exists(ctx, g.ID())
	if err != nil {
		return protocol.Response{}, err
	}
	if !exists {
		return protocol.RetrieveGuestResponse(false, guest.Guest{}), nil
	}
	record, found, err := h.store.Read(ctx, g.ID())
	if err != nil {
		return protocol.Response{}, err
	}
	if !found {
		return protocol.RetrieveGuestResponse(false, guest.Guest{}), nil
	}
	return protocol.RetrieveGuestResponse(true, record), nil
}

func (h *Handler) deleteGuest(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	g, err := h.identified(req)
	if err != nil {
		return protocol.Response{}, err
	}
	exists, err := h.store.Exists(ctx, g.ID())
	if err != nil || !exists {
		return h.flag(protocol.KindDeleteGuest, false, err)
	}
	if err := h.store.Delete(ctx, g.ID()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return h.flag(protocol.KindDeleteGuest, false, nil)
		}
		return protocol.Response{}, err
	}
	return h.flag(protocol.KindDeleteGuest, true, nil)
}

// submitComment assigns the next entry id and stamps an empty timestamp
// with the server's local time.
func (h *Handler) submitComment(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	entry, err := req.Entry(0)
	if err != nil {
		return protocol.Response{}, err
	}
	if _, err := h.store.InsertEntry(ctx, entry.Stamped(h.now())); err != nil {
		return protocol.Response{}, err
	}
	return h.flag(protocol.KindSubmitComment, true, nil)
}

func (h *Handler) flag(kind protocol.Kind, ok bool, err error) (protocol.Response, error) {
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.SuccessResponse(kind, ok)
}
