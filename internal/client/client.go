// Package client is the caller side of the guestbook protocol. Every call
// opens one connection, writes one request, reads one response and closes.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danmuck/guestbook/internal/guest"
	"github.com/danmuck/guestbook/internal/protocol"
	"github.com/danmuck/guestbook/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

const (
	DefaultDialTimeout = 5 * time.Second
	DefaultIOTimeout   = 15 * time.Second
)

var ErrAddrRequired = errors.New("client: server address required")

// RemoteError is a well-formed error response: the server understood the
// request and failed it.
type RemoteError struct {
	Kind   protocol.Kind
	Detail *protocol.ErrorDetail
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("client: remote %s: %s", e.Kind, e.Detail.Error())
}

func (e *RemoteError) Unwrap() error {
	if e.Detail == nil {
		return nil
	}
	return e.Detail
}

type Client struct {
	addr        string
	dialTimeout time.Duration
	ioTimeout   time.Duration
	codec       wire.Codec
	nextID      atomic.Uint64
}

type Option func(*Client)

func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

func WithIOTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.ioTimeout = d
		}
	}
}

func New(addr string, opts ...Option) *Client {
	c := &Client{
		addr:        strings.TrimSpace(addr),
		dialTimeout: DefaultDialTimeout,
		ioTimeout:   DefaultIOTimeout,
		codec:       wire.NewCodec(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Addr() string { return c.addr }

// Do performs one round trip. A response that does not answer req is a
// ProtocolError; an error response is a RemoteError.
func (c *Client) Do(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	if c.addr == "" {
		return protocol.Response{}, ErrAddrRequired
	}
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return protocol.Response{}, &protocol.TransportError{Op: "dial", Err: err}
	}
	defer conn.Close()

	deadline := time.Now().Add(c.ioTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	id := c.nextID.Add(1)
	if err := c.codec.WriteRequest(conn, id, req); err != nil {
		return protocol.Response{}, err
	}
	gotID, resp, err := c.codec.ReadResponse(conn)
	if err != nil {
		return protocol.Response{}, err
	}
	if gotID != id {
		log.Debug().Uint64("sent", id).Uint64("got", gotID).Msg("client message id mismatch")
	}
	if resp.IsError() {
		return resp, &RemoteError{Kind: req.Kind(), Detail: resp.Detail()}
	}
	if !resp.Answers(req.Kind()) {
		contract, _ := protocol.ContractOf(req.Kind())
		return protocol.Response{}, &protocol.ProtocolError{
			Kind:     resp.Kind(),
			Response: true,
			Expected: contract.Response,
			Err:      protocol.ErrKindMismatch,
			Detail:   "request was " + req.Kind().String(),
		}
	}
	return resp, nil
}

func (c *Client) flag(ctx context.Context, req protocol.Request) (bool, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return false, err
	}
	return resp.Bool(0)
}

// Login returns whether the credentials are valid and whether the guest is
// an administrator.
func (c *Client) Login(ctx context.Context, email, password string) (valid, admin bool, err error) {
	resp, err := c.Do(ctx, protocol.LoginRequest(email, password))
	if err != nil {
		return false, false, err
	}
	if valid, err = resp.Bool(0); err != nil {
		return false, false, err
	}
	if admin, err = resp.Bool(1); err != nil {
		return false, false, err
	}
	return valid, admin, nil
}

func (c *Client) Register(ctx context.Context, email string) (bool, error) {
	return c.flag(ctx, protocol.RegisterRequest(email))
}

func (c *Client) UpdateGuest(ctx context.Context, g guest.Guest) (bool, error) {
	return c.flag(ctx, protocol.UpdateGuestRequest(g))
}

// RetrieveGuest returns the stored record, or false and an empty record
// when none exists.
func (c *Client) RetrieveGuest(ctx context.Context, g guest.Guest) (guest.Guest, bool, error) {
	resp, err := c.Do(ctx, protocol.RetrieveGuestRequest(g))
	if err != nil {
		return guest.Guest{}, false, err
	}
	found, err := resp.Bool(0)
	if err != nil {
		return guest.Guest{}, false, err
	}
	record, err := resp.Guest(1)
	if err != nil {
		return guest.Guest{}, false, err
	}
	return record, found, nil
}

func (c *Client) DeleteGuest(ctx context.Context, g guest.Guest) (bool, error) {
	return c.flag(ctx, protocol.DeleteGuestRequest(g))
}

func (c *Client) SubmitComment(ctx context.Context, e guest.Entry) (bool, error) {
	return c.flag(ctx, protocol.SubmitCommentRequest(e))
}

func (c *Client) GetEntries(ctx context.Context) ([]guest.Entry, error) {
	resp, err := c.Do(ctx, protocol.GetEntriesRequest())
	if err != nil {
		return nil, err
	}
	return resp.Entries()
}

func (c *Client) GetLogs(ctx context.Context) ([]guest.Log, error) {
	resp, err := c.Do(ctx, protocol.GetLogsRequest())
	if err != nil {
		return nil, err
	}
	return resp.Logs()
}

func (c *Client) GetUsers(ctx context.Context, criteria guest.Guest) ([]guest.Guest, error) {
	resp, err := c.Do(ctx, protocol.GetUsersRequest(criteria))
	if err != nil {
		return nil, err
	}
	return resp.Guests()
}
