package server

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/guestbook/internal/client"
	"github.com/danmuck/guestbook/internal/guest"
	"github.com/danmuck/guestbook/internal/protocol"
	"github.com/danmuck/guestbook/internal/protocol/wire"
	"github.com/danmuck/guestbook/internal/store"
	"github.com/danmuck/guestbook/internal/store/memstore"
	"github.com/danmuck/guestbook/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedStore blocks ListEntries until release is closed or ctx is done.
type gatedStore struct {
	*memstore.Store
	release chan struct{}
	entered chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		Store:   memstore.New(),
		release: make(chan struct{}),
		entered: make(chan struct{}, 64),
	}
}

func (s *gatedStore) ListEntries(ctx context.Context) ([]guest.Entry, error) {
	s.entered <- struct{}{}
	select {
	case <-s.release:
		return s.Store.ListEntries(ctx)
	case <-ctx.Done():
		return nil, store.Wrap("list entries", errors.Join(store.ErrUnavailable, ctx.Err()))
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.PollTimeout = 20 * time.Millisecond
	cfg.GracePeriod = 200 * time.Millisecond
	return cfg
}

func startServer(t *testing.T, st store.Store, cfg Config) (*Server, *client.Client) {
	t.Helper()
	srv := New(cfg, st, log.Logger)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		srv.Terminate()
		srv.Wait()
	})
	return srv, client.New(srv.Addr().String(), client.WithIOTimeout(5*time.Second))
}

func mustGuest(t *testing.T, f guest.Fields) guest.Guest {
	t.Helper()
	g, err := guest.New(f)
	require.NoError(t, err)
	return g
}

func TestRegisterLoginCommentScenario(t *testing.T) {
	testlog.Start(t)
	_, c := startServer(t, memstore.New(), testConfig())
	ctx := context.Background()

	ok, err := c.Register(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Register(ctx, "ANN@example.com")
	require.NoError(t, err)
	assert.False(t, ok, "identity is case insensitive")

	valid, admin, err := c.Login(ctx, "ann@example.com", "ann@example.com")
	require.NoError(t, err)
	assert.True(t, valid)
	assert.False(t, admin)

	valid, _, err = c.Login(ctx, "ann@example.com", "wrong")
	require.NoError(t, err)
	assert.False(t, valid)

	entry, err := guest.NewEntry(0, "ann@example.com", "lovely stay", "")
	require.NoError(t, err)
	ok, err = c.SubmitComment(ctx, entry)
	require.NoError(t, err)
	assert.True(t, ok)

	entries, err := c.GetEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 1, entries[0].ID)
	assert.Equal(t, "lovely stay", entries[0].Text)
	assert.NotEmpty(t, entries[0].Timestamp)

	logs, err := c.GetLogs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 1, "only the valid login is logged")
	assert.Equal(t, "ann@example.com", logs[0].Email)
	assert.Equal(t, "127.0.0.1", logs[0].IP)
}

func TestLoginReportsAdmin(t *testing.T) {
	testlog.Start(t)
	st := memstore.New()
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, mustGuest(t, guest.Fields{Email: "root@example.com", Password: "pw"})))
	require.NoError(t, st.GrantAdmin(ctx, "root@example.com"))
	_, c := startServer(t, st, testConfig())

	valid, admin, err := c.Login(ctx, "root@example.com", "pw")
	require.NoError(t, err)
	assert.True(t, valid)
	assert.True(t, admin)
}

func TestUpdateByOmissionAndIdempotentDelete(t *testing.T) {
	testlog.Start(t)
	_, c := startServer(t, memstore.New(), testConfig())
	ctx := context.Background()
	email := "bob@example.com"

	missing, err := c.UpdateGuest(ctx, mustGuest(t, guest.Fields{Email: email, Name: "Bob"}))
	require.NoError(t, err)
	assert.False(t, missing)

	_, err = c.Register(ctx, email)
	require.NoError(t, err)

	ok, err := c.UpdateGuest(ctx, mustGuest(t, guest.Fields{Email: email, Name: "Bob", City: "Ottawa"}))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.UpdateGuest(ctx, mustGuest(t, guest.Fields{Email: email, City: "Hull", Postcode: "K1A 0B1"}))
	require.NoError(t, err)
	assert.True(t, ok)

	got, found, err := c.RetrieveGuest(ctx, mustGuest(t, guest.Fields{Email: email}))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Bob", got.Name())
	assert.Equal(t, "Hull", got.City())
	assert.Equal(t, "K1A 0B1", got.Postcode())
	assert.Equal(t, email, got.Password())

	ok, err = c.DeleteGuest(ctx, got)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.DeleteGuest(ctx, got)
	require.NoError(t, err)
	assert.False(t, ok)

	got, found, err = c.RetrieveGuest(ctx, mustGuest(t, guest.Fields{Email: email}))
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, got.IsCriteria())
}

func TestGetUsersOrderedByName(t *testing.T) {
	testlog.Start(t)
	st := memstore.New()
	ctx := context.Background()
	for _, f := range []guest.Fields{
		{Email: "z@example.com", Name: "Zed", City: "Ottawa", Password: "p"},
		{Email: "a@example.com", Name: "Amy", City: "Ottawa", Password: "p"},
		{Email: "m@example.com", Name: "Max", City: "Toronto", Password: "p"},
	} {
		require.NoError(t, st.Create(ctx, mustGuest(t, f)))
	}
	_, c := startServer(t, st, testConfig())

	criteria, err := guest.NewCriteria(guest.Fields{Email: guest.DummyEmail, City: "Ottawa"})
	require.NoError(t, err)
	users, err := c.GetUsers(ctx, criteria)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Amy", users[0].Name())
	assert.Equal(t, "Zed", users[1].Name())
}

func TestCriteriaRecordIsRemoteError(t *testing.T) {
	testlog.Start(t)
	_, c := startServer(t, memstore.New(), testConfig())
	criteria, err := guest.NewCriteria(guest.Fields{Name: "Bob"})
	require.NoError(t, err)

	_, err = c.UpdateGuest(context.Background(), criteria)
	var remote *client.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, protocol.KindUpdateGuest, remote.Kind)
	assert.Contains(t, remote.Error(), "no email identity")
}

func TestMalformedRequestGetsErrorResponse(t *testing.T) {
	testlog.Start(t)
	srv, _ := startServer(t, memstore.New(), testConfig())

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	garbage := make([]byte, 32)
	for i := range garbage {
		garbage[i] = 0xAB
	}
	_, err = conn.Write(garbage)
	require.NoError(t, err)

	_, resp, err := wire.ReadResponse(conn)
	require.NoError(t, err)
	require.True(t, resp.IsError())
	assert.Contains(t, resp.Detail().Error(), "malformed request")
}

func TestMoreConnectionsThanWorkersAreQueued(t *testing.T) {
	testlog.Start(t)
	st := newGatedStore()
	cfg := testConfig()
	cfg.Workers = 2
	cfg.QueueDepth = 16
	srv, c := startServer(t, st, cfg)

	const calls = 8
	var wg sync.WaitGroup
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetEntries(context.Background())
			errs <- err
		}()
	}

	for i := 0; i < cfg.Workers; i++ {
		<-st.entered
	}
	require.Eventually(t, func() bool {
		s := srv.Stats()
		return s.Busy == cfg.Workers && s.Queued == calls-cfg.Workers
	}, 2*time.Second, 5*time.Millisecond)

	close(st.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestConnectionsBeyondQueueWaitInBacklog(t *testing.T) {
	testlog.Start(t)
	st := newGatedStore()
	cfg := testConfig()
	cfg.Workers = 2
	cfg.QueueDepth = 1
	srv, c := startServer(t, st, cfg)

	const calls = 8
	var wg sync.WaitGroup
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetEntries(context.Background())
			errs <- err
		}()
	}

	for i := 0; i < cfg.Workers; i++ {
		<-st.entered
	}
	require.Eventually(t, func() bool {
		s := srv.Stats()
		return s.Busy == cfg.Workers && s.Queued == cfg.QueueDepth
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(5 * cfg.PollTimeout)

	close(st.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestTerminateWithHeldConnection(t *testing.T) {
	testlog.Start(t)
	st := newGatedStore()
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueDepth = 0
	cfg.GracePeriod = 50 * time.Millisecond
	srv, c := startServer(t, st, cfg)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.GetEntries(context.Background())
			errs <- err
		}()
	}
	<-st.entered
	time.Sleep(3 * cfg.PollTimeout)

	srv.Terminate()
	srv.Wait()
	assert.Equal(t, StateStopped, srv.State())
	for i := 0; i < 2; i++ {
		assert.Error(t, <-errs)
	}
}

// panicStore panics while listing entries.
type panicStore struct {
	*memstore.Store
}

func (panicStore) ListEntries(context.Context) ([]guest.Entry, error) {
	panic("entries unavailable")
}

func TestHandlerPanicGetsErrorResponse(t *testing.T) {
	testlog.Start(t)
	srv, c := startServer(t, panicStore{memstore.New()}, testConfig())

	_, err := c.GetEntries(context.Background())
	var remote *client.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Error(), "internal error")
	assert.Contains(t, remote.Error(), "entries unavailable")

	ok, err := c.Register(context.Background(), "ann@example.com")
	require.NoError(t, err)
	assert.True(t, ok, "a panic does not take down the worker")
	assert.True(t, srv.IsRunning())
}

func TestOversizedResponseGetsErrorResponse(t *testing.T) {
	testlog.Start(t)
	st := memstore.New()
	ctx := context.Background()
	text := strings.Repeat("x", guest.MaxEntryRunes)
	for i := 0; i < 2200; i++ {
		_, err := st.InsertEntry(ctx, guest.Entry{Email: "ann@example.com", Text: text, Timestamp: "2011-04-08 10:00:00"})
		require.NoError(t, err)
	}
	_, c := startServer(t, st, testConfig())

	_, err := c.GetEntries(ctx)
	var remote *client.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Error(), "response too large")
}

func TestConcurrentLoginsAndCommentsGetDistinctIDs(t *testing.T) {
	testlog.Start(t)
	st := memstore.New()
	ctx := context.Background()
	require.NoError(t, st.Create(ctx, mustGuest(t, guest.Fields{Email: "ann@example.com", Password: "pw"})))
	cfg := testConfig()
	cfg.Workers = 8
	_, c := startServer(t, st, cfg)

	const n = 24
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			valid, _, err := c.Login(ctx, "ann@example.com", "pw")
			if err == nil && !valid {
				err = errors.New("login rejected")
			}
			errs <- err
			entry, err := guest.NewEntry(0, "ann@example.com", "hello", "")
			if err == nil {
				_, err = c.SubmitComment(ctx, entry)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	logs, err := c.GetLogs(ctx)
	require.NoError(t, err)
	entries, err := c.GetEntries(ctx)
	require.NoError(t, err)
	require.Len(t, logs, n)
	require.Len(t, entries, n)
	seen := map[uint64]bool{}
	for _, l := range logs {
		seen[l.ID] = true
	}
	assert.Len(t, seen, n)
}

func TestTerminateWaitsForInflight(t *testing.T) {
	testlog.Start(t)
	st := newGatedStore()
	cfg := testConfig()
	cfg.Workers = 3
	cfg.GracePeriod = 5 * time.Second
	srv, c := startServer(t, st, cfg)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetEntries(context.Background())
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < cfg.Workers; i++ {
		<-st.entered
	}

	srv.Terminate()
	require.Eventually(t, func() bool { return srv.State() == StateTerminating }, time.Second, 5*time.Millisecond)
	assert.True(t, srv.IsRunning())

	close(st.release)
	srv.Wait()
	wg.Wait()
	assert.False(t, srv.IsRunning())
	assert.Equal(t, StateStopped, srv.State())
}

func TestTerminateForcesStuckHandlers(t *testing.T) {
	testlog.Start(t)
	st := newGatedStore()
	cfg := testConfig()
	cfg.Workers = 1
	cfg.GracePeriod = 50 * time.Millisecond
	srv, c := startServer(t, st, cfg)

	done := make(chan error, 1)
	go func() {
		_, err := c.GetEntries(context.Background())
		done <- err
	}()
	<-st.entered

	srv.Terminate()
	srv.Wait()
	assert.Equal(t, StateStopped, srv.State())
	assert.Error(t, <-done)
}

func TestStartTwiceIsLifecycleError(t *testing.T) {
	testlog.Start(t)
	srv, _ := startServer(t, memstore.New(), testConfig())
	err := srv.Start(context.Background())
	assert.ErrorIs(t, err, ErrLifecycleOrder)
	assert.Equal(t, StateListening, srv.State())
}

func TestRestartAfterStop(t *testing.T) {
	testlog.Start(t)
	srv, c := startServer(t, memstore.New(), testConfig())
	srv.Terminate()
	srv.Wait()
	require.False(t, srv.IsRunning())

	_, err := c.GetEntries(context.Background())
	assert.True(t, protocol.IsTransport(err))

	require.NoError(t, srv.Start(context.Background()))
	c = client.New(srv.Addr().String())
	entries, err := c.GetEntries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStartWithUnreachableStore(t *testing.T) {
	testlog.Start(t)
	st := memstore.New()
	require.NoError(t, st.Close())
	srv := New(testConfig(), st, log.Logger)

	err := srv.Start(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnreachable)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Equal(t, StateStopped, srv.State())
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.Workers = 0
	err := New(cfg, memstore.New(), log.Logger).Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "terminating", StateTerminating.String())
	assert.Equal(t, "state(9)", State(9).String())
}
