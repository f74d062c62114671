package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/guestbook/internal/client"
	"github.com/danmuck/guestbook/internal/config"
	"github.com/danmuck/guestbook/internal/server"
	"github.com/danmuck/guestbook/internal/store/memstore"
	"github.com/danmuck/guestbook/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStoreBackends(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()

	mem, err := OpenStore(ctx, config.StoreConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	assert.NoError(t, mem.Ping(ctx))
	assert.NoError(t, mem.Close())

	bolt, err := OpenStore(ctx, config.StoreConfig{
		Backend: config.BackendBolt,
		Path:    filepath.Join(t.TempDir(), "guestbook.db"),
	})
	require.NoError(t, err)
	assert.NoError(t, bolt.Ping(ctx))
	assert.NoError(t, bolt.Close())

	_, err = OpenStore(ctx, config.StoreConfig{Backend: "csv"})
	assert.Error(t, err)
}

func TestSeedAdmins(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	st := memstore.New()

	require.NoError(t, SeedAdmins(ctx, st, []string{"Root@Example.com"}))
	require.NoError(t, SeedAdmins(ctx, st, []string{"root@example.com"}), "seeding is repeatable")

	admin, err := st.IsAdmin(ctx, "root@example.com")
	require.NoError(t, err)
	assert.True(t, admin)
	valid, err := st.ValidLogin(ctx, "root@example.com", "Root@Example.com")
	require.NoError(t, err)
	assert.True(t, valid)

	assert.Error(t, SeedAdmins(ctx, st, []string{"not-an-email"}))
}

func TestServeUntilCancelled(t *testing.T) {
	testlog.Start(t)
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Server.PollTimeout = 20 * time.Millisecond
	cfg.Admin.ListenAddr = "127.0.0.1:0"
	cfg.Store.Admins = []string{"root@example.com"}

	svc := New(cfg)
	svc.ready = make(chan *server.Server, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	var srv *server.Server
	select {
	case srv = <-svc.ready:
	case err := <-done:
		t.Fatalf("serve returned early: %v", err)
	}

	c := client.New(srv.Addr().String())
	valid, admin, err := c.Login(context.Background(), "root@example.com", "root@example.com")
	require.NoError(t, err)
	assert.True(t, valid)
	assert.True(t, admin)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	assert.Equal(t, server.StateStopped, srv.State())
}
