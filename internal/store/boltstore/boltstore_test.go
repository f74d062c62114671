package boltstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/guestbook/internal/guest"
	"github.com/danmuck/guestbook/internal/store"
	"github.com/danmuck/guestbook/internal/store/storetest"
	"github.com/danmuck/guestbook/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "guestbook.db"), Options{NoSync: true})
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	testlog.Start(t)
	storetest.Run(t, func(t *testing.T) store.Store { return openTemp(t) })
}

func TestRecordsSurviveReopen(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "guestbook.db")
	ctx := context.Background()

	s, err := Open(path, Options{NoSync: true})
	require.NoError(t, err)
	g, err := guest.New(guest.Fields{Name: "Ann", Email: "ann@example.com", Password: "ann@example.com"})
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, g))
	e, err := guest.NewEntry(1, "ann@example.com", "hi", "2011-04-08 10:00:00")
	require.NoError(t, err)
	require.NoError(t, s.AppendEntry(ctx, e))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s, err = Open(path, Options{NoSync: true})
	require.NoError(t, err)
	defer s.Close()
	valid, err := s.ValidLogin(ctx, "ann@example.com", "ann@example.com")
	require.NoError(t, err)
	assert.True(t, valid)
	next, err := s.NextEntryID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)
}

func TestOpenLockedFileTimesOut(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "guestbook.db")
	s, err := Open(path, Options{NoSync: true})
	require.NoError(t, err)
	defer s.Close()

	_, err = Open(path, Options{Timeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, store.ErrUnavailable)
}
