// Package storetest is the behavior suite every store.Store backend runs.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/danmuck/guestbook/internal/guest"
	"github.com/danmuck/guestbook/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory opens an empty backend. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes every case against fresh backends from open.
func Run(t *testing.T, open Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateReadExists", testCreateReadExists},
		{"CreateDuplicate", testCreateDuplicate},
		{"UpdateByOmission", testUpdateByOmission},
		{"UpdateMissing", testUpdateMissing},
		{"DeleteIsIdempotentThroughExists", testDelete},
		{"ValidLoginAndAdmin", testValidLoginAndAdmin},
		{"EntryIDsAndOrder", testEntries},
		{"LogIDsAndOrder", testLogs},
		{"ListUsersSparseCriteria", testListUsers},
		{"ConcurrentCreates", testConcurrentCreates},
		{"ConcurrentInsertsGetDistinctIDs", testConcurrentInserts},
		{"ClosedIsUnavailable", testClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func mustGuest(t *testing.T, f guest.Fields) guest.Guest {
	t.Helper()
	g, err := guest.New(f)
	require.NoError(t, err)
	return g
}

func mustCriteria(t *testing.T, f guest.Fields) guest.Guest {
	t.Helper()
	g, err := guest.NewCriteria(f)
	require.NoError(t, err)
	return g
}

func fullGuest(t *testing.T) guest.Guest {
	return mustGuest(t, guest.Fields{
		Name: "Ann", Address: "1 Elm", City: "Truro", Postcode: "B2N 1A1",
		Telephone: "555-0100", Email: "Ann@Example.com", Password: "secret",
	})
}

func testCreateReadExists(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))
	g := fullGuest(t)
	require.NoError(t, s.Create(ctx, g))

	ok, err := s.Exists(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	got, found, err := s.Read(ctx, " ANN@example.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, g.Fields(), got.Fields())

	_, found, err = s.Read(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, found)
}

func testCreateDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, fullGuest(t)))
	err := s.Create(ctx, mustGuest(t, guest.Fields{Email: "ann@example.com"}))
	var se *store.StoreError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func testUpdateByOmission(t *testing.T, s store.Store) {
	ctx := context.Background()
	g := fullGuest(t)
	require.NoError(t, s.Create(ctx, g))
	require.NoError(t, s.Update(ctx, mustGuest(t, guest.Fields{Email: "ann@example.com", Telephone: "555-0199"})))

	got, found, err := s.Read(ctx, "ann@example.com")
	require.NoError(t, err)
	require.True(t, found)
	want := g.Fields()
	want.Telephone = "555-0199"
	assert.Equal(t, want, got.Fields())
}

func testUpdateMissing(t *testing.T, s store.Store) {
	err := s.Update(context.Background(), mustGuest(t, guest.Fields{Email: "ghost@example.com", City: "Truro"}))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, fullGuest(t)))
	require.NoError(t, s.Delete(ctx, "ann@example.com"))
	ok, err := s.Exists(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, s.Delete(ctx, "ann@example.com"), store.ErrNotFound)
}

func testValidLoginAndAdmin(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, fullGuest(t)))

	valid, err := s.ValidLogin(ctx, "ann@example.com", "secret")
	require.NoError(t, err)
	assert.True(t, valid)
	valid, err = s.ValidLogin(ctx, "ann@example.com", "wrong")
	require.NoError(t, err)
	assert.False(t, valid)
	valid, err = s.ValidLogin(ctx, "nobody@example.com", "secret")
	require.NoError(t, err)
	assert.False(t, valid)

	admin, err := s.IsAdmin(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.False(t, admin)

	granter, ok := s.(store.AdminGranter)
	if !ok {
		return
	}
	require.NoError(t, granter.GrantAdmin(ctx, "ANN@example.com"))
	admin, err = s.IsAdmin(ctx, "ann@example.com")
	require.NoError(t, err)
	assert.True(t, admin)
}

func testEntries(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.NextEntryID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	stamps := []string{"2011-04-08 10:00:00", "2011-04-09 10:00:00", "2011-04-07 10:00:00"}
	for _, ts := range stamps {
		id, err := s.NextEntryID(ctx)
		require.NoError(t, err)
		e, err := guest.NewEntry(id, "ann@example.com", "hello "+ts, ts)
		require.NoError(t, err)
		require.NoError(t, s.AppendEntry(ctx, e))
	}
	id, err = s.NextEntryID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), id)

	dup, err := guest.NewEntry(2, "ann@example.com", "again", stamps[0])
	require.NoError(t, err)
	assert.ErrorIs(t, s.AppendEntry(ctx, dup), store.ErrDuplicate)

	entries, err := s.ListEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []uint64{2, 1, 3}, []uint64{entries[0].ID, entries[1].ID, entries[2].ID})
	assert.Equal(t, "hello 2011-04-09 10:00:00", entries[0].Text)
}

func testLogs(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i, ts := range []string{"2011-04-08 10:00:00", "2011-04-08 11:00:00"} {
		id, err := s.NextLogID(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(i+1), id)
		l, err := guest.NewLog(id, "ann@example.com", "10.0.0.1", ts)
		require.NoError(t, err)
		require.NoError(t, s.AppendLog(ctx, l))
	}
	logs, err := s.ListLogs(ctx)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, uint64(2), logs[0].ID)
	assert.Equal(t, "10.0.0.1", logs[1].IP)

	assert.Error(t, s.AppendLog(ctx, guest.Log{ID: 9, Email: "ann@example.com"}))
}

func testListUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, f := range []guest.Fields{
		{Name: "Cal", City: "Truro", Email: "cal@example.com"},
		{Name: "Ann", City: "Truro", Email: "ann@example.com"},
		{Name: "Bob", City: "Digby", Email: "bob@example.com"},
	} {
		require.NoError(t, s.Create(ctx, mustGuest(t, f)))
	}

	all, err := s.ListUsers(ctx, mustCriteria(t, guest.Fields{Email: guest.DummyEmail}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann", "Bob", "Cal"}, names(all))

	truro, err := s.ListUsers(ctx, mustCriteria(t, guest.Fields{City: "Truro"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann", "Cal"}, names(truro))

	none, err := s.ListUsers(ctx, mustCriteria(t, guest.Fields{City: "Truro", Name: "Bob"}))
	require.NoError(t, err)
	assert.Empty(t, none)

	one, err := s.ListUsers(ctx, mustCriteria(t, guest.Fields{Email: "BOB@example.com"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob"}, names(one))
}

func names(gs []guest.Guest) []string {
	out := make([]string, len(gs))
	for i, g := range gs {
		out[i] = g.Name()
	}
	return out
}

func testConcurrentCreates(t *testing.T, s store.Store) {
	ctx := context.Background()
	const n = 16
	g := mustGuest(t, guest.Fields{Email: "race@example.com"})
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		oks int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Create(ctx, g); err == nil {
				mu.Lock()
				oks++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, oks)
}

func testConcurrentInserts(t *testing.T, s store.Store) {
	ctx := context.Background()
	const n = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		logIDs   = map[uint64]bool{}
		entryIDs = map[uint64]bool{}
		errs     []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lid, lerr := s.InsertLog(ctx, guest.Log{ID: 99, Email: "ann@example.com", IP: "10.0.0.1", Timestamp: "2011-04-08 10:00:00"})
			eid, eerr := s.InsertEntry(ctx, guest.Entry{Email: "ann@example.com", Text: "hi", Timestamp: "2011-04-08 10:00:00"})
			mu.Lock()
			defer mu.Unlock()
			if lerr != nil || eerr != nil {
				errs = append(errs, lerr, eerr)
				return
			}
			logIDs[lid] = true
			entryIDs[eid] = true
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, logIDs, n)
	assert.Len(t, entryIDs, n)
	for id := uint64(1); id <= n; id++ {
		assert.True(t, logIDs[id], "log id %d", id)
		assert.True(t, entryIDs[id], "entry id %d", id)
	}

	logs, err := s.ListLogs(ctx)
	require.NoError(t, err)
	assert.Len(t, logs, n)
	next, err := s.NextEntryID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(n+1), next)

	_, err = s.InsertEntry(ctx, guest.Entry{Email: "not-an-email"})
	assert.Error(t, err)
}

func testClosed(t *testing.T, s store.Store) {
	require.NoError(t, s.Close())
	_, err := s.Exists(context.Background(), "ann@example.com")
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.ErrorIs(t, s.Ping(context.Background()), store.ErrUnavailable)
}
