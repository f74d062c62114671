// Package boltstore is a file-backed Store on bbolt.
//
// Buckets:
// - guests: normalized email -> MessagePack guest record
// - admins: normalized email -> empty value
// - entries, logs: 8-byte big-endian id -> MessagePack record
//
// Every operation runs in its own bbolt transaction.
package boltstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/guestbook/internal/guest"
	"github.com/danmuck/guestbook/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var (
	bucketGuests  = []byte("guests")
	bucketAdmins  = []byte("admins")
	bucketEntries = []byte("entries")
	bucketLogs    = []byte("logs")
)

type Store struct {
	db     *bbolt.DB
	path   string
	closed atomic.Bool
}

var (
	_ store.Store        = (*Store)(nil)
	_ store.AdminGranter = (*Store)(nil)
)

// Options configures Open.
type Options struct {
	// Timeout bounds the wait for the file lock held by another process.
	Timeout time.Duration
	// NoSync skips fsync per transaction. Tests only.
	NoSync bool
}

// Open opens or creates the database file at path and ensures its buckets.
func Open(path string, opts Options) (*Store, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: opts.Timeout,
		NoSync:  opts.NoSync,
	})
	if err != nil {
		return nil, store.Wrap("open", fmt.Errorf("%w: %w", store.ErrUnavailable, err))
	}
	s := &Store{db: db, path: path}
	if err := s.createBuckets(); err != nil {
		_ = db.Close()
		return nil, store.Wrap("open", err)
	}
	log.Debug().Str("path", path).Bool("no_sync", opts.NoSync).Msg("opened boltstore")
	return s, nil
}

func (s *Store) createBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketGuests, bucketAdmins, bucketEntries, bucketLogs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Store) view(ctx context.Context, op string, fn func(tx *bbolt.Tx) error) error {
	if err := store.CheckOpen(ctx, s.closed.Load()); err != nil {
		return store.Wrap(op, err)
	}
	return store.Wrap(op, s.db.View(fn))
}

func (s *Store) update(ctx context.Context, op string, fn func(tx *bbolt.Tx) error) error {
	if err := store.CheckOpen(ctx, s.closed.Load()); err != nil {
		return store.Wrap(op, err)
	}
	return store.Wrap(op, s.db.Update(fn))
}

func idKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}

func readGuest(tx *bbolt.Tx, id string) (guest.Guest, bool, error) {
	raw := tx.Bucket(bucketGuests).Get([]byte(id))
	if raw == nil {
		return guest.Guest{}, false, nil
	}
	var g guest.Guest
	if err := msgpack.Unmarshal(raw, &g); err != nil {
		return guest.Guest{}, false, fmt.Errorf("decoding guest %s: %w", id, err)
	}
	return g, true, nil
}

func putGuest(tx *bbolt.Tx, g guest.Guest) error {
	raw, err := msgpack.Marshal(g)
	if err != nil {
		return fmt.Errorf("encoding guest %s: %w", g.ID(), err)
	}
	return tx.Bucket(bucketGuests).Put([]byte(g.ID()), raw)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.view(ctx, "ping", func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketGuests) == nil {
			return fmt.Errorf("%w: guests bucket missing", store.ErrUnavailable)
		}
		return nil
	})
}

func (s *Store) Exists(ctx context.Context, email string) (bool, error) {
	var found bool
	err := s.view(ctx, "exists", func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketGuests).Get([]byte(guest.NormalizeEmail(email))) != nil
		return nil
	})
	return found, err
}

func (s *Store) IsAdmin(ctx context.Context, email string) (bool, error) {
	var admin bool
	err := s.view(ctx, "is admin", func(tx *bbolt.Tx) error {
		admin = tx.Bucket(bucketAdmins).Get([]byte(guest.NormalizeEmail(email))) != nil
		return nil
	})
	return admin, err
}

func (s *Store) GrantAdmin(ctx context.Context, email string) error {
	return s.update(ctx, "grant admin", func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAdmins).Put([]byte(guest.NormalizeEmail(email)), []byte{})
	})
}

func (s *Store) ValidLogin(ctx context.Context, email, password string) (bool, error) {
	var valid bool
	err := s.view(ctx, "valid login", func(tx *bbolt.Tx) error {
		g, ok, err := readGuest(tx, guest.NormalizeEmail(email))
		if err != nil {
			return err
		}
		valid = ok && password != "" && g.Password() == password
		return nil
	})
	return valid, err
}

func (s *Store) Create(ctx context.Context, g guest.Guest) error {
	if g.IsCriteria() {
		return store.Wrap("create", guest.ErrEmailRequired)
	}
	return s.update(ctx, "create", func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketGuests).Get([]byte(g.ID())) != nil {
			return store.ErrDuplicate
		}
		return putGuest(tx, g)
	})
}

func (s *Store) Read(ctx context.Context, email string) (guest.Guest, bool, error) {
	var (
		g     guest.Guest
		found bool
	)
	err := s.view(ctx, "read", func(tx *bbolt.Tx) error {
		var err error
		g, found, err = readGuest(tx, guest.NormalizeEmail(email))
		return err
	})
	return g, found, err
}

func (s *Store) Update(ctx context.Context, g guest.Guest) error {
	return s.update(ctx, "update", func(tx *bbolt.Tx) error {
		stored, ok, err := readGuest(tx, g.ID())
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrNotFound
		}
		return putGuest(tx, stored.Merge(g))
	})
}

func (s *Store) Delete(ctx context.Context, email string) error {
	id := []byte(guest.NormalizeEmail(email))
	return s.update(ctx, "delete", func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketGuests)
		if b.Get(id) == nil {
			return store.ErrNotFound
		}
		if err := b.Delete(id); err != nil {
			return err
		}
		return tx.Bucket(bucketAdmins).Delete(id)
	})
}

func appendRecord(tx *bbolt.Tx, bucket []byte, id uint64, v any) error {
	b := tx.Bucket(bucket)
	key := idKey(id)
	if b.Get(key) != nil {
		return store.ErrDuplicate
	}
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s %d: %w", bucket, id, err)
	}
	return b.Put(key, raw)
}

func (s *Store) AppendLog(ctx context.Context, l guest.Log) error {
	if err := l.Validate(); err != nil {
		return store.Wrap("append log", err)
	}
	return s.update(ctx, "append log", func(tx *bbolt.Tx) error {
		return appendRecord(tx, bucketLogs, l.ID, l)
	})
}

func (s *Store) AppendEntry(ctx context.Context, e guest.Entry) error {
	if err := e.Validate(); err != nil {
		return store.Wrap("append entry", err)
	}
	return s.update(ctx, "append entry", func(tx *bbolt.Tx) error {
		return appendRecord(tx, bucketEntries, e.ID, e)
	})
}

// nextKey reads the last key, which is the max id since keys sort big-endian.
func nextKey(tx *bbolt.Tx, bucket []byte) (uint64, error) {
	var last uint64
	if k, _ := tx.Bucket(bucket).Cursor().Last(); k != nil {
		if len(k) != 8 {
			return 0, fmt.Errorf("malformed %s key %x", bucket, k)
		}
		last = binary.BigEndian.Uint64(k)
	}
	return store.NextID(last)
}

func (s *Store) nextID(ctx context.Context, op string, bucket []byte) (uint64, error) {
	var next uint64
	err := s.view(ctx, op, func(tx *bbolt.Tx) error {
		var err error
		next, err = nextKey(tx, bucket)
		return err
	})
	return next, err
}

// insertRecord allocates and writes in one bbolt write transaction, which
// bbolt serializes.
func (s *Store) insertRecord(ctx context.Context, op string, bucket []byte, record func(id uint64) any) (uint64, error) {
	var id uint64
	err := s.update(ctx, op, func(tx *bbolt.Tx) error {
		var err error
		if id, err = nextKey(tx, bucket); err != nil {
			return err
		}
		return appendRecord(tx, bucket, id, record(id))
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) InsertLog(ctx context.Context, l guest.Log) (uint64, error) {
	l.ID = 0
	if err := l.Validate(); err != nil {
		return 0, store.Wrap("insert log", err)
	}
	return s.insertRecord(ctx, "insert log", bucketLogs, func(id uint64) any {
		l.ID = id
		return l
	})
}

func (s *Store) InsertEntry(ctx context.Context, e guest.Entry) (uint64, error) {
	e.ID = 0
	if err := e.Validate(); err != nil {
		return 0, store.Wrap("insert entry", err)
	}
	return s.insertRecord(ctx, "insert entry", bucketEntries, func(id uint64) any {
		e.ID = id
		return e
	})
}

func (s *Store) NextEntryID(ctx context.Context) (uint64, error) {
	return s.nextID(ctx, "next entry id", bucketEntries)
}

func (s *Store) NextLogID(ctx context.Context) (uint64, error) {
	return s.nextID(ctx, "next log id", bucketLogs)
}

func listRecords[T any](tx *bbolt.Tx, bucket []byte) ([]T, error) {
	b := tx.Bucket(bucket)
	out := make([]T, 0)
	err := b.ForEach(func(k, v []byte) error {
		var rec T
		if err := msgpack.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("decoding %s %x: %w", bucket, k, err)
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

func (s *Store) ListEntries(ctx context.Context) ([]guest.Entry, error) {
	var out []guest.Entry
	err := s.view(ctx, "list entries", func(tx *bbolt.Tx) error {
		var err error
		out, err = listRecords[guest.Entry](tx, bucketEntries)
		return err
	})
	if err != nil {
		return nil, err
	}
	guest.SortEntries(out)
	return out, nil
}

func (s *Store) ListLogs(ctx context.Context) ([]guest.Log, error) {
	var out []guest.Log
	err := s.view(ctx, "list logs", func(tx *bbolt.Tx) error {
		var err error
		out, err = listRecords[guest.Log](tx, bucketLogs)
		return err
	})
	if err != nil {
		return nil, err
	}
	guest.SortLogs(out)
	return out, nil
}

func (s *Store) ListUsers(ctx context.Context, criteria guest.Guest) ([]guest.Guest, error) {
	var out []guest.Guest
	err := s.view(ctx, "list users", func(tx *bbolt.Tx) error {
		all, err := listRecords[guest.Guest](tx, bucketGuests)
		if err != nil {
			return err
		}
		out = make([]guest.Guest, 0, len(all))
		for _, g := range all {
			if g.Matches(criteria) {
				out = append(out, g)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	guest.SortGuests(out)
	return out, nil
}

// Close releases the file lock. Calls after the first are no-ops.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	log.Debug().Str("path", s.path).Msg("closing boltstore")
	return store.Wrap("close", s.db.Close())
}
