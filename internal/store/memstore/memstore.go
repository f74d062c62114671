// Package memstore is an in-process Store kept in maps.
package memstore

import (
	"context"
	"sync"

	"github.com/danmuck/guestbook/internal/guest"
	"github.com/danmuck/guestbook/internal/store"
)

type Store struct {
	mu      sync.RWMutex
	closed  bool
	guests  map[string]guest.Guest
	admins  map[string]struct{}
	entries map[uint64]guest.Entry
	logs    map[uint64]guest.Log
}

var (
	_ store.Store        = (*Store)(nil)
	_ store.AdminGranter = (*Store)(nil)
)

func New() *Store {
	return &Store{
		guests:  make(map[string]guest.Guest),
		admins:  make(map[string]struct{}),
		entries: make(map[uint64]guest.Entry),
		logs:    make(map[uint64]guest.Log),
	}
}

func (s *Store) rlock(ctx context.Context, op string) (func(), error) {
	s.mu.RLock()
	if err := store.CheckOpen(ctx, s.closed); err != nil {
		s.mu.RUnlock()
		return nil, store.Wrap(op, err)
	}
	return s.mu.RUnlock, nil
}

func (s *Store) lock(ctx context.Context, op string) (func(), error) {
	s.mu.Lock()
	if err := store.CheckOpen(ctx, s.closed); err != nil {
		s.mu.Unlock()
		return nil, store.Wrap(op, err)
	}
	return s.mu.Unlock, nil
}

func (s *Store) Ping(ctx context.Context) error {
	unlock, err := s.rlock(ctx, "ping")
	if err != nil {
		return err
	}
	unlock()
	return nil
}

func (s *Store) Exists(ctx context.Context, email string) (bool, error) {
	unlock, err := s.rlock(ctx, "exists")
	if err != nil {
		return false, err
	}
	defer unlock()
	_, ok := s.guests[guest.NormalizeEmail(email)]
	return ok, nil
}

func (s *Store) IsAdmin(ctx context.Context, email string) (bool, error) {
	unlock, err := s.rlock(ctx, "is admin")
	if err != nil {
		return false, err
	}
	defer unlock()
	_, ok := s.admins[guest.NormalizeEmail(email)]
	return ok, nil
}

func (s *Store) GrantAdmin(ctx context.Context, email string) error {
	unlock, err := s.lock(ctx, "grant admin")
	if err != nil {
		return err
	}
	defer unlock()
	s.admins[guest.NormalizeEmail(email)] = struct{}{}
	return nil
}

func (s *Store) ValidLogin(ctx context.Context, email, password string) (bool, error) {
	unlock, err := s.rlock(ctx, "valid login")
	if err != nil {
		return false, err
	}
	defer unlock()
	g, ok := s.guests[guest.NormalizeEmail(email)]
	return ok && password != "" && g.Password() == password, nil
}

func (s *Store) Create(ctx context.Context, g guest.Guest) error {
	if g.IsCriteria() {
		return store.Wrap("create", guest.ErrEmailRequired)
	}
	unlock, err := s.lock(ctx, "create")
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := s.guests[g.ID()]; ok {
		return store.Wrap("create", store.ErrDuplicate)
	}
	s.guests[g.ID()] = g
	return nil
}

func (s *Store) Read(ctx context.Context, email string) (guest.Guest, bool, error) {
	unlock, err := s.rlock(ctx, "read")
	if err != nil {
		return guest.Guest{}, false, err
	}
	defer unlock()
	g, ok := s.guests[guest.NormalizeEmail(email)]
	return g, ok, nil
}

func (s *Store) Update(ctx context.Context, g guest.Guest) error {
	unlock, err := s.lock(ctx, "update")
	if err != nil {
		return err
	}
	defer unlock()
	stored, ok := s.guests[g.ID()]
	if !ok {
		return store.Wrap("update", store.ErrNotFound)
	}
	s.guests[g.ID()] = stored.Merge(g)
	return nil
}

func (s *Store) Delete(ctx context.Context, email string) error {
	unlock, err := s.lock(ctx, "delete")
	if err != nil {
		return err
	}
	defer unlock()
	id := guest.NormalizeEmail(email)
	if _, ok := s.guests[id]; !ok {
		return store.Wrap("delete", store.ErrNotFound)
	}
	delete(s.guests, id)
	delete(s.admins, id)
	return nil
}

func (s *Store) AppendLog(ctx context.Context, l guest.Log) error {
	if err := l.Validate(); err != nil {
		return store.Wrap("append log", err)
	}
	unlock, err := s.lock(ctx, "append log")
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := s.logs[l.ID]; ok {
		return store.Wrap("append log", store.ErrDuplicate)
	}
	s.logs[l.ID] = l
	return nil
}

func (s *Store) AppendEntry(ctx context.Context, e guest.Entry) error {
	if err := e.Validate(); err != nil {
		return store.Wrap("append entry", err)
	}
	unlock, err := s.lock(ctx, "append entry")
	if err != nil {
		return err
	}
	defer unlock()
	if _, ok := s.entries[e.ID]; ok {
		return store.Wrap("append entry", store.ErrDuplicate)
	}
	s.entries[e.ID] = e
	return nil
}

func (s *Store) InsertLog(ctx context.Context, l guest.Log) (uint64, error) {
	l.ID = 0
	if err := l.Validate(); err != nil {
		return 0, store.Wrap("insert log", err)
	}
	unlock, err := s.lock(ctx, "insert log")
	if err != nil {
		return 0, err
	}
	defer unlock()
	id, err := store.NextID(maxKey(s.logs))
	if err != nil {
		return 0, store.Wrap("insert log", err)
	}
	l.ID = id
	s.logs[id] = l
	return id, nil
}

func (s *Store) InsertEntry(ctx context.Context, e guest.Entry) (uint64, error) {
	e.ID = 0
	if err := e.Validate(); err != nil {
		return 0, store.Wrap("insert entry", err)
	}
	unlock, err := s.lock(ctx, "insert entry")
	if err != nil {
		return 0, err
	}
	defer unlock()
	id, err := store.NextID(maxKey(s.entries))
	if err != nil {
		return 0, store.Wrap("insert entry", err)
	}
	e.ID = id
	s.entries[id] = e
	return id, nil
}

func (s *Store) NextEntryID(ctx context.Context) (uint64, error) {
	unlock, err := s.rlock(ctx, "next entry id")
	if err != nil {
		return 0, err
	}
	defer unlock()
	id, err := store.NextID(maxKey(s.entries))
	return id, store.Wrap("next entry id", err)
}

func (s *Store) NextLogID(ctx context.Context) (uint64, error) {
	unlock, err := s.rlock(ctx, "next log id")
	if err != nil {
		return 0, err
	}
	defer unlock()
	id, err := store.NextID(maxKey(s.logs))
	return id, store.Wrap("next log id", err)
}

func maxKey[V any](m map[uint64]V) uint64 {
	var max uint64
	for k := range m {
		if k > max {
			max = k
		}
	}
	return max
}

func (s *Store) ListEntries(ctx context.Context) ([]guest.Entry, error) {
	unlock, err := s.rlock(ctx, "list entries")
	if err != nil {
		return nil, err
	}
	defer unlock()
	out := make([]guest.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	guest.SortEntries(out)
	return out, nil
}

func (s *Store) ListLogs(ctx context.Context) ([]guest.Log, error) {
	unlock, err := s.rlock(ctx, "list logs")
	if err != nil {
		return nil, err
	}
	defer unlock()
	out := make([]guest.Log, 0, len(s.logs))
	for _, l := range s.logs {
		out = append(out, l)
	}
	guest.SortLogs(out)
	return out, nil
}

func (s *Store) ListUsers(ctx context.Context, criteria guest.Guest) ([]guest.Guest, error) {
	unlock, err := s.rlock(ctx, "list users")
	if err != nil {
		return nil, err
	}
	defer unlock()
	out := make([]guest.Guest, 0)
	for _, g := range s.guests {
		if g.Matches(criteria) {
			out = append(out, g)
		}
	}
	guest.SortGuests(out)
	return out, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
