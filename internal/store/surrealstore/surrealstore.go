// Package surrealstore is a Store backed by a SurrealDB server.
//
// Tables:
// - guest: record id is the normalized email
// - guestadmin: record id is the normalized email
// - guestentry, guestlog: record id is the numeric id, mirrored in seq
package surrealstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/danmuck/guestbook/internal/guest"
	"github.com/danmuck/guestbook/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/surrealdb/surrealdb.go"
)

var errQuery = errors.New("surrealstore: query failed")

// Config names the server and the namespace/database pair to use.
type Config struct {
	Host      string
	Port      string
	User      string
	Password  string
	Namespace string
	Database  string
}

func (c Config) Endpoint() string {
	return fmt.Sprintf("ws://%s:%s", c.Host, c.Port)
}

type Store struct {
	db     *surrealdb.DB
	closed atomic.Bool
}

var (
	_ store.Store        = (*Store)(nil)
	_ store.AdminGranter = (*Store)(nil)
)

// Open connects, signs in and selects the namespace and database.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := surrealdb.FromEndpointURLString(ctx, cfg.Endpoint())
	if err != nil {
		return nil, store.Wrap("open", fmt.Errorf("%w: connect %s: %w", store.ErrUnavailable, cfg.Endpoint(), err))
	}
	if cfg.User != "" {
		if _, err := db.SignIn(ctx, &surrealdb.Auth{Username: cfg.User, Password: cfg.Password}); err != nil {
			_ = db.Close(ctx)
			return nil, store.Wrap("open", fmt.Errorf("%w: signin: %w", store.ErrUnavailable, err))
		}
	}
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = db.Close(ctx)
		return nil, store.Wrap("open", fmt.Errorf("%w: use: %w", store.ErrUnavailable, err))
	}
	log.Debug().
		Str("endpoint", cfg.Endpoint()).
		Str("namespace", cfg.Namespace).
		Str("database", cfg.Database).
		Msg("opened surrealstore")
	return &Store{db: db}, nil
}

// query runs sql and returns the result rows of its last statement.
func query[T any](ctx context.Context, s *Store, op, sql string, vars map[string]any) ([]T, error) {
	if err := store.CheckOpen(ctx, s.closed.Load() || s.db == nil); err != nil {
		return nil, store.Wrap(op, err)
	}
	results, err := surrealdb.Query[[]T](ctx, s.db, sql, vars)
	if err != nil {
		return nil, store.Wrap(op, classify(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	for _, r := range *results {
		if r.Status != "OK" {
			msg := r.Status
			if r.Error != nil {
				msg = r.Error.Message
			}
			return nil, store.Wrap(op, classify(fmt.Errorf("%w: %s", errQuery, msg)))
		}
	}
	return (*results)[len(*results)-1].Result, nil
}

// classify maps server error text onto store sentinels.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already exists"),
		strings.Contains(msg, "duplicate"),
		strings.Contains(msg, "unique"):
		return fmt.Errorf("%w: %w", store.ErrDuplicate, err)
	case strings.Contains(msg, "connection"),
		strings.Contains(msg, "websocket"),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	default:
		return err
	}
}

func (s *Store) Ping(ctx context.Context) error {
	if err := store.CheckOpen(ctx, s.closed.Load() || s.db == nil); err != nil {
		return store.Wrap("ping", err)
	}
	if _, err := s.db.Version(ctx); err != nil {
		return store.Wrap("ping", fmt.Errorf("%w: %w", store.ErrUnavailable, err))
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, email string) (bool, error) {
	rows, err := query[emailRow](ctx, s, "exists",
		`SELECT email FROM type::thing('guest', $id)`,
		map[string]any{"id": guest.NormalizeEmail(email)})
	return len(rows) > 0, err
}

func (s *Store) IsAdmin(ctx context.Context, email string) (bool, error) {
	rows, err := query[emailRow](ctx, s, "is admin",
		`SELECT email FROM type::thing('guestadmin', $id)`,
		map[string]any{"id": guest.NormalizeEmail(email)})
	return len(rows) > 0, err
}

func (s *Store) GrantAdmin(ctx context.Context, email string) error {
	id := guest.NormalizeEmail(email)
	_, err := query[emailRow](ctx, s, "grant admin",
		`INSERT IGNORE INTO guestadmin { id: $id, email: $id }`,
		map[string]any{"id": id})
	return err
}

func (s *Store) ValidLogin(ctx context.Context, email, password string) (bool, error) {
	rows, err := query[emailRow](ctx, s, "valid login",
		`SELECT email FROM guest WHERE id = type::thing('guest', $id) AND password = $password`,
		map[string]any{"id": guest.NormalizeEmail(email), "password": password})
	return len(rows) > 0, err
}

func (s *Store) Create(ctx context.Context, g guest.Guest) error {
	if g.IsCriteria() {
		return store.Wrap("create", fmt.Errorf("%w: criteria record", guest.ErrEmailRequired))
	}
	_, err := query[guestRow](ctx, s, "create",
		`CREATE type::thing('guest', $id) CONTENT $record`,
		map[string]any{"id": g.ID(), "record": guestContent(g)})
	return err
}

func (s *Store) Read(ctx context.Context, email string) (guest.Guest, bool, error) {
	rows, err := query[guestRow](ctx, s, "read",
		`SELECT * FROM type::thing('guest', $id)`,
		map[string]any{"id": guest.NormalizeEmail(email)})
	if err != nil || len(rows) == 0 {
		return guest.Guest{}, false, err
	}
	g, err := rows[0].guest()
	if err != nil {
		return guest.Guest{}, false, store.Wrap("read", err)
	}
	return g, true, nil
}

// Update merges only the submitted fields. The WHERE form never creates a
// missing record.
func (s *Store) Update(ctx context.Context, g guest.Guest) error {
	rows, err := query[guestRow](ctx, s, "update",
		`UPDATE guest MERGE $patch WHERE id = type::thing('guest', $id) RETURN AFTER`,
		map[string]any{"id": g.ID(), "patch": guestPatch(g)})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return store.Wrap("update", store.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, email string) error {
	id := guest.NormalizeEmail(email)
	rows, err := query[guestRow](ctx, s, "delete",
		`DELETE type::thing('guestadmin', $id); DELETE type::thing('guest', $id) RETURN BEFORE`,
		map[string]any{"id": id})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return store.Wrap("delete", store.ErrNotFound)
	}
	return nil
}

func (s *Store) AppendLog(ctx context.Context, l guest.Log) error {
	if err := l.Validate(); err != nil {
		return store.Wrap("append log", err)
	}
	_, err := query[logRow](ctx, s, "append log",
		`CREATE type::thing('guestlog', $seq) CONTENT $record`,
		map[string]any{"seq": l.ID, "record": logContent(l)})
	return err
}

func (s *Store) AppendEntry(ctx context.Context, e guest.Entry) error {
	if err := e.Validate(); err != nil {
		return store.Wrap("append entry", err)
	}
	_, err := query[entryRow](ctx, s, "append entry",
		`CREATE type::thing('guestentry', $seq) CONTENT $record`,
		map[string]any{"seq": e.ID, "record": entryContent(e)})
	return err
}

// insertAttempts bounds how often a concurrent writer can steal an allocated id.
const insertAttempts = 8

// insert allocates with nextID and creates the record by id. CREATE fails
// on an existing id, so a lost race retries with a fresh allocation.
func (s *Store) insert(ctx context.Context, op, table string, content func(id uint64) any) (uint64, error) {
	var lastErr error
	for range insertAttempts {
		id, err := s.nextID(ctx, op, table)
		if err != nil {
			return 0, err
		}
		_, err = query[seqRow](ctx, s, op,
			`CREATE type::thing($tb, $seq) CONTENT $record RETURN seq`,
			map[string]any{"tb": table, "seq": id, "record": content(id)})
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}

func (s *Store) InsertLog(ctx context.Context, l guest.Log) (uint64, error) {
	l.ID = 0
	if err := l.Validate(); err != nil {
		return 0, store.Wrap("insert log", err)
	}
	return s.insert(ctx, "insert log", "guestlog", func(id uint64) any {
		l.ID = id
		return logContent(l)
	})
}

func (s *Store) InsertEntry(ctx context.Context, e guest.Entry) (uint64, error) {
	e.ID = 0
	if err := e.Validate(); err != nil {
		return 0, store.Wrap("insert entry", err)
	}
	return s.insert(ctx, "insert entry", "guestentry", func(id uint64) any {
		e.ID = id
		return entryContent(e)
	})
}

func (s *Store) nextID(ctx context.Context, op, table string) (uint64, error) {
	rows, err := query[seqRow](ctx, s, op,
		fmt.Sprintf(`SELECT seq FROM %s ORDER BY seq DESC LIMIT 1`, table), nil)
	if err != nil {
		return 0, err
	}
	var last uint64
	if len(rows) > 0 {
		last = rows[0].Seq
	}
	id, err := store.NextID(last)
	return id, store.Wrap(op, err)
}

func (s *Store) NextEntryID(ctx context.Context) (uint64, error) {
	return s.nextID(ctx, "next entry id", "guestentry")
}

func (s *Store) NextLogID(ctx context.Context) (uint64, error) {
	return s.nextID(ctx, "next log id", "guestlog")
}

func (s *Store) ListEntries(ctx context.Context) ([]guest.Entry, error) {
	rows, err := query[entryRow](ctx, s, "list entries", `SELECT * FROM guestentry`, nil)
	if err != nil {
		return nil, err
	}
	out := make([]guest.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entry())
	}
	guest.SortEntries(out)
	return out, nil
}

func (s *Store) ListLogs(ctx context.Context) ([]guest.Log, error) {
	rows, err := query[logRow](ctx, s, "list logs", `SELECT * FROM guestlog`, nil)
	if err != nil {
		return nil, err
	}
	out := make([]guest.Log, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.log())
	}
	guest.SortLogs(out)
	return out, nil
}

func (s *Store) ListUsers(ctx context.Context, criteria guest.Guest) ([]guest.Guest, error) {
	sql, vars := usersQuery(criteria)
	rows, err := query[guestRow](ctx, s, "list users", sql, vars)
	if err != nil {
		return nil, err
	}
	out := make([]guest.Guest, 0, len(rows))
	for _, r := range rows {
		g, err := r.guest()
		if err != nil {
			log.Warn().Err(err).Str("email", r.Email).Msg("skipping invalid guest row")
			continue
		}
		out = append(out, g)
	}
	guest.SortGuests(out)
	return out, nil
}

// usersQuery builds a SELECT constrained by every non-empty criteria field.
func usersQuery(criteria guest.Guest) (string, map[string]any) {
	vars := map[string]any{}
	var where []string
	if !criteria.IsCriteria() {
		where = append(where, "id = type::thing('guest', $id)")
		vars["id"] = criteria.ID()
	}
	for _, c := range fieldColumns(criteria.Fields()) {
		if c.value == "" || c.column == "email" {
			continue
		}
		where = append(where, c.column+" = $"+c.column)
		vars[c.column] = c.value
	}
	sql := "SELECT * FROM guest"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	return sql + " ORDER BY name ASC, email ASC", vars
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) || s.db == nil {
		return nil
	}
	if err := s.db.Close(context.Background()); err != nil {
		return store.Wrap("close", err)
	}
	return nil
}
