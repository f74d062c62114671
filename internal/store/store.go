// Package store defines the record store capability the connection handler
// depends on.
//
// Ownership boundary:
// - the Store interface and its error taxonomy
// - ordering and id assignment rules shared by every backend
//
// Backends live in memstore, boltstore and surrealstore and own their own
// consistency discipline.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/guestbook/internal/guest"
)

var (
	ErrNotFound    = errors.New("store: not found")
	ErrDuplicate   = errors.New("store: duplicate")
	ErrUnavailable = errors.New("store: unavailable")
)

// Store is the set of record operations one request may invoke. All
// methods are safe for concurrent use. Emails are matched on their
// normalized identity.
type Store interface {
	Ping(ctx context.Context) error
	Exists(ctx context.Context, email string) (bool, error)
	IsAdmin(ctx context.Context, email string) (bool, error)
	ValidLogin(ctx context.Context, email, password string) (bool, error)
	Create(ctx context.Context, g guest.Guest) error
	Read(ctx context.Context, email string) (guest.Guest, bool, error)
	// Update applies the non-empty fields of g to the stored record.
	Update(ctx context.Context, g guest.Guest) error
	Delete(ctx context.Context, email string) error
	AppendLog(ctx context.Context, l guest.Log) error
	AppendEntry(ctx context.Context, e guest.Entry) error
	NextEntryID(ctx context.Context) (uint64, error)
	NextLogID(ctx context.Context) (uint64, error)
	// InsertLog and InsertEntry ignore the record's id, assign the next
	// max-plus-one id and write the record as one atomic step.
	InsertLog(ctx context.Context, l guest.Log) (uint64, error)
	InsertEntry(ctx context.Context, e guest.Entry) (uint64, error)
	// ListEntries returns entries most recent first.
	ListEntries(ctx context.Context) ([]guest.Entry, error)
	// ListLogs returns logs most recent first.
	ListLogs(ctx context.Context) ([]guest.Log, error)
	// ListUsers returns records matching every non-empty criteria field,
	// ordered by name.
	ListUsers(ctx context.Context, criteria guest.Guest) ([]guest.Guest, error)
	Close() error
}

// AdminGranter is implemented by backends that can mark an email as an
// administrator.
type AdminGranter interface {
	GrantAdmin(ctx context.Context, email string) error
}

// StoreError wraps every failure a backend returns.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Wrap returns nil for a nil err, passes an existing StoreError through,
// and otherwise wraps err under op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// NextID is the max-plus-one id rule.
func NextID(max uint64) (uint64, error) {
	if max >= guest.MaxID {
		return 0, fmt.Errorf("%w: id space exhausted at %d", guest.ErrInvalidField, max)
	}
	return max + 1, nil
}

// CheckOpen reports ErrUnavailable for a closed backend or a done ctx.
func CheckOpen(ctx context.Context, closed bool) error {
	if closed {
		return ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}
