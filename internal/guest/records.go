package guest

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// TimestampLayout is the yyyy-mm-dd hh:mm:ss form carried by logs and entries.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	// MaxEntryRunes bounds the text of one guest book entry.
	MaxEntryRunes = 4000
	// MaxID is the largest id that fits the ten digit id columns.
	MaxID uint64 = 9_999_999_999
)

// Timestamp formats t in TimestampLayout.
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Log is one visit record written on a successful login.
type Log struct {
	ID        uint64 `msgpack:"id"`
	Email     string `msgpack:"email"`
	IP        string `msgpack:"ip"`
	Timestamp string `msgpack:"timestamp"`
}

// NewLog validates and returns a visit record.
func NewLog(id uint64, email, ip, timestamp string) (Log, error) {
	l := Log{ID: id, Email: strings.TrimSpace(email), IP: strings.TrimSpace(ip), Timestamp: timestamp}
	if err := l.Validate(); err != nil {
		return Log{}, err
	}
	return l, nil
}

func (l Log) Validate() error {
	if l.ID > MaxID {
		return FieldError{Field: "log id", Value: fmt.Sprint(l.ID)}
	}
	if !ValidEmail(l.Email) {
		return FieldError{Field: "log email", Value: l.Email}
	}
	if l.IP == "" {
		return FieldError{Field: "log ip", Value: l.IP}
	}
	return validTimestamp("log timestamp", l.Timestamp)
}

func (l Log) String() string {
	return fmt.Sprintf("%d %s %s %s", l.ID, l.Email, l.IP, l.Timestamp)
}

// Entry is one guest book comment.
type Entry struct {
	ID        uint64 `msgpack:"id"`
	Email     string `msgpack:"email"`
	Text      string `msgpack:"text"`
	Timestamp string `msgpack:"timestamp"`
}

// NewEntry validates and returns a comment. An empty timestamp is allowed
// so the server can stamp it on arrival.
func NewEntry(id uint64, email, text, timestamp string) (Entry, error) {
	e := Entry{ID: id, Email: strings.TrimSpace(email), Text: text, Timestamp: timestamp}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (e Entry) Validate() error {
	if e.ID > MaxID {
		return FieldError{Field: "entry id", Value: fmt.Sprint(e.ID)}
	}
	if !ValidEmail(e.Email) {
		return FieldError{Field: "entry email", Value: e.Email}
	}
	if utf8.RuneCountInString(e.Text) > MaxEntryRunes {
		return FieldError{Field: "entry text", Value: fmt.Sprintf("%d runes", utf8.RuneCountInString(e.Text))}
	}
	if e.Timestamp == "" {
		return nil
	}
	return validTimestamp("entry timestamp", e.Timestamp)
}

// WithID returns a copy of e carrying id.
func (e Entry) WithID(id uint64) Entry {
	e.ID = id
	return e
}

// Stamped returns a copy of e with its timestamp set to now if empty.
func (e Entry) Stamped(now time.Time) Entry {
	if e.Timestamp == "" {
		e.Timestamp = Timestamp(now)
	}
	return e
}

func (e Entry) String() string {
	return fmt.Sprintf("Entry ID: %d\nEmail: %s\nDate: %s\nEntry:\n%s", e.ID, e.Email, e.Timestamp, e.Text)
}

func validTimestamp(field, v string) error {
	if _, err := time.ParseInLocation(TimestampLayout, v, time.Local); err != nil {
		return FieldError{Field: field, Value: v}
	}
	return nil
}
