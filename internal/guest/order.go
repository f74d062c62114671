package guest

import (
	"cmp"
	"slices"
)

// SortEntries orders entries most recent first.
func SortEntries(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		if c := cmp.Compare(b.Timestamp, a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

// SortLogs orders logs most recent first.
func SortLogs(logs []Log) {
	slices.SortStableFunc(logs, func(a, b Log) int {
		if c := cmp.Compare(b.Timestamp, a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

// SortGuests orders guests by name, then identity.
func SortGuests(guests []Guest) {
	slices.SortStableFunc(guests, func(a, b Guest) int {
		if c := cmp.Compare(a.name, b.name); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
}
