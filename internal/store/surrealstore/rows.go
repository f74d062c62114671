package surrealstore

import "github.com/danmuck/guestbook/internal/guest"

type emailRow struct {
	Email string `json:"email"`
}

type seqRow struct {
	Seq uint64 `json:"seq"`
}

type guestRow struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	City      string `json:"city"`
	Postcode  string `json:"postcode"`
	Telephone string `json:"telephone"`
	Password  string `json:"password"`
}

func (r guestRow) guest() (guest.Guest, error) {
	return guest.New(guest.Fields{
		Name:      r.Name,
		Address:   r.Address,
		City:      r.City,
		Postcode:  r.Postcode,
		Telephone: r.Telephone,
		Email:     r.Email,
		Password:  r.Password,
	})
}

type column struct {
	column string
	value  string
}

func fieldColumns(f guest.Fields) []column {
	return []column{
		{"name", f.Name},
		{"address", f.Address},
		{"city", f.City},
		{"postcode", f.Postcode},
		{"telephone", f.Telephone},
		{"email", f.Email},
		{"password", f.Password},
	}
}

func guestContent(g guest.Guest) map[string]any {
	out := make(map[string]any, 7)
	for _, c := range fieldColumns(g.Fields()) {
		out[c.column] = c.value
	}
	return out
}

// guestPatch holds only the submitted fields.
func guestPatch(g guest.Guest) map[string]any {
	out := map[string]any{}
	for _, c := range fieldColumns(g.Fields()) {
		if c.value == "" || c.column == "email" {
			continue
		}
		out[c.column] = c.value
	}
	return out
}

type entryRow struct {
	Seq       uint64 `json:"seq"`
	Email     string `json:"email"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

func entryContent(e guest.Entry) map[string]any {
	return map[string]any{"seq": e.ID, "email": e.Email, "text": e.Text, "timestamp": e.Timestamp}
}

func (r entryRow) entry() guest.Entry {
	return guest.Entry{ID: r.Seq, Email: r.Email, Text: r.Text, Timestamp: r.Timestamp}
}

type logRow struct {
	Seq       uint64 `json:"seq"`
	Email     string `json:"email"`
	IP        string `json:"ip"`
	Timestamp string `json:"timestamp"`
}

func logContent(l guest.Log) map[string]any {
	return map[string]any{"seq": l.ID, "email": l.Email, "ip": l.IP, "timestamp": l.Timestamp}
}

func (r logRow) log() guest.Log {
	return guest.Log{ID: r.Seq, Email: r.Email, IP: r.IP, Timestamp: r.Timestamp}
}
