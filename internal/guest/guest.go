package guest

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// DummyEmail is the placeholder legacy clients send when a criteria record
// has no email constraint.
const DummyEmail = "x@x.x"

var (
	ErrInvalidField  = errors.New("guest: invalid field")
	ErrEmailRequired = errors.New("guest: email required")
)

var (
	namePattern      = regexp.MustCompile(`^[a-zA-Z'\- ]+$`)
	addressPattern   = regexp.MustCompile(`^[0-9a-zA-Z\-' ]+$`)
	postcodePattern  = regexp.MustCompile(`^[a-zA-Z]\d[a-zA-Z] ?\d[a-zA-Z]\d$`)
	telephonePattern = regexp.MustCompile(`^[\d\-() ]+$`)
	emailPattern     = regexp.MustCompile(`^\S+@\S+\.\S+$`)
)

// FieldError names the field that failed validation.
type FieldError struct {
	Field string
	Value string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("guest: invalid %s value %q", e.Field, e.Value)
}

func (e FieldError) Unwrap() error {
	return ErrInvalidField
}

// Fields is the mutable input and storage shape of a guest record.
type Fields struct {
	Name      string `msgpack:"name"`
	Address   string `msgpack:"address"`
	City      string `msgpack:"city"`
	Postcode  string `msgpack:"postcode"`
	Telephone string `msgpack:"telephone"`
	Email     string `msgpack:"email"`
	Password  string `msgpack:"password"`
}

// Guest is one validated guest record. Its identity is the normalized email
// and is fixed at construction.
type Guest struct {
	id        string
	name      string
	address   string
	city      string
	postcode  string
	telephone string
	email     string
	password  string
}

// New validates f and returns a guest with a required email identity.
func New(f Fields) (Guest, error) {
	if strings.TrimSpace(f.Email) == "" {
		return Guest{}, ErrEmailRequired
	}
	return build(f)
}

// NewCriteria validates f as a get-users filter. The email may be empty or
// the legacy dummy value, in which case it places no constraint.
func NewCriteria(f Fields) (Guest, error) {
	if strings.TrimSpace(f.Email) == DummyEmail {
		f.Email = ""
	}
	return build(f)
}

// Parse accepts either a full record or a criteria record. An empty email
// or DummyEmail yields a criteria record.
func Parse(f Fields) (Guest, error) {
	if email := strings.TrimSpace(f.Email); email == "" || email == DummyEmail {
		return NewCriteria(f)
	}
	return New(f)
}

// ForEmail is a lookup record carrying only an email.
func ForEmail(email string) (Guest, error) {
	return New(Fields{Email: email})
}

func build(f Fields) (Guest, error) {
	f = trimFields(f)
	checks := []struct {
		field   string
		value   string
		pattern *regexp.Regexp
	}{
		{"name", f.Name, namePattern},
		{"address", f.Address, addressPattern},
		{"city", f.City, namePattern},
		{"postcode", f.Postcode, postcodePattern},
		{"telephone", f.Telephone, telephonePattern},
		{"email", f.Email, emailPattern},
	}
	for _, c := range checks {
		if c.value != "" && !c.pattern.MatchString(c.value) {
			return Guest{}, FieldError{Field: c.field, Value: c.value}
		}
	}
	return Guest{
		id:        NormalizeEmail(f.Email),
		name:      f.Name,
		address:   f.Address,
		city:      f.City,
		postcode:  f.Postcode,
		telephone: f.Telephone,
		email:     f.Email,
		password:  f.Password,
	}, nil
}

func trimFields(f Fields) Fields {
	f.Name = strings.TrimSpace(f.Name)
	f.Address = strings.TrimSpace(f.Address)
	f.City = strings.TrimSpace(f.City)
	f.Postcode = strings.TrimSpace(f.Postcode)
	f.Telephone = strings.TrimSpace(f.Telephone)
	f.Email = strings.TrimSpace(f.Email)
	return f
}

// NormalizeEmail maps an email to its identity key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether email has the simplified a@b.c shape.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}

func (g Guest) ID() string        { return g.id }
func (g Guest) Name() string      { return g.name }
func (g Guest) Address() string   { return g.address }
func (g Guest) City() string      { return g.city }
func (g Guest) Postcode() string  { return g.postcode }
func (g Guest) Telephone() string { return g.telephone }
func (g Guest) Email() string     { return g.email }
func (g Guest) Password() string  { return g.password }

// IsCriteria reports whether g has no identity.
func (g Guest) IsCriteria() bool {
	return g.id == ""
}

// Equal compares identities only.
func (g Guest) Equal(other Guest) bool {
	return g.id == other.id
}

// Fields returns a copy of the record's fields.
func (g Guest) Fields() Fields {
	return Fields{
		Name:      g.name,
		Address:   g.address,
		City:      g.city,
		Postcode:  g.postcode,
		Telephone: g.telephone,
		Email:     g.email,
		Password:  g.password,
	}
}

// Merge applies the non-empty fields of patch over g. Identity is kept.
func (g Guest) Merge(patch Guest) Guest {
	out := g
	if patch.name != "" {
		out.name = patch.name
	}
	if patch.address != "" {
		out.address = patch.address
	}
	if patch.city != "" {
		out.city = patch.city
	}
	if patch.postcode != "" {
		out.postcode = patch.postcode
	}
	if patch.telephone != "" {
		out.telephone = patch.telephone
	}
	if patch.password != "" {
		out.password = patch.password
	}
	return out
}

// Matches reports whether g satisfies every non-empty field of criteria.
func (g Guest) Matches(criteria Guest) bool {
	if criteria.id != "" && criteria.id != g.id {
		return false
	}
	pairs := [][2]string{
		{criteria.name, g.name},
		{criteria.address, g.address},
		{criteria.city, g.city},
		{criteria.postcode, g.postcode},
		{criteria.telephone, g.telephone},
		{criteria.password, g.password},
	}
	for _, p := range pairs {
		if p[0] != "" && p[0] != p[1] {
			return false
		}
	}
	return true
}

func (g Guest) String() string {
	return fmt.Sprintf("guest(%s name=%q city=%q)", g.id, g.name, g.city)
}

var (
	_ msgpack.CustomEncoder = Guest{}
	_ msgpack.CustomDecoder = (*Guest)(nil)
)

func (g Guest) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(g.Fields())
}

func (g *Guest) DecodeMsgpack(dec *msgpack.Decoder) error {
	var f Fields
	if err := dec.Decode(&f); err != nil {
		return err
	}
	parsed, err := Parse(f)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
