// Package idx mints the ULIDs that key every row authcore stores.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ID is a ULID in canonical string form. Users, sessions, device tokens,
// refresh tokens and service tokens are all keyed by one.
type ID string

// ErrInvalid reports a malformed ULID string.
var ErrInvalid = errors.New("idx: invalid ulid")

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns an ID for the current instant. IDs from one process sort in
// creation order, including several minted in the same millisecond.
func New() ID {
	return NewAt(time.Now().UTC())
}

// NewAt returns an ID carrying t as its timestamp.
func NewAt(t time.Time) ID {
	mu.Lock()
	defer mu.Unlock()
	return ID(ulid.MustNew(ulid.Timestamp(t), entropy).String())
}

// Parse validates s and returns it in canonical form.
func Parse(s string) (ID, error) {
	u, err := ulid.ParseStrict(strings.TrimSpace(s))
	if err != nil {
		return "", ErrInvalid
	}
	return ID(u.String()), nil
}

// Valid reports whether s is a well-formed ULID. Path parameters are checked
// with it before they reach the store.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

func (id ID) String() string { return string(id) }

// Time is the creation instant embedded in id, or the zero time when id is
// not a ULID.
func (id ID) Time() time.Time {
	u, err := ulid.ParseStrict(string(id))
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}
