package internal

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewSessionID returns a lexicographically sortable ULID session identifier.
// The monotonic entropy source is shared, so IDs minted in the same
// millisecond still sort in creation order.
func NewSessionID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// ValidSessionID reports whether s parses as a canonical ULID.
func ValidSessionID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
