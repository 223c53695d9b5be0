// Package ids generates lexicographically sortable row identifiers.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a ULID string. IDs created in the same millisecond stay
// monotonic, which keeps index pages append-mostly.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// FromBytes renders 16 arbitrary bytes in ULID form. Used for the
// deterministic decoy identifiers returned on duplicate registration,
// so that real and fake ids are indistinguishable by shape.
func FromBytes(b [16]byte) string {
	var id ulid.ULID
	copy(id[:], b[:])
	return id.String()
}
