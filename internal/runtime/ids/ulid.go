// Package ids generates the identifiers that tie together the hooks, log lines
// and spans of one chain build.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
	now       = time.Now
)

// NewBuildID returns a time-sortable ULID encoded as a 26-character string.
// IDs from one process are strictly increasing.
func NewBuildID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(now()), entropy).String()
}

// BuildTime extracts the creation time encoded in a build ID.
func BuildTime(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
