package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// NewClientID appends a short random suffix to base so several replicas can
// hold broker sessions at the same time. The suffix is the lowercased random
// tail of a ULID.
func NewClientID(base string) string {
	id := strings.ToLower(CreateULID())
	suffix := id[len(id)-8:]
	if base == "" {
		return suffix
	}
	return base + "-" + suffix
}
