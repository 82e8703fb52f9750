package history

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// entropy is a single monotonic ULID entropy source shared across calls,
// guarded by entropyMu since ulid.Monotonic is not safe for concurrent
// use. Run ids are unique, time-sortable, and safe to embed directly
// in a filename or journal line.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewRunID generates a time-sortable run identifier: ULIDs sort
// lexically in creation order, unlike a random google/uuid, which this
// module keeps for unrelated request-correlation ids in
// internal/mcpclient.
func NewRunID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
