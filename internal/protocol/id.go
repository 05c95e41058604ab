package protocol

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var idMu sync.Mutex
var idEntropy = ulid.Monotonic(rand.Reader, 0)

// NewID returns a prefixed, time-sortable, collision-free identifier.
// The monotonic entropy source is shared, so concurrent callers never
// produce duplicates even within the same millisecond.
func NewID(prefix string) string {
	idMu.Lock()
	defer idMu.Unlock()
	return prefix + "_" + ulid.MustNew(ulid.Timestamp(time.Now()), idEntropy).String()
}

// NewChatID allocates a chat request identifier.
func NewChatID() string { return NewID("chat") }

// NewConnID allocates a connection identifier.
func NewConnID() string { return NewID("conn") }
