package broker

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	idMu   sync.Mutex
	idMono io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// newOrderID returns prefix followed by a ULID. IDs generated within the same
// millisecond stay lexicographically increasing.
func newOrderID(prefix string) string {
	idMu.Lock()
	defer idMu.Unlock()
	return prefix + ulid.MustNew(ulid.Timestamp(time.Now().UTC()), idMono).String()
}
