package ids

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a lexicographically sortable identifier. Principals, audit
// entries and request ids all use it, so sorting by id tracks creation order.
func New() string {
	return NewAt(time.Now())
}

// NewAt is New with an explicit timestamp component.
func NewAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Valid reports whether s parses as an identifier produced by New.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Opaque returns n random bytes encoded as unpadded url-safe base64.
// Session ids and password reset tokens are minted here.
func Opaque(n int) (string, error) {
	return opaqueFrom(rand.Reader, n)
}

func opaqueFrom(r io.Reader, n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("ids: opaque length must be positive, got %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("ids: read entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
