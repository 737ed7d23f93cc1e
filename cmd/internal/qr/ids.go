package qr

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a new ULID string (26 chars) for sessions and scan records.
// ULIDs are lexicographically sortable, which keeps log correlation cheap.
func NewID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		// ulid.New only fails when the entropy source does; fall back to the
		// non-erroring monotonic constructor.
		return ulid.Make().String()
	}
	return id.String()
}

// NewNonce returns a cryptographically random hex nonce bound into each
// token. It defends against token guessing and replay across re-issues.
func NewNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
