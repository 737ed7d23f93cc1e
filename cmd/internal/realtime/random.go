package realtime

import (
	"crypto/rand"
	"encoding/hex"
)

// NewRandomHex returns a random hex string of 2*nBytes characters, used for
// connection-scoped client IDs. nBytes <= 0 defaults to 16 bytes.
func NewRandomHex(nBytes int) string {
	if nBytes <= 0 {
		nBytes = 16
	}

	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		// An empty ID surfaces in logs; connection handling tolerates it.
		return ""
	}
	return hex.EncodeToString(buf)
}
