package qr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors use the wire-stable reason strings directly, so the HTTP
// layer can report err.Error() as the machine-readable reason.
var (
	// ErrTokenRequired is returned when no token was supplied at all.
	ErrTokenRequired = errors.New("token_required")

	// ErrUnknownOrExpired is returned when a token matches no session, or the
	// session has expired (by sweep or inline TTL check).
	ErrUnknownOrExpired = errors.New("expired_or_unknown_qr")

	// ErrAlreadyUsed is returned when the session was consumed by an earlier
	// scan. Exactly one concurrent submit per token avoids this error.
	ErrAlreadyUsed = errors.New("already_used")

	// ErrInvalidToken is returned when the token fails codec verification.
	ErrInvalidToken = errors.New("invalid_token")

	// ErrInvalidPayload is returned for structurally malformed scan payloads.
	ErrInvalidPayload = errors.New("invalid_payload")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// ValidationError carries field-level detail for a rejected scan payload.
// It unwraps to ErrInvalidPayload.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrInvalidPayload.Error()
	}

	names := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		names = append(names, f)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, f := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", f, e.Fields[f]))
	}
	return ErrInvalidPayload.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidPayload }

// RejectReason collapses an error to its wire-stable reason string. Anything
// that is not one of the scan sentinels maps to a fixed "store_error": the
// reasons feed metric labels, which must stay low-cardinality.
func RejectReason(err error) string {
	for _, sentinel := range []error{
		ErrTokenRequired,
		ErrUnknownOrExpired,
		ErrAlreadyUsed,
		ErrInvalidToken,
		ErrInvalidPayload,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "store_error"
}
