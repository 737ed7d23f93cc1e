package qr

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a QR session.
type Status string

const (
	// StatusActive marks the one scannable session of a display.
	StatusActive Status = "active"
	// StatusUsed marks a session consumed by a scan or superseded by a newer
	// issue. Terminal.
	StatusUsed Status = "used"
	// StatusExpired marks a session demoted by the time-based sweep. Terminal.
	StatusExpired Status = "expired"
)

// Session is one issuance of a scannable token bound to a display.
type Session struct {
	ID        string
	Token     string
	DisplayID string
	CompanyID string // empty when the display is not company-scoped
	Status    Status
	IssuedBy  string
	CreatedAt time.Time
	UsedAt    *time.Time
}

// ErrSessionNotFound is returned by Store lookups when no row matches.
var ErrSessionNotFound = errors.New("session not found")

// Store abstracts persistence for QR sessions.
//
// Implementations must make Create's demote-then-insert atomic (this is the
// mechanism behind "at most one active session per display") and MarkUsed a
// conditional transition (the single-use gate: only one concurrent caller
// can win it for a given token).
type Store interface {
	// FindByToken loads a session by its token.
	FindByToken(ctx context.Context, token string) (Session, error)

	// FindActiveByDisplay loads the current active session of a display.
	FindActiveByDisplay(ctx context.Context, displayID string) (Session, error)

	// Create inserts s after demoting, in the same atomic unit, every
	// existing active session for s.DisplayID to used.
	Create(ctx context.Context, now time.Time, s Session) error

	// MarkUsed transitions the session to used iff it is still active, and
	// returns the updated row. When the row exists but the transition was
	// not won it returns ErrAlreadyUsed (status used) or ErrUnknownOrExpired
	// (status expired), with the current row.
	MarkUsed(ctx context.Context, now time.Time, token string) (Session, error)

	// MarkExpired demotes a session to expired regardless of prior status
	// transitions won by the caller's earlier checks.
	MarkExpired(ctx context.Context, token string) error

	// ExpireOlderThan demotes every still-active session created before
	// cutoff and reports how many rows it touched.
	ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// DemoteAllActive marks every active session as used (administrative
	// reset). Empty companyID means all companies.
	DemoteAllActive(ctx context.Context, now time.Time, companyID string) (int64, error)

	// DeleteAllForCompany removes session rows outright. Empty companyID
	// means all companies. Bulk reset only.
	DeleteAllForCompany(ctx context.Context, companyID string) error
}
