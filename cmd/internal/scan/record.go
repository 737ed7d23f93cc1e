// Package scan implements the append-only scan ledger: immutable audit
// records produced by consuming QR sessions, plus listing, statistics, and
// export over them.
package scan

import (
	"context"
	"time"
)

// Scan types accepted by the submission protocol.
const (
	TypeCheckIn  = "check-in"
	TypeCheckOut = "check-out"
)

// Record is an immutable audit entry produced by a successful scan.
//
// The FullName/JobTitle/EmployeeID/CompanyName fields are snapshots copied at
// submission time and never re-derived; renaming the underlying entities
// later must not rewrite history.
type Record struct {
	ID          string    `json:"id"`
	QRSessionID string    `json:"qrSessionId"`
	DisplayID   string    `json:"displayId"`
	CompanyID   string    `json:"companyId,omitempty"`
	FullName    string    `json:"fullName"`
	JobTitle    string    `json:"jobTitle"`
	EmployeeID  string    `json:"employeeId"`
	CompanyName string    `json:"companyName,omitempty"`
	Type        string    `json:"type"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Accuracy    float64   `json:"accuracy"`
	Image       string    `json:"image,omitempty"` // data URL, bounded upstream
	CreatedAt   time.Time `json:"createdAt"`
}

// Query filters a ledger listing.
type Query struct {
	CompanyID string
	// Search matches case-insensitive substrings over the name, job title,
	// and employee id snapshots. No full-text index; acceptable at demo
	// scale and documented as a scaling limit.
	Search string
	Limit  int
}

// Stats summarizes the ledger, optionally scoped to a company.
// Today counts records since the server's local midnight.
type Stats struct {
	Total     int64 `json:"total_scans"`
	CheckIns  int64 `json:"check_ins"`
	CheckOuts int64 `json:"check_outs"`
	Today     int64 `json:"today_scans"`
}

// Ledger persists and queries scan records. Records are append-only; the only
// mutation is the irreversible bulk purge used by the administrative reset.
type Ledger interface {
	// Append stores rec with a server-assigned timestamp and returns the
	// stored form.
	Append(ctx context.Context, now time.Time, rec Record) (Record, error)

	// List returns records newest first.
	List(ctx context.Context, q Query) ([]Record, error)

	// Stats summarizes the ledger. Empty companyID means all companies.
	Stats(ctx context.Context, now time.Time, companyID string) (Stats, error)

	// DeleteAll purges records. Empty companyID means all companies.
	DeleteAll(ctx context.Context, companyID string) error
}

// DefaultListLimit bounds listings when the caller does not.
const DefaultListLimit = 100

// localMidnight returns the start of "today" in now's location.
func localMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}
