// Package directory holds the company and display lookup tables consumed by
// the dashboard and by the scan submission protocol (company-name snapshot
// resolution at submit time).
package directory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("directory: not found")

// UnknownCompanyName is the snapshot fallback when a company id resolves to
// nothing. Matches the dashboard's historical behavior.
const UnknownCompanyName = "Unknown Company"

// Company is a tenant owning displays, sessions, and scans.
type Company struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	EmployeeCount int       `json:"employeeCount"`
	Logo          string    `json:"logo,omitempty"`
	LocationLabel string    `json:"locationLabel,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Display is a kiosk endpoint that renders the active session's QR code.
type Display struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"companyId,omitempty"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"createdAt"`
}

// CompanyStore abstracts company persistence.
type CompanyStore interface {
	FindByID(ctx context.Context, id string) (Company, error)
	FindAll(ctx context.Context) ([]Company, error)
	Create(ctx context.Context, now time.Time, c Company) (Company, error)

	// GetNameByID resolves a company name for snapshotting; it returns
	// UnknownCompanyName (and no error) when the id matches nothing.
	GetNameByID(ctx context.Context, id string) (string, error)
}

// DisplayStore abstracts display persistence.
type DisplayStore interface {
	FindByID(ctx context.Context, id string) (Display, error)
	FindByCompany(ctx context.Context, companyID string) ([]Display, error)
	Create(ctx context.Context, now time.Time, d Display) (Display, error)

	// FindOrCreate registers a display on first contact. Kiosks are
	// provisioned lazily in the demo.
	FindOrCreate(ctx context.Context, now time.Time, d Display) (Display, error)
}
