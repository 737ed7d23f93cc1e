package directory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements CompanyStore and (via Displays) DisplayStore
// using PostgreSQL.
//
// Schema management is external. Expected shape:
//
//	CREATE TABLE qrtrack.companies (
//	    id             text PRIMARY KEY,
//	    name           text NOT NULL,
//	    employee_count integer NOT NULL DEFAULT 0,
//	    logo           text,
//	    location_label text,
//	    created_at     timestamptz NOT NULL
//	);
//	CREATE TABLE qrtrack.displays (
//	    id         text PRIMARY KEY,
//	    company_id text,
//	    label      text NOT NULL,
//	    created_at timestamptz NOT NULL
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed directory store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func scanCompany(row pgx.Row) (Company, error) {
	var (
		c        Company
		logo     *string
		location *string
	)
	err := row.Scan(&c.ID, &c.Name, &c.EmployeeCount, &logo, &location, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Company{}, ErrNotFound
	}
	if err != nil {
		return Company{}, err
	}
	if logo != nil {
		c.Logo = *logo
	}
	if location != nil {
		c.LocationLabel = *location
	}
	return c, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (Company, error) {
	return scanCompany(s.pool.QueryRow(ctx, `
		SELECT id, name, employee_count, logo, location_label, created_at
		FROM qrtrack.companies
		WHERE id = $1
	`, id))
}

func (s *PostgresStore) FindAll(ctx context.Context) ([]Company, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, employee_count, logo, location_label, created_at
		FROM qrtrack.companies
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Create(ctx context.Context, now time.Time, c Company) (Company, error) {
	c.CreatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO qrtrack.companies (id, name, employee_count, logo, location_label, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.Name, c.EmployeeCount, nullIfEmpty(c.Logo), nullIfEmpty(c.LocationLabel), c.CreatedAt)
	if err != nil {
		return Company{}, err
	}
	return c, nil
}

func (s *PostgresStore) GetNameByID(ctx context.Context, id string) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx, `
		SELECT name FROM qrtrack.companies WHERE id = $1
	`, id).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return UnknownCompanyName, nil
	}
	if err != nil {
		return "", err
	}
	return name, nil
}

// Displays returns the display-table view of the same pool.
func (s *PostgresStore) Displays() DisplayStore { return (*pgDisplays)(s) }

type pgDisplays PostgresStore

func scanDisplay(row pgx.Row) (Display, error) {
	var (
		d         Display
		companyID *string
	)
	err := row.Scan(&d.ID, &companyID, &d.Label, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Display{}, ErrNotFound
	}
	if err != nil {
		return Display{}, err
	}
	if companyID != nil {
		d.CompanyID = *companyID
	}
	return d, nil
}

func (s *pgDisplays) FindByID(ctx context.Context, id string) (Display, error) {
	return scanDisplay(s.pool.QueryRow(ctx, `
		SELECT id, company_id, label, created_at
		FROM qrtrack.displays
		WHERE id = $1
	`, id))
}

func (s *pgDisplays) FindByCompany(ctx context.Context, companyID string) ([]Display, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, company_id, label, created_at
		FROM qrtrack.displays
		WHERE ($1 = '' OR company_id = $1)
		ORDER BY label
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Display
	for rows.Next() {
		d, err := scanDisplay(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *pgDisplays) Create(ctx context.Context, now time.Time, d Display) (Display, error) {
	if d.Label == "" {
		d.Label = d.ID
	}
	d.CreatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO qrtrack.displays (id, company_id, label, created_at)
		VALUES ($1, $2, $3, $4)
	`, d.ID, nullIfEmpty(d.CompanyID), d.Label, d.CreatedAt)
	if err != nil {
		return Display{}, err
	}
	return d, nil
}

func (s *pgDisplays) FindOrCreate(ctx context.Context, now time.Time, d Display) (Display, error) {
	existing, err := s.FindByID(ctx, d.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Display{}, err
	}
	return s.Create(ctx, now, d)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
