package scan

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger implements Ledger using PostgreSQL (qrtrack.scans).
//
// Schema management is external. Expected shape:
//
//	CREATE TABLE qrtrack.scans (
//	    id                    text PRIMARY KEY,
//	    qr_session_id         text NOT NULL,
//	    display_id            text NOT NULL,
//	    company_id            text,
//	    full_name_snapshot    text NOT NULL,
//	    job_title_snapshot    text NOT NULL,
//	    employee_id_snapshot  text NOT NULL,
//	    company_name_snapshot text,
//	    type                  text NOT NULL,
//	    lat                   double precision NOT NULL,
//	    lng                   double precision NOT NULL,
//	    accuracy              double precision NOT NULL,
//	    image                 text,
//	    created_at            timestamptz NOT NULL
//	);
//	CREATE INDEX ON qrtrack.scans (company_id, created_at DESC);
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a Postgres-backed scan ledger.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

const recordColumns = `
	id, qr_session_id, display_id, company_id,
	full_name_snapshot, job_title_snapshot, employee_id_snapshot, company_name_snapshot,
	type, lat, lng, accuracy, image, created_at
`

func scanRecordRows(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r           Record
			companyID   *string
			companyName *string
			image       *string
		)
		if err := rows.Scan(
			&r.ID,
			&r.QRSessionID,
			&r.DisplayID,
			&companyID,
			&r.FullName,
			&r.JobTitle,
			&r.EmployeeID,
			&companyName,
			&r.Type,
			&r.Lat,
			&r.Lng,
			&r.Accuracy,
			&image,
			&r.CreatedAt,
		); err != nil {
			return nil, err
		}
		if companyID != nil {
			r.CompanyID = *companyID
		}
		if companyName != nil {
			r.CompanyName = *companyName
		}
		if image != nil {
			r.Image = *image
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Append stores a record with the server-assigned timestamp.
func (l *PostgresLedger) Append(ctx context.Context, now time.Time, rec Record) (Record, error) {
	rec.CreatedAt = now

	_, err := l.pool.Exec(ctx, `
		INSERT INTO qrtrack.scans (
			id, qr_session_id, display_id, company_id,
			full_name_snapshot, job_title_snapshot, employee_id_snapshot, company_name_snapshot,
			type, lat, lng, accuracy, image, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		rec.ID, rec.QRSessionID, rec.DisplayID, nullIfEmpty(rec.CompanyID),
		rec.FullName, rec.JobTitle, rec.EmployeeID, nullIfEmpty(rec.CompanyName),
		rec.Type, rec.Lat, rec.Lng, rec.Accuracy, nullIfEmpty(rec.Image), rec.CreatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// escapeLike neutralizes LIKE metacharacters in a user-supplied search term
// so "50%" matches the literal string, not half the table.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// List returns records newest first. Search is ILIKE over the snapshot
// fields; fine at demo scale, a full-text index would be needed beyond it.
func (l *PostgresLedger) List(ctx context.Context, q Query) ([]Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT ` + recordColumns + `
		FROM qrtrack.scans
		WHERE ($1 = '' OR company_id = $1)
		  AND ($2 = '' OR
		       full_name_snapshot ILIKE '%' || $2 || '%' OR
		       job_title_snapshot ILIKE '%' || $2 || '%' OR
		       employee_id_snapshot ILIKE '%' || $2 || '%')
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := l.pool.Query(ctx, query, q.CompanyID, escapeLike(q.Search), limit)
	if err != nil {
		return nil, err
	}
	return scanRecordRows(rows)
}

// Stats summarizes the ledger; "today" is the server's local midnight.
func (l *PostgresLedger) Stats(ctx context.Context, now time.Time, companyID string) (Stats, error) {
	midnight := localMidnight(now)

	var st Stats
	err := l.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE type = 'check-in'),
			COUNT(*) FILTER (WHERE type = 'check-out'),
			COUNT(*) FILTER (WHERE created_at >= $2)
		FROM qrtrack.scans
		WHERE ($1 = '' OR company_id = $1)
	`, companyID, midnight).Scan(&st.Total, &st.CheckIns, &st.CheckOuts, &st.Today)
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// DeleteAll purges records (administrative reset only).
func (l *PostgresLedger) DeleteAll(ctx context.Context, companyID string) error {
	var err error
	if companyID == "" {
		_, err = l.pool.Exec(ctx, `DELETE FROM qrtrack.scans`)
	} else {
		_, err = l.pool.Exec(ctx, `DELETE FROM qrtrack.scans WHERE company_id = $1`, companyID)
	}
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
