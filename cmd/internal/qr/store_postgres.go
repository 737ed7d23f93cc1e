package qr

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (qrtrack.qr_sessions).
//
// Schema management is external. Expected shape:
//
//	CREATE TABLE qrtrack.qr_sessions (
//	    id         text PRIMARY KEY,
//	    token      text NOT NULL UNIQUE,
//	    display_id text NOT NULL,
//	    company_id text,
//	    status     text NOT NULL,
//	    issued_by  text NOT NULL,
//	    created_at timestamptz NOT NULL,
//	    used_at    timestamptz
//	);
//	CREATE INDEX ON qrtrack.qr_sessions (display_id) WHERE status = 'active';
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const sessionColumns = `
	id, token, display_id, company_id, status, issued_by, created_at, used_at
`

func scanSessionRow(row pgx.Row) (Session, error) {
	var (
		s         Session
		companyID *string
		status    string
	)

	err := row.Scan(
		&s.ID,
		&s.Token,
		&s.DisplayID,
		&companyID,
		&status,
		&s.IssuedBy,
		&s.CreatedAt,
		&s.UsedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, err
	}

	if companyID != nil {
		s.CompanyID = *companyID
	}
	s.Status = Status(status)
	return s, nil
}

// FindByToken loads a session by token.
func (s *PostgresStore) FindByToken(ctx context.Context, token string) (Session, error) {
	return scanSessionRow(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM qrtrack.qr_sessions
		WHERE token = $1
	`, token))
}

// FindActiveByDisplay loads the newest active session of a display.
func (s *PostgresStore) FindActiveByDisplay(ctx context.Context, displayID string) (Session, error) {
	return scanSessionRow(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM qrtrack.qr_sessions
		WHERE display_id = $1 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`, displayID))
}

// Create demotes every active session of the display and inserts the new row
// in a single transaction. The transaction is the serialization point that
// keeps at most one active session per display under concurrent issues.
func (s *PostgresStore) Create(ctx context.Context, now time.Time, in Session) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		UPDATE qrtrack.qr_sessions
		SET status = 'used', used_at = $2
		WHERE display_id = $1 AND status = 'active'
	`, in.DisplayID, now); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO qrtrack.qr_sessions (
			id, token, display_id, company_id, status, issued_by, created_at, used_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NULL)
	`, in.ID, in.Token, in.DisplayID, nullIfEmpty(in.CompanyID), string(in.Status), in.IssuedBy, in.CreatedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkUsed is the single-use gate: a conditional UPDATE that only one
// concurrent caller can win for a given token.
func (s *PostgresStore) MarkUsed(ctx context.Context, now time.Time, token string) (Session, error) {
	row, err := scanSessionRow(s.pool.QueryRow(ctx, `
		UPDATE qrtrack.qr_sessions
		SET status = 'used', used_at = $2
		WHERE token = $1 AND status = 'active'
		RETURNING `+sessionColumns+`
	`, token, now))
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return Session{}, err
	}

	// No active row matched: classify by the current state of the session.
	current, ferr := s.FindByToken(ctx, token)
	if ferr != nil {
		return Session{}, ferr
	}
	if current.Status == StatusExpired {
		return current, ErrUnknownOrExpired
	}
	return current, ErrAlreadyUsed
}

// MarkExpired demotes a session to expired.
func (s *PostgresStore) MarkExpired(ctx context.Context, token string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE qrtrack.qr_sessions
		SET status = 'expired'
		WHERE token = $1
	`, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ExpireOlderThan demotes still-active sessions created before cutoff.
// The status predicate keeps the sweep race-free against supersede-on-issue:
// a row already demoted by Create cannot transition again.
func (s *PostgresStore) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE qrtrack.qr_sessions
		SET status = 'expired'
		WHERE status = 'active' AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DemoteAllActive marks every active session as used (administrative reset).
func (s *PostgresStore) DemoteAllActive(ctx context.Context, now time.Time, companyID string) (int64, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if companyID == "" {
		tag, err = s.pool.Exec(ctx, `
			UPDATE qrtrack.qr_sessions
			SET status = 'used', used_at = $1
			WHERE status = 'active'
		`, now)
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE qrtrack.qr_sessions
			SET status = 'used', used_at = $1
			WHERE status = 'active' AND company_id = $2
		`, now, companyID)
	}
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteAllForCompany removes session rows outright (bulk reset only).
func (s *PostgresStore) DeleteAllForCompany(ctx context.Context, companyID string) error {
	var err error
	if companyID == "" {
		_, err = s.pool.Exec(ctx, `DELETE FROM qrtrack.qr_sessions`)
	} else {
		_, err = s.pool.Exec(ctx, `DELETE FROM qrtrack.qr_sessions WHERE company_id = $1`, companyID)
	}
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
