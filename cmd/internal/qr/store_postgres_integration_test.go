package qr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when QRTRACK_TEST_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_CreateDemotesPriorActive(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()
	mustEnsureSessionSchema(t, pool)

	store := NewPostgresStore(pool)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	displayID := "it-demote-" + NewNonce()
	t.Cleanup(func() { cleanupDisplay(t, pool, displayID) })

	now := time.Now().UTC()
	first := testSession(displayID, now)
	if err := store.Create(ctx, now, first); err != nil {
		t.Fatalf("create first: %v", err)
	}

	second := testSession(displayID, now.Add(time.Second))
	if err := store.Create(ctx, now.Add(time.Second), second); err != nil {
		t.Fatalf("create second: %v", err)
	}

	active, err := store.FindActiveByDisplay(ctx, displayID)
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if active.ID != second.ID {
		t.Fatalf("active=%s want=%s", active.ID, second.ID)
	}

	demoted, err := store.FindByToken(ctx, first.Token)
	if err != nil {
		t.Fatalf("find first: %v", err)
	}
	if demoted.Status != StatusUsed || demoted.UsedAt == nil {
		t.Fatalf("superseded session: status=%q used_at=%v", demoted.Status, demoted.UsedAt)
	}
}

func TestPostgresStore_MarkUsedGate(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()
	mustEnsureSessionSchema(t, pool)

	store := NewPostgresStore(pool)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	displayID := "it-gate-" + NewNonce()
	t.Cleanup(func() { cleanupDisplay(t, pool, displayID) })

	now := time.Now().UTC()
	sess := testSession(displayID, now)
	if err := store.Create(ctx, now, sess); err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	errCh := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.MarkUsed(ctx, now.Add(time.Second), sess.Token)
			switch {
			case err == nil:
				mu.Lock()
				wins++
				mu.Unlock()
			case errors.Is(err, ErrAlreadyUsed):
				// lost the gate, expected
			default:
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("concurrent mark-used error: %v", err)
	}
	if wins != 1 {
		t.Fatalf("gate wins=%d want exactly 1", wins)
	}
}

func TestPostgresStore_MarkUsedClassifiesExpired(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()
	mustEnsureSessionSchema(t, pool)

	store := NewPostgresStore(pool)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	displayID := "it-classify-" + NewNonce()
	t.Cleanup(func() { cleanupDisplay(t, pool, displayID) })

	now := time.Now().UTC()
	sess := testSession(displayID, now)
	if err := store.Create(ctx, now, sess); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.MarkExpired(ctx, sess.Token); err != nil {
		t.Fatalf("mark expired: %v", err)
	}

	if _, err := store.MarkUsed(ctx, now, sess.Token); !errors.Is(err, ErrUnknownOrExpired) {
		t.Fatalf("err=%v want ErrUnknownOrExpired", err)
	}
	if _, err := store.MarkUsed(ctx, now, "no-such-token-"+NewNonce()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err=%v want ErrSessionNotFound", err)
	}
}

func TestPostgresStore_ExpireOlderThan(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()
	mustEnsureSessionSchema(t, pool)

	store := NewPostgresStore(pool)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	displayA := "it-sweep-a-" + NewNonce()
	displayB := "it-sweep-b-" + NewNonce()
	t.Cleanup(func() {
		cleanupDisplay(t, pool, displayA)
		cleanupDisplay(t, pool, displayB)
	})

	old := time.Now().UTC().Add(-time.Hour)
	stale := testSession(displayA, old)
	if err := store.Create(ctx, old, stale); err != nil {
		t.Fatalf("create stale: %v", err)
	}

	now := time.Now().UTC()
	fresh := testSession(displayB, now)
	if err := store.Create(ctx, now, fresh); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	n, err := store.ExpireOlderThan(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n < 1 {
		t.Fatalf("expired=%d want >=1", n)
	}

	got, err := store.FindByToken(ctx, stale.Token)
	if err != nil {
		t.Fatalf("find stale: %v", err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("stale status=%q want expired", got.Status)
	}

	still, err := store.FindActiveByDisplay(ctx, displayB)
	if err != nil {
		t.Fatalf("find fresh: %v", err)
	}
	if still.Token != fresh.Token {
		t.Fatalf("fresh session was swept")
	}
}

// ---- test helpers ----

func testSession(displayID string, createdAt time.Time) Session {
	return Session{
		ID:        NewID(createdAt),
		Token:     "it-token-" + NewNonce(),
		DisplayID: displayID,
		Status:    StatusActive,
		IssuedBy:  "it",
		CreatedAt: createdAt,
	}
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("QRTRACK_TEST_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: QRTRACK_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse QRTRACK_TEST_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

var ensureSchemaOnce sync.Once

func mustEnsureSessionSchema(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	var err error
	ensureSchemaOnce.Do(func() {
		stmts := []string{
			`CREATE SCHEMA IF NOT EXISTS qrtrack`,
			`CREATE TABLE IF NOT EXISTS qrtrack.qr_sessions (
				id         text PRIMARY KEY,
				token      text NOT NULL UNIQUE,
				display_id text NOT NULL,
				company_id text,
				status     text NOT NULL,
				issued_by  text NOT NULL,
				created_at timestamptz NOT NULL,
				used_at    timestamptz
			)`,
		}
		for _, stmt := range stmts {
			if _, e := pool.Exec(ctx, stmt); e != nil {
				err = fmt.Errorf("apply schema: %w", e)
				return
			}
		}
	})
	if err != nil {
		t.Fatal(err)
	}
}

func cleanupDisplay(t *testing.T, pool *pgxpool.Pool, displayID string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DELETE FROM qrtrack.qr_sessions WHERE display_id = $1`, displayID)
}
