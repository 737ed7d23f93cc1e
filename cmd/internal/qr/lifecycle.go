package qr

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"qrtrack/cmd/internal/scan"
)

// Publisher is the broadcast side-channel the lifecycle pushes events into.
// Delivery is best-effort; lifecycle correctness never depends on it.
type Publisher interface {
	Publish(group, event string, payload any)
}

// CompanyDirectory resolves company-name snapshots at submission time.
type CompanyDirectory interface {
	GetNameByID(ctx context.Context, id string) (string, error)
}

// Metrics receives lifecycle counters. The zero-value service uses a no-op
// implementation.
type Metrics interface {
	SessionIssued()
	SessionsExpired(n int64)
	ScanRecorded(scanType string)
	ScanRejected(reason string)
}

type nopMetrics struct{}

func (nopMetrics) SessionIssued()        {}
func (nopMetrics) SessionsExpired(int64) {}
func (nopMetrics) ScanRecorded(string)   {}
func (nopMetrics) ScanRejected(string)   {}

// Broadcast group/event names used by the lifecycle. Group naming is owned by
// the realtime package; the strings are redeclared here to keep qr free of a
// dependency on it.
const (
	groupAdmin = "admin"

	eventQRNew          = "qr:new"
	eventQRConsumed     = "qr:consumed"
	eventScanLogged     = "scan:logged"
	eventDashboardReset = "dashboard:reset"
)

func displayGroup(displayID string) string { return "display:" + displayID }

// Payload is what a display needs to render one scannable code.
type Payload struct {
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expiresAt"`
	ImageDataURL string    `json:"imageDataUrl"`
}

// IssueOptions carries the optional scoping of a new session.
type IssueOptions struct {
	CompanyID string
	IssuedBy  string
}

// consumedNotice is the payload of qr:consumed.
type consumedNotice struct {
	Token string    `json:"token"`
	At    time.Time `json:"at"`
}

// Service implements the QR session lifecycle: issuance, validation, the
// single-use consumption gate, and time-based expiry.
type Service struct {
	cfg       Config
	log       *slog.Logger
	store     Store
	tokens    TokenCodec
	ledger    scan.Ledger
	companies CompanyDirectory
	bus       Publisher
	metrics   Metrics
}

// NewService wires a lifecycle service. store, tokens, and ledger are
// required; companies, bus, and metrics may be nil (snapshots then fall back
// to an empty name, broadcasts and counters become no-ops).
func NewService(cfg Config, log *slog.Logger, store Store, tokens TokenCodec, ledger scan.Ledger, companies CompanyDirectory, bus Publisher, metrics Metrics) *Service {
	if log == nil {
		log = slog.Default()
	}
	if bus == nil {
		bus = nopPublisher{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Service{
		cfg:       cfg,
		log:       log,
		store:     store,
		tokens:    tokens,
		ledger:    ledger,
		companies: companies,
		bus:       bus,
		metrics:   metrics,
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, any) {}

// Issue mints a fresh session for displayID, atomically superseding any prior
// active one, and pushes qr:new to the display's subscribers.
func (s *Service) Issue(ctx context.Context, now time.Time, displayID string, opts IssueOptions) (Payload, Session, error) {
	now = now.UTC()

	sess := Session{
		ID:        NewID(now),
		DisplayID: displayID,
		CompanyID: opts.CompanyID,
		Status:    StatusActive,
		IssuedBy:  opts.IssuedBy,
		CreatedAt: now,
	}

	expiresAt := now.Add(s.cfg.TTL)
	token, err := s.tokens.Issue(sess.ID, NewNonce(), expiresAt)
	if err != nil {
		return Payload{}, Session{}, err
	}
	sess.Token = token

	if err := s.store.Create(ctx, now, sess); err != nil {
		return Payload{}, Session{}, err
	}
	s.metrics.SessionIssued()

	img, err := RenderDataURL(token)
	if err != nil {
		// The session is live; displays can still fetch the raw PNG endpoint.
		s.log.Error("qr.issue.render_fail", "session_id", sess.ID, "err", err)
	}

	payload := Payload{Token: token, ExpiresAt: expiresAt, ImageDataURL: img}

	s.bus.Publish(displayGroup(displayID), eventQRNew, payload)

	s.log.Info("qr.issued",
		"session_id", sess.ID,
		"display_id", displayID,
		"company_id", opts.CompanyID,
		"expires_at", expiresAt,
	)

	return payload, sess, nil
}

// CurrentForDisplay returns the display's active payload, issuing a fresh
// session when none is live. Displays call this on connect/reload.
func (s *Service) CurrentForDisplay(ctx context.Context, now time.Time, displayID string, opts IssueOptions) (Payload, error) {
	now = now.UTC()

	sess, err := s.store.FindActiveByDisplay(ctx, displayID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		p, _, err := s.Issue(ctx, now, displayID, opts)
		return p, err
	case err != nil:
		return Payload{}, err
	}

	// A stale active row the sweep has not reached yet is replaced inline.
	if s.expiredByTTL(now, sess) {
		if err := s.store.MarkExpired(ctx, sess.Token); err != nil {
			s.log.Error("qr.current.expire_fail", "session_id", sess.ID, "err", err)
		}
		p, _, err := s.Issue(ctx, now, displayID, opts)
		return p, err
	}

	img, err := RenderDataURL(sess.Token)
	if err != nil {
		s.log.Error("qr.current.render_fail", "session_id", sess.ID, "err", err)
	}

	return Payload{
		Token:        sess.Token,
		ExpiresAt:    sess.CreatedAt.Add(s.cfg.TTL),
		ImageDataURL: img,
	}, nil
}

// Validate runs the read-only half of the check chain and returns the session
// a valid token names. It performs no state transition except the inline
// expiry demotion of a stale row.
//
// Check order is fixed: presence, existence, status, TTL, then signature.
// Existence-before-signature keeps the diagnostics precise: a swept-away
// token reports expired_or_unknown_qr, not a spurious signature failure.
func (s *Service) Validate(ctx context.Context, now time.Time, token string) (Session, error) {
	now = now.UTC()

	if token == "" {
		return Session{}, ErrTokenRequired
	}

	sess, err := s.store.FindByToken(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		return Session{}, ErrUnknownOrExpired
	}
	if err != nil {
		return Session{}, err
	}

	switch sess.Status {
	case StatusActive:
		// fall through to the TTL check
	case StatusUsed:
		if !s.cfg.AllowMultiScan {
			return sess, ErrAlreadyUsed
		}
	case StatusExpired:
		return sess, ErrUnknownOrExpired
	default:
		return sess, ErrUnknownOrExpired
	}

	if sess.Status == StatusActive && s.expiredByTTL(now, sess) {
		if err := s.store.MarkExpired(ctx, token); err != nil {
			s.log.Error("qr.validate.expire_fail", "session_id", sess.ID, "err", err)
		}
		sess.Status = StatusExpired
		return sess, ErrUnknownOrExpired
	}

	if _, err := s.tokens.Verify(token); err != nil {
		return sess, ErrInvalidToken
	}

	return sess, nil
}

// ExpireSweep demotes every active session older than the TTL and returns the
// number of rows demoted.
func (s *Service) ExpireSweep(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.UTC().Add(-s.cfg.TTL)

	n, err := s.store.ExpireOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.SessionsExpired(n)
		s.log.Info("qr.sweep", "expired", n, "cutoff", cutoff)
	}
	return n, nil
}

// RunSweeper loops ExpireSweep every SweepInterval until ctx is done.
// Run it in its own goroutine.
func (s *Service) RunSweeper(ctx context.Context) {
	t := time.NewTicker(s.cfg.SweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if _, err := s.ExpireSweep(ctx, now); err != nil {
				s.log.Error("qr.sweep.fail", "err", err)
			}
		}
	}
}

// Reset is the administrative bulk purge: demote active sessions, delete
// session rows and scan records, and notify dashboards. Empty companyID means
// everything.
func (s *Service) Reset(ctx context.Context, now time.Time, companyID string) error {
	now = now.UTC()

	if _, err := s.store.DemoteAllActive(ctx, now, companyID); err != nil {
		return err
	}
	if err := s.store.DeleteAllForCompany(ctx, companyID); err != nil {
		return err
	}
	if err := s.ledger.DeleteAll(ctx, companyID); err != nil {
		return err
	}

	s.bus.Publish(groupAdmin, eventDashboardReset, nil)
	s.log.Info("qr.reset", "company_id", companyID)
	return nil
}

func (s *Service) expiredByTTL(now time.Time, sess Session) bool {
	return now.Sub(sess.CreatedAt) > s.cfg.TTL
}
