package qr

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is the dev/test fallback when no database is configured.
//
// All transitions happen under one mutex, so the conditional MarkUsed and the
// demote-then-insert of Create are atomic exactly like their SQL equivalents.
type InMemoryStore struct {
	mu       sync.Mutex
	byToken  map[string]Session
	inserted int64 // insertion order tiebreaker for FindActiveByDisplay
	order    map[string]int64
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byToken: make(map[string]Session),
		order:   make(map[string]int64),
	}
}

func (s *InMemoryStore) FindByToken(ctx context.Context, token string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byToken[token]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return row, nil
}

func (s *InMemoryStore) FindActiveByDisplay(ctx context.Context, displayID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		best    Session
		bestOrd int64 = -1
	)
	for tok, row := range s.byToken {
		if row.DisplayID != displayID || row.Status != StatusActive {
			continue
		}
		if ord := s.order[tok]; ord > bestOrd {
			best = row
			bestOrd = ord
		}
	}
	if bestOrd < 0 {
		return Session{}, ErrSessionNotFound
	}
	return best, nil
}

func (s *InMemoryStore) Create(ctx context.Context, now time.Time, in Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Demote prior active sessions for the display in the same critical
	// section as the insert: the at-most-one-active invariant.
	for tok, row := range s.byToken {
		if row.DisplayID == in.DisplayID && row.Status == StatusActive {
			usedAt := now
			row.Status = StatusUsed
			row.UsedAt = &usedAt
			s.byToken[tok] = row
		}
	}

	s.inserted++
	s.order[in.Token] = s.inserted
	s.byToken[in.Token] = in
	return nil
}

func (s *InMemoryStore) MarkUsed(ctx context.Context, now time.Time, token string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byToken[token]
	if !ok {
		return Session{}, ErrSessionNotFound
	}

	switch row.Status {
	case StatusUsed:
		return row, ErrAlreadyUsed
	case StatusExpired:
		return row, ErrUnknownOrExpired
	}

	usedAt := now
	row.Status = StatusUsed
	row.UsedAt = &usedAt
	s.byToken[token] = row
	return row, nil
}

func (s *InMemoryStore) MarkExpired(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.byToken[token]
	if !ok {
		return ErrSessionNotFound
	}
	row.Status = StatusExpired
	s.byToken[token] = row
	return nil
}

func (s *InMemoryStore) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for tok, row := range s.byToken {
		if row.Status == StatusActive && row.CreatedAt.Before(cutoff) {
			row.Status = StatusExpired
			s.byToken[tok] = row
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) DemoteAllActive(ctx context.Context, now time.Time, companyID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for tok, row := range s.byToken {
		if row.Status != StatusActive {
			continue
		}
		if companyID != "" && row.CompanyID != companyID {
			continue
		}
		usedAt := now
		row.Status = StatusUsed
		row.UsedAt = &usedAt
		s.byToken[tok] = row
		n++
	}
	return n, nil
}

func (s *InMemoryStore) DeleteAllForCompany(ctx context.Context, companyID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for tok, row := range s.byToken {
		if companyID != "" && row.CompanyID != companyID {
			continue
		}
		delete(s.byToken, tok)
		delete(s.order, tok)
	}
	return nil
}

// snapshotForDisplay returns all sessions of a display ordered oldest first.
// Test helper; not part of Store.
func (s *InMemoryStore) snapshotForDisplay(displayID string) []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, 0, 4)
	for _, row := range s.byToken {
		if row.DisplayID == displayID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.order[out[i].Token] < s.order[out[j].Token]
	})
	return out
}
