package scan

import (
	"context"
	"strings"
	"sync"
	"time"
)

// InMemoryLedger is the dev/test fallback when no database is configured.
// Records are kept newest first, matching List's ordering contract.
type InMemoryLedger struct {
	mu   sync.Mutex
	recs []Record
}

// NewInMemoryLedger constructs an empty in-memory ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{}
}

func (l *InMemoryLedger) Append(ctx context.Context, now time.Time, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	rec.CreatedAt = now

	l.mu.Lock()
	defer l.mu.Unlock()

	l.recs = append([]Record{rec}, l.recs...)
	return rec, nil
}

func (l *InMemoryLedger) List(ctx context.Context, q Query) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	term := strings.ToLower(strings.TrimSpace(q.Search))

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0, limit)
	for _, r := range l.recs {
		if q.CompanyID != "" && r.CompanyID != q.CompanyID {
			continue
		}
		if term != "" && !matchesTerm(r, term) {
			continue
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func matchesTerm(r Record, term string) bool {
	return strings.Contains(strings.ToLower(r.FullName), term) ||
		strings.Contains(strings.ToLower(r.JobTitle), term) ||
		strings.Contains(strings.ToLower(r.EmployeeID), term)
}

func (l *InMemoryLedger) Stats(ctx context.Context, now time.Time, companyID string) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	midnight := localMidnight(now)

	l.mu.Lock()
	defer l.mu.Unlock()

	var st Stats
	for _, r := range l.recs {
		if companyID != "" && r.CompanyID != companyID {
			continue
		}
		st.Total++
		switch r.Type {
		case TypeCheckIn:
			st.CheckIns++
		case TypeCheckOut:
			st.CheckOuts++
		}
		if !r.CreatedAt.Before(midnight) {
			st.Today++
		}
	}
	return st, nil
}

func (l *InMemoryLedger) DeleteAll(ctx context.Context, companyID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if companyID == "" {
		l.recs = nil
		return nil
	}

	kept := l.recs[:0]
	for _, r := range l.recs {
		if r.CompanyID != companyID {
			kept = append(kept, r)
		}
	}
	l.recs = kept
	return nil
}
