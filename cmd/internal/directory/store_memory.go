package directory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is the dev/test fallback for both directory tables.
type InMemoryStore struct {
	mu        sync.Mutex
	companies map[string]Company
	displays  map[string]Display
}

// NewInMemoryStore constructs an empty in-memory directory.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		companies: make(map[string]Company),
		displays:  make(map[string]Display),
	}
}

func (s *InMemoryStore) FindByID(ctx context.Context, id string) (Company, error) {
	if err := ctx.Err(); err != nil {
		return Company{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.companies[id]
	if !ok {
		return Company{}, ErrNotFound
	}
	return c, nil
}

func (s *InMemoryStore) FindAll(ctx context.Context) ([]Company, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Company, 0, len(s.companies))
	for _, c := range s.companies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemoryStore) Create(ctx context.Context, now time.Time, c Company) (Company, error) {
	if err := ctx.Err(); err != nil {
		return Company{}, err
	}

	c.CreatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	s.companies[c.ID] = c
	return c, nil
}

func (s *InMemoryStore) GetNameByID(ctx context.Context, id string) (string, error) {
	c, err := s.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return UnknownCompanyName, nil
	}
	if err != nil {
		return "", err
	}
	return c.Name, nil
}

// Displays returns the same store viewed as a DisplayStore. Both tables share
// one mutex; contention is irrelevant at dev scale.
func (s *InMemoryStore) Displays() DisplayStore { return (*memDisplays)(s) }

type memDisplays InMemoryStore

func (s *memDisplays) FindByID(ctx context.Context, id string) (Display, error) {
	if err := ctx.Err(); err != nil {
		return Display{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.displays[id]
	if !ok {
		return Display{}, ErrNotFound
	}
	return d, nil
}

func (s *memDisplays) FindByCompany(ctx context.Context, companyID string) ([]Display, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Display, 0, len(s.displays))
	for _, d := range s.displays {
		if companyID == "" || d.CompanyID == companyID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (s *memDisplays) Create(ctx context.Context, now time.Time, d Display) (Display, error) {
	if err := ctx.Err(); err != nil {
		return Display{}, err
	}

	if d.Label == "" {
		d.Label = d.ID
	}
	d.CreatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	s.displays[d.ID] = d
	return d, nil
}

func (s *memDisplays) FindOrCreate(ctx context.Context, now time.Time, d Display) (Display, error) {
	existing, err := s.FindByID(ctx, d.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Display{}, err
	}
	return s.Create(ctx, now, d)
}
