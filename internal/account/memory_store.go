package account

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]*Account
	devices   map[string]map[string]*KnownDevice   // accountID, then fingerprint
	locations map[string]map[string]*KnownLocation // accountID, then name
}

// NewMemoryStore creates an in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*Account),
		devices:   make(map[string]map[string]*KnownDevice),
		locations: make(map[string]map[string]*KnownLocation),
	}
}

func (s *MemoryStore) Create(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	if a.FreezeUntil != nil {
		t := *a.FreezeUntil
		cp.FreezeUntil = &t
	}
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; !ok {
		return ErrNotFound
	}
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) ApplyBalanceDelta(ctx context.Context, id string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	if a.Balance+delta < 0 {
		return ErrInsufficientBalance
	}
	a.Balance += delta
	return nil
}

func (s *MemoryStore) SetFreeze(ctx context.Context, id string, status Status, until *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	if until != nil {
		t := *until
		a.FreezeUntil = &t
	} else {
		a.FreezeUntil = nil
	}
	return nil
}

func (s *MemoryStore) GetDevice(ctx context.Context, accountID, fingerprint string) (*KnownDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[accountID][fingerprint]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) ListDevices(ctx context.Context, accountID string) ([]*KnownDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*KnownDevice, 0, len(s.devices[accountID]))
	for _, d := range s.devices[accountID] {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}

func (s *MemoryStore) UpsertDevice(ctx context.Context, d *KnownDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.devices[d.AccountID] == nil {
		s.devices[d.AccountID] = make(map[string]*KnownDevice)
	}
	cp := *d
	s.devices[d.AccountID][d.Fingerprint] = &cp
	return nil
}

func (s *MemoryStore) GetLocation(ctx context.Context, accountID, name string) (*KnownLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locations[accountID][name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	if l.Coords != nil {
		c := *l.Coords
		cp.Coords = &c
	}
	return &cp, nil
}

func (s *MemoryStore) ListLocations(ctx context.Context, accountID string) ([]*KnownLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*KnownLocation, 0, len(s.locations[accountID]))
	for _, l := range s.locations[accountID] {
		cp := *l
		if l.Coords != nil {
			c := *l.Coords
			cp.Coords = &c
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) UpsertLocation(ctx context.Context, l *KnownLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locations[l.AccountID] == nil {
		s.locations[l.AccountID] = make(map[string]*KnownLocation)
	}
	cp := *l
	if l.Coords != nil {
		c := *l.Coords
		cp.Coords = &c
	}
	s.locations[l.AccountID][l.Name] = &cp
	return nil
}
