package alert

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts []*Alert
	byID   map[string]*Alert
}

// NewMemoryStore creates an in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Alert)}
}

func (s *MemoryStore) Create(ctx context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts = append(s.alerts, &cp)
	s.byID[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListByAccount(ctx context.Context, accountID string, unresolvedOnly bool, limit int) ([]*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}

	var result []*Alert
	for i := len(s.alerts) - 1; i >= 0 && len(result) < limit; i-- {
		a := s.alerts[i]
		if a.AccountID != accountID {
			continue
		}
		if unresolvedOnly && a.Resolved {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}
	return result, nil
}

func (s *MemoryStore) Resolve(ctx context.Context, id string, at time.Time) (*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !a.Resolved {
		a.Resolved = true
		t := at
		a.ResolvedAt = &t
	}
	cp := *a
	return &cp, nil
}

// All returns every stored alert (for testing).
func (s *MemoryStore) All() []*Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Alert, len(s.alerts))
	copy(result, s.alerts)
	return result
}
