package baseline

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu        sync.RWMutex
	baselines map[string]*BehaviorBaseline
}

// NewMemoryStore creates an in-memory baseline store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{baselines: make(map[string]*BehaviorBaseline)}
}

func (s *MemoryStore) Get(ctx context.Context, accountID string) (*BehaviorBaseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.baselines[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) Save(ctx context.Context, b *BehaviorBaseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.baselines[b.AccountID] = &cp
	return nil
}

func (s *MemoryStore) SaveBatch(ctx context.Context, batch []*BehaviorBaseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range batch {
		cp := *b
		s.baselines[b.AccountID] = &cp
	}
	return nil
}

func (s *MemoryStore) GetAll(ctx context.Context) ([]*BehaviorBaseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*BehaviorBaseline, 0, len(s.baselines))
	for _, b := range s.baselines {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}
