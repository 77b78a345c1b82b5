package transaction

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/moneysq/walletguard/internal/baseline"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*Transaction
	// Insertion order per account, oldest first.
	byAccount map[string][]string
}

// NewMemoryStore creates an in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*Transaction),
		byAccount: make(map[string][]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, t *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyTxn(t)
	s.byID[t.ID] = cp
	s.byAccount[t.AccountID] = append(s.byAccount[t.AccountID], t.ID)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTxn(t), nil
}

func (s *MemoryStore) Update(ctx context.Context, t *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[t.ID]; !ok {
		return ErrNotFound
	}
	s.byID[t.ID] = copyTxn(t)
	return nil
}

func (s *MemoryStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	ids := s.byAccount[accountID]
	result := make([]*Transaction, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, copyTxn(s.byID[ids[i]]))
	}
	return result, nil
}

func (s *MemoryStore) CountActiveSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, id := range s.byAccount[accountID] {
		t := s.byID[id]
		if t.Direction != DirectionDebit {
			continue
		}
		if t.Status != StatusPending && t.Status != StatusCompleted {
			continue
		}
		if t.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) PendingByAccount(ctx context.Context, accountID string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.byAccount[accountID] {
		t := s.byID[id]
		if t.Status == StatusPending {
			return copyTxn(t), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) LastCompletedLocation(ctx context.Context, accountID string) (string, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byAccount[accountID]
	for i := len(ids) - 1; i >= 0; i-- {
		t := s.byID[ids[i]]
		if t.Status == StatusCompleted && t.Location != "" && t.SettledAt != nil {
			return t.Location, *t.SettledAt, nil
		}
	}
	return "", time.Time{}, ErrNotFound
}

func (s *MemoryStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	var result []*Transaction
	for _, t := range s.byID {
		if t.Status == StatusPending && t.ConfirmBy != nil && now.After(*t.ConfirmBy) {
			result = append(result, copyTxn(t))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ConfirmBy.Before(*result[j].ConfirmBy)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) ListSettledSince(ctx context.Context, since time.Time) ([]baseline.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var samples []baseline.Sample
	for _, t := range s.byID {
		if t.Direction != DirectionDebit || t.Status != StatusCompleted || t.SettledAt == nil {
			continue
		}
		if t.SettledAt.Before(since) {
			continue
		}
		samples = append(samples, baseline.Sample{
			AccountID: t.AccountID,
			Amount:    t.Amount,
			At:        *t.SettledAt,
		})
	}
	return samples, nil
}

func copyTxn(t *Transaction) *Transaction {
	cp := *t
	if t.ConfirmBy != nil {
		v := *t.ConfirmBy
		cp.ConfirmBy = &v
	}
	if t.ConfirmedAt != nil {
		v := *t.ConfirmedAt
		cp.ConfirmedAt = &v
	}
	if t.SettledAt != nil {
		v := *t.SettledAt
		cp.SettledAt = &v
	}
	if t.RiskFactors != nil {
		cp.RiskFactors = append([]string(nil), t.RiskFactors...)
	}
	return &cp
}
