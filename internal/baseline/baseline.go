// Package baseline maintains per-account behavioral profiles learned from
// settled transactions. The fraud engine compares each new transaction to
// the account's baseline; accounts with no history evaluate against a
// conservative default so the first transactions are never judged by
// another account's habits.
package baseline

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no baseline exists for an account.
var ErrNotFound = errors.New("baseline not found")

// BehaviorBaseline is the learned spending profile for one account.
// Monetary fields are in cents.
type BehaviorBaseline struct {
	AccountID        string    `json:"accountId"`
	AvgAmount        int64     `json:"avgAmount"`
	MaxAmount        int64     `json:"maxAmount"`
	TypicalDailyCount float64   `json:"typicalDailyCount"`
	ActiveHourStart  int       `json:"activeHourStart"` // inclusive
	ActiveHourEnd    int       `json:"activeHourEnd"`   // exclusive
	AvgTxnsPer10Min  float64   `json:"avgTxnsPer10Min"`
	SampleCount      int64     `json:"sampleCount"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Default returns the baseline used for accounts with no settled history.
// Deliberately conservative: zero average amount means any sizable first
// transaction reads as a deviation worth a closer look.
func Default(accountID string) *BehaviorBaseline {
	return &BehaviorBaseline{
		AccountID:       accountID,
		AvgAmount:       0,
		MaxAmount:       0,
		TypicalDailyCount: 0,
		ActiveHourStart: 9,
		ActiveHourEnd:   21,
		AvgTxnsPer10Min: 1.0,
		SampleCount:     0,
	}
}

// Sample is one settled transaction observation used for recomputation.
type Sample struct {
	AccountID string
	Amount    int64
	At        time.Time
}

// SampleSource supplies settled transaction history for full recomputes.
// Implemented by the transaction store.
type SampleSource interface {
	ListSettledSince(ctx context.Context, since time.Time) ([]Sample, error)
}

// Store persists behavioral baselines.
type Store interface {
	Get(ctx context.Context, accountID string) (*BehaviorBaseline, error)
	Save(ctx context.Context, b *BehaviorBaseline) error
	SaveBatch(ctx context.Context, batch []*BehaviorBaseline) error
	GetAll(ctx context.Context) ([]*BehaviorBaseline, error)
}
