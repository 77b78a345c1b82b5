package baseline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Updater applies incremental baseline updates as transactions settle.
// Full-history recomputes (active hours, daily counts) run separately in
// the RecomputeTimer; the incremental path only maintains the running
// average, max, and sample count so reads stay cheap on the hot path.
type Updater struct {
	store  Store
	logger *slog.Logger
	nowFn  func() time.Time
}

// UpdaterOption configures the Updater.
type UpdaterOption func(*Updater)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) UpdaterOption {
	return func(u *Updater) { u.logger = l }
}

// WithNow overrides the clock for tests.
func WithNow(fn func() time.Time) UpdaterOption {
	return func(u *Updater) { u.nowFn = fn }
}

// NewUpdater creates a baseline updater backed by the given store.
func NewUpdater(store Store, opts ...UpdaterOption) *Updater {
	u := &Updater{
		store:  store,
		logger: slog.Default(),
		nowFn:  time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Get returns the account's baseline, or the conservative default when the
// account has no settled history yet.
func (u *Updater) Get(ctx context.Context, accountID string) (*BehaviorBaseline, error) {
	b, err := u.store.Get(ctx, accountID)
	if err == ErrNotFound {
		return Default(accountID), nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Observe folds one settled transaction into the account's baseline using
// an incremental mean:
//
//	avg' = avg + (amount - avg) / (n+1)
//
// with the division rounded to the nearest cent.
//
// Only settled transactions reach here. Blocked and cancelled transactions
// must never teach the baseline, or an attacker could normalize fraud by
// submitting it repeatedly.
func (u *Updater) Observe(ctx context.Context, accountID string, amount int64, at time.Time) error {
	b, err := u.store.Get(ctx, accountID)
	if err == ErrNotFound {
		b = Default(accountID)
	} else if err != nil {
		return fmt.Errorf("load baseline: %w", err)
	}

	n := b.SampleCount
	b.AvgAmount = b.AvgAmount + divRound(amount-b.AvgAmount, n+1)
	if amount > b.MaxAmount {
		b.MaxAmount = amount
	}
	b.SampleCount = n + 1
	b.UpdatedAt = u.nowFn()

	if err := u.store.Save(ctx, b); err != nil {
		return fmt.Errorf("save baseline: %w", err)
	}
	u.logger.Debug("baseline updated",
		"account", accountID, "samples", b.SampleCount, "avg", b.AvgAmount)
	return nil
}

// divRound divides rounding half away from zero. Integer truncation would
// bias the running average low by up to a cent per sample; rounding keeps
// it within half a cent of the true mean at every step.
func divRound(num, den int64) int64 {
	if num < 0 {
		return -((-num + den/2) / den)
	}
	return (num + den/2) / den
}

// Store exposes the underlying store for the recompute timer.
func (u *Updater) Store() Store { return u.store }
