package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically sweeps for pending transactions whose confirmation
// window has elapsed and expires them. It is a backstop: a late Confirm
// call performs the same transition itself, so the sweep only has to catch
// transactions nobody ever came back for.
type Timer struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
	nowFn    func() time.Time
}

// NewTimer creates a confirmation-timeout sweep timer.
func NewTimer(service *Service, store Store, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		store:    store,
		interval: 10 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
		nowFn:    time.Now,
	}
}

// Running reports whether the sweep loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeExpirePending(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeExpirePending(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in confirmation sweep", "panic", fmt.Sprint(r))
		}
	}()
	t.expirePending(ctx)
}

func (t *Timer) expirePending(ctx context.Context) {
	now := t.nowFn()

	expired, err := t.store.ListExpiredPending(ctx, now, 100)
	if err != nil {
		t.logger.Warn("failed to list expired pending transactions", "error", err)
		return
	}

	for _, txn := range expired {
		resolved, err := t.service.OnTimeout(ctx, txn.ID)
		if err != nil {
			t.logger.Warn("failed to expire pending transaction",
				"transaction", txn.ID, "error", err)
			continue
		}
		// OnTimeout re-checks under the account lock; a racing confirm may
		// have already resolved it.
		if resolved.Status == StatusBlocked && resolved.BlockedReason == "confirmation_timeout" {
			t.logger.Info("expired unconfirmed transaction",
				"transaction", txn.ID, "account", txn.AccountID, "amount", txn.Amount)
		}
	}
}
