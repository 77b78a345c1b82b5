package baseline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

const (
	recomputeHistoryDays = 30
	recomputeMinSamples  = 10
)

// RecomputeTimer periodically rebuilds the slow-moving baseline fields
// (active hours, daily counts, 10-minute velocity) from full settled
// history. The incremental Updater path keeps averages fresh between runs;
// this worker corrects the fields an incremental mean cannot maintain.
type RecomputeTimer struct {
	store    Store
	source   SampleSource
	logger   *slog.Logger
	interval time.Duration
	stop     chan struct{}
	running  atomic.Bool
	nowFn    func() time.Time
}

// NewRecomputeTimer creates an hourly baseline recomputation worker.
func NewRecomputeTimer(store Store, source SampleSource, logger *slog.Logger) *RecomputeTimer {
	return &RecomputeTimer{
		store:    store,
		source:   source,
		logger:   logger,
		interval: 1 * time.Hour,
		stop:     make(chan struct{}),
		nowFn:    time.Now,
	}
}

// Running reports whether the timer loop is active.
func (t *RecomputeTimer) Running() bool {
	return t.running.Load()
}

// Start runs the recompute loop until ctx is cancelled or Stop is called.
func (t *RecomputeTimer) Start(ctx context.Context) {
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
			t.safeDoWork(ctx, t.Recompute)
		}
	}
}

// Stop signals the timer to stop.
func (t *RecomputeTimer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *RecomputeTimer) safeDoWork(ctx context.Context, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in baseline recompute", "panic", fmt.Sprint(r))
		}
	}()
	fn(ctx)
}

// Recompute rebuilds baselines for every account with enough settled
// history in the retention window. Accounts below the sample floor keep
// their incrementally-updated baseline untouched.
func (t *RecomputeTimer) Recompute(ctx context.Context) {
	since := t.nowFn().Add(-recomputeHistoryDays * 24 * time.Hour)
	samples, err := t.source.ListSettledSince(ctx, since)
	if err != nil {
		t.logger.Error("baseline recompute: failed to load history", "error", err)
		return
	}

	byAccount := make(map[string][]Sample)
	for _, s := range samples {
		byAccount[s.AccountID] = append(byAccount[s.AccountID], s)
	}

	var batch []*BehaviorBaseline
	for accountID, hist := range byAccount {
		if len(hist) < recomputeMinSamples {
			continue
		}
		batch = append(batch, t.computeOne(accountID, hist))
	}
	if len(batch) == 0 {
		return
	}

	if err := t.store.SaveBatch(ctx, batch); err != nil {
		t.logger.Error("baseline recompute: failed to save batch", "error", err)
		return
	}
	t.logger.Info("baselines recomputed", "accounts", len(batch))
}

func (t *RecomputeTimer) computeOne(accountID string, hist []Sample) *BehaviorBaseline {
	var sum, maxAmount int64
	hourStart, hourEnd := 24, 0
	days := make(map[string]int)
	buckets := make(map[int64]int)

	for _, s := range hist {
		sum += s.Amount
		if s.Amount > maxAmount {
			maxAmount = s.Amount
		}
		h := s.At.UTC().Hour()
		if h < hourStart {
			hourStart = h
		}
		if h+1 > hourEnd {
			hourEnd = h + 1
		}
		days[s.At.UTC().Format("2006-01-02")]++
		buckets[s.At.Unix()/600]++
	}

	var dailyTotal int
	for _, c := range days {
		dailyTotal += c
	}
	var bucketTotal int
	for _, c := range buckets {
		bucketTotal += c
	}

	b := &BehaviorBaseline{
		AccountID:         accountID,
		AvgAmount:         sum / int64(len(hist)),
		MaxAmount:         maxAmount,
		TypicalDailyCount: float64(dailyTotal) / float64(len(days)),
		ActiveHourStart:   hourStart,
		ActiveHourEnd:     hourEnd,
		AvgTxnsPer10Min:   math.Max(1.0, float64(bucketTotal)/float64(len(buckets))),
		SampleCount:       int64(len(hist)),
		UpdatedAt:         t.nowFn(),
	}
	return b
}
