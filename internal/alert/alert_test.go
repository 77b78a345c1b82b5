package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityMapping(t *testing.T) {
	assert.Equal(t, SeverityCritical, SeverityFor("impossible_travel"))
	assert.Equal(t, SeverityCritical, SeverityFor(TypeAutoFreeze))
	assert.Equal(t, SeverityHigh, SeverityFor("exceeds_limit"))
	assert.Equal(t, SeverityHigh, SeverityFor("high_velocity"))
	assert.Equal(t, SeverityHigh, SeverityFor("new_device"))
	assert.Equal(t, SeverityHigh, SeverityFor("new_location"))
	assert.Equal(t, SeverityMedium, SeverityFor("high_amount"))
	assert.Equal(t, SeverityMedium, SeverityFor("unusual_hour"))
	assert.Equal(t, SeverityMedium, SeverityFor(TypeManualFreeze))
	assert.Equal(t, SeverityMedium, SeverityFor("something_future"))
}

func TestRecorderFillsFields(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := NewRecorder(store, WithNow(func() time.Time { return now }))

	a := rec.Record(context.Background(), "acct_1", "txn_1", "impossible_travel", "too fast", 90)

	require.NotEmpty(t, a.ID)
	assert.Equal(t, SeverityCritical, a.Severity)
	assert.Equal(t, 90, a.Score)
	assert.Equal(t, now, a.CreatedAt)
	assert.False(t, a.Resolved)

	stored := store.All()
	require.Len(t, stored, 1)
	assert.Equal(t, a.ID, stored[0].ID)
}

func TestRecordFreeze(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store)
	until := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)

	auto := rec.RecordFreeze(context.Background(), "acct_1", "txn_1", false, until)
	assert.Equal(t, TypeAutoFreeze, auto.Type)
	assert.Equal(t, SeverityCritical, auto.Severity)

	manual := rec.RecordFreeze(context.Background(), "acct_1", "", true, until)
	assert.Equal(t, TypeManualFreeze, manual.Type)
	assert.Equal(t, SeverityMedium, manual.Severity)
}

func TestResolveIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store)
	ctx := context.Background()

	a := rec.Record(ctx, "acct_1", "txn_1", "high_amount", "4x average", 40)

	t1 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	resolved, err := store.Resolve(ctx, a.ID, t1)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, t1, *resolved.ResolvedAt)

	// Second resolve keeps the original timestamp.
	again, err := store.Resolve(ctx, a.ID, t1.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, t1, *again.ResolvedAt)

	_, err = store.Resolve(ctx, "alert_missing", t1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByAccountFilters(t *testing.T) {
	store := NewMemoryStore()
	rec := NewRecorder(store)
	ctx := context.Background()

	a1 := rec.Record(ctx, "acct_1", "txn_1", "new_device", "", 25)
	rec.Record(ctx, "acct_1", "txn_2", "unusual_hour", "", 20)
	rec.Record(ctx, "acct_2", "txn_3", "high_amount", "", 40)

	_, err := store.Resolve(ctx, a1.ID, time.Now())
	require.NoError(t, err)

	all, err := store.ListByAccount(ctx, "acct_1", false, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	open, err := store.ListByAccount(ctx, "acct_1", true, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "unusual_hour", open[0].Type)
}
