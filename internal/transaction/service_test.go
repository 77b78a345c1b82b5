package transaction

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/moneysq/walletguard/internal/account"
	"github.com/moneysq/walletguard/internal/alert"
	"github.com/moneysq/walletguard/internal/baseline"
	"github.com/moneysq/walletguard/internal/fraud"
)

var testStart = time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

type fixture struct {
	service  *Service
	accounts *account.Service
	store    *MemoryStore
	alerts   *alert.MemoryStore
	updater  *baseline.Updater
	now      time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: testStart}
	clock := func() time.Time { return f.now }

	f.store = NewMemoryStore()
	f.alerts = alert.NewMemoryStore()
	f.accounts = account.NewService(account.NewMemoryStore(), account.WithNow(clock))
	f.updater = baseline.NewUpdater(baseline.NewMemoryStore(), baseline.WithNow(clock))

	engine := fraud.NewEngine(fraud.DefaultRules(900)...)
	recorder := alert.NewRecorder(f.alerts, alert.WithNow(clock))

	f.service = NewService(f.store, f.accounts, f.updater, engine, recorder,
		WithNow(clock),
		WithConfirmationTimeout(60*time.Second))
	return f
}

func (f *fixture) createAccount(t *testing.T, p account.CreateParams) *account.Account {
	t.Helper()
	if p.InitialBalance == 0 {
		p.InitialBalance = 500000 // $5,000
	}
	a, err := f.accounts.Create(context.Background(), p)
	require.NoError(t, err)
	return a
}

func (f *fixture) submit(t *testing.T, req SubmitRequest) (*Transaction, *fraud.Verdict, error) {
	t.Helper()
	return f.service.Submit(context.Background(), req)
}

func debit(accountID string, amount int64) SubmitRequest {
	return SubmitRequest{
		AccountID: accountID,
		Direction: DirectionDebit,
		Recipient: "acct_merchant",
		Amount:    amount,
	}
}

func TestCleanDebitSettles(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{Name: "alice"})

	txn, verdict, err := f.submit(t, debit(a.ID, 2500))
	require.NoError(t, err)
	require.NotNil(t, verdict)

	assert.Equal(t, StatusCompleted, txn.Status)
	assert.Equal(t, 0, verdict.Score)
	assert.Equal(t, fraud.LevelLow, verdict.Level)
	assert.NotNil(t, txn.SettledAt)

	got, err := f.accounts.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500000-2500), got.Balance)
}

func TestSettlementTeachesBaseline(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{Name: "alice"})

	_, _, err := f.submit(t, debit(a.ID, 10000))
	require.NoError(t, err)

	b, err := f.updater.Store().Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.SampleCount)
	assert.Equal(t, int64(10000), b.AvgAmount)
	assert.Equal(t, int64(10000), b.MaxAmount)
}

func TestSettlementLearnsDeviceAndLocation(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{Name: "alice"})

	req := debit(a.ID, 2500)
	req.DeviceFingerprint = "fp-phone-1"
	req.Location = "New York"
	txn, verdict, err := f.submit(t, req)
	require.NoError(t, err)

	// New device + new location score 50, medium risk, no confirm rule.
	assert.Equal(t, 50, verdict.Score)
	assert.Equal(t, fraud.LevelMedium, verdict.Level)
	assert.Equal(t, StatusCompleted, txn.Status)

	devices, err := f.accounts.Devices(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "fp-phone-1", devices[0].Fingerprint)

	locations, err := f.accounts.Locations(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Equal(t, "New York", locations[0].Name)
	require.NotNil(t, locations[0].Coords, "city table coordinates should be attached")

	// Same device and location again: recognized, score drops to zero.
	_, verdict2, err := f.submit(t, req)
	require.NoError(t, err)
	assert.Equal(t, 0, verdict2.Score)
}

func TestOverLimitDebitHeldForConfirmation(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{
		Name:           "alice",
		InitialBalance: 2000000, // $20,000
	})

	// Default per-transaction limit is $10,000.
	txn, verdict, err := f.submit(t, debit(a.ID, 1500000))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, txn.Status)
	assert.Equal(t, 80, verdict.Score)
	assert.Equal(t, fraud.LevelHigh, verdict.Level)
	assert.True(t, txn.RequiresConfirmation)
	require.NotNil(t, txn.ConfirmBy)
	assert.Equal(t, f.now.Add(60*time.Second), *txn.ConfirmBy)

	// Balance untouched while pending.
	got, _ := f.accounts.Get(context.Background(), a.ID)
	assert.Equal(t, int64(2000000), got.Balance)
}

func TestConfirmSettlesPending(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{Name: "alice", InitialBalance: 2000000})

	txn, _, err := f.submit(t, debit(a.ID, 1500000))
	require.NoError(t, err)
	require.Equal(t, StatusPending, txn.Status)

	f.advance(30 * time.Second)
	resolved, err := f.service.Confirm(context.Background(), txn.ID, true)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, resolved.Status)
	assert.NotNil(t, resolved.ConfirmedAt)
	assert.NotNil(t, resolved.SettledAt)

	got, _ := f.accounts.Get(context.Background(), a.ID)
	assert.Equal(t, int64(500000), got.Balance)
}

func TestDeclineCancelsPending(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{Name: "alice", InitialBalance: 2000000})

	txn, _, err := f.submit(t, debit(a.ID, 1500000))
	require.NoError(t, err)

	resolved, err := f.service.Confirm(context.Background(), txn.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, resolved.Status)

	// Cancelled transactions never move money or teach the baseline.
	got, _ := f.accounts.Get(context.Background(), a.ID)
	assert.Equal(t, int64(2000000), got.Balance)
	_, err = f.updater.Store().Get(context.Background(), a.ID)
	assert.ErrorIs(t, err, baseline.ErrNotFound)
}

func TestConfirmAfterDeadlineExpires(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{Name: "alice", InitialBalance: 2000000})

	txn, _, err := f.submit(t, debit(a.ID, 1500000))
	require.NoError(t, err)

	f.advance(61 * time.Second)
	resolved, err := f.service.Confirm(context.Background(), txn.ID, true)
	require.NoError(t, err)

	assert.Equal(t, StatusBlocked, resolved.Status)
	assert.Equal(t, "confirmation_timeout", resolved.BlockedReason)

	got, _ := f.accounts.Get(context.Background(), a.ID)
	assert.Equal(t, account.StatusFrozen, got.EffectiveStatus(f.now))
	assert.Equal(t, int64(2000000), got.Balance)
}

func TestConfirmTerminalReturnsRecordUnchanged(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{Name: "alice", InitialBalance: 2000000})

	txn, _, err := f.submit(t, debit(a.ID, 1500000))
	require.NoError(t, err)
	_, err = f.service.Confirm(context.Background(), txn.ID, true)
	require.NoError(t, err)

	// Second confirm, and a decline, both return the settled record.
	again, err := f.service.Confirm(context.Background(), txn.ID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, again.Status)

	declined, err := f.service.Confirm(context.Background(), txn.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, declined.Status)

	got, _ := f.accounts.Get(context.Background(), a.ID)
	assert.Equal(t, int64(500000), got.Balance, "balance debited exactly once")
}

func TestOnePendingPerAccount(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{Name: "alice", InitialBalance: 4000000})

	first, _, err := f.submit(t, debit(a.ID, 1500000))
	require.NoError(t, err)
	require.Equal(t, StatusPending, first.Status)

	_, _, err = f.submit(t, debit(a.ID, 2500))
	assert.ErrorIs(t, err, ErrConfirmationPending)

	// Resolving the pending one unblocks the account.
	_, err = f.service.Confirm(context.Background(), first.ID, false)
	require.NoError(t, err)
	txn, _, err := f.submit(t, debit(a.ID, 2500))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, txn.Status)
}

func TestHardVelocityBlocksAndFreezes(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{
		Name:            "rapid",
		SoftVelocityMax: 10, // keep the soft rule quiet
		HardVelocityMax: 5,
	})

	for i := 0; i < 5; i++ {
		txn, _, err := f.submit(t, debit(a.ID, 1000))
		require.NoError(t, err)
		require.Equal(t, StatusCompleted, txn.Status, "burst transaction %d", i)
		f.advance(10 * time.Second)
	}

	txn, verdict, err := f.submit(t, debit(a.ID, 1000))
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, txn.Status)
	assert.Equal(t, string(fraud.RuleHighVelocity), txn.BlockedReason)
	assert.Equal(t, 100, verdict.Score)
	assert.Equal(t, fraud.OutcomeBlock, verdict.Outcome)

	got, _ := f.accounts.Get(context.Background(), a.ID)
	assert.Equal(t, account.StatusFrozen, got.EffectiveStatus(f.now))

	// Blocked transactions don't move money.
	assert.Equal(t, int64(500000-5*1000), got.Balance)
}

func TestSoftVelocityHoldsForConfirmation(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{Name: "busy"})

	// Default soft cap is 3: three settled debits, then the fourth is held.
	for i := 0; i < 3; i++ {
		txn, _, err := f.submit(t, debit(a.ID, 1000))
		require.NoError(t, err)
		require.Equal(t, StatusCompleted, txn.Status)
		f.advance(time.Minute)
	}

	txn, verdict, err := f.submit(t, debit(a.ID, 1000))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, txn.Status)
	assert.Equal(t, 85, verdict.Score)
	assert.Contains(t, txn.RiskFactors, string(fraud.RuleHighVelocity))
}

func TestFreezeResetsVelocityCount(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{
		Name:            "burst",
		SoftVelocityMax: 6,
		HardVelocityMax: 8,
		FreezeDuration:  2 * time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := f.submit(t, debit(a.ID, 1000))
		require.NoError(t, err)
	}

	f.advance(time.Minute)
	_, err := f.accounts.Freeze(ctx, a.ID, 0, "manual_freeze")
	require.NoError(t, err)
	_, err = f.accounts.Unfreeze(ctx, a.ID)
	require.NoError(t, err)

	// Past the freeze expiry but still inside the 10-minute window the
	// earlier burst would otherwise count in.
	f.advance(3 * time.Minute)
	txn, verdict, err := f.submit(t, debit(a.ID, 1000))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, txn.Status)
	assert.Empty(t, verdict.Hits, "pre-freeze activity should not count")
}

func TestUnfreezeBeforeExpiryKeepsVelocityCounting(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{
		Name:            "rapid",
		SoftVelocityMax: 10,
		HardVelocityMax: 5,
	})
	ctx := context.Background()

	_, err := f.accounts.Freeze(ctx, a.ID, 30*time.Minute, "manual_freeze")
	require.NoError(t, err)
	_, err = f.accounts.Unfreeze(ctx, a.ID)
	require.NoError(t, err)

	// FreezeUntil still sits 30 minutes out after the manual unfreeze.
	// A burst right now must count against the window anyway.
	for i := 0; i < 5; i++ {
		txn, _, err := f.submit(t, debit(a.ID, 1000))
		require.NoError(t, err)
		require.Equal(t, StatusCompleted, txn.Status, "burst transaction %d", i)
		f.advance(5 * time.Second)
	}

	txn, verdict, err := f.submit(t, debit(a.ID, 1000))
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, txn.Status)
	assert.Equal(t, string(fraud.RuleHighVelocity), txn.BlockedReason)
	assert.Equal(t, 100, verdict.Score)
}

func TestFrozenAccountRejectsDebits(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{Name: "alice"})
	ctx := context.Background()

	_, err := f.accounts.Freeze(ctx, a.ID, 10*time.Minute, "manual_freeze")
	require.NoError(t, err)

	_, _, err = f.submit(t, debit(a.ID, 2500))
	assert.ErrorIs(t, err, account.ErrFrozen)
}

func TestCreditSettlesWhileFrozen(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{Name: "alice"})
	ctx := context.Background()

	_, err := f.accounts.Freeze(ctx, a.ID, 10*time.Minute, "manual_freeze")
	require.NoError(t, err)

	txn, verdict, err := f.submit(t, SubmitRequest{
		AccountID: a.ID,
		Direction: DirectionCredit,
		Amount:    30000,
	})
	require.NoError(t, err)
	assert.Nil(t, verdict, "credits are not scored")
	assert.Equal(t, StatusCompleted, txn.Status)

	got, _ := f.accounts.Get(ctx, a.ID)
	assert.Equal(t, int64(530000), got.Balance)
}

func TestInsufficientBalanceBlocksSettlement(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{Name: "broke", InitialBalance: 1000})

	txn, _, err := f.submit(t, debit(a.ID, 5000))
	assert.ErrorIs(t, err, account.ErrInsufficientBalance)
	require.NotNil(t, txn)
	assert.Equal(t, StatusBlocked, txn.Status)
	assert.Equal(t, "insufficient_balance", txn.BlockedReason)

	got, _ := f.accounts.Get(context.Background(), a.ID)
	assert.Equal(t, int64(1000), got.Balance)
}

func TestInsufficientBalanceAtConfirmTime(t *testing.T) {
	f := newFixture(t)
	// Enough room for the limit breach to be the only problem at submit
	// time, but not enough to actually cover it.
	a := f.createAccount(t, account.CreateParams{Name: "alice", InitialBalance: 1200000})

	txn, _, err := f.submit(t, debit(a.ID, 1500000))
	require.NoError(t, err)
	require.Equal(t, StatusPending, txn.Status)

	resolved, err := f.service.Confirm(context.Background(), txn.ID, true)
	assert.ErrorIs(t, err, account.ErrInsufficientBalance)
	require.NotNil(t, resolved)
	assert.Equal(t, StatusBlocked, resolved.Status)
	assert.Equal(t, "insufficient_balance", resolved.BlockedReason)
}

func TestAlertsRecordedPerTriggeredRule(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{Name: "alice", InitialBalance: 2000000})

	req := debit(a.ID, 1500000)
	req.DeviceFingerprint = "fp-new"
	_, _, err := f.submit(t, req)
	require.NoError(t, err)

	alerts := f.alerts.All()
	require.Len(t, alerts, 2)
	types := []string{alerts[0].Type, alerts[1].Type}
	assert.Contains(t, types, string(fraud.RuleExceedsLimit))
	assert.Contains(t, types, string(fraud.RuleNewDevice))
}

func TestAutoFreezeRecordsCriticalAlert(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{
		Name:            "rapid",
		SoftVelocityMax: 10,
		HardVelocityMax: 3,
	})

	for i := 0; i < 3; i++ {
		_, _, err := f.submit(t, debit(a.ID, 1000))
		require.NoError(t, err)
	}
	_, _, err := f.submit(t, debit(a.ID, 1000))
	require.NoError(t, err)

	var freezeAlert *alert.Alert
	for _, al := range f.alerts.All() {
		if al.Type == alert.TypeAutoFreeze {
			freezeAlert = al
		}
	}
	require.NotNil(t, freezeAlert)
	assert.Equal(t, alert.SeverityCritical, freezeAlert.Severity)
	assert.Equal(t, a.ID, freezeAlert.AccountID)
}

func TestValidation(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{Name: "alice"})

	cases := []struct {
		name  string
		req   SubmitRequest
		field string
	}{
		{"zero amount", SubmitRequest{AccountID: a.ID, Direction: DirectionDebit, Recipient: "x", Amount: 0}, "amount"},
		{"negative amount", SubmitRequest{AccountID: a.ID, Direction: DirectionDebit, Recipient: "x", Amount: -5}, "amount"},
		{"debit without recipient", SubmitRequest{AccountID: a.ID, Direction: DirectionDebit, Amount: 100}, "recipient"},
		{"bad direction", SubmitRequest{AccountID: a.ID, Direction: "sideways", Recipient: "x", Amount: 100}, "direction"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.submit(t, tc.req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestUnknownAccount(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.submit(t, debit("acct_missing", 100))
	assert.ErrorIs(t, err, account.ErrNotFound)
}

func TestHistoryNewestFirst(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{Name: "alice"})

	var ids []string
	for i := 0; i < 3; i++ {
		txn, _, err := f.submit(t, debit(a.ID, int64(1000+i)))
		require.NoError(t, err)
		ids = append(ids, txn.ID)
		f.advance(time.Minute)
	}

	history, err := f.service.History(context.Background(), a.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ids[2], history[0].ID)
	assert.Equal(t, ids[0], history[2].ID)
}

func TestNotifierReceivesEvents(t *testing.T) {
	f := newFixture(t)
	n := &captureNotifier{}
	f.service.notifier = n
	a := f.createAccount(t, account.CreateParams{
		Name:            "rapid",
		SoftVelocityMax: 10,
		HardVelocityMax: 1,
	})

	_, _, err := f.submit(t, debit(a.ID, 1000))
	require.NoError(t, err)
	_, _, err = f.submit(t, debit(a.ID, 1000))
	require.NoError(t, err)

	require.Len(t, n.txns, 2)
	assert.Equal(t, StatusCompleted, n.txns[0].Status)
	assert.Equal(t, StatusBlocked, n.txns[1].Status)
	require.Len(t, n.freezes, 1)
	assert.Equal(t, a.ID, n.freezes[0])
}

type captureNotifier struct {
	txns    []*Transaction
	freezes []string
}

func (n *captureNotifier) TransactionEvent(t *Transaction) { n.txns = append(n.txns, t) }
func (n *captureNotifier) FreezeEvent(accountID string, _ time.Time) {
	n.freezes = append(n.freezes, accountID)
}

type contextFailStore struct {
	*MemoryStore
}

func (s *contextFailStore) CountActiveSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	return 0, fmt.Errorf("store offline")
}

func TestContextLoadFailureBlocksSubmission(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{Name: "alice"})
	f.service.store = &contextFailStore{MemoryStore: f.store}

	txn, verdict, err := f.submit(t, debit(a.ID, 2500))
	require.NoError(t, err)
	assert.Nil(t, verdict, "no verdict without full context")
	assert.Equal(t, StatusBlocked, txn.Status)
	assert.Equal(t, "context_unavailable", txn.BlockedReason)

	got, _ := f.accounts.Get(context.Background(), a.ID)
	assert.Equal(t, int64(500000), got.Balance, "no money moves unscored")
}

func TestSubmitAndConfirmEmitSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{Name: "alice", InitialBalance: 2000000})

	txn, _, err := f.submit(t, debit(a.ID, 1500000))
	require.NoError(t, err)
	_, err = f.service.Confirm(context.Background(), txn.ID, true)
	require.NoError(t, err)
	_, err = f.service.OnTimeout(context.Background(), txn.ID)
	require.NoError(t, err)

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "transaction.Submit")
	assert.Contains(t, names, "transaction.Confirm")
	assert.Contains(t, names, "transaction.OnTimeout")
}

func TestConcurrentSubmitsSerializePerAccount(t *testing.T) {
	f := newFixture(t)
	a := f.createAccount(t, account.CreateParams{
		Name:            "contended",
		InitialBalance:  100000,
		SoftVelocityMax: 100,
		HardVelocityMax: 100,
	})

	const workers = 10
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			_, _, err := f.service.Submit(context.Background(), SubmitRequest{
				AccountID: a.ID,
				Direction: DirectionDebit,
				Recipient: fmt.Sprintf("acct_merchant_%d", i),
				Amount:    10000,
			})
			errs <- err
		}(i)
	}
	for i := 0; i < workers; i++ {
		require.NoError(t, <-errs)
	}

	got, _ := f.accounts.Get(context.Background(), a.ID)
	assert.Equal(t, int64(0), got.Balance)
}
