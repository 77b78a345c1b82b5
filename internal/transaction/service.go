package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/moneysq/walletguard/internal/account"
	"github.com/moneysq/walletguard/internal/alert"
	"github.com/moneysq/walletguard/internal/baseline"
	"github.com/moneysq/walletguard/internal/fraud"
	"github.com/moneysq/walletguard/internal/geo"
	"github.com/moneysq/walletguard/internal/idgen"
	"github.com/moneysq/walletguard/internal/metrics"
	"github.com/moneysq/walletguard/internal/money"
	"github.com/moneysq/walletguard/internal/syncutil"
	"github.com/moneysq/walletguard/internal/traces"
)

// velocityWindow is the trailing window the velocity rules count over.
const velocityWindow = 10 * time.Minute

// Notifier receives lifecycle events for live streaming. All methods must
// be non-blocking.
type Notifier interface {
	TransactionEvent(t *Transaction)
	FreezeEvent(accountID string, until time.Time)
}

// Service drives the confirmation state machine. Per-account serialization
// is mandatory here: the read-count/decide/mutate sequence must be atomic
// per account, so every entry point takes the account's context mutex
// first. Requests for different accounts proceed in parallel.
type Service struct {
	store     Store
	accounts  *account.Service
	baselines *baseline.Updater
	engine    *fraud.Engine
	alerts    *alert.Recorder

	locks    *syncutil.ContextShardedMutex
	logger   *slog.Logger
	nowFn    func() time.Time
	notifier Notifier

	confirmationTimeout time.Duration
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithNow overrides the clock. Tests use this to drive deadlines.
func WithNow(fn func() time.Time) Option {
	return func(s *Service) { s.nowFn = fn }
}

// WithConfirmationTimeout sets the pending-confirmation window.
func WithConfirmationTimeout(d time.Duration) Option {
	return func(s *Service) { s.confirmationTimeout = d }
}

// WithNotifier wires a live event sink.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService creates the transaction service.
func NewService(store Store, accounts *account.Service, baselines *baseline.Updater,
	engine *fraud.Engine, alerts *alert.Recorder, opts ...Option) *Service {
	s := &Service{
		store:               store,
		accounts:            accounts,
		baselines:           baselines,
		engine:              engine,
		alerts:              alerts,
		locks:               syncutil.NewContextShardedMutex(),
		logger:              slog.Default(),
		nowFn:               time.Now,
		confirmationTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitRequest is one transfer attempt.
type SubmitRequest struct {
	AccountID         string
	Direction         Direction
	Recipient         string
	Amount            int64 // cents
	DeviceFingerprint string
	Location          string
}

// Submit runs a transaction through scoring and returns it in its first
// resolved state: completed, pending confirmation, or blocked.
//
// Failures while gathering scoring state fail closed: the transaction is
// recorded as blocked rather than settling unscored.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Transaction, *fraud.Verdict, error) {
	ctx, span := traces.StartSpan(ctx, "transaction.Submit",
		traces.AccountID(req.AccountID), traces.Amount(money.Format(req.Amount)))
	defer span.End()

	if err := validate(req); err != nil {
		return nil, nil, err
	}

	unlock, err := s.locks.LockContext(ctx, req.AccountID)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire account lock: %w", err)
	}
	defer unlock()

	acct, err := s.accounts.Get(ctx, req.AccountID)
	if err != nil {
		return nil, nil, err
	}
	now := s.nowFn()

	// Credits are not scored and a freeze does not stop money arriving.
	if req.Direction == DirectionCredit {
		txn, err := s.settleCredit(ctx, acct, req, now)
		return txn, nil, err
	}

	if acct.EffectiveStatus(now) == account.StatusFrozen {
		return nil, nil, account.ErrFrozen
	}

	// One pending confirmation per account; reject, don't queue.
	if _, err := s.store.PendingByAccount(ctx, req.AccountID); err == nil {
		return nil, nil, ErrConfirmationPending
	} else if !errors.Is(err, ErrNotFound) {
		return nil, nil, fmt.Errorf("check pending transaction: %w", err)
	}

	ec, err := s.buildContext(ctx, acct, req, now)
	if err != nil {
		span.RecordError(err)
		return s.blockUnscored(ctx, req, now, err)
	}
	verdict := s.engine.Evaluate(ec)
	metrics.RecordVerdict(string(verdict.Level), string(verdict.Outcome))
	span.SetAttributes(traces.RiskScore(verdict.Score), traces.RiskLevel(string(verdict.Level)))

	txn := &Transaction{
		ID:                   idgen.WithPrefix("txn_"),
		AccountID:            req.AccountID,
		Direction:            DirectionDebit,
		Recipient:            req.Recipient,
		Amount:               req.Amount,
		DeviceFingerprint:    req.DeviceFingerprint,
		Location:             req.Location,
		AnomalyScore:         verdict.Score,
		RiskLevel:            string(verdict.Level),
		RiskFactors:          factorList(verdict),
		RequiresConfirmation: verdict.RequiresConfirmation,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	switch verdict.Outcome {
	case fraud.OutcomeBlock:
		txn.Status = StatusBlocked
		txn.BlockedReason = string(verdict.BlockRule)
		if err := s.store.Create(ctx, txn); err != nil {
			return nil, nil, fmt.Errorf("persist blocked transaction: %w", err)
		}
		s.autoFreeze(ctx, acct, txn)

	case fraud.OutcomeConfirm:
		deadline := now.Add(s.confirmationTimeout)
		txn.Status = StatusPending
		txn.ConfirmBy = &deadline
		if err := s.store.Create(ctx, txn); err != nil {
			return nil, nil, fmt.Errorf("persist pending transaction: %w", err)
		}
		metrics.PendingConfirmations.Inc()

	default:
		if err := s.settleDebit(ctx, txn, now); err != nil {
			return txn, verdict, err
		}
	}

	span.SetAttributes(traces.TransactionID(txn.ID))
	s.recordHits(ctx, txn, verdict)
	s.notify(txn)
	s.logger.Info("transaction scored",
		"transaction", txn.ID, "account", txn.AccountID,
		"amount", txn.Amount, "score", verdict.Score,
		"level", verdict.Level, "status", txn.Status)
	return txn, verdict, nil
}

// Confirm resolves a pending transaction. confirmed=true settles it,
// confirmed=false cancels it. Resolving an already-terminal transaction
// returns the existing record unchanged.
//
// A confirm that arrives after the deadline is treated as the timeout the
// sweep hasn't processed yet: the transaction blocks and the account
// freezes, regardless of the confirmed flag.
func (s *Service) Confirm(ctx context.Context, id string, confirmed bool) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "transaction.Confirm", traces.TransactionID(id))
	defer span.End()

	txn, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.LockContext(ctx, txn.AccountID)
	if err != nil {
		return nil, fmt.Errorf("acquire account lock: %w", err)
	}
	defer unlock()

	// Re-read under the lock; a racing resolution may have won.
	txn, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status.IsTerminal() {
		return txn, nil
	}

	now := s.nowFn()
	if txn.ConfirmBy != nil && now.After(*txn.ConfirmBy) {
		return s.expire(ctx, txn, now)
	}

	if !confirmed {
		txn.Status = StatusCancelled
		txn.UpdatedAt = now
		if err := s.store.Update(ctx, txn); err != nil {
			return nil, fmt.Errorf("cancel transaction: %w", err)
		}
		metrics.PendingConfirmations.Dec()
		s.notify(txn)
		s.logger.Info("transaction cancelled by user", "transaction", txn.ID)
		return txn, nil
	}

	t := now
	txn.ConfirmedAt = &t
	err = s.settleDebit(ctx, txn, now)
	metrics.PendingConfirmations.Dec()
	if err != nil {
		return txn, err
	}
	s.notify(txn)
	s.logger.Info("transaction confirmed", "transaction", txn.ID, "account", txn.AccountID)
	return txn, nil
}

// OnTimeout resolves a pending transaction whose confirmation window has
// elapsed: blocked, with the account auto-frozen. Terminal transactions
// and windows that haven't elapsed yet are no-ops.
func (s *Service) OnTimeout(ctx context.Context, id string) (*Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "transaction.OnTimeout", traces.TransactionID(id))
	defer span.End()

	txn, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.LockContext(ctx, txn.AccountID)
	if err != nil {
		return nil, fmt.Errorf("acquire account lock: %w", err)
	}
	defer unlock()

	txn, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn.Status.IsTerminal() {
		return txn, nil
	}
	now := s.nowFn()
	if txn.ConfirmBy != nil && now.Before(*txn.ConfirmBy) {
		return txn, nil
	}
	return s.expire(ctx, txn, now)
}

// Get fetches one transaction.
func (s *Service) Get(ctx context.Context, id string) (*Transaction, error) {
	return s.store.Get(ctx, id)
}

// History lists an account's transactions, most recent first.
func (s *Service) History(ctx context.Context, accountID string, limit int) ([]*Transaction, error) {
	if _, err := s.accounts.Get(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListByAccount(ctx, accountID, limit)
}

// -------------------------------------------------------------------------
// Internal transitions
// -------------------------------------------------------------------------

// expire blocks a pending transaction past its deadline and freezes the
// account. Caller holds the account lock.
func (s *Service) expire(ctx context.Context, txn *Transaction, now time.Time) (*Transaction, error) {
	txn.Status = StatusBlocked
	txn.BlockedReason = "confirmation_timeout"
	txn.UpdatedAt = now
	if err := s.store.Update(ctx, txn); err != nil {
		return nil, fmt.Errorf("block expired transaction: %w", err)
	}
	metrics.PendingConfirmations.Dec()

	acct, err := s.accounts.Get(ctx, txn.AccountID)
	if err != nil {
		s.logger.Error("freeze after timeout failed to load account",
			"account", txn.AccountID, "error", err)
		return txn, nil
	}
	s.autoFreeze(ctx, acct, txn)
	s.notify(txn)
	s.logger.Warn("confirmation window elapsed",
		"transaction", txn.ID, "account", txn.AccountID)
	return txn, nil
}

// blockUnscored persists a hard-blocked transaction when the scoring
// context cannot be loaded. Settling with partial context could approve a
// transaction the full context would have held, so the submission fails
// closed instead of erroring out. Caller holds the account lock.
func (s *Service) blockUnscored(ctx context.Context, req SubmitRequest, now time.Time, cause error) (*Transaction, *fraud.Verdict, error) {
	s.logger.Error("scoring context unavailable, blocking transaction",
		"account", req.AccountID, "error", cause)
	txn := &Transaction{
		ID:                idgen.WithPrefix("txn_"),
		AccountID:         req.AccountID,
		Direction:         DirectionDebit,
		Recipient:         req.Recipient,
		Amount:            req.Amount,
		DeviceFingerprint: req.DeviceFingerprint,
		Location:          req.Location,
		Status:            StatusBlocked,
		BlockedReason:     "context_unavailable",
		RiskLevel:         string(fraud.LevelHigh),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Create(ctx, txn); err != nil {
		return nil, nil, fmt.Errorf("persist blocked transaction: %w", err)
	}
	s.notify(txn)
	return txn, nil, nil
}

// settleDebit moves money and marks the transaction completed. An
// insufficient balance blocks the transaction instead, independent of the
// fraud verdict. Caller holds the account lock.
func (s *Service) settleDebit(ctx context.Context, txn *Transaction, now time.Time) error {
	err := s.accounts.Store().ApplyBalanceDelta(ctx, txn.AccountID, -txn.Amount)
	if errors.Is(err, account.ErrInsufficientBalance) {
		txn.Status = StatusBlocked
		txn.BlockedReason = "insufficient_balance"
		txn.UpdatedAt = now
		if perr := s.persist(ctx, txn); perr != nil {
			return perr
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}

	t := now
	txn.Status = StatusCompleted
	txn.SettledAt = &t
	txn.UpdatedAt = now
	if err := s.persist(ctx, txn); err != nil {
		return err
	}
	metrics.TransactionsSettled.Inc()

	// Settlement teaches the account's profile: baseline aggregates plus
	// the device/location recognition sets. Best-effort.
	if err := s.baselines.Observe(ctx, txn.AccountID, txn.Amount, now); err != nil {
		s.logger.Warn("baseline update failed", "account", txn.AccountID, "error", err)
	}
	s.learnRecognition(ctx, txn)
	return nil
}

// settleCredit applies an incoming transfer immediately, no scoring.
func (s *Service) settleCredit(ctx context.Context, acct *account.Account, req SubmitRequest, now time.Time) (*Transaction, error) {
	txn := &Transaction{
		ID:        idgen.WithPrefix("txn_"),
		AccountID: req.AccountID,
		Direction: DirectionCredit,
		Recipient: req.Recipient,
		Amount:    req.Amount,
		Location:  req.Location,
		RiskLevel: string(fraud.LevelLow),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.accounts.Store().ApplyBalanceDelta(ctx, acct.ID, req.Amount); err != nil {
		return nil, fmt.Errorf("credit balance: %w", err)
	}
	t := now
	txn.Status = StatusCompleted
	txn.SettledAt = &t
	if err := s.store.Create(ctx, txn); err != nil {
		return nil, fmt.Errorf("persist credit: %w", err)
	}
	metrics.TransactionsSettled.Inc()
	s.notify(txn)
	return txn, nil
}

// buildContext gathers everything the rules need under the account lock.
// Any load failure propagates: scoring with partial context could approve
// a transaction the full context would have held.
func (s *Service) buildContext(ctx context.Context, acct *account.Account, req SubmitRequest, now time.Time) (*fraud.Context, error) {
	bl, err := s.baselines.Store().Get(ctx, acct.ID)
	if errors.Is(err, baseline.ErrNotFound) {
		bl = nil
	} else if err != nil {
		return nil, fmt.Errorf("load baseline: %w", err)
	}

	since := now.Add(-velocityWindow)
	if acct.FreezeUntil != nil && !acct.FreezeUntil.After(now) && acct.FreezeUntil.After(since) {
		// An expired freeze resets the velocity count: activity from
		// before the freeze ended doesn't count against the window. The
		// check against now matters because a manual unfreeze keeps
		// FreezeUntil as a marker; a future marker must never push the
		// cutoff ahead of the clock or velocity counting goes dark.
		since = *acct.FreezeUntil
	}
	recent, err := s.store.CountActiveSince(ctx, acct.ID, since)
	if err != nil {
		return nil, fmt.Errorf("count recent transactions: %w", err)
	}

	devices, err := s.accounts.Store().ListDevices(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("load known devices: %w", err)
	}
	knownDevices := make(map[string]bool, len(devices))
	for _, d := range devices {
		knownDevices[d.Fingerprint] = true
	}

	locations, err := s.accounts.Store().ListLocations(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("load known locations: %w", err)
	}
	knownLocations := make(map[string]*geo.Coords, len(locations))
	for _, l := range locations {
		knownLocations[l.Name] = l.Coords
	}

	ec := &fraud.Context{
		Account:           acct,
		Baseline:          bl,
		Amount:            req.Amount,
		DeviceFingerprint: req.DeviceFingerprint,
		Location:          req.Location,
		KnownDevices:      knownDevices,
		KnownLocations:    knownLocations,
		RecentCount:       recent,
		Now:               now,
	}

	lastLoc, lastAt, err := s.store.LastCompletedLocation(ctx, acct.ID)
	if err == nil {
		ec.LastLocation = lastLoc
		ec.LastLocationAt = lastAt
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load last location: %w", err)
	}
	return ec, nil
}

// autoFreeze freezes the account after a hard block or timeout and records
// the critical alert. Caller holds the account lock.
func (s *Service) autoFreeze(ctx context.Context, acct *account.Account, txn *Transaction) {
	frozen, err := s.accounts.Freeze(ctx, acct.ID, 0, alert.TypeAutoFreeze)
	if err != nil {
		s.logger.Error("auto-freeze failed", "account", acct.ID, "error", err)
		return
	}
	metrics.AccountsFrozen.WithLabelValues(txn.BlockedReason).Inc()
	until := frozen.FreezeUntil
	if until != nil {
		s.alerts.RecordFreeze(ctx, acct.ID, txn.ID, false, *until)
		if s.notifier != nil {
			s.notifier.FreezeEvent(acct.ID, *until)
		}
	}
}

// learnRecognition registers the settling transaction's device and
// location as known. Best-effort; failures only surface in logs.
func (s *Service) learnRecognition(ctx context.Context, txn *Transaction) {
	if txn.DeviceFingerprint != "" {
		if _, err := s.accounts.RegisterDevice(ctx, txn.AccountID, txn.DeviceFingerprint, "", false); err != nil {
			s.logger.Warn("device registration failed", "account", txn.AccountID, "error", err)
		}
	}
	if txn.Location != "" {
		loc := account.KnownLocation{Name: txn.Location}
		if c, ok := geo.LookupCity(txn.Location); ok {
			loc.Coords = &c
		}
		if _, err := s.accounts.RegisterLocation(ctx, txn.AccountID, loc); err != nil {
			s.logger.Warn("location registration failed", "account", txn.AccountID, "error", err)
		}
	}
}

// recordHits writes one alert per triggered rule.
func (s *Service) recordHits(ctx context.Context, txn *Transaction, verdict *fraud.Verdict) {
	for _, h := range verdict.Hits {
		metrics.RuleTriggered.WithLabelValues(string(h.Rule)).Inc()
		s.alerts.Record(ctx, txn.AccountID, txn.ID, string(h.Rule), h.Reason, verdict.Score)
	}
}

// persist creates or updates depending on whether Submit already wrote the
// row. Settlement from Submit creates; settlement from Confirm updates.
func (s *Service) persist(ctx context.Context, txn *Transaction) error {
	if _, err := s.store.Get(ctx, txn.ID); errors.Is(err, ErrNotFound) {
		if err := s.store.Create(ctx, txn); err != nil {
			return fmt.Errorf("persist transaction: %w", err)
		}
		return nil
	}
	if err := s.store.Update(ctx, txn); err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return nil
}

func (s *Service) notify(txn *Transaction) {
	if s.notifier != nil {
		s.notifier.TransactionEvent(txn)
	}
	metrics.TransactionsByStatus.WithLabelValues(string(txn.Status)).Inc()
}

func validate(req SubmitRequest) error {
	if req.Amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	switch req.Direction {
	case DirectionDebit:
		if req.Recipient == "" {
			return &ValidationError{Field: "recipient", Reason: "required for debits"}
		}
	case DirectionCredit:
	default:
		return &ValidationError{Field: "direction", Reason: "must be debit or credit"}
	}
	return nil
}

func factorList(v *fraud.Verdict) []string {
	if len(v.Hits) == 0 {
		return nil
	}
	out := make([]string, 0, len(v.Hits))
	for _, h := range v.Hits {
		out = append(out, string(h.Rule))
	}
	return out
}
