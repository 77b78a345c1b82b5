package account

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/moneysq/walletguard/internal/idgen"
)

// Service wraps a Store with the freeze state machine and recognition-set
// management. All account state transitions go through here so the
// never-shorten freeze invariant holds no matter who calls.
type Service struct {
	store  Store
	logger *slog.Logger
	nowFn  func() time.Time

	defaultFreezeDuration time.Duration
	defaultSoftVelocity   int
	defaultHardVelocity   int
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithNow overrides the clock. Tests use this for deterministic expiry.
func WithNow(fn func() time.Time) Option {
	return func(s *Service) { s.nowFn = fn }
}

// WithDefaults sets the fallback thresholds applied when an account is
// created without explicit values.
func WithDefaults(freeze time.Duration, softVelocity, hardVelocity int) Option {
	return func(s *Service) {
		s.defaultFreezeDuration = freeze
		s.defaultSoftVelocity = softVelocity
		s.defaultHardVelocity = hardVelocity
	}
}

// NewService creates an account service backed by the given store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:                 store,
		logger:                slog.Default(),
		nowFn:                 time.Now,
		defaultFreezeDuration: 30 * time.Minute,
		defaultSoftVelocity:   3,
		defaultHardVelocity:   5,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateParams are the caller-supplied fields for a new account. Zero-valued
// thresholds fall back to service defaults.
type CreateParams struct {
	Name             string
	InitialBalance   int64
	AllowedStartHour int
	AllowedEndHour   int
	MaxTxnAmount     int64
	SoftVelocityMax  int
	HardVelocityMax  int
	FreezeDuration   time.Duration
}

// Create registers a new active account.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Account, error) {
	now := s.nowFn()
	a := &Account{
		ID:               idgen.WithPrefix("acct_"),
		Name:             p.Name,
		Balance:          p.InitialBalance,
		Status:           StatusActive,
		AllowedStartHour: p.AllowedStartHour,
		AllowedEndHour:   p.AllowedEndHour,
		MaxTxnAmount:     p.MaxTxnAmount,
		SoftVelocityMax:  p.SoftVelocityMax,
		HardVelocityMax:  p.HardVelocityMax,
		FreezeDuration:   p.FreezeDuration,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if a.AllowedStartHour == 0 && a.AllowedEndHour == 0 {
		a.AllowedStartHour = 6
		a.AllowedEndHour = 23
	}
	if a.MaxTxnAmount == 0 {
		a.MaxTxnAmount = 10000 * 100 // $10,000
	}
	if a.SoftVelocityMax == 0 {
		a.SoftVelocityMax = s.defaultSoftVelocity
	}
	if a.HardVelocityMax == 0 {
		a.HardVelocityMax = s.defaultHardVelocity
	}
	if a.FreezeDuration == 0 {
		a.FreezeDuration = s.defaultFreezeDuration
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info("account created", "account", a.ID, "name", a.Name)
	return a, nil
}

// Get fetches an account with lazy freeze expiry applied: a frozen account
// whose window has passed is returned as active, and the stored status is
// flipped so later reads agree. FreezeUntil stays set either way.
func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.nowFn()
	if a.Status == StatusFrozen && a.EffectiveStatus(now) == StatusActive {
		a.Status = StatusActive
		if err := s.store.SetFreeze(ctx, a.ID, StatusActive, a.FreezeUntil); err != nil {
			// Next read will retry the flip; the returned view is already correct.
			s.logger.Warn("freeze expiry flip failed", "account", a.ID, "error", err)
		}
	}
	return a, nil
}

// Freeze puts the account into the frozen state until now+duration. A zero
// duration uses the account's configured freeze length. Freezing an
// already-frozen account never shortens the remaining window: the later of
// the existing and requested expiry wins.
func (s *Service) Freeze(ctx context.Context, id string, duration time.Duration, reason string) (*Account, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		duration = a.FreezeDuration
	}
	now := s.nowFn()
	until := now.Add(duration)
	if a.Status == StatusFrozen && a.FreezeUntil != nil && a.FreezeUntil.After(until) {
		until = *a.FreezeUntil
	}
	if err := s.store.SetFreeze(ctx, id, StatusFrozen, &until); err != nil {
		return nil, fmt.Errorf("freeze account: %w", err)
	}
	a.Status = StatusFrozen
	a.FreezeUntil = &until
	s.logger.Warn("account frozen",
		"account", id, "until", until.Format(time.RFC3339), "reason", reason)
	return a, nil
}

// Unfreeze returns the account to active immediately. FreezeUntil is kept
// as a historical marker; the velocity check uses it to ignore transactions
// from before the freeze.
func (s *Service) Unfreeze(ctx context.Context, id string) (*Account, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetFreeze(ctx, id, StatusActive, a.FreezeUntil); err != nil {
		return nil, fmt.Errorf("unfreeze account: %w", err)
	}
	a.Status = StatusActive
	s.logger.Info("account unfrozen", "account", id)
	return a, nil
}

// RegisterDevice adds or refreshes a device fingerprint in the account's
// recognition set.
func (s *Service) RegisterDevice(ctx context.Context, accountID, fingerprint, label string, trusted bool) (*KnownDevice, error) {
	if _, err := s.store.Get(ctx, accountID); err != nil {
		return nil, err
	}
	d := &KnownDevice{
		AccountID:   accountID,
		Fingerprint: fingerprint,
		Label:       label,
		Trusted:     trusted,
		LastUsed:    s.nowFn(),
	}
	if err := s.store.UpsertDevice(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// RegisterLocation adds or refreshes a named location in the account's
// recognition set.
func (s *Service) RegisterLocation(ctx context.Context, accountID string, l KnownLocation) (*KnownLocation, error) {
	if _, err := s.store.Get(ctx, accountID); err != nil {
		return nil, err
	}
	l.AccountID = accountID
	l.LastUsed = s.nowFn()
	if err := s.store.UpsertLocation(ctx, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// TouchDevice marks a recognized device as used now. Missing devices are
// ignored; recognition entries are only created explicitly or on settlement.
func (s *Service) TouchDevice(ctx context.Context, accountID, fingerprint string) {
	d, err := s.store.GetDevice(ctx, accountID, fingerprint)
	if err != nil {
		return
	}
	d.LastUsed = s.nowFn()
	_ = s.store.UpsertDevice(ctx, d)
}

// Devices lists the account's known devices.
func (s *Service) Devices(ctx context.Context, accountID string) ([]*KnownDevice, error) {
	if _, err := s.store.Get(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListDevices(ctx, accountID)
}

// Locations lists the account's known locations.
func (s *Service) Locations(ctx context.Context, accountID string) ([]*KnownLocation, error) {
	if _, err := s.store.Get(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListLocations(ctx, accountID)
}

// Store exposes the underlying store for collaborating services.
func (s *Service) Store() Store { return s.store }
