package fraud

import (
	"fmt"
	"time"

	"github.com/moneysq/walletguard/internal/geo"
	"github.com/moneysq/walletguard/internal/money"
)

// Rule weights. Scores are the weight sum clamped to [0, 100], so any two
// confirmation-grade rules together push a transaction into high risk.
const (
	weightExceedsLimit     = 80
	weightHighVelocity     = 85
	weightImpossibleTravel = 90
	weightHighAmount       = 40
	weightNewDevice        = 25
	weightNewLocation      = 25
	weightUnusualHour      = 20
)

// highAmountMultiple: a transaction this many times the account's learned
// average is flagged as a behavioral deviation.
const highAmountMultiple = 3

// DefaultRules returns the built-in rule set in evaluation order.
func DefaultRules(maxTravelSpeedKmh float64) []Rule {
	return []Rule{
		&ExceedsLimitRule{},
		&SoftVelocityRule{},
		&ImpossibleTravelRule{MaxSpeedKmh: maxTravelSpeedKmh},
		&HighAmountRule{},
		&NewDeviceRule{},
		&NewLocationRule{},
		&UnusualHourRule{},
	}
}

// ---------------------------------------------------------------------------
// ExceedsLimitRule: amount above the account's per-transaction cap
// ---------------------------------------------------------------------------

type ExceedsLimitRule struct{}

func (r *ExceedsLimitRule) ID() RuleID { return RuleExceedsLimit }

func (r *ExceedsLimitRule) Evaluate(ec *Context) *Hit {
	if ec.Account.MaxTxnAmount <= 0 || ec.Amount <= ec.Account.MaxTxnAmount {
		return nil
	}
	return &Hit{
		Rule:    r.ID(),
		Weight:  weightExceedsLimit,
		Confirm: true,
		Reason: fmt.Sprintf("amount %s exceeds per-transaction limit %s",
			money.Format(ec.Amount), money.Format(ec.Account.MaxTxnAmount)),
	}
}

// ---------------------------------------------------------------------------
// SoftVelocityRule: trailing 10-minute transaction count at the soft cap
// ---------------------------------------------------------------------------

// The hard velocity cap is not a rule: Engine.Evaluate short-circuits to a
// block before any rule runs, so a burst can't be offset by low weights.

type SoftVelocityRule struct{}

func (r *SoftVelocityRule) ID() RuleID { return RuleHighVelocity }

func (r *SoftVelocityRule) Evaluate(ec *Context) *Hit {
	if ec.RecentCount < ec.Account.SoftVelocityMax {
		return nil
	}
	return &Hit{
		Rule:    r.ID(),
		Weight:  weightHighVelocity,
		Confirm: true,
		Reason: fmt.Sprintf("%d transactions in the last 10 minutes (soft limit %d)",
			ec.RecentCount, ec.Account.SoftVelocityMax),
	}
}

// ---------------------------------------------------------------------------
// ImpossibleTravelRule: location change faster than physically plausible
// ---------------------------------------------------------------------------

type ImpossibleTravelRule struct {
	MaxSpeedKmh float64
}

func (r *ImpossibleTravelRule) ID() RuleID { return RuleImpossibleTravel }

func (r *ImpossibleTravelRule) Evaluate(ec *Context) *Hit {
	if ec.Location == "" || ec.LastLocation == "" || ec.Location == ec.LastLocation {
		return nil
	}

	elapsed := ec.Now.Sub(ec.LastLocationAt)
	if elapsed <= 0 {
		elapsed = time.Second
	}

	from, fromOK := r.resolve(ec, ec.LastLocation)
	to, toOK := r.resolve(ec, ec.Location)
	if !fromOK || !toOK {
		// Can't compute distance. Two different locations within an hour is
		// still suspicious enough to flag at half weight.
		if elapsed < time.Hour {
			return &Hit{
				Rule:    r.ID(),
				Weight:  weightImpossibleTravel / 2,
				Confirm: true,
				Reason: fmt.Sprintf("location changed from %q to %q within %s (coordinates unknown)",
					ec.LastLocation, ec.Location, elapsed.Round(time.Second)),
			}
		}
		return nil
	}

	distKm := geo.DistanceKm(from, to)
	speed := distKm / elapsed.Hours()
	if speed <= r.MaxSpeedKmh {
		return nil
	}
	return &Hit{
		Rule:    r.ID(),
		Weight:  weightImpossibleTravel,
		Confirm: true,
		Reason: fmt.Sprintf("travel from %q to %q (%.0f km) in %s implies %.0f km/h",
			ec.LastLocation, ec.Location, distKm, elapsed.Round(time.Second), speed),
	}
}

// resolve finds coordinates for a location name: the account's registered
// coordinates win, then the built-in city table.
func (r *ImpossibleTravelRule) resolve(ec *Context, name string) (geo.Coords, bool) {
	if c, ok := ec.KnownLocations[name]; ok && c != nil {
		return *c, true
	}
	return geo.LookupCity(name)
}

// ---------------------------------------------------------------------------
// HighAmountRule: amount far above the learned average
// ---------------------------------------------------------------------------

type HighAmountRule struct{}

func (r *HighAmountRule) ID() RuleID { return RuleHighAmount }

func (r *HighAmountRule) Evaluate(ec *Context) *Hit {
	if ec.Baseline == nil || ec.Baseline.AvgAmount <= 0 {
		return nil
	}
	if ec.Amount <= ec.Baseline.AvgAmount*highAmountMultiple {
		return nil
	}
	return &Hit{
		Rule:   r.ID(),
		Weight: weightHighAmount,
		Reason: fmt.Sprintf("amount %s is over %dx the account average %s",
			money.Format(ec.Amount), highAmountMultiple, money.Format(ec.Baseline.AvgAmount)),
	}
}

// ---------------------------------------------------------------------------
// NewDeviceRule: fingerprint not in the recognition set
// ---------------------------------------------------------------------------

type NewDeviceRule struct{}

func (r *NewDeviceRule) ID() RuleID { return RuleNewDevice }

func (r *NewDeviceRule) Evaluate(ec *Context) *Hit {
	if ec.DeviceFingerprint == "" || ec.KnownDevices[ec.DeviceFingerprint] {
		return nil
	}
	return &Hit{
		Rule:   r.ID(),
		Weight: weightNewDevice,
		Reason: fmt.Sprintf("unrecognized device %q", ec.DeviceFingerprint),
	}
}

// ---------------------------------------------------------------------------
// NewLocationRule: location not in the recognition set
// ---------------------------------------------------------------------------

type NewLocationRule struct{}

func (r *NewLocationRule) ID() RuleID { return RuleNewLocation }

func (r *NewLocationRule) Evaluate(ec *Context) *Hit {
	if ec.Location == "" {
		return nil
	}
	if _, ok := ec.KnownLocations[ec.Location]; ok {
		return nil
	}
	return &Hit{
		Rule:   r.ID(),
		Weight: weightNewLocation,
		Reason: fmt.Sprintf("unrecognized location %q", ec.Location),
	}
}

// ---------------------------------------------------------------------------
// UnusualHourRule: outside the account's allowed hour range
// ---------------------------------------------------------------------------

type UnusualHourRule struct{}

func (r *UnusualHourRule) ID() RuleID { return RuleUnusualHour }

func (r *UnusualHourRule) Evaluate(ec *Context) *Hit {
	hour := ec.Now.UTC().Hour()
	if hour >= ec.Account.AllowedStartHour && hour < ec.Account.AllowedEndHour {
		return nil
	}
	return &Hit{
		Rule:   r.ID(),
		Weight: weightUnusualHour,
		Reason: fmt.Sprintf("transaction at hour %02d outside allowed hours %02d-%02d",
			hour, ec.Account.AllowedStartHour, ec.Account.AllowedEndHour),
	}
}
