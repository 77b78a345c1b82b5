// Package fraud implements real-time transaction risk scoring.
//
// Every outgoing transaction is evaluated against a set of weighted rules
// (limits, velocity, travel feasibility, device/location novelty, behavioral
// deviation). Rule weights sum into a 0-100 score; the score maps to a risk
// level and an outcome: settle immediately, hold for confirmation, or block
// outright with an account freeze.
//
// Evaluation is pure and deterministic: everything a rule needs is gathered
// into a Context up front, so the same Context always yields the same
// Verdict. The transaction service owns the I/O that builds the Context.
package fraud

import (
	"time"

	"github.com/moneysq/walletguard/internal/account"
	"github.com/moneysq/walletguard/internal/baseline"
	"github.com/moneysq/walletguard/internal/geo"
)

// RuleID identifies a fraud rule. Alert records and metrics key off these.
type RuleID string

const (
	RuleExceedsLimit     RuleID = "exceeds_limit"
	RuleHighVelocity     RuleID = "high_velocity"
	RuleImpossibleTravel RuleID = "impossible_travel"
	RuleHighAmount       RuleID = "high_amount"
	RuleNewDevice        RuleID = "new_device"
	RuleNewLocation      RuleID = "new_location"
	RuleUnusualHour      RuleID = "unusual_hour"
)

// RiskLevel buckets a 0-100 score.
type RiskLevel string

const (
	LevelLow    RiskLevel = "low"
	LevelMedium RiskLevel = "medium"
	LevelHigh   RiskLevel = "high"
)

// Outcome is what the transaction service should do with the transaction.
type Outcome string

const (
	// OutcomeSettle means the transaction completes immediately.
	OutcomeSettle Outcome = "settle"
	// OutcomeConfirm means the transaction is held pending user confirmation.
	OutcomeConfirm Outcome = "confirm"
	// OutcomeBlock means the transaction is rejected and the account frozen.
	OutcomeBlock Outcome = "block"
)

// Hit records a single rule firing.
type Hit struct {
	Rule    RuleID `json:"rule"`
	Weight  int    `json:"weight"`
	Reason  string `json:"reason"`
	Confirm bool   `json:"confirm"` // firing alone forces a confirmation hold
}

// Verdict is the engine's decision for one transaction.
type Verdict struct {
	Score                int       `json:"score"`
	Level                RiskLevel `json:"level"`
	Outcome              Outcome   `json:"outcome"`
	Hits                 []Hit     `json:"hits,omitempty"`
	RequiresConfirmation bool      `json:"requiresConfirmation"`
	BlockRule            RuleID    `json:"blockRule,omitempty"`
	EvaluatedAt          time.Time `json:"evaluatedAt"`
}

// Context carries everything the rules need, pre-fetched by the caller.
// A nil Baseline means the account has no learned profile yet; rules that
// compare against the baseline simply don't fire.
type Context struct {
	Account  *account.Account
	Baseline *baseline.BehaviorBaseline

	Amount            int64 // cents
	DeviceFingerprint string
	Location          string

	// Recognition sets. KnownLocations maps location name to registered
	// coordinates (nil when the location was registered without coords).
	KnownDevices   map[string]bool
	KnownLocations map[string]*geo.Coords

	// Pending and completed debits in the trailing 10 minutes, not
	// counting anything from before the account's last freeze.
	RecentCount int

	// Most recent completed transaction's location, empty if none.
	LastLocation   string
	LastLocationAt time.Time

	Now time.Time
}

// Rule is a single fraud check. Returning nil means the rule didn't fire.
type Rule interface {
	ID() RuleID
	Evaluate(ec *Context) *Hit
}
