package fraud

import (
	"testing"
	"time"

	"github.com/moneysq/walletguard/internal/account"
	"github.com/moneysq/walletguard/internal/baseline"
	"github.com/moneysq/walletguard/internal/geo"
)

var testNow = time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

func testAccount() *account.Account {
	return &account.Account{
		ID:               "acct_1",
		Status:           account.StatusActive,
		AllowedStartHour: 6,
		AllowedEndHour:   23,
		MaxTxnAmount:     1000000, // $10,000
		SoftVelocityMax:  3,
		HardVelocityMax:  5,
	}
}

func testBaseline() *baseline.BehaviorBaseline {
	return &baseline.BehaviorBaseline{
		AccountID:       "acct_1",
		AvgAmount:       10000, // $100
		MaxAmount:       50000,
		ActiveHourStart: 9,
		ActiveHourEnd:   21,
		AvgTxnsPer10Min: 1.0,
		SampleCount:     40,
	}
}

func testContext() *Context {
	return &Context{
		Account:           testAccount(),
		Baseline:          testBaseline(),
		Amount:            10000,
		DeviceFingerprint: "dev-known",
		Location:          "New York, USA",
		KnownDevices:      map[string]bool{"dev-known": true},
		KnownLocations:    map[string]*geo.Coords{"New York, USA": nil},
		Now:               testNow,
	}
}

func newTestEngine() *Engine {
	return NewEngine(DefaultRules(900)...)
}

func hitRules(v *Verdict) map[RuleID]Hit {
	m := make(map[RuleID]Hit, len(v.Hits))
	for _, h := range v.Hits {
		m[h.Rule] = h
	}
	return m
}

func TestCleanTransactionSettles(t *testing.T) {
	v := newTestEngine().Evaluate(testContext())

	if v.Score != 0 {
		t.Errorf("expected score 0, got %d (hits: %v)", v.Score, v.Hits)
	}
	if v.Level != LevelLow {
		t.Errorf("expected low risk, got %s", v.Level)
	}
	if v.Outcome != OutcomeSettle {
		t.Errorf("expected settle, got %s", v.Outcome)
	}
	if v.RequiresConfirmation {
		t.Error("clean transaction must not require confirmation")
	}
}

func TestExceedsLimitForcesConfirmation(t *testing.T) {
	ec := testContext()
	ec.Amount = 2000000 // $20,000, over the $10,000 cap

	v := newTestEngine().Evaluate(ec)

	hits := hitRules(v)
	h, ok := hits[RuleExceedsLimit]
	if !ok {
		t.Fatalf("expected exceeds_limit to fire, hits: %v", v.Hits)
	}
	if h.Weight != 80 {
		t.Errorf("expected weight 80, got %d", h.Weight)
	}
	if !v.RequiresConfirmation || v.Outcome != OutcomeConfirm {
		t.Errorf("expected confirmation hold, got outcome=%s requires=%v", v.Outcome, v.RequiresConfirmation)
	}
}

func TestSoftVelocityHitsAtThreshold(t *testing.T) {
	ec := testContext()
	ec.RecentCount = 3 // at the soft cap of 3

	v := newTestEngine().Evaluate(ec)

	if _, ok := hitRules(v)[RuleHighVelocity]; !ok {
		t.Fatalf("expected high_velocity at soft cap, hits: %v", v.Hits)
	}
	if v.Outcome != OutcomeConfirm {
		t.Errorf("expected confirm, got %s", v.Outcome)
	}
}

func TestHardVelocityShortCircuitsToBlock(t *testing.T) {
	ec := testContext()
	ec.RecentCount = 5 // at the hard cap

	v := newTestEngine().Evaluate(ec)

	if v.Outcome != OutcomeBlock {
		t.Fatalf("expected block, got %s", v.Outcome)
	}
	if v.Score != 100 || v.Level != LevelHigh {
		t.Errorf("expected score 100 / high, got %d / %s", v.Score, v.Level)
	}
	if v.BlockRule != RuleHighVelocity {
		t.Errorf("expected high_velocity block rule, got %s", v.BlockRule)
	}
}

func TestImpossibleTravel(t *testing.T) {
	ec := testContext()
	ec.LastLocation = "New York, USA"
	ec.LastLocationAt = testNow.Add(-30 * time.Minute)
	ec.Location = "Los Angeles, USA"
	// ~3,940 km in 30 minutes: far past 900 km/h.

	v := newTestEngine().Evaluate(ec)

	h, ok := hitRules(v)[RuleImpossibleTravel]
	if !ok {
		t.Fatalf("expected impossible_travel, hits: %v", v.Hits)
	}
	if h.Weight != 90 {
		t.Errorf("expected weight 90, got %d", h.Weight)
	}
	if v.Outcome != OutcomeConfirm {
		t.Errorf("expected confirm, got %s", v.Outcome)
	}
}

func TestFeasibleTravelDoesNotFire(t *testing.T) {
	ec := testContext()
	ec.LastLocation = "New York, USA"
	ec.LastLocationAt = testNow.Add(-8 * time.Hour)
	ec.Location = "Los Angeles, USA"
	ec.KnownLocations["Los Angeles, USA"] = nil

	v := newTestEngine().Evaluate(ec)

	if _, ok := hitRules(v)[RuleImpossibleTravel]; ok {
		t.Errorf("8-hour cross-country trip should be feasible, hits: %v", v.Hits)
	}
}

func TestTravelUnknownCoordsHalfWeight(t *testing.T) {
	ec := testContext()
	ec.LastLocation = "Springfield"
	ec.LastLocationAt = testNow.Add(-20 * time.Minute)
	ec.Location = "Shelbyville"

	v := newTestEngine().Evaluate(ec)

	h, ok := hitRules(v)[RuleImpossibleTravel]
	if !ok {
		t.Fatalf("expected half-weight travel hit for unknown coords, hits: %v", v.Hits)
	}
	if h.Weight != 45 {
		t.Errorf("expected half weight 45, got %d", h.Weight)
	}
}

func TestTravelRegisteredCoordsWin(t *testing.T) {
	ec := testContext()
	// Registered coords place "Home" and "Office" 1 km apart.
	ec.KnownLocations["Home"] = &geo.Coords{Lat: 40.7128, Lon: -74.0060}
	ec.KnownLocations["Office"] = &geo.Coords{Lat: 40.7218, Lon: -74.0060}
	ec.LastLocation = "Home"
	ec.LastLocationAt = testNow.Add(-5 * time.Minute)
	ec.Location = "Office"

	v := newTestEngine().Evaluate(ec)

	if _, ok := hitRules(v)[RuleImpossibleTravel]; ok {
		t.Errorf("1 km in 5 minutes is feasible, hits: %v", v.Hits)
	}
}

func TestHighAmountAgainstBaseline(t *testing.T) {
	ec := testContext()
	ec.Amount = 40000 // $400, 4x the $100 average

	v := newTestEngine().Evaluate(ec)

	h, ok := hitRules(v)[RuleHighAmount]
	if !ok {
		t.Fatalf("expected high_amount, hits: %v", v.Hits)
	}
	if h.Weight != 40 {
		t.Errorf("expected weight 40, got %d", h.Weight)
	}
	if h.Confirm {
		t.Error("high_amount alone must not force confirmation")
	}
	if v.Level != LevelMedium {
		t.Errorf("expected medium risk at score 40, got %s", v.Level)
	}
	if v.Outcome != OutcomeSettle {
		t.Errorf("medium risk without confirm rules settles, got %s", v.Outcome)
	}
}

func TestNilBaselineSkipsHighAmount(t *testing.T) {
	ec := testContext()
	ec.Baseline = nil
	ec.Amount = 40000

	v := newTestEngine().Evaluate(ec)

	if _, ok := hitRules(v)[RuleHighAmount]; ok {
		t.Error("high_amount must not fire without a baseline")
	}
}

func TestNewDeviceAndLocationStack(t *testing.T) {
	ec := testContext()
	ec.DeviceFingerprint = "dev-unknown"
	ec.Location = "Miami, USA"
	ec.LastLocation = "" // no travel comparison

	v := newTestEngine().Evaluate(ec)

	hits := hitRules(v)
	if _, ok := hits[RuleNewDevice]; !ok {
		t.Errorf("expected new_device, hits: %v", v.Hits)
	}
	if _, ok := hits[RuleNewLocation]; !ok {
		t.Errorf("expected new_location, hits: %v", v.Hits)
	}
	if v.Score != 50 {
		t.Errorf("expected score 50, got %d", v.Score)
	}
	if v.Level != LevelMedium {
		t.Errorf("expected medium, got %s", v.Level)
	}
}

func TestUnusualHour(t *testing.T) {
	ec := testContext()
	ec.Now = time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC) // outside 06-23

	v := newTestEngine().Evaluate(ec)

	h, ok := hitRules(v)[RuleUnusualHour]
	if !ok {
		t.Fatalf("expected unusual_hour, hits: %v", v.Hits)
	}
	if h.Weight != 20 {
		t.Errorf("expected weight 20, got %d", h.Weight)
	}
}

func TestScoreClampsAt100(t *testing.T) {
	ec := testContext()
	ec.Amount = 2000000 // exceeds_limit (80) + high_amount (40)
	ec.DeviceFingerprint = "dev-unknown"

	v := newTestEngine().Evaluate(ec)

	if v.Score != 100 {
		t.Errorf("expected clamped score 100, got %d", v.Score)
	}
	if v.Level != LevelHigh {
		t.Errorf("expected high, got %s", v.Level)
	}
}

func TestHighScoreWithoutConfirmRulesStillHolds(t *testing.T) {
	// new_device (25) + new_location (25) + unusual_hour (20) = 70 > 60:
	// score alone crosses into high risk, so a hold is required even though
	// no single rule is confirmation-grade.
	ec := testContext()
	ec.DeviceFingerprint = "dev-unknown"
	ec.Location = "Miami, USA"
	ec.Now = time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)

	v := newTestEngine().Evaluate(ec)

	if v.Score != 70 {
		t.Fatalf("expected score 70, got %d (hits: %v)", v.Score, v.Hits)
	}
	if !v.RequiresConfirmation || v.Outcome != OutcomeConfirm {
		t.Errorf("high risk must hold for confirmation, got outcome=%s", v.Outcome)
	}
}

func TestDeterministicVerdicts(t *testing.T) {
	engine := newTestEngine()
	ec := testContext()
	ec.Amount = 40000
	ec.DeviceFingerprint = "dev-unknown"

	first := engine.Evaluate(ec)
	for i := 0; i < 10; i++ {
		v := engine.Evaluate(ec)
		if v.Score != first.Score || v.Outcome != first.Outcome || len(v.Hits) != len(first.Hits) {
			t.Fatalf("verdict changed across evaluations: %+v vs %+v", first, v)
		}
	}
}
