package fraud

import (
	"fmt"
)

// Default score thresholds for risk levels.
const (
	DefaultLowThreshold    = 30
	DefaultMediumThreshold = 60
)

// Engine runs the rule set and folds hits into a verdict.
type Engine struct {
	rules           []Rule
	lowThreshold    int
	mediumThreshold int
}

// NewEngine creates a fraud engine with the given rules.
func NewEngine(rules ...Rule) *Engine {
	return &Engine{
		rules:           rules,
		lowThreshold:    DefaultLowThreshold,
		mediumThreshold: DefaultMediumThreshold,
	}
}

// WithThresholds overrides the level cut points: score <= low is low risk,
// score <= medium is medium, above is high.
func (e *Engine) WithThresholds(low, medium int) *Engine {
	e.lowThreshold = low
	e.mediumThreshold = medium
	return e
}

// Evaluate scores one transaction. Pure in-memory computation.
//
// The hard velocity cap is checked before any rule runs: an account past it
// gets an immediate block verdict regardless of what the weighted rules
// would have scored. Everything else accumulates weights, clamps to 100,
// and holds for confirmation when the score lands in high risk or any
// confirmation-grade rule fired.
func (e *Engine) Evaluate(ec *Context) *Verdict {
	if ec.RecentCount >= ec.Account.HardVelocityMax {
		return &Verdict{
			Score:     100,
			Level:     LevelHigh,
			Outcome:   OutcomeBlock,
			BlockRule: RuleHighVelocity,
			Hits: []Hit{{
				Rule:   RuleHighVelocity,
				Weight: 100,
				Reason: fmt.Sprintf("%d transactions in the last 10 minutes (hard limit %d)",
					ec.RecentCount, ec.Account.HardVelocityMax),
			}},
			EvaluatedAt: ec.Now,
		}
	}

	var hits []Hit
	score := 0
	confirm := false
	for _, rule := range e.rules {
		h := rule.Evaluate(ec)
		if h == nil {
			continue
		}
		hits = append(hits, *h)
		score += h.Weight
		if h.Confirm {
			confirm = true
		}
	}
	if score > 100 {
		score = 100
	}

	level := LevelLow
	switch {
	case score > e.mediumThreshold:
		level = LevelHigh
	case score > e.lowThreshold:
		level = LevelMedium
	}

	requiresConfirmation := confirm || level == LevelHigh

	outcome := OutcomeSettle
	if requiresConfirmation {
		outcome = OutcomeConfirm
	}

	return &Verdict{
		Score:                score,
		Level:                level,
		Outcome:              outcome,
		Hits:                 hits,
		RequiresConfirmation: requiresConfirmation,
		EvaluatedAt:          ec.Now,
	}
}
