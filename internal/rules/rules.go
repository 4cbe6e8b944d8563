// Package rules evaluates facts against an ordered rule list. The first
// rule whose predicate holds wins and evaluation stops; a fact matching
// nothing is a deliberate no-op. Predicates are pure functions over the
// fact and a read-only strategy snapshot, so rule sets are testable in
// isolation and never reach into ambient state.
package rules

import (
	"fmt"

	"github.com/shopspring/decimal"

	"siena/internal/fact"
)

type Action string

const (
	Halt                    Action = "halt"
	CompartmentaliseAccount Action = "compartmentaliseAccount"
	GetMarketTrend          Action = "getMarketTrend"
	GetAccountValue         Action = "getAccountValue"
	BuySecurity             Action = "buySecurity"
	SellSecurity            Action = "sellSecurity"
)

// Snapshot is the strategy configuration visible to predicates, captured
// once at startup.
type Snapshot struct {
	CriticalDrawdown decimal.Decimal
	LowerSellPct     decimal.Decimal
	LowerBuyPct      decimal.Decimal
	MinTradeSize     decimal.Decimal
}

type Rule struct {
	Name    string
	When    func(f fact.Fact, snap Snapshot) bool
	Actions []Action
}

type Engine struct {
	rules []Rule
}

func NewEngine(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

// Evaluate returns the first matching rule, if any. Given the same fact and
// snapshot it always picks the same rule.
func (e *Engine) Evaluate(f fact.Fact, snap Snapshot) (Rule, bool) {
	for _, rule := range e.rules {
		if rule.When(f, snap) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Set returns the named rule set. Sets are fixed at startup and never
// mutate afterwards.
func Set(name string) ([]Rule, error) {
	switch name {
	case SetSimpleMovingAverage:
		return simpleMovingAverage(), nil
	case SetSimpleMovingAverageMultipleBuys:
		return simpleMovingAverageMultipleBuys(), nil
	default:
		return nil, fmt.Errorf("rules: unknown rule set %q", name)
	}
}
