package rules

import (
	"testing"

	"github.com/shopspring/decimal"

	"siena/internal/exchange"
	"siena/internal/fact"
	"siena/internal/ledger"
	"siena/internal/regime"
)

func d(value float64) decimal.Decimal {
	return decimal.NewFromFloat(value)
}

func dp(value float64) *decimal.Decimal {
	v := decimal.NewFromFloat(value)
	return &v
}

func snapshot() Snapshot {
	return Snapshot{
		CriticalDrawdown: d(0.2),
		LowerSellPct:     d(0.1),
		LowerBuyPct:      d(0.05),
		MinTradeSize:     d(1),
	}
}

func mustSet(t *testing.T, name string) *Engine {
	t.Helper()
	ruleList, err := Set(name)
	if err != nil {
		t.Fatalf("load rule set %s: %v", name, err)
	}
	return NewEngine(ruleList)
}

func crossoverFact(payload fact.Crossover) fact.Fact {
	return fact.NewCrossover("BTC/USD", payload)
}

func TestUnknownRuleSet(t *testing.T) {
	if _, err := Set("no-such-set"); err == nil {
		t.Fatal("expected error for unknown rule set")
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	engine := mustSet(t, SetSimpleMovingAverage)
	f := fact.NewMovingAverages("BTC/USD", d(105), d(100), d(95))

	first, ok := engine.Evaluate(f, snapshot())
	if !ok {
		t.Fatal("expected a rule to match")
	}
	for i := 0; i < 10; i++ {
		again, ok := engine.Evaluate(f, snapshot())
		if !ok || again.Name != first.Name {
			t.Fatalf("evaluation not deterministic: %q vs %q", again.Name, first.Name)
		}
	}
}

func TestNoRuleMatchesIsSilentNoOp(t *testing.T) {
	engine := mustSet(t, SetSimpleMovingAverage)
	f := crossoverFact(fact.Crossover{
		Market:     string(regime.Volatile),
		CurrentBid: d(100),
	})
	if rule, ok := engine.Evaluate(f, snapshot()); ok {
		t.Fatalf("expected no match, got %q", rule.Name)
	}
}

func TestCapitalErosionHaltWinsFirst(t *testing.T) {
	engine := mustSet(t, SetSimpleMovingAverage)
	f := fact.NewAccountValue("BTC/USD", d(1000), d(700))

	rule, ok := engine.Evaluate(f, snapshot())
	if !ok || rule.Name != "capital-erosion-halt" {
		t.Fatalf("expected capital-erosion-halt, got %q (matched=%v)", rule.Name, ok)
	}
	if len(rule.Actions) != 1 || rule.Actions[0] != Halt {
		t.Fatalf("expected [halt], got %v", rule.Actions)
	}

	// Value above the drawdown floor: nothing to do.
	healthy := fact.NewAccountValue("BTC/USD", d(1000), d(900))
	if _, ok := engine.Evaluate(healthy, snapshot()); ok {
		t.Fatal("healthy account value should not match")
	}
}

func TestMovingAveragesTriggerClassification(t *testing.T) {
	engine := mustSet(t, SetSimpleMovingAverage)
	f := fact.NewMovingAverages("BTC/USD", d(105), d(100), d(95))

	rule, ok := engine.Evaluate(f, snapshot())
	if !ok || rule.Name != "classify-averages" {
		t.Fatalf("expected classify-averages, got %q", rule.Name)
	}
	if len(rule.Actions) != 2 || rule.Actions[0] != GetMarketTrend || rule.Actions[1] != GetAccountValue {
		t.Fatalf("unexpected actions: %v", rule.Actions)
	}
}

func TestBullCrossoverBuys(t *testing.T) {
	engine := mustSet(t, SetSimpleMovingAverage)

	f := crossoverFact(fact.Crossover{
		Market:     string(regime.Bull),
		LastTrade:  string(ledger.Sell),
		CurrentBid: d(100),
	})
	rule, ok := engine.Evaluate(f, snapshot())
	if !ok || rule.Name != "bull-crossover-buy" {
		t.Fatalf("expected bull-crossover-buy, got %q", rule.Name)
	}

	// Already long: do not buy again.
	held := crossoverFact(fact.Crossover{
		Market:     string(regime.Bull),
		LastTrade:  string(ledger.Buy),
		CurrentBid: d(100),
	})
	if rule, ok := engine.Evaluate(held, snapshot()); ok {
		t.Fatalf("expected no match while holding, got %q", rule.Name)
	}
}

func TestProfitSellNeedsThresholdCleared(t *testing.T) {
	engine := mustSet(t, SetSimpleMovingAverage)

	profitable := crossoverFact(fact.Crossover{
		Market:       string(regime.VolatileMid),
		LastTrade:    string(ledger.Buy),
		CurrentBid:   d(111),
		LastBuyPrice: dp(100),
		UpperSellPct: dp(0.1),
	})
	rule, ok := engine.Evaluate(profitable, snapshot())
	if !ok || rule.Name != "profit-sell" {
		t.Fatalf("expected profit-sell, got %q", rule.Name)
	}

	// Bid below the threshold: hold.
	flat := crossoverFact(fact.Crossover{
		Market:       string(regime.VolatileMid),
		LastTrade:    string(ledger.Buy),
		CurrentBid:   d(105),
		LastBuyPrice: dp(100),
		UpperSellPct: dp(0.1),
	})
	if rule, ok := engine.Evaluate(flat, snapshot()); ok {
		t.Fatalf("expected no match below threshold, got %q", rule.Name)
	}

	// Missing enrichment fields evaluate to false, never panic.
	bare := crossoverFact(fact.Crossover{
		Market:     string(regime.VolatileMid),
		LastTrade:  string(ledger.Buy),
		CurrentBid: d(111),
	})
	if rule, ok := engine.Evaluate(bare, snapshot()); ok {
		t.Fatalf("expected no match without buy context, got %q", rule.Name)
	}
}

func TestBearStopLoss(t *testing.T) {
	engine := mustSet(t, SetSimpleMovingAverage)

	f := crossoverFact(fact.Crossover{
		Market:       string(regime.Bear),
		LastTrade:    string(ledger.Buy),
		CurrentBid:   d(89),
		LastBuyPrice: dp(100),
	})
	rule, ok := engine.Evaluate(f, snapshot())
	if !ok || rule.Name != "bear-stop-loss" {
		t.Fatalf("expected bear-stop-loss, got %q", rule.Name)
	}
	if len(rule.Actions) != 1 || rule.Actions[0] != SellSecurity {
		t.Fatalf("expected [sellSecurity], got %v", rule.Actions)
	}

	// Loss inside tolerance: ride it out.
	shallow := crossoverFact(fact.Crossover{
		Market:       string(regime.Bear),
		LastTrade:    string(ledger.Buy),
		CurrentBid:   d(95),
		LastBuyPrice: dp(100),
	})
	if rule, ok := engine.Evaluate(shallow, snapshot()); ok {
		t.Fatalf("expected no match on shallow dip, got %q", rule.Name)
	}
}

func TestSharedRulesAgreeAcrossSets(t *testing.T) {
	simple := mustSet(t, SetSimpleMovingAverage)
	multiple := mustSet(t, SetSimpleMovingAverageMultipleBuys)

	shared := []fact.Fact{
		fact.NewAccountValue("BTC/USD", d(1000), d(700)),
		fact.NewBalancesUpdated("BTC/USD", []exchange.Balance{{Currency: "USD", Available: d(500)}}),
		fact.NewMovingAverages("BTC/USD", d(105), d(100), d(95)),
	}
	for _, f := range shared {
		a, okA := simple.Evaluate(f, snapshot())
		b, okB := multiple.Evaluate(f, snapshot())
		if okA != okB || a.Name != b.Name {
			t.Fatalf("sets disagree on %s: %q vs %q", f.Kind, a.Name, b.Name)
		}
	}
}

func TestMultipleBuysSet(t *testing.T) {
	engine := mustSet(t, SetSimpleMovingAverageMultipleBuys)

	// Entry happens on volatile-mid, not bull.
	entry := crossoverFact(fact.Crossover{
		Market:     string(regime.VolatileMid),
		LastTrade:  string(ledger.Sell),
		CurrentBid: d(100),
	})
	rule, ok := engine.Evaluate(entry, snapshot())
	if !ok || rule.Name != "volatile-mid-buy" {
		t.Fatalf("expected volatile-mid-buy, got %q", rule.Name)
	}

	// Averaging down in a bull dip.
	dip := crossoverFact(fact.Crossover{
		Market:       string(regime.Bull),
		LastTrade:    string(ledger.Buy),
		CurrentBid:   d(94),
		LastBuyPrice: dp(100),
	})
	rule, ok = engine.Evaluate(dip, snapshot())
	if !ok || rule.Name != "bull-dip-buy" {
		t.Fatalf("expected bull-dip-buy, got %q", rule.Name)
	}

	// Bear exit only once the balance is exhausted.
	exhausted := crossoverFact(fact.Crossover{
		Market:              string(regime.Bear),
		LastTrade:           string(ledger.Buy),
		CurrentBid:          d(85),
		AccountBalance:      d(0.5),
		LastBuyPrice:        dp(100),
		LastAverageBuyPrice: dp(98),
	})
	rule, ok = engine.Evaluate(exhausted, snapshot())
	if !ok || rule.Name != "bear-exhausted-sell" {
		t.Fatalf("expected bear-exhausted-sell, got %q", rule.Name)
	}

	flush := crossoverFact(fact.Crossover{
		Market:              string(regime.Bear),
		LastTrade:           string(ledger.Buy),
		CurrentBid:          d(85),
		AccountBalance:      d(500),
		LastBuyPrice:        dp(100),
		LastAverageBuyPrice: dp(98),
	})
	if rule, ok := engine.Evaluate(flush, snapshot()); ok {
		t.Fatalf("expected no match with cash remaining, got %q", rule.Name)
	}
}
