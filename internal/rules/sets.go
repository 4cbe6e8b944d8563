package rules

import (
	"github.com/shopspring/decimal"

	"siena/internal/fact"
	"siena/internal/ledger"
	"siena/internal/regime"
)

const (
	SetSimpleMovingAverage             = "simple-moving-average"
	SetSimpleMovingAverageMultipleBuys = "simple-moving-average-multiple-buys"
)

var one = decimal.NewFromInt(1)

func capitalEroded(f fact.Fact, snap Snapshot) bool {
	if f.AccountValue == nil {
		return false
	}
	floor := f.AccountValue.Principal.Mul(one.Sub(snap.CriticalDrawdown))
	return f.AccountValue.CurrentValue.LessThan(floor)
}

func balancesArrived(f fact.Fact, _ Snapshot) bool {
	return f.Kind == fact.KindBalancesUpdated && f.Balances != nil
}

func averagesArrived(f fact.Fact, _ Snapshot) bool {
	return f.MovingAverages != nil
}

// simpleMovingAverage holds one position at a time: buy into a fresh bull
// run, take profit once the bid clears the dynamic threshold, cut losses in
// a bear market.
func simpleMovingAverage() []Rule {
	return []Rule{
		{
			// Market has crashed and your capital has eroded, bail out.
			Name:    "capital-erosion-halt",
			When:    capitalEroded,
			Actions: []Action{Halt},
		},
		{
			Name:    "compartmentalise-balances",
			When:    balancesArrived,
			Actions: []Action{CompartmentaliseAccount},
		},
		{
			Name:    "classify-averages",
			When:    averagesArrived,
			Actions: []Action{GetMarketTrend, GetAccountValue},
		},
		{
			// Buy at the start of a bull run.
			Name: "bull-crossover-buy",
			When: func(f fact.Fact, _ Snapshot) bool {
				c := f.Crossover
				return c != nil &&
					c.Market == string(regime.Bull) &&
					c.LastTrade != string(ledger.Buy)
			},
			Actions: []Action{BuySecurity},
		},
		{
			// You've got a profit so cash in.
			Name: "profit-sell",
			When: func(f fact.Fact, _ Snapshot) bool {
				c := f.Crossover
				if c == nil || c.LastBuyPrice == nil || c.UpperSellPct == nil {
					return false
				}
				target := c.LastBuyPrice.Mul(one.Add(*c.UpperSellPct))
				return c.CurrentBid.GreaterThan(target) &&
					c.LastTrade == string(ledger.Buy) &&
					c.Market != string(regime.Bull)
			},
			Actions: []Action{SellSecurity},
		},
		{
			// Bear market, sell and wait for a better buying opportunity.
			Name: "bear-stop-loss",
			When: func(f fact.Fact, snap Snapshot) bool {
				c := f.Crossover
				if c == nil || c.LastBuyPrice == nil {
					return false
				}
				floor := c.LastBuyPrice.Mul(one.Sub(snap.LowerSellPct))
				return c.CurrentBid.LessThan(floor) &&
					c.LastTrade == string(ledger.Buy) &&
					c.Market == string(regime.Bear)
			},
			Actions: []Action{SellSecurity},
		},
	}
}

// simpleMovingAverageMultipleBuys averages into a position across volatile
// dips and exits on the average cost instead of the last buy.
func simpleMovingAverageMultipleBuys() []Rule {
	return []Rule{
		{
			Name:    "capital-erosion-halt",
			When:    capitalEroded,
			Actions: []Action{Halt},
		},
		{
			Name:    "compartmentalise-balances",
			When:    balancesArrived,
			Actions: []Action{CompartmentaliseAccount},
		},
		{
			Name:    "classify-averages",
			When:    averagesArrived,
			Actions: []Action{GetMarketTrend, GetAccountValue},
		},
		{
			// Buy slightly cheap around a bull market.
			Name: "volatile-mid-buy",
			When: func(f fact.Fact, _ Snapshot) bool {
				c := f.Crossover
				return c != nil &&
					c.Market == string(regime.VolatileMid) &&
					c.LastTrade != string(ledger.Buy)
			},
			Actions: []Action{BuySecurity},
		},
		{
			// Profit on the average cost of the whole run of buys.
			Name: "average-profit-sell",
			When: func(f fact.Fact, _ Snapshot) bool {
				c := f.Crossover
				if c == nil || c.LastAverageBuyPrice == nil || c.UpperSellPct == nil {
					return false
				}
				target := c.LastAverageBuyPrice.Mul(one.Add(*c.UpperSellPct))
				return c.CurrentBid.GreaterThan(target) &&
					c.LastTrade == string(ledger.Buy) &&
					c.Market != string(regime.Bull)
			},
			Actions: []Action{SellSecurity},
		},
		{
			// Buy a little more at a lower price.
			Name: "bull-dip-buy",
			When: func(f fact.Fact, snap Snapshot) bool {
				c := f.Crossover
				if c == nil || c.LastBuyPrice == nil {
					return false
				}
				floor := c.LastBuyPrice.Mul(one.Sub(snap.LowerBuyPct))
				return c.CurrentBid.LessThan(floor) &&
					c.LastTrade == string(ledger.Buy) &&
					c.Market == string(regime.Bull)
			},
			Actions: []Action{BuySecurity},
		},
		{
			// No more money to buy with and the market has turned; sell and
			// wait it out.
			Name: "bear-exhausted-sell",
			When: func(f fact.Fact, snap Snapshot) bool {
				c := f.Crossover
				if c == nil || c.LastBuyPrice == nil || c.LastAverageBuyPrice == nil {
					return false
				}
				floor := c.LastBuyPrice.Sub(snap.LowerSellPct.Mul(*c.LastAverageBuyPrice))
				return c.CurrentBid.LessThan(floor) &&
					c.AccountBalance.LessThanOrEqual(snap.MinTradeSize) &&
					c.LastTrade == string(ledger.Buy) &&
					c.Market == string(regime.Bear)
			},
			Actions: []Action{SellSecurity},
		},
	}
}
