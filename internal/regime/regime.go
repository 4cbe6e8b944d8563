// Package regime classifies the market from the relative ordering of three
// moving averages and raises crossover facts when the classification moves.
package regime

import (
	"github.com/shopspring/decimal"
)

type Regime string

const (
	Bull             Regime = "bull"
	Bear             Regime = "bear"
	Volatile         Regime = "volatile"
	VolatileMid      Regime = "volatile mid"
	VolatileRecovery Regime = "volatile recovery"
	VolatileLow      Regime = "volatile low"
	Flat             Regime = "flat"
)

type Trend string

const (
	TrendUp   Trend = "UP"
	TrendDown Trend = "DOWN"
)

// Classify maps the total order of the three averages onto a regime. Any
// tie is Flat.
func Classify(short, mid, long decimal.Decimal) Regime {
	sm := short.Cmp(mid)
	sl := short.Cmp(long)
	ml := mid.Cmp(long)
	if sm == 0 || sl == 0 || ml == 0 {
		return Flat
	}

	switch {
	case sm > 0 && ml > 0:
		// short > mid > long
		return Bull
	case sm > 0 && sl > 0:
		// short > long > mid
		return VolatileRecovery
	case sm < 0 && sl > 0:
		// mid > short > long
		return VolatileMid
	case sm > 0 && sl < 0:
		// long > short > mid
		return Volatile
	case sm < 0 && ml > 0:
		// mid > long > short
		return Bear
	default:
		// long > mid > short
		return VolatileLow
	}
}

// TrendOf is UP when the short average leads the mid, DOWN otherwise.
func TrendOf(short, mid decimal.Decimal) Trend {
	if short.GreaterThan(mid) {
		return TrendUp
	}
	return TrendDown
}

var two = decimal.NewFromInt(2)

// UpperSellPct derives the dynamic profit-taking threshold from how far the
// day's high sits above the buy price, halved, floored at the configured
// minimum. A zero buy price falls back to the floor.
func UpperSellPct(buyPrice, dayHigh, floor decimal.Decimal) decimal.Decimal {
	if buyPrice.IsZero() {
		return floor
	}
	pct := dayHigh.Sub(buyPrice).Div(buyPrice).Div(two)
	if pct.LessThan(floor) {
		return floor
	}
	return pct
}
