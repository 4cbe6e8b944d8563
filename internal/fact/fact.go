// Package fact defines the immutable messages exchanged between the market
// classifier, the ledger and the rule engine. A fact carries exactly one
// populated payload selected by Kind; consumers must treat absent payloads
// and absent optional fields as "predicate does not apply", never as errors.
package fact

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"siena/internal/exchange"
)

type Kind string

const (
	KindMovingAverages  Kind = "moving_averages"
	KindCrossover       Kind = "crossover"
	KindBalancesUpdated Kind = "balances_updated"
	KindAccountValue    Kind = "account_value"
)

type MovingAverages struct {
	Short decimal.Decimal `json:"short"`
	Mid   decimal.Decimal `json:"mid"`
	Long  decimal.Decimal `json:"long"`
}

// Crossover describes a regime or trend transition, enriched with whatever
// position context existed at the time. Pointer fields are only set when a
// prior trade makes them meaningful.
type Crossover struct {
	Trend               string           `json:"trend"`
	Market              string           `json:"market"`
	CrossoverTime       time.Time        `json:"crossoverTime"`
	LastTrade           string           `json:"lastTrade,omitempty"`
	LastTradeTime       time.Time        `json:"lastTradeTime,omitempty"`
	CurrentBid          decimal.Decimal  `json:"currentBidPrice"`
	Range               decimal.Decimal  `json:"range"`
	RangePct            decimal.Decimal  `json:"rangePercentage"`
	AccountBalance      decimal.Decimal  `json:"accountBalance"`
	LastBuyPrice        *decimal.Decimal `json:"lastBuyPrice,omitempty"`
	LastAverageBuyPrice *decimal.Decimal `json:"lastAverageBuyPrice,omitempty"`
	LastSellPrice       *decimal.Decimal `json:"lastSellPrice,omitempty"`
	UpperSellPct        *decimal.Decimal `json:"upperSellPercentage,omitempty"`
	Alarm               bool             `json:"alarm,omitempty"`
}

type AccountValue struct {
	Principal    decimal.Decimal `json:"principal"`
	CurrentValue decimal.Decimal `json:"currentAccountValue"`
}

type Fact struct {
	ID   string    `json:"id"`
	At   time.Time `json:"at"`
	Pair string    `json:"pair"`
	Kind Kind      `json:"kind"`

	MovingAverages *MovingAverages    `json:"movingAverages,omitempty"`
	Crossover      *Crossover         `json:"crossover,omitempty"`
	Balances       []exchange.Balance `json:"balances,omitempty"`
	AccountValue   *AccountValue      `json:"accountValue,omitempty"`
}

func newFact(pair string, kind Kind) Fact {
	return Fact{
		ID:   uuid.NewString(),
		At:   time.Now().UTC(),
		Pair: pair,
		Kind: kind,
	}
}

func NewMovingAverages(pair string, short, mid, long decimal.Decimal) Fact {
	f := newFact(pair, KindMovingAverages)
	f.MovingAverages = &MovingAverages{Short: short, Mid: mid, Long: long}
	return f
}

func NewCrossover(pair string, payload Crossover) Fact {
	f := newFact(pair, KindCrossover)
	f.Crossover = &payload
	return f
}

func NewBalancesUpdated(pair string, balances []exchange.Balance) Fact {
	f := newFact(pair, KindBalancesUpdated)
	f.Balances = balances
	return f
}

func NewAccountValue(pair string, principal, current decimal.Decimal) Fact {
	f := newFact(pair, KindAccountValue)
	f.AccountValue = &AccountValue{Principal: principal, CurrentValue: current}
	return f
}
