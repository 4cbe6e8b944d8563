// Package ledger owns the capital state for one trading pair: the base and
// security balances, the trade-amount/reserve split and the append-only
// trade log used for average-cost pricing.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"siena/internal/exchange"
)

// ErrNoTrades is the sentinel for price queries against an empty or
// buy-less trade log.
var ErrNoTrades = errors.New("ledger: no matching trades")

type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

type Entry struct {
	Action Action
	Price  decimal.Decimal
	Time   time.Time
}

// Limits caps how much of the balance is actively tradable. Percentage
// applies when the balance sits below Ceiling.
type Limits struct {
	Ceiling    decimal.Decimal
	Percentage decimal.Decimal
}

type Account struct {
	mu               sync.Mutex
	baseCurrency     string
	securityCurrency string
	limits           Limits

	tradeAmount decimal.Decimal
	reserve     decimal.Decimal
	security    decimal.Decimal
	entries     []Entry
}

func NewAccount(baseCurrency, securityCurrency string, limits Limits) *Account {
	return &Account{
		baseCurrency:     baseCurrency,
		securityCurrency: securityCurrency,
		limits:           limits,
	}
}

// SetBalance splits amount into trade amount and reserve. An existing trade
// amount is kept fixed and never silently grown; it only shrinks when the
// balance can no longer cover it.
func (a *Account) SetBalance(amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setBalanceLocked(amount)
}

func (a *Account) setBalanceLocked(amount decimal.Decimal) {
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	switch {
	case a.tradeAmount.IsZero():
		a.tradeAmount = decimal.Min(a.limits.Ceiling, a.limits.Percentage.Mul(amount))
		if a.tradeAmount.GreaterThan(amount) {
			a.tradeAmount = amount
		}
	case a.tradeAmount.GreaterThan(amount):
		a.tradeAmount = amount
	}
	a.reserve = amount.Sub(a.tradeAmount)
}

// SetExchangeBalances seeds the account from the exchange's authoritative
// balance list. The base currency must be present; the security balance is
// optional (a fresh account holds none).
func (a *Account) SetExchangeBalances(balances []exchange.Balance) error {
	var base *exchange.Balance
	for i := range balances {
		switch balances[i].Currency {
		case a.baseCurrency:
			base = &balances[i]
		case a.securityCurrency:
			a.mu.Lock()
			a.security = balances[i].Available
			a.mu.Unlock()
		}
	}
	if base == nil {
		return fmt.Errorf("ledger: %s balance not found on exchange", a.baseCurrency)
	}
	a.SetBalance(base.Available)
	log.Info().Str("currency", a.baseCurrency).
		Str("trade_amount", a.TradeAmount().String()).
		Str("reserve", a.Reserve().String()).Msg("account compartmentalised")
	return nil
}

func (a *Account) Credit(delta decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setBalanceLocked(a.balanceLocked().Add(delta))
}

// Debit reduces the balance, flooring at zero.
func (a *Account) Debit(delta decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.balanceLocked().Sub(delta)
	if next.IsNegative() {
		next = decimal.Zero
	}
	a.setBalanceLocked(next)
}

// Trade applies the settled cash movement and appends the log entry.
func (a *Account) Trade(action Action, price, amount decimal.Decimal, at time.Time) {
	if action == Buy {
		a.Debit(amount)
	} else {
		a.Credit(amount)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, Entry{Action: action, Price: price, Time: at})
}

// LastAverageBuyPrice averages the contiguous run of buys since the most
// recent sell. It fails when that run is empty.
func (a *Account) LastAverageBuyPrice() (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sum := decimal.Zero
	count := 0
	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].Action == Sell {
			break
		}
		sum = sum.Add(a.entries[i].Price)
		count++
	}
	if count == 0 {
		return decimal.Zero, ErrNoTrades
	}
	return sum.Div(decimal.NewFromInt(int64(count))), nil
}

func (a *Account) LastPriceByAction(action Action) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].Action == action {
			return a.entries[i].Price, nil
		}
	}
	return decimal.Zero, ErrNoTrades
}

func (a *Account) LastEntry() (Entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) == 0 {
		return Entry{}, false
	}
	return a.entries[len(a.entries)-1], true
}

// CalibrateTradeAmount re-derives the trade amount from the total account
// value, so a position bought in an earlier run still counts toward the
// allocation instead of the stale cash remainder.
func (a *Account) CalibrateTradeAmount(midPrice decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	balance := a.balanceLocked()
	total := balance.Add(a.security.Mul(midPrice))
	target := decimal.Min(a.limits.Ceiling, a.limits.Percentage.Mul(total))
	if target.GreaterThan(balance) {
		target = balance
	}
	a.tradeAmount = target
	a.reserve = balance.Sub(target)
	log.Info().Str("total_value", total.String()).
		Str("trade_amount", a.tradeAmount.String()).
		Str("reserve", a.reserve.String()).Msg("trade amount calibrated")
}

func (a *Account) Balance() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balanceLocked()
}

func (a *Account) balanceLocked() decimal.Decimal {
	return a.tradeAmount.Add(a.reserve)
}

func (a *Account) TradeAmount() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tradeAmount
}

func (a *Account) Reserve() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserve
}

func (a *Account) SecurityBalance() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.security
}

func (a *Account) SetSecurityBalance(qty decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.security = qty
}
