// Package executor turns buy/sell intents into exchange orders. A single
// non-reentrant lock per pair guarantees at most one in-flight trade;
// signals arriving while locked are dropped, never queued, because a queued
// trade would act on stale facts. The lock is held from acquisition until
// the settlement poller resolves.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"siena/internal/bus"
	"siena/internal/exchange"
	"siena/internal/fact"
	"siena/internal/ledger"
	"siena/internal/regime"
)

type Status string

const (
	StatusIdle     Status = "idle"
	StatusLocked   Status = "locked"
	StatusSettling Status = "settling"
	StatusHalted   Status = "halted"
)

type SettlementState string

const (
	SettlementPending    SettlementState = "pending"
	SettlementConfirmed  SettlementState = "confirmed"
	SettlementMismatched SettlementState = "mismatched"
)

type Config struct {
	Pair               string
	Topic              string
	BaseCurrency       string
	SecurityCurrency   string
	CommissionRate     decimal.Decimal
	UpperSellFloor     decimal.Decimal
	SettlementDelay    time.Duration
	SettlementInterval time.Duration
	SettlementAttempts int
	Tolerance          decimal.Decimal
	TradingEnabled     bool
}

type Executor struct {
	cfg     Config
	client  exchange.Client
	account *ledger.Account
	bus     bus.Bus
	clock   Clock
	history *TradeHistory
	fatal   func(error)

	mu     sync.Mutex
	locked bool
	halted bool
	status Status
}

type settlement struct {
	action     ledger.Action
	price      decimal.Decimal
	quantity   decimal.Decimal
	total      decimal.Decimal
	commission decimal.Decimal
	expected   decimal.Decimal
	orderID    string
	state      SettlementState
}

// New wires an executor for one pair. fatal is invoked on a settlement
// mismatch, after which the internal model can no longer be trusted; nil
// defaults to terminating the process.
func New(cfg Config, client exchange.Client, account *ledger.Account, b bus.Bus, clock Clock, history *TradeHistory, fatal func(error)) *Executor {
	if clock == nil {
		clock = SystemClock()
	}
	if fatal == nil {
		fatal = func(err error) {
			log.Fatal().Err(err).Msg("unreconciled ledger, terminating")
		}
	}
	return &Executor{
		cfg:     cfg,
		client:  client,
		account: account,
		bus:     b,
		clock:   clock,
		history: history,
		fatal:   fatal,
		status:  StatusIdle,
	}
}

// Buy spends the account's trade amount at the current ask. It reports
// false without side effects when trading is disabled or a trade is
// already in flight.
func (e *Executor) Buy(ctx context.Context) bool {
	if !e.acquire(ledger.Buy) {
		return false
	}
	if !e.submit(ctx, ledger.Buy) {
		e.release()
		return false
	}
	return true
}

// Sell liquidates the full security balance at the current bid, under the
// same lock discipline as Buy.
func (e *Executor) Sell(ctx context.Context) bool {
	if !e.acquire(ledger.Sell) {
		return false
	}
	if !e.submit(ctx, ledger.Sell) {
		e.release()
		return false
	}
	return true
}

// Halt sells any open position once, then disables all future trading.
// Calling it again is a no-op.
func (e *Executor) Halt(ctx context.Context) {
	e.mu.Lock()
	if e.halted {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if e.account.SecurityBalance().IsPositive() {
		if !e.Sell(ctx) {
			log.Error().Str("pair", e.cfg.Pair).Msg("halt could not liquidate position")
		}
	}

	e.mu.Lock()
	e.halted = true
	e.status = StatusHalted
	e.mu.Unlock()
	log.Warn().Str("pair", e.cfg.Pair).Msg("trading halted")
}

func (e *Executor) acquire(action ledger.Action) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted || !e.cfg.TradingEnabled {
		log.Info().Str("pair", e.cfg.Pair).Str("action", string(action)).Msg("trading disabled, signal ignored")
		return false
	}
	if e.locked {
		// Contention is not an error: prefer missing this signal over
		// acting on stale facts later.
		log.Debug().Str("pair", e.cfg.Pair).Str("action", string(action)).Msg("transaction lock held, signal dropped")
		return false
	}
	e.locked = true
	e.status = StatusLocked
	return true
}

func (e *Executor) release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.locked = false
	if e.status != StatusHalted {
		e.status = StatusIdle
	}
}

func (e *Executor) submit(ctx context.Context, action ledger.Action) bool {
	balances, err := e.client.GetBalances(ctx)
	if err != nil {
		log.Error().Err(err).Str("pair", e.cfg.Pair).Msg("balance fetch failed, trade aborted")
		return false
	}
	ticker, err := e.client.GetTicker(ctx, e.cfg.Pair)
	if err != nil {
		log.Error().Err(err).Str("pair", e.cfg.Pair).Msg("ticker fetch failed, trade aborted")
		return false
	}

	baseAvailable := availableOf(balances, e.cfg.BaseCurrency)
	var s settlement
	if action == ledger.Buy {
		amount := e.account.TradeAmount()
		if !amount.IsPositive() {
			log.Error().Str("pair", e.cfg.Pair).Msg("no trade amount available to buy with")
			return false
		}
		price := ticker.Ask
		commission := amount.Mul(e.cfg.CommissionRate)
		quantity := amount.Sub(commission).Div(price)
		s = settlement{
			action:     ledger.Buy,
			price:      price,
			quantity:   quantity,
			total:      amount,
			commission: commission,
			expected:   baseAvailable.Sub(amount),
		}
	} else {
		quantity := availableOf(balances, e.cfg.SecurityCurrency)
		if !quantity.IsPositive() {
			log.Error().Str("pair", e.cfg.Pair).Msg("no security to sell")
			return false
		}
		price := ticker.Bid
		subtotal := quantity.Mul(price)
		commission := subtotal.Mul(e.cfg.CommissionRate)
		s = settlement{
			action:     ledger.Sell,
			price:      price,
			quantity:   quantity,
			total:      subtotal.Sub(commission),
			commission: commission,
			expected:   baseAvailable.Add(subtotal).Sub(commission),
		}
	}

	side := exchange.SideBuy
	if action == ledger.Sell {
		side = exchange.SideSell
	}
	order, err := e.client.PlaceLimitOrder(ctx, e.cfg.Pair, side, s.quantity, s.price)
	if err != nil {
		log.Error().Err(err).Str("pair", e.cfg.Pair).Str("action", string(action)).Msg("order placement failed")
		return false
	}
	s.orderID = order.ID
	s.state = SettlementPending

	log.Info().Str("pair", e.cfg.Pair).Str("action", string(action)).
		Str("price", s.price.String()).Str("quantity", s.quantity.String()).
		Str("total", s.total.String()).Str("expected_balance", s.expected.String()).
		Str("order_id", s.orderID).Msg("trade submitted, awaiting settlement")

	e.mu.Lock()
	e.status = StatusSettling
	e.mu.Unlock()
	go e.settle(ctx, s)
	return true
}

// settle polls the authoritative balance until it reflects the expected
// post-trade value. Agreement commits the trade; exhausting every attempt
// means the internal model has diverged from the exchange, which is fatal.
func (e *Executor) settle(ctx context.Context, s settlement) {
	if !e.wait(ctx, e.cfg.SettlementDelay) {
		e.release()
		return
	}

	for attempt := 1; attempt <= e.cfg.SettlementAttempts; attempt++ {
		if e.isHalted() {
			log.Warn().Str("pair", e.cfg.Pair).Str("order_id", s.orderID).
				Msg("trading halted during settlement, bookkeeping skipped")
			e.release()
			return
		}

		balances, err := e.client.GetBalances(ctx)
		if err != nil {
			log.Error().Err(err).Str("pair", e.cfg.Pair).Msg("settlement balance fetch failed")
		} else {
			actual := availableOf(balances, e.cfg.BaseCurrency)
			if actual.Sub(s.expected).Abs().LessThanOrEqual(e.cfg.Tolerance) {
				s.state = SettlementConfirmed
				e.commit(ctx, s, balances)
				e.release()
				return
			}
			log.Info().Str("pair", e.cfg.Pair).Int("attempt", attempt).
				Str("expected", s.expected.String()).Str("actual", actual.String()).
				Msg("settlement not yet reflected")
		}

		if attempt < e.cfg.SettlementAttempts && !e.wait(ctx, e.cfg.SettlementInterval) {
			e.release()
			return
		}
	}

	s.state = SettlementMismatched
	e.fatal(fmt.Errorf("executor: settlement mismatch for order %s on %s, expected balance %s", s.orderID, e.cfg.Pair, s.expected))
}

func (e *Executor) commit(ctx context.Context, s settlement, balances []exchange.Balance) {
	now := e.clock.Now()
	e.account.Trade(s.action, s.price, s.total, now)
	e.account.SetSecurityBalance(availableOf(balances, e.cfg.SecurityCurrency))

	if e.history != nil {
		e.history.Append(TradeRecord{
			Timestamp:  now,
			Pair:       e.cfg.Pair,
			Action:     string(s.action),
			Price:      s.price,
			Quantity:   s.quantity,
			Total:      s.total,
			Commission: s.commission,
			OrderID:    s.orderID,
		})
	}

	log.Info().Str("pair", e.cfg.Pair).Str("action", string(s.action)).
		Str("order_id", s.orderID).Str("balance", e.account.Balance().String()).
		Msg("settlement confirmed")

	// A fresh buy moves the profit-taking threshold; surface it right away
	// rather than waiting for the next crossover.
	if s.action == ledger.Buy {
		if summary, err := e.client.GetMarketSummary(ctx, e.cfg.Pair); err == nil {
			upper := regime.UpperSellPct(s.price, summary.High, e.cfg.UpperSellFloor)
			log.Info().Str("pair", e.cfg.Pair).Str("upper_sell_pct", upper.String()).
				Msg("sell threshold recomputed")
		} else {
			log.Error().Err(err).Str("pair", e.cfg.Pair).Msg("sell threshold refresh failed")
		}
	}

	if err := e.bus.Publish(e.cfg.Topic, fact.NewBalancesUpdated(e.cfg.Pair, balances)); err != nil {
		log.Error().Err(err).Str("pair", e.cfg.Pair).Msg("balance fact publish failed")
	}
}

// wait sleeps on the fake-able clock; false means the context ended first.
func (e *Executor) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		log.Info().Str("pair", e.cfg.Pair).Msg("settlement abandoned, shutting down")
		return false
	case <-e.clock.After(d):
		return true
	}
}

func (e *Executor) isHalted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// Status is exposed for observability and tests.
func (e *Executor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Executor) Locked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.locked
}

func availableOf(balances []exchange.Balance, currency string) decimal.Decimal {
	for _, balance := range balances {
		if balance.Currency == currency {
			return balance.Available
		}
	}
	return decimal.Zero
}
