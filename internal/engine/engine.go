// Package engine drives one trading pair: it polls the market into moving
// averages, routes facts through the rule engine and dispatches the
// resulting actions. All fact handling runs on the bus dispatch goroutine,
// so handlers never overlap; facts a handler publishes are queued behind
// whatever is already pending.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"siena/internal/bus"
	"siena/internal/config"
	"siena/internal/exchange"
	"siena/internal/executor"
	"siena/internal/fact"
	"siena/internal/ledger"
	"siena/internal/md"
	"siena/internal/regime"
	"siena/internal/rules"
)

var two = decimal.NewFromInt(2)

type Controller struct {
	cfg        config.Config
	topic      string
	client     exchange.Client
	calc       *md.Calculator
	classifier *regime.Classifier
	account    *ledger.Account
	exec       *executor.Executor
	rules      *rules.Engine
	bus        bus.Bus
	snap       rules.Snapshot

	principal   decimal.Decimal
	shortWindow time.Duration
	source      md.Source

	ctx context.Context
}

func New(cfg config.Config, client exchange.Client, calc *md.Calculator, classifier *regime.Classifier, account *ledger.Account, exec *executor.Executor, ruleEngine *rules.Engine, b bus.Bus) *Controller {
	source := md.SourceLive
	if cfg.CacheEnabled {
		source = md.SourceCache
	}
	return &Controller{
		cfg:        cfg,
		topic:      cfg.Topic(),
		client:     client,
		calc:       calc,
		classifier: classifier,
		account:    account,
		exec:       exec,
		rules:      ruleEngine,
		bus:        b,
		snap: rules.Snapshot{
			CriticalDrawdown: decimal.NewFromFloat(cfg.CriticalDrawdown),
			LowerSellPct:     decimal.NewFromFloat(cfg.LowerSellPercentage),
			LowerBuyPct:      decimal.NewFromFloat(cfg.LowerBuyPercentage),
			MinTradeSize:     decimal.NewFromFloat(cfg.MinTradeSize),
		},
		shortWindow: cfg.ShortWindow,
		source:      source,
		ctx:         context.Background(),
	}
}

// Run bootstraps the account from the exchange and polls until the context
// ends.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	c.bus.Subscribe(c.topic, c.HandleFact)

	if err := c.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	log.Info().Str("pair", c.cfg.Pair).Dur("interval", c.cfg.PollInterval).Msg("polling started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Poll(ctx)
		}
	}
}

// Bootstrap seeds the ledger from the authoritative exchange balance,
// calibrates the trade amount against the whole account value and raises
// the first balances fact so compartmentalisation runs through the same
// rule path as live updates.
func (c *Controller) Bootstrap(ctx context.Context) error {
	balances, err := c.client.GetBalances(ctx)
	if err != nil {
		return err
	}
	if err := c.account.SetExchangeBalances(balances); err != nil {
		return err
	}

	ticker, err := c.client.GetTicker(ctx, c.cfg.Pair)
	if err != nil {
		return err
	}
	midMarket := ticker.Bid.Add(ticker.Ask).Div(two)
	c.account.CalibrateTradeAmount(midMarket)
	c.principal = c.account.Balance().Add(c.account.SecurityBalance().Mul(midMarket))

	log.Info().Str("pair", c.cfg.Pair).Str("principal", c.principal.String()).
		Str("trade_amount", c.account.TradeAmount().String()).Msg("account bootstrapped")
	return c.bus.Publish(c.topic, fact.NewBalancesUpdated(c.cfg.Pair, balances))
}

// Poll computes the three moving averages and publishes them as a fact.
// A short window with no fills widens itself for the next attempt instead
// of escalating; everything else transient is logged and retried on the
// next tick.
func (c *Controller) Poll(ctx context.Context) {
	now := time.Now().UTC()

	short, err := c.calc.Average(ctx, c.cfg.Pair, now.Add(-c.shortWindow), now, md.SourceLive)
	if errors.Is(err, md.ErrInsufficientData) {
		c.shortWindow += c.cfg.WindowIncrement
		log.Warn().Str("pair", c.cfg.Pair).Dur("window", c.shortWindow).
			Msg("no fills in short window, widening")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("pair", c.cfg.Pair).Msg("short average failed")
		return
	}

	mid, err := c.calc.Average(ctx, c.cfg.Pair, now.Add(-c.cfg.MidWindow), now, c.source)
	if err != nil {
		log.Error().Err(err).Str("pair", c.cfg.Pair).Msg("mid average failed")
		return
	}
	long, err := c.calc.Average(ctx, c.cfg.Pair, now.Add(-c.cfg.LongWindow), now, c.source)
	if err != nil {
		log.Error().Err(err).Str("pair", c.cfg.Pair).Msg("long average failed")
		return
	}

	if err := c.bus.Publish(c.topic, fact.NewMovingAverages(c.cfg.Pair, short, mid, long)); err != nil {
		log.Error().Err(err).Str("pair", c.cfg.Pair).Msg("averages publish failed")
	}
}

// HandleFact runs one fact through the rule engine. First match wins; no
// match is a silent no-op by design.
func (c *Controller) HandleFact(f fact.Fact) {
	if f.Pair != "" && f.Pair != c.cfg.Pair {
		return
	}
	rule, ok := c.rules.Evaluate(f, c.snap)
	if !ok {
		return
	}
	log.Debug().Str("pair", c.cfg.Pair).Str("rule", rule.Name).Str("kind", string(f.Kind)).Msg("rule matched")

	for _, action := range rule.Actions {
		switch action {
		case rules.GetMarketTrend:
			c.observeMarket(f)
		case rules.GetAccountValue:
			c.publishAccountValue()
		case rules.CompartmentaliseAccount:
			if err := c.account.SetExchangeBalances(f.Balances); err != nil {
				log.Error().Err(err).Str("pair", c.cfg.Pair).Msg("compartmentalisation failed")
			}
		case rules.BuySecurity:
			c.exec.Buy(c.ctx)
		case rules.SellSecurity:
			c.exec.Sell(c.ctx)
		case rules.Halt:
			c.exec.Halt(c.ctx)
		}
	}
}

func (c *Controller) observeMarket(f fact.Fact) {
	if f.MovingAverages == nil {
		return
	}
	ticker, err := c.client.GetTicker(c.ctx, c.cfg.Pair)
	if err != nil {
		log.Error().Err(err).Str("pair", c.cfg.Pair).Msg("ticker fetch failed, observation skipped")
		return
	}
	summary, err := c.client.GetMarketSummary(c.ctx, c.cfg.Pair)
	if err != nil {
		log.Error().Err(err).Str("pair", c.cfg.Pair).Msg("summary fetch failed, observation skipped")
		return
	}
	c.classifier.Observe(regime.Observation{
		Short: f.MovingAverages.Short,
		Mid:   f.MovingAverages.Mid,
		Long:  f.MovingAverages.Long,
		Bid:   ticker.Bid,
		Ask:   ticker.Ask,
		High:  summary.High,
		Low:   summary.Low,
		At:    f.At,
	})
}

func (c *Controller) publishAccountValue() {
	ticker, err := c.client.GetTicker(c.ctx, c.cfg.Pair)
	if err != nil {
		log.Error().Err(err).Str("pair", c.cfg.Pair).Msg("ticker fetch failed, account value skipped")
		return
	}
	value := c.account.Balance().Add(c.account.SecurityBalance().Mul(ticker.Bid))
	if err := c.bus.Publish(c.topic, fact.NewAccountValue(c.cfg.Pair, c.principal, value)); err != nil {
		log.Error().Err(err).Str("pair", c.cfg.Pair).Msg("account value publish failed")
	}
}
