package regime

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"siena/internal/bus"
	"siena/internal/fact"
	"siena/internal/ledger"
)

// Observation is one poll tick's view of the market.
type Observation struct {
	Short decimal.Decimal
	Mid   decimal.Decimal
	Long  decimal.Decimal
	Bid   decimal.Decimal
	Ask   decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	At    time.Time
}

// PositionView is the slice of the ledger the classifier needs to enrich
// crossover facts.
type PositionView interface {
	LastEntry() (ledger.Entry, bool)
	LastPriceByAction(action ledger.Action) (decimal.Decimal, error)
	LastAverageBuyPrice() (decimal.Decimal, error)
	Balance() decimal.Decimal
}

// Classifier tracks the last published regime and trend for a single pair.
// Crossover facts go out edge-triggered: only when the classification
// changed since the previous publish. The one exception is the bear alarm,
// which repeats while the market is bear and the position is still held, so
// the stop-loss rule gets a chance every tick rather than once per
// transition.
type Classifier struct {
	pair          string
	topic         string
	bus           bus.Bus
	position      PositionView
	upperSellMin  decimal.Decimal
	lastRegime    Regime
	lastTrend     Trend
	everPublished bool
}

func NewClassifier(pair, topic string, b bus.Bus, position PositionView, upperSellMin decimal.Decimal) *Classifier {
	return &Classifier{
		pair:         pair,
		topic:        topic,
		bus:          b,
		position:     position,
		upperSellMin: upperSellMin,
	}
}

// Observe classifies the observation and publishes a crossover fact when
// warranted. It reports whether a fact went out.
func (c *Classifier) Observe(obs Observation) bool {
	current := Classify(obs.Short, obs.Mid, obs.Long)
	trend := TrendOf(obs.Short, obs.Mid)

	changed := !c.everPublished || current != c.lastRegime || trend != c.lastTrend
	alarm := c.bearAlarm(current)
	if !changed && !alarm {
		return false
	}

	payload := c.buildCrossover(current, trend, obs)
	payload.Alarm = alarm && !changed
	if err := c.bus.Publish(c.topic, fact.NewCrossover(c.pair, payload)); err != nil {
		log.Error().Err(err).Str("pair", c.pair).Msg("crossover publish failed")
		return false
	}

	log.Info().Str("pair", c.pair).
		Str("market", string(current)).Str("trend", string(trend)).
		Str("previous", string(c.lastRegime)).Bool("alarm", payload.Alarm).
		Str("bid", obs.Bid.String()).Msg("crossover")

	c.lastRegime = current
	c.lastTrend = trend
	c.everPublished = true
	return true
}

func (c *Classifier) bearAlarm(current Regime) bool {
	if current != Bear {
		return false
	}
	entry, ok := c.position.LastEntry()
	return ok && entry.Action == ledger.Buy
}

func (c *Classifier) buildCrossover(current Regime, trend Trend, obs Observation) fact.Crossover {
	priceRange := obs.High.Sub(obs.Low).Abs()
	payload := fact.Crossover{
		Trend:          string(trend),
		Market:         string(current),
		CrossoverTime:  obs.At,
		CurrentBid:     obs.Bid,
		Range:          priceRange,
		AccountBalance: c.position.Balance(),
	}
	if !obs.Bid.IsZero() {
		payload.RangePct = priceRange.Div(obs.Bid)
	}

	if entry, ok := c.position.LastEntry(); ok {
		payload.LastTrade = string(entry.Action)
		payload.LastTradeTime = entry.Time
	}
	if price, err := c.position.LastPriceByAction(ledger.Buy); err == nil {
		buy := price
		payload.LastBuyPrice = &buy
		upper := UpperSellPct(buy, obs.High, c.upperSellMin)
		payload.UpperSellPct = &upper
	}
	if avg, err := c.position.LastAverageBuyPrice(); err == nil {
		average := avg
		payload.LastAverageBuyPrice = &average
	}
	if price, err := c.position.LastPriceByAction(ledger.Sell); err == nil {
		sell := price
		payload.LastSellPrice = &sell
	}
	return payload
}
