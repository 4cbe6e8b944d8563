package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidResponse marks exchange replies that parsed but carried
// unusable values, such as a non-numeric bid or ask.
var ErrInvalidResponse = errors.New("exchange: invalid response")

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Fill classification values as reported by the exchange.
const (
	FillCompleted = "FILL"
	OrderBuy      = "BUY"
	OrderSell     = "SELL"
)

type Ticker struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

type Summary struct {
	High decimal.Decimal
	Low  decimal.Decimal
}

type Balance struct {
	Currency  string
	Balance   decimal.Decimal
	Available decimal.Decimal
}

type Fill struct {
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Timestamp time.Time
	FillType  string
	OrderType string
}

type OrderRef struct {
	ID string
}

// Client is the boundary to the exchange. Implementations own transport,
// authentication and response decoding; callers treat every error as
// transient unless documented otherwise.
type Client interface {
	GetTicker(ctx context.Context, pair string) (Ticker, error)
	GetBalances(ctx context.Context) ([]Balance, error)
	GetMarketHistory(ctx context.Context, pair string, from, to time.Time) ([]Fill, error)
	GetMarketSummary(ctx context.Context, pair string) (Summary, error)
	PlaceLimitOrder(ctx context.Context, pair string, side Side, quantity, price decimal.Decimal) (OrderRef, error)
}
