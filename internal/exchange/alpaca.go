package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// AlpacaClient adapts the Alpaca trading and crypto market-data APIs to the
// Client contract. Taker side on crypto trades maps onto the fill's order
// type, which is what the moving-average window filter keys on.
type AlpacaClient struct {
	trading          *alpaca.Client
	data             *marketdata.Client
	baseCurrency     string
	securityCurrency string
}

func NewAlpacaClient(apiKey, apiSecret, baseURL, baseCurrency, securityCurrency string) *AlpacaClient {
	return &AlpacaClient{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
		}),
		baseCurrency:     baseCurrency,
		securityCurrency: securityCurrency,
	}
}

func (c *AlpacaClient) GetTicker(ctx context.Context, pair string) (Ticker, error) {
	quote, err := c.data.GetLatestCryptoQuote(pair, marketdata.GetLatestCryptoQuoteRequest{})
	if err != nil {
		return Ticker{}, fmt.Errorf("get ticker: %w", err)
	}
	if quote.BidPrice <= 0 || quote.AskPrice <= 0 {
		return Ticker{}, fmt.Errorf("%w: bid=%f ask=%f", ErrInvalidResponse, quote.BidPrice, quote.AskPrice)
	}
	return Ticker{
		Bid: decimal.NewFromFloat(quote.BidPrice),
		Ask: decimal.NewFromFloat(quote.AskPrice),
	}, nil
}

func (c *AlpacaClient) GetBalances(ctx context.Context) ([]Balance, error) {
	acct, err := c.trading.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	balances := []Balance{{
		Currency:  c.baseCurrency,
		Balance:   acct.Cash,
		Available: acct.Cash,
	}}

	position, err := c.trading.GetPosition(strings.ReplaceAll(c.securityCurrency+c.baseCurrency, "/", ""))
	if err != nil {
		var apiErr *alpaca.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			balances = append(balances, Balance{Currency: c.securityCurrency})
			return balances, nil
		}
		return nil, fmt.Errorf("get position: %w", err)
	}
	balances = append(balances, Balance{
		Currency:  c.securityCurrency,
		Balance:   position.Qty,
		Available: position.QtyAvailable,
	})
	return balances, nil
}

func (c *AlpacaClient) GetMarketHistory(ctx context.Context, pair string, from, to time.Time) ([]Fill, error) {
	trades, err := c.data.GetCryptoTrades(pair, marketdata.GetCryptoTradesRequest{
		Start: from,
		End:   to,
	})
	if err != nil {
		return nil, fmt.Errorf("get market history: %w", err)
	}

	fills := make([]Fill, 0, len(trades))
	for _, trade := range trades {
		orderType := OrderBuy
		if trade.TakerSide == "S" {
			orderType = OrderSell
		}
		fills = append(fills, Fill{
			Price:     decimal.NewFromFloat(trade.Price),
			Quantity:  decimal.NewFromFloat(trade.Size),
			Timestamp: trade.Timestamp,
			FillType:  FillCompleted,
			OrderType: orderType,
		})
	}
	return fills, nil
}

func (c *AlpacaClient) GetMarketSummary(ctx context.Context, pair string) (Summary, error) {
	snapshot, err := c.data.GetCryptoSnapshot(pair, marketdata.GetCryptoSnapshotRequest{})
	if err != nil {
		return Summary{}, fmt.Errorf("get market summary: %w", err)
	}
	if snapshot.DailyBar == nil {
		return Summary{}, fmt.Errorf("%w: snapshot missing daily bar", ErrInvalidResponse)
	}
	return Summary{
		High: decimal.NewFromFloat(snapshot.DailyBar.High),
		Low:  decimal.NewFromFloat(snapshot.DailyBar.Low),
	}, nil
}

func (c *AlpacaClient) PlaceLimitOrder(ctx context.Context, pair string, side Side, quantity, price decimal.Decimal) (OrderRef, error) {
	orderSide := alpaca.Buy
	if side == SideSell {
		orderSide = alpaca.Sell
	}
	order, err := c.trading.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:      pair,
		Qty:         &quantity,
		Side:        orderSide,
		Type:        alpaca.Limit,
		TimeInForce: alpaca.GTC,
		LimitPrice:  &price,
	})
	if err != nil {
		log.Error().Err(err).Str("pair", pair).Str("side", string(side)).Msg("place order failed")
		return OrderRef{}, fmt.Errorf("place limit order: %w", err)
	}
	log.Info().Str("order_id", order.ID).Str("pair", pair).Str("side", string(side)).
		Str("qty", quantity.String()).Str("price", price.String()).Msg("order placed")
	return OrderRef{ID: order.ID}, nil
}
