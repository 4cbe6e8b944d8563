// Package md reduces raw market history into the scalar inputs the
// classifier consumes.
package md

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"siena/internal/exchange"
)

// ErrInsufficientData means no fills matched the requested window. Callers
// recover by widening the window on the next poll.
var ErrInsufficientData = errors.New("md: no fills in window")

type Source string

const (
	SourceLive  Source = "live"
	SourceCache Source = "cache"
)

type Calculator struct {
	client exchange.Client
	cache  *Cache
}

func NewCalculator(client exchange.Client, cache *Cache) *Calculator {
	return &Calculator{client: client, cache: cache}
}

// Average returns the arithmetic mean price of completed sell-side fills
// inside [from, to]. It has no side effects.
func (c *Calculator) Average(ctx context.Context, pair string, from, to time.Time, source Source) (decimal.Decimal, error) {
	var (
		fills []exchange.Fill
		err   error
	)
	switch source {
	case SourceCache:
		if c.cache == nil {
			return decimal.Zero, fmt.Errorf("md: cache source requested but no cache configured")
		}
		fills, err = c.cache.Between(ctx, pair, from, to)
	default:
		fills, err = c.client.GetMarketHistory(ctx, pair, from, to)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch history: %w", err)
	}

	sum := decimal.Zero
	count := 0
	for _, fill := range fills {
		if !soldWithin(fill, from, to) {
			continue
		}
		sum = sum.Add(fill.Price)
		count++
	}
	if count == 0 {
		return decimal.Zero, ErrInsufficientData
	}
	return sum.Div(decimal.NewFromInt(int64(count))), nil
}

func soldWithin(fill exchange.Fill, from, to time.Time) bool {
	if fill.FillType != exchange.FillCompleted || fill.OrderType != exchange.OrderSell {
		return false
	}
	return !fill.Timestamp.Before(from) && !fill.Timestamp.After(to)
}
