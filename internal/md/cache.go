package md

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"siena/internal/exchange"
)

// Cache keeps recent market history in a redis sorted set per pair, scored
// by fill timestamp in milliseconds. The longer moving-average windows read
// from here instead of hammering the exchange on every poll.
type Cache struct {
	rdb    *redis.Client
	client exchange.Client
	keep   time.Duration
}

func NewCache(addr string, client exchange.Client, keep time.Duration) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Cache{rdb: rdb, client: client, keep: keep}, nil
}

// Store adds fills to the pair's sorted set. Members are JSON-encoded, so
// identical fills collapse into one entry and duplicates are harmless.
func (c *Cache) Store(ctx context.Context, pair string, fills []exchange.Fill) error {
	if len(fills) == 0 {
		return nil
	}
	members := make([]*redis.Z, 0, len(fills))
	for _, fill := range fills {
		payload, err := json.Marshal(fill)
		if err != nil {
			return fmt.Errorf("marshal fill: %w", err)
		}
		members = append(members, &redis.Z{
			Score:  float64(fill.Timestamp.UnixMilli()),
			Member: payload,
		})
	}
	if err := c.rdb.ZAdd(ctx, pair, members...).Err(); err != nil {
		return fmt.Errorf("cache fills: %w", err)
	}
	return nil
}

// Between reads cached fills with timestamps inside [from, to].
func (c *Cache) Between(ctx context.Context, pair string, from, to time.Time) ([]exchange.Fill, error) {
	raw, err := c.rdb.ZRangeByScore(ctx, pair, &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	fills := make([]exchange.Fill, 0, len(raw))
	for _, member := range raw {
		var fill exchange.Fill
		if err := json.Unmarshal([]byte(member), &fill); err != nil {
			return nil, fmt.Errorf("decode cached fill: %w", err)
		}
		fills = append(fills, fill)
	}
	return fills, nil
}

// Trim drops entries older than the retention period.
func (c *Cache) Trim(ctx context.Context, pair string, now time.Time) error {
	lower := now.Add(-c.keep).UnixMilli()
	if err := c.rdb.ZRemRangeByScore(ctx, pair, "-inf", strconv.FormatInt(lower, 10)).Err(); err != nil {
		return fmt.Errorf("trim cache: %w", err)
	}
	return nil
}

// Warm pulls the latest history from the exchange into the cache and trims
// expired entries.
func (c *Cache) Warm(ctx context.Context, pair string) error {
	now := time.Now().UTC()
	fills, err := c.client.GetMarketHistory(ctx, pair, now.Add(-c.keep), now)
	if err != nil {
		return fmt.Errorf("warm cache: %w", err)
	}
	if err := c.Store(ctx, pair, fills); err != nil {
		return err
	}
	log.Info().Str("pair", pair).Int("fills", len(fills)).Msg("market history cached")
	return c.Trim(ctx, pair, now)
}

// Run refreshes the cache on a fixed cadence until the context ends.
func (c *Cache) Run(ctx context.Context, pair string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Warm(ctx, pair); err != nil {
				log.Error().Err(err).Str("pair", pair).Msg("cache refresh failed")
			}
		}
	}
}

func (c *Cache) Close() error {
	return c.rdb.Close()
}
