package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"siena/internal/fact"
)

// RedisBus carries facts over redis pub/sub channels so the poller and the
// rule engine can run as separate processes. Facts are JSON-encoded; redis
// preserves publish order per channel.
type RedisBus struct {
	client *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRedisBus(addr string) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Info().Str("addr", addr).Msg("connected to redis")

	ctx, cancelSubs := context.WithCancel(context.Background())
	return &RedisBus{client: client, ctx: ctx, cancel: cancelSubs}, nil
}

func (b *RedisBus) Publish(topic string, f fact.Fact) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal fact: %w", err)
	}
	if err := b.client.Publish(b.ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish fact: %w", err)
	}
	log.Debug().Str("topic", topic).Str("kind", string(f.Kind)).Msg("fact published")
	return nil
}

func (b *RedisBus) Subscribe(topic string, h Handler) {
	sub := b.client.Subscribe(b.ctx, topic)
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-b.ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var f fact.Fact
				if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
					log.Error().Err(err).Str("topic", topic).Msg("undecodable fact")
					continue
				}
				h(f)
			}
		}
	}()
}

func (b *RedisBus) Close() error {
	b.cancel()
	return b.client.Close()
}
