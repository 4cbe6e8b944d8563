// Package bus carries facts between producers and subscribers. Delivery is
// at-least-once, in order per topic; handlers must not assume ordering
// across distinct topics.
package bus

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"siena/internal/fact"
)

var ErrClosed = errors.New("bus: closed")

type Handler func(fact.Fact)

type Bus interface {
	Publish(topic string, f fact.Fact) error
	Subscribe(topic string, h Handler)
}

// MemoryBus dispatches facts on a single goroutine, so handlers never
// overlap. A handler that publishes enqueues behind everything already
// pending rather than recursing.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	queue    chan envelope
	pending  sync.WaitGroup
	closed   chan struct{}
	once     sync.Once
}

type envelope struct {
	topic string
	f     fact.Fact
}

func NewMemoryBus() *MemoryBus {
	b := &MemoryBus{
		handlers: make(map[string][]Handler),
		queue:    make(chan envelope, 256),
		closed:   make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *MemoryBus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

func (b *MemoryBus) Publish(topic string, f fact.Fact) error {
	b.pending.Add(1)
	select {
	case b.queue <- envelope{topic: topic, f: f}:
		return nil
	case <-b.closed:
		b.pending.Done()
		return ErrClosed
	}
}

func (b *MemoryBus) dispatch() {
	for {
		select {
		case env := <-b.queue:
			b.deliver(env)
		case <-b.closed:
			for {
				select {
				case env := <-b.queue:
					b.deliver(env)
				default:
					return
				}
			}
		}
	}
}

func (b *MemoryBus) deliver(env envelope) {
	defer b.pending.Done()
	b.mu.RLock()
	handlers := b.handlers[env.topic]
	b.mu.RUnlock()
	if len(handlers) == 0 {
		log.Debug().Str("topic", env.topic).Str("kind", string(env.f.Kind)).Msg("fact dropped, no subscribers")
		return
	}
	for _, h := range handlers {
		h(env.f)
	}
}

// Flush blocks until every fact published so far, including facts published
// by handlers while flushing, has been delivered.
func (b *MemoryBus) Flush() {
	b.pending.Wait()
}

func (b *MemoryBus) Close() {
	b.once.Do(func() { close(b.closed) })
}
