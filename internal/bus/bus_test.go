package bus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"siena/internal/fact"
)

func averagesFact(short int64) fact.Fact {
	v := decimal.NewFromInt(short)
	return fact.NewMovingAverages("BTC/USD", v, v, v)
}

func TestMemoryBusDeliversInOrder(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var mu sync.Mutex
	var seen []string
	b.Subscribe("facts", func(f fact.Fact) {
		mu.Lock()
		seen = append(seen, f.MovingAverages.Short.String())
		mu.Unlock()
	})

	for i := int64(1); i <= 5; i++ {
		if err := b.Publish("facts", averagesFact(i)); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	b.Flush()

	want := []string{"1", "2", "3", "4", "5"}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("delivered %d facts, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestMemoryBusFansOutToAllSubscribers(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var mu sync.Mutex
	counts := map[string]int{}
	for _, name := range []string{"first", "second"} {
		name := name
		b.Subscribe("facts", func(fact.Fact) {
			mu.Lock()
			counts[name]++
			mu.Unlock()
		})
	}

	if err := b.Publish("facts", averagesFact(1)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	b.Flush()

	mu.Lock()
	defer mu.Unlock()
	if counts["first"] != 1 || counts["second"] != 1 {
		t.Fatalf("expected one delivery each, got %v", counts)
	}
}

func TestMemoryBusQueuesReentrantPublish(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var mu sync.Mutex
	var order []string
	b.Subscribe("facts", func(f fact.Fact) {
		mu.Lock()
		defer mu.Unlock()
		// A handler publishing must not recurse into its own delivery.
		if f.MovingAverages.Short.IsZero() {
			order = append(order, "trigger")
			if err := b.Publish("facts", averagesFact(1)); err != nil {
				t.Errorf("re-entrant publish: %v", err)
			}
		} else {
			order = append(order, "follow-up")
		}
	})

	if err := b.Publish("facts", averagesFact(0)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	b.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "trigger" || order[1] != "follow-up" {
		t.Fatalf("unexpected delivery order: %v", order)
	}
}

func TestMemoryBusIsolatesTopics(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	var mu sync.Mutex
	var delivered int
	b.Subscribe("facts.BTC/USD", func(fact.Fact) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	if err := b.Publish("facts.ETH/USD", averagesFact(1)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Publish("facts.BTC/USD", averagesFact(1)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	b.Flush()

	mu.Lock()
	defer mu.Unlock()
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
}

func TestMemoryBusPublishAfterClose(t *testing.T) {
	b := NewMemoryBus()
	b.Close()
	time.Sleep(10 * time.Millisecond) // let the dispatcher drain and exit

	// The queue still has capacity, so a post-close publish may be accepted;
	// only a full queue reports closure. Fill it up first.
	var err error
	for i := 0; i < 1024; i++ {
		if err = b.Publish("facts", averagesFact(1)); err != nil {
			break
		}
	}
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
