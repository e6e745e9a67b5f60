package engine

import (
	"fmt"
	"testing"
	"time"
)

func TestEventBusFanOut(t *testing.T) {
	bus := NewEventBus()

	a, cancelA := bus.Subscribe(8)
	b, cancelB := bus.Subscribe(8)
	defer cancelA()
	defer cancelB()

	bus.Publish(Event{Type: EventOpportunityDetected, Symbol: "BTCUSDT", Timestamp: time.Now()})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case e := <-ch:
			if e.Symbol != "BTCUSDT" {
				t.Errorf("Subscriber %s got wrong event: %+v", name, e)
			}
		case <-time.After(time.Second):
			t.Errorf("Subscriber %s did not receive the event", name)
		}
	}
}

func TestEventBusDropsOldestWhenFull(t *testing.T) {
	bus := NewEventBus()
	ch, cancel := bus.Subscribe(2)
	defer cancel()

	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: EventOpportunityDetected, Symbol: fmt.Sprintf("SYM%d", i)})
	}

	// The queue holds the two newest events; the three oldest were shed.
	first := <-ch
	second := <-ch
	if first.Symbol != "SYM3" || second.Symbol != "SYM4" {
		t.Errorf("Expected the newest events to survive, got %s then %s", first.Symbol, second.Symbol)
	}
	if bus.Dropped() != 3 {
		t.Errorf("Expected 3 dropped events, got %d", bus.Dropped())
	}
}

func TestEventBusPublishNeverBlocks(t *testing.T) {
	bus := NewEventBus()
	_, cancel := bus.Subscribe(1) // never drained
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Type: EventError})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestEventBusAccountsForEveryPublish(t *testing.T) {
	bus := NewEventBus()
	ch, cancel := bus.Subscribe(1)

	const published = 500

	received := make(chan int)
	go func() {
		n := 0
		for range ch {
			n++
		}
		received <- n
	}()

	// A tiny queue drained concurrently forces the shed-and-retry path to
	// race the consumer on every publish.
	for i := 0; i < published; i++ {
		bus.Publish(Event{Type: EventOpportunityDetected})
	}
	cancel()

	got := <-received
	if total := got + int(bus.Dropped()); total != published {
		t.Errorf("Every publish must be delivered or counted dropped: %d received + %d dropped != %d",
			got, bus.Dropped(), published)
	}
}

func TestEventBusCancelStopsDelivery(t *testing.T) {
	bus := NewEventBus()
	ch, cancel := bus.Subscribe(8)
	cancel()
	cancel() // double cancel is harmless

	if _, ok := <-ch; ok {
		t.Error("Cancelled subscription channel should be closed")
	}

	// Publishing after cancel must not panic or deliver.
	bus.Publish(Event{Type: EventError})
}
