package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"bot_arbitrage/internal/models"
)

type EventType string

const (
	EventOpportunityDetected EventType = "opportunityDetected"
	EventExecutionOpened     EventType = "executionOpened"
	EventExecutionClosed     EventType = "executionClosed"
	EventError               EventType = "error"
)

// Event is the observer-facing notification. Delivery is best-effort and
// never blocks the scan or execution path.
type Event struct {
	Type        EventType           `json:"type"`
	Symbol      string              `json:"symbol,omitempty"`
	Opportunity *models.Opportunity `json:"opportunity,omitempty"`
	Execution   *models.Execution   `json:"execution,omitempty"`
	Message     string              `json:"message,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

type subscriber struct {
	ch chan Event
}

// EventBus fans events out to bounded per-subscriber queues. When a
// subscriber falls behind, its oldest event is dropped and counted; state
// never waits for observers.
type EventBus struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	dropped atomic.Int64
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a receive channel and a cancel func. buffer bounds the
// subscriber's queue.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers to every subscriber without blocking: drop-oldest-and-count
// on a full queue.
func (b *EventBus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		for {
			select {
			case sub.ch <- e:
			default:
				// Queue full: shed the oldest and retry the send. When a
				// consumer drained the queue between the two selects, the
				// retry succeeds without shedding anything.
				select {
				case <-sub.ch:
					b.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// Dropped reports how many events were shed across all subscribers.
func (b *EventBus) Dropped() int64 { return b.dropped.Load() }
