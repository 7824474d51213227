// Package events streams order lifecycle events to connected clients.
package events

import (
	"sync"
	"time"
)

// Event is one order lifecycle notification.
type Event struct {
	Type    string         `json:"type"`
	OrderID string         `json:"orderId"`
	At      time.Time      `json:"at"`
	Data    map[string]any `json:"data,omitempty"`
}

// Broadcast subscribes to events for every order.
const Broadcast = "*"

// Broker fan-outs events by order id. Slow subscribers drop events
// rather than block publishers.
type Broker interface {
	Subscribe(orderID string) chan Event
	Unsubscribe(orderID string, ch chan Event)
	Publish(evt Event)
}

// MemoryBroker is the in-process Broker used in single-instance deployments.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // orderId -> set of channels
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *MemoryBroker) Subscribe(orderID string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[orderID] == nil {
		b.subs[orderID] = map[chan Event]struct{}{}
	}
	b.subs[orderID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *MemoryBroker) Unsubscribe(orderID string, ch chan Event) {
	b.mu.Lock()
	if m := b.subs[orderID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, orderID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *MemoryBroker) Publish(evt Event) {
	b.mu.Lock()
	for _, key := range []string{evt.OrderID, Broadcast} {
		for ch := range b.subs[key] {
			select {
			case ch <- evt:
			default:
			}
		}
	}
	b.mu.Unlock()
}
