package events

import (
	"testing"
	"time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewMemoryBroker()
	ch := b.Subscribe("ORD-1")

	evt := Event{Type: "order.posted", OrderID: "ORD-1", Data: map[string]any{"carrier": "tipsa"}}
	b.Publish(evt)

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["carrier"].(string) != "tipsa" {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe("ORD-1", ch)
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("channel should be closed after unsubscribe")
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerBroadcastSubscriber(t *testing.T) {
	b := NewMemoryBroker()
	all := b.Subscribe(Broadcast)
	defer b.Unsubscribe(Broadcast, all)

	b.Publish(Event{Type: "order.tracked", OrderID: "ORD-2"})

	select {
	case got := <-all:
		if got.OrderID != "ORD-2" {
			t.Fatalf("got order %s, want ORD-2", got.OrderID)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("broadcast subscriber did not receive event")
	}
}

func TestBrokerSlowSubscriberDrops(t *testing.T) {
	b := NewMemoryBroker()
	ch := b.Subscribe("ORD-3")
	defer b.Unsubscribe("ORD-3", ch)

	// fill beyond the channel buffer; publishers must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			b.Publish(Event{Type: "order.status", OrderID: "ORD-3"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}
