package api

import (
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	pid := "pl_1"
	ch := b.Subscribe(pid)

	evt := SSEEvent{Type: "plan.progress", Data: map[string]any{"iteration": 1}}
	b.Publish(pid, evt)

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["iteration"].(int) != 1 {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe(pid, ch)
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("channel should be closed after unsubscribe")
		}
	case <-time.After(50 * time.Millisecond):
		// acceptable if already drained and closed
	}
}

func TestBrokerDropsWhenSubscriberIsSlow(t *testing.T) {
	b := NewBroker()
	pid := "pl_2"
	ch := b.Subscribe(pid)
	// fill the buffer and then some; Publish must never block
	for i := 0; i < 50; i++ {
		b.Publish(pid, SSEEvent{Type: "plan.progress", Data: map[string]any{"i": i}})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffer should be full: len=%d cap=%d", len(ch), cap(ch))
	}
	b.Unsubscribe(pid, ch)
}

func TestRedisBrokerUnsubscribeLeavesChannelToPump(t *testing.T) {
	// Unsubscribe must only tear down the PubSub; the subscriber channel
	// belongs to the pump goroutine, so it stays open here
	b := &RedisBroker{subs: map[chan SSEEvent]*redis.PubSub{}}
	ch := make(chan SSEEvent, 1)
	b.Unsubscribe("pl_3", ch)
	b.Unsubscribe("pl_3", ch) // idempotent

	ch <- SSEEvent{Type: "plan.progress"} // panics if Unsubscribe closed ch
	if got := <-ch; got.Type != "plan.progress" {
		t.Fatalf("got type %s, want plan.progress", got.Type)
	}
}
