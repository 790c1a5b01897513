package events

import (
	"sync"
	"testing"
	"time"
)

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()

	ch := hub.Subscribe(10, EventIsolated)

	hub.EmitIsolation(EventIsolated, IsolationData{PID: 4242, Reason: "beaconing", Backend: "iptables", Rules: 3})

	select {
	case e := <-ch:
		if e.Type != EventIsolated {
			t.Errorf("expected EventIsolated, got %s", e.Type)
		}
		if e.Source != "isolation" {
			t.Errorf("expected source isolation, got %s", e.Source)
		}
		if e.Timestamp.IsZero() {
			t.Error("timestamp not set")
		}
		data, ok := e.Data.(IsolationData)
		if !ok {
			t.Fatal("expected IsolationData")
		}
		if data.PID != 4242 || data.Rules != 3 {
			t.Errorf("unexpected payload %+v", data)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestHub_GlobalSubscription(t *testing.T) {
	hub := NewHub()

	ch := hub.Subscribe(10)

	hub.Publish(Event{Type: EventIsolated, Source: "test"})
	hub.Publish(Event{Type: EventRestored, Source: "test"})
	hub.Publish(Event{Type: EventCleanup, Source: "test"})

	received := 0
	for i := 0; i < 3; i++ {
		select {
		case <-ch:
			received++
		case <-time.After(100 * time.Millisecond):
		}
	}

	if received != 3 {
		t.Errorf("expected 3 events, got %d", received)
	}
}

func TestHub_TypeFiltering(t *testing.T) {
	hub := NewHub()

	ch := hub.Subscribe(10, EventExited, EventRestored)

	hub.Publish(Event{Type: EventIsolated, Source: "test"})
	hub.Publish(Event{Type: EventExited, Source: "test"})
	hub.Publish(Event{Type: EventFailed, Source: "test"})
	hub.Publish(Event{Type: EventRestored, Source: "test"})

	var got []EventType
	for i := 0; i < 2; i++ {
		select {
		case e := <-ch:
			got = append(got, e.Type)
		case <-time.After(100 * time.Millisecond):
		}
	}

	if len(got) != 2 || got[0] != EventExited || got[1] != EventRestored {
		t.Errorf("unexpected events %v", got)
	}

	select {
	case e := <-ch:
		t.Errorf("unexpected extra event %s", e.Type)
	default:
	}
}

func TestHub_NonBlockingDrop(t *testing.T) {
	hub := NewHub()

	_ = hub.Subscribe(1, EventIsolated)

	for i := 0; i < 5; i++ {
		hub.Publish(Event{Type: EventIsolated})
	}

	published, dropped := hub.Stats()
	if published != 5 {
		t.Errorf("expected 5 published, got %d", published)
	}
	if dropped != 4 {
		t.Errorf("expected 4 dropped, got %d", dropped)
	}
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()

	ch := hub.Subscribe(10, EventIsolated, EventRestored)
	hub.Unsubscribe(ch)

	hub.Publish(Event{Type: EventIsolated})

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after unsubscribe")
	}

	// Unknown channels are ignored.
	hub.Unsubscribe(make(chan Event))
}

func TestHub_ConcurrentPublish(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hub.EmitIsolation(EventIsolated, IsolationData{PID: pid})
			}
		}(i + 1)
	}
	wg.Wait()

	if len(ch) != 500 {
		t.Errorf("expected 500 buffered events, got %d", len(ch))
	}
	published, dropped := hub.Stats()
	if published != 500 || dropped != 0 {
		t.Errorf("stats = %d/%d", published, dropped)
	}
}

func TestHub_NilEmitIsNoop(t *testing.T) {
	var hub *Hub
	hub.EmitIsolation(EventIsolated, IsolationData{PID: 1})
}
