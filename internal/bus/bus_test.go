package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(10, "chat.")
	defer unsub()

	b.Publish(Event{Kind: KindChatUpdated, Timestamp: time.Now(), Payload: "peer-1"})

	select {
	case evt := <-ch:
		if evt.Kind != KindChatUpdated {
			t.Errorf("got kind %q, want %s", evt.Kind, KindChatUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(10, "presence.")
	defer unsub()

	b.Emit(KindConnState, nil)
	b.Emit(KindPresenceChanged, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindPresenceChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindPresenceChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitStampsTimestamp(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Kind: "ws.text"})
	evt := <-ch
	if evt.Timestamp.IsZero() {
		t.Error("timestamp not stamped on publish")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(10, "chat.")
	unsub()

	b.Emit(KindChatUpdated, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1, "outbox.")
	defer unsub()

	b.Emit(KindOutboxQueued, 1)
	// Buffer is full, this one is dropped.
	b.Emit(KindOutboxFlushed, 2)

	evt := <-ch
	if evt.Kind != KindOutboxQueued {
		t.Errorf("got %q, want %s", evt.Kind, KindOutboxQueued)
	}
	if b.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", b.Dropped())
	}
}

func TestNilBusIsNoop(t *testing.T) {
	var b *Bus
	b.Emit(KindChatUpdated, nil)
	if b.Dropped() != 0 {
		t.Error("nil bus reported drops")
	}
}

func TestMultiplePrefixes(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4, "conn.", "outbox.")
	defer unsub()

	b.Emit(KindChatUpdated, nil)
	b.Emit(KindOutboxQueued, nil)
	b.Emit(KindConnState, nil)

	var got []string
	for len(ch) > 0 {
		got = append(got, (<-ch).Kind)
	}
	if len(got) != 2 || got[0] != KindOutboxQueued || got[1] != KindConnState {
		t.Errorf("got %v", got)
	}
}

func TestUnsubscribeTwice(t *testing.T) {
	b := New()
	_, first := b.Subscribe(1, "chat.")
	keep, second := b.Subscribe(1, "chat.")
	defer second()

	first()
	first()

	b.Emit(KindChatUpdated, nil)
	if len(keep) != 1 {
		t.Error("remaining subscriber lost its registration")
	}
}
