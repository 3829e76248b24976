package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/czeful/goalchat/internal/bus"
	"github.com/czeful/goalchat/internal/wire"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newStore(self, peer string) *Store {
	s := New(nil, nil)
	s.SetSelf(self)
	s.Select(peer)
	return s
}

func textEvent(from, to, text string, at time.Time, clientID string) wire.Event {
	return wire.Event{
		Type:        wire.TypeText,
		SenderID:    from,
		ReceiverID:  to,
		Text:        text,
		ClientMsgID: clientID,
		CreatedAt:   wire.FormatTime(at),
	}
}

type fetchFunc func(ctx context.Context, peerID string) ([]wire.Message, error)

func (f fetchFunc) History(ctx context.Context, peerID string) ([]wire.Message, error) {
	return f(ctx, peerID)
}

func TestAppendInboundIsIdempotent(t *testing.T) {
	tests := []struct {
		name  string
		event wire.Event
	}{
		{"with client id", textEvent("2", "1", "hi", t0, "c-1")},
		{"without client id", textEvent("2", "1", "hi", t0, "")},
		{"attachment", wire.Event{Type: wire.TypeImage, SenderID: "2", ReceiverID: "1", FileURL: "/u/a.png", CreatedAt: wire.FormatTime(t0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore("1", "2")
			if !s.AppendInbound(tt.event) {
				t.Fatal("first AppendInbound() = false")
			}
			for range 3 {
				if s.AppendInbound(tt.event) {
					t.Error("repeated AppendInbound() = true")
				}
			}
			if n := len(s.Messages()); n != 1 {
				t.Errorf("len = %d, want 1", n)
			}
		})
	}
}

func TestDedupRules(t *testing.T) {
	tests := []struct {
		name   string
		first  wire.Event
		second wire.Event
		want   int
	}{
		{"same client id, different time", textEvent("2", "1", "a", t0, "x"), textEvent("2", "1", "a", t0.Add(time.Second), "x"), 1},
		{"different client ids, same triple", textEvent("2", "1", "a", t0, "x"), textEvent("2", "1", "a", t0, "y"), 2},
		{"one side without client id, same triple", textEvent("2", "1", "a", t0, "x"), textEvent("2", "1", "a", t0, ""), 1},
		{"same text, different ms", textEvent("2", "1", "a", t0, ""), textEvent("2", "1", "a", t0.Add(time.Millisecond), ""), 2},
		{"same time, different sender", textEvent("2", "1", "a", t0, ""), textEvent("1", "2", "a", t0, ""), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore("1", "2")
			s.AppendInbound(tt.first)
			s.AppendInbound(tt.second)
			if n := len(s.Messages()); n != tt.want {
				t.Errorf("len = %d, want %d", n, tt.want)
			}
		})
	}
}

func TestAppendInboundFilters(t *testing.T) {
	s := newStore("1", "2")

	if s.AppendInbound(wire.TypingEvent("2", "1", true)) {
		t.Error("typing event appended")
	}
	if s.AppendInbound(wire.Event{Type: wire.TypeStatus, UserID: "2", Status: "online"}) {
		t.Error("status event appended")
	}
	if s.AppendInbound(textEvent("3", "1", "other chat", t0, "")) {
		t.Error("event from another peer appended")
	}
	if s.AppendInbound(textEvent("2", "3", "not for me", t0, "")) {
		t.Error("event between peer and a third user appended")
	}
	if !s.AppendInbound(textEvent("1", "2", "my own echo", t0, "")) {
		t.Error("outbound echo rejected")
	}
}

func TestEchoConfirmsOptimistic(t *testing.T) {
	s := newStore("1", "2")
	local := wire.Message{
		ClientMsgID: "c-9",
		SenderID:    "1",
		ReceiverID:  "2",
		Type:        wire.TypeText,
		Text:        "hello",
		CreatedAt:   t0,
		Delivery:    wire.Sent,
	}
	if !s.AppendOptimistic(local) {
		t.Fatal("AppendOptimistic() = false")
	}

	serverTime := t0.Add(40 * time.Millisecond)
	if !s.AppendInbound(textEvent("1", "2", "hello", serverTime, "c-9")) {
		t.Error("echo did not confirm the optimistic entry")
	}
	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	if msgs[0].Delivery != wire.Confirmed {
		t.Errorf("Delivery = %s, want confirmed", msgs[0].Delivery)
	}
	if !msgs[0].CreatedAt.Equal(serverTime) {
		t.Errorf("CreatedAt = %v, want server time %v", msgs[0].CreatedAt, serverTime)
	}

	// The echo arriving again changes nothing.
	if s.AppendInbound(textEvent("1", "2", "hello", serverTime, "c-9")) {
		t.Error("second echo reported a change")
	}
}

func TestEchoWithoutClientIDConfirmsByTriple(t *testing.T) {
	s := newStore("1", "2")
	s.AppendOptimistic(wire.Message{ClientMsgID: "c-1", SenderID: "1", ReceiverID: "2", Type: wire.TypeText, Text: "x", CreatedAt: t0})
	s.AppendInbound(textEvent("1", "2", "x", t0, ""))

	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Delivery != wire.Confirmed {
		t.Errorf("messages = %+v, want one confirmed entry", msgs)
	}
}

func TestSetDelivery(t *testing.T) {
	s := newStore("1", "2")
	s.AppendOptimistic(wire.Message{ClientMsgID: "c-1", SenderID: "1", ReceiverID: "2", Type: wire.TypeText, Text: "x", CreatedAt: t0, Delivery: wire.Pending})

	if !s.SetDelivery("c-1", wire.Sent) {
		t.Fatal("SetDelivery(pending -> sent) = false")
	}
	s.AppendInbound(textEvent("1", "2", "x", t0, "c-1"))
	if s.SetDelivery("c-1", wire.Failed) {
		t.Error("SetDelivery changed a confirmed entry")
	}
	if s.SetDelivery("unknown", wire.Sent) {
		t.Error("SetDelivery(unknown) = true")
	}
}

func TestSelectClearsLog(t *testing.T) {
	s := newStore("1", "2")
	s.AppendInbound(textEvent("2", "1", "hi", t0, ""))
	s.Select("3")
	if n := len(s.Messages()); n != 0 {
		t.Errorf("len after Select = %d, want 0", n)
	}
	if s.AppendOptimistic(wire.Message{SenderID: "1", ReceiverID: "2", Type: wire.TypeText, Text: "late"}) {
		t.Error("optimistic message for the previous peer appended")
	}
}

func TestLoadHistoryMergesInflightEntries(t *testing.T) {
	s := newStore("1", "2")
	release := make(chan struct{})
	started := make(chan struct{})
	f := fetchFunc(func(ctx context.Context, peer string) ([]wire.Message, error) {
		close(started)
		<-release
		return []wire.Message{
			textEvent("2", "1", "old", t0, "").Message(),
			textEvent("1", "2", "raced", t0.Add(time.Second), "c-2").Message(),
		}, nil
	})

	done := make(chan error, 1)
	go func() { done <- s.LoadHistory(context.Background(), f, "2") }()
	<-started
	if !s.Snapshot().Loading {
		t.Error("Loading = false during fetch")
	}
	s.AppendOptimistic(wire.Message{ClientMsgID: "c-2", SenderID: "1", ReceiverID: "2", Type: wire.TypeText, Text: "raced", CreatedAt: t0.Add(time.Second)})
	s.AppendInbound(textEvent("2", "1", "live", t0.Add(2*time.Second), ""))
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	msgs := s.Messages()
	var texts []string
	for _, m := range msgs {
		texts = append(texts, m.Text)
	}
	want := []string{"old", "raced", "live"}
	if len(texts) != len(want) {
		t.Fatalf("texts = %v, want %v", texts, want)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Fatalf("texts = %v, want %v", texts, want)
		}
	}
	if msgs[1].Delivery != wire.Confirmed {
		t.Errorf("raced entry Delivery = %s, want confirmed", msgs[1].Delivery)
	}
}

func TestLateHistoryForPreviousPeerIsDiscarded(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe(32, "chat.")
	defer unsub()

	s := New(b, nil)
	s.SetSelf("1")
	s.Select("A")

	release := make(chan struct{})
	started := make(chan struct{})
	slow := fetchFunc(func(ctx context.Context, peer string) ([]wire.Message, error) {
		close(started)
		<-release
		return []wire.Message{textEvent("A", "1", "from A", t0, "").Message()}, nil
	})
	fast := fetchFunc(func(ctx context.Context, peer string) ([]wire.Message, error) {
		return []wire.Message{textEvent("B", "1", "from B", t0, "").Message()}, nil
	})

	done := make(chan error, 1)
	go func() { done <- s.LoadHistory(context.Background(), slow, "A") }()
	<-started

	s.Select("B")
	if err := s.LoadHistory(context.Background(), fast, "B"); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-done; !errors.Is(err, ErrStale) {
		t.Fatalf("late LoadHistory() error = %v, want ErrStale", err)
	}

	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].Text != "from B" {
		t.Errorf("messages = %+v, want only B's history", msgs)
	}

	// No history_loaded event may name peer A after B was selected.
	selectedB := false
	for {
		select {
		case evt := <-events:
			c := evt.Payload.(Change)
			if c.PeerID == "B" {
				selectedB = true
			}
			if selectedB && c.PeerID == "A" {
				t.Errorf("event %s for A after switching to B", evt.Kind)
			}
		default:
			return
		}
	}
}

func TestLoadHistoryFailure(t *testing.T) {
	s := newStore("1", "2")
	boom := errors.New("boom")
	err := s.LoadHistory(context.Background(), fetchFunc(func(context.Context, string) ([]wire.Message, error) {
		return nil, boom
	}), "2")
	if !errors.Is(err, boom) {
		t.Fatalf("LoadHistory() error = %v, want boom", err)
	}
	snap := s.Snapshot()
	if len(snap.Messages) != 0 || snap.Loading || !errors.Is(snap.LoadErr, boom) {
		t.Errorf("snapshot = %+v", snap)
	}

	// A retry clears the error.
	if err := s.LoadHistory(context.Background(), fetchFunc(func(context.Context, string) ([]wire.Message, error) {
		return nil, nil
	}), "2"); err != nil {
		t.Fatal(err)
	}
	if s.Snapshot().LoadErr != nil {
		t.Error("LoadErr not cleared by successful retry")
	}
}

func TestLoadHistoryWrongPeer(t *testing.T) {
	s := newStore("1", "2")
	called := false
	err := s.LoadHistory(context.Background(), fetchFunc(func(context.Context, string) ([]wire.Message, error) {
		called = true
		return nil, nil
	}), "3")
	if !errors.Is(err, ErrStale) || called {
		t.Errorf("LoadHistory(other peer) error = %v, called = %v", err, called)
	}
}
