package outbox

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/czeful/goalchat/internal/bus"
	"github.com/czeful/goalchat/internal/store"
	"github.com/czeful/goalchat/internal/wire"
	"go.uber.org/zap"
)

// fakeWriter records frames and fails while down is set.
type fakeWriter struct {
	mu     sync.Mutex
	down   bool
	frames []string
}

func (w *fakeWriter) Write(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.down {
		return errors.New("socket closed")
	}
	w.frames = append(w.frames, string(data))
	return nil
}

func (w *fakeWriter) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.down
}

func (w *fakeWriter) setDown(v bool) {
	w.mu.Lock()
	w.down = v
	w.mu.Unlock()
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

type fakeSink struct {
	mu  sync.Mutex
	got map[string]wire.Delivery
}

func (s *fakeSink) SetDelivery(id string, d wire.Delivery) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.got == nil {
		s.got = map[string]wire.Delivery{}
	}
	s.got[id] = d
	return true
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMigrated(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func text(id, body string) wire.Event {
	return wire.Event{Type: wire.TypeText, ClientMsgID: id, SenderID: "1", ReceiverID: "2", Text: body}
}

func TestDispatchWhileOpen(t *testing.T) {
	w := &fakeWriter{}
	d := NewDispatcher(testDB(t), 10, nil, nil, zap.NewNop())
	d.SetWriter(w)

	if got := d.Dispatch(text("a", "hi")); got != wire.Sent {
		t.Errorf("Dispatch() = %s, want sent", got)
	}
	if w.count() != 1 || d.Depth() != 0 {
		t.Errorf("frames = %d, depth = %d", w.count(), d.Depth())
	}
}

func TestEphemeralEventsNeverQueued(t *testing.T) {
	w := &fakeWriter{down: true}
	d := NewDispatcher(testDB(t), 10, nil, nil, nil)
	d.SetWriter(w)

	if got := d.Dispatch(wire.TypingEvent("1", "2", true)); got != wire.Failed {
		t.Errorf("typing while down = %s, want failed", got)
	}
	if got := d.Dispatch(wire.PresenceQuery("2")); got != wire.Failed {
		t.Errorf("status query while down = %s, want failed", got)
	}
	if d.Depth() != 0 {
		t.Errorf("depth = %d, want 0", d.Depth())
	}
}

func TestQueueAndFlushInOrder(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(16, "outbox.")
	defer unsub()

	w := &fakeWriter{down: true}
	sink := &fakeSink{}
	d := NewDispatcher(testDB(t), 10, sink, b, zap.NewNop())
	d.SetWriter(w)

	for _, id := range []string{"a", "b", "c"} {
		if got := d.Dispatch(text(id, id)); got != wire.Pending {
			t.Fatalf("Dispatch(%s) = %s, want pending", id, got)
		}
	}
	if d.Depth() != 3 {
		t.Fatalf("depth = %d, want 3", d.Depth())
	}

	w.setDown(false)
	n, err := d.Flush()
	if err != nil || n != 3 {
		t.Fatalf("Flush() = %d, %v; want 3, nil", n, err)
	}
	for i, id := range []string{"a", "b", "c"} {
		e, err := wire.DecodeEvent([]byte(w.frames[i]))
		if err != nil {
			t.Fatal(err)
		}
		if e.ClientMsgID != id {
			t.Errorf("frame %d = %s, want %s", i, e.ClientMsgID, id)
		}
		if sink.got[id] != wire.Sent {
			t.Errorf("sink[%s] = %s, want sent", id, sink.got[id])
		}
	}

	timeout := time.After(time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == bus.KindOutboxFlushed {
				if r := evt.Payload.(Result); r.Flushed != 3 {
					t.Errorf("flushed = %d, want 3", r.Flushed)
				}
				return
			}
		case <-timeout:
			t.Fatal("no outbox.flushed event")
		}
	}
}

func TestNewMessageDoesNotOvertakeQueue(t *testing.T) {
	w := &fakeWriter{down: true}
	d := NewDispatcher(testDB(t), 10, nil, nil, nil)
	d.SetWriter(w)

	d.Dispatch(text("old", "first"))
	w.setDown(false)

	// The socket is back but "old" is still queued: "new" must go after it.
	if got := d.Dispatch(text("new", "second")); got != wire.Sent {
		t.Errorf("Dispatch(new) = %s, want sent after draining", got)
	}
	if w.count() != 2 {
		t.Fatalf("frames = %d, want 2", w.count())
	}
	first, _ := wire.DecodeEvent([]byte(w.frames[0]))
	if first.ClientMsgID != "old" {
		t.Errorf("first frame = %s, want old", first.ClientMsgID)
	}
}

func TestFlushStopsAtFirstFailure(t *testing.T) {
	db := testDB(t)
	w := &fakeWriter{down: true}
	d := NewDispatcher(db, 10, nil, nil, nil)
	d.SetWriter(w)
	d.Dispatch(text("a", "a"))
	d.Dispatch(text("b", "b"))

	if n, err := d.Flush(); err == nil || n != 0 {
		t.Errorf("Flush() while down = %d, %v", n, err)
	}
	pending, _ := db.PendingOutbox()
	if len(pending) != 2 || pending[0].Attempts != 1 || pending[1].Attempts != 0 {
		t.Errorf("pending = %+v", pending)
	}
}

func TestQueuedDispatchWhileDownRecordsNoAttempts(t *testing.T) {
	db := testDB(t)
	w := &fakeWriter{down: true}
	d := NewDispatcher(db, 10, nil, nil, nil)
	d.SetWriter(w)

	for _, id := range []string{"a", "b", "c"} {
		if got := d.Dispatch(text(id, id)); got != wire.Pending {
			t.Fatalf("Dispatch(%s) = %s, want pending", id, got)
		}
	}
	pending, _ := db.PendingOutbox()
	if len(pending) != 3 {
		t.Fatalf("pending = %d rows, want 3", len(pending))
	}
	for _, p := range pending {
		if p.Attempts != 0 {
			t.Errorf("%s attempts = %d, want 0 before any flush", p.ClientMsgID, p.Attempts)
		}
	}
}

func TestCapacity(t *testing.T) {
	d := NewDispatcher(testDB(t), 1, nil, nil, nil)
	if got := d.Dispatch(text("a", "a")); got != wire.Pending {
		t.Fatalf("first = %s, want pending (no writer)", got)
	}
	if got := d.Dispatch(text("b", "b")); got != wire.Failed {
		t.Errorf("beyond capacity = %s, want failed", got)
	}
}

func TestRetryLoopDrains(t *testing.T) {
	w := &fakeWriter{down: true}
	d := NewDispatcher(testDB(t), 10, nil, nil, nil)
	d.SetWriter(w)
	d.Dispatch(text("a", "a"))

	d.Start(t.Context(), 10*time.Millisecond)
	defer d.Stop()
	w.setDown(false)

	deadline := time.Now().Add(2 * time.Second)
	for d.Depth() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("retry loop never drained the outbox")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if w.count() != 1 {
		t.Errorf("frames = %d, want 1", w.count())
	}
}
