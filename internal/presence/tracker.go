package presence

import (
	"sync"
	"time"

	"github.com/czeful/goalchat/internal/bus"
	"github.com/czeful/goalchat/internal/wire"
	"go.uber.org/zap"
)

// State is the selected peer's presence as shown in the chat header.
type State struct {
	PeerID string
	Online bool
	Typing bool
	// Known is false until a status reply arrives or the grace period ends.
	Known bool
}

// Seen is the last status observed for any user.
type Seen struct {
	UserID string
	Online bool
	At     time.Time
}

// Tracker follows online/typing state of the selected peer and remembers the
// last status seen for everyone else.
type Tracker struct {
	mu    sync.Mutex
	state State
	gen   uint64
	timer *time.Timer
	grace time.Duration
	seen  map[string]Seen

	bus *bus.Bus
	log *zap.Logger
}

// New creates a tracker. grace is how long Select waits for a status reply
// before settling on offline.
func New(grace time.Duration, b *bus.Bus, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		grace: grace,
		seen:  make(map[string]Seen),
		bus:   b,
		log:   log.Named("presence"),
	}
}

// Select resets presence for peerID and returns the status query to send.
func (t *Tracker) Select(peerID string) wire.Event {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.state = State{PeerID: peerID}
	if t.grace > 0 {
		t.timer = time.AfterFunc(t.grace, func() { t.settle(gen) })
	}
	st := t.state
	t.mu.Unlock()

	t.bus.Emit(bus.KindPresenceChanged, st)
	return wire.PresenceQuery(peerID)
}

// Refresh re-arms the grace timer for the selected peer and returns the status
// query to send again. Status events are not replayed after a reconnect, so
// the last known state is only kept until the reply or the grace period.
// ok is false when no peer is selected.
func (t *Tracker) Refresh() (query wire.Event, ok bool) {
	t.mu.Lock()
	if t.state.PeerID == "" {
		t.mu.Unlock()
		return wire.Event{}, false
	}
	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	prev := t.state
	t.state.Known = false
	t.state.Typing = false
	if t.grace > 0 {
		t.timer = time.AfterFunc(t.grace, func() { t.settle(gen) })
	}
	st := t.state
	t.mu.Unlock()

	if st != prev {
		t.bus.Emit(bus.KindPresenceChanged, st)
	}
	return wire.PresenceQuery(st.PeerID), true
}

func (t *Tracker) settle(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.state.Known {
		t.mu.Unlock()
		return
	}
	t.state.Known = true
	t.state.Online = false
	st := t.state
	t.mu.Unlock()

	t.log.Debug("no status reply, assuming offline", zap.String("peer", st.PeerID))
	t.bus.Emit(bus.KindPresenceChanged, st)
}

// Handle applies typing and status events about the selected peer. Reports
// whether the state changed.
func (t *Tracker) Handle(e wire.Event) bool {
	t.mu.Lock()
	if t.state.PeerID == "" {
		t.mu.Unlock()
		return false
	}
	prev := t.state
	switch e.Type {
	case wire.TypeTyping:
		if e.SenderID != t.state.PeerID {
			t.mu.Unlock()
			return false
		}
		t.state.Typing = e.IsTyping()
	case wire.TypeStatus:
		if e.UserID != t.state.PeerID {
			t.mu.Unlock()
			return false
		}
		t.state.Online = e.Status == wire.StatusOnline
		t.state.Known = true
		if !t.state.Online {
			t.state.Typing = false
		}
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
	default:
		t.mu.Unlock()
		return false
	}
	st := t.state
	t.mu.Unlock()

	if st == prev {
		return false
	}
	t.bus.Emit(bus.KindPresenceChanged, st)
	return true
}

// Observe records a status event for any user, selected or not.
func (t *Tracker) Observe(e wire.Event) bool {
	if e.Type != wire.TypeStatus || e.UserID == "" {
		return false
	}
	s := Seen{UserID: e.UserID, Online: e.Status == wire.StatusOnline, At: time.Now()}
	t.mu.Lock()
	t.seen[e.UserID] = s
	t.mu.Unlock()

	t.bus.Emit(bus.KindPresenceSeen, s)
	return true
}

// State returns the selected peer's presence.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastSeen returns the last status observed for userID.
func (t *Tracker) LastSeen(userID string) (Seen, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.seen[userID]
	return s, ok
}

// Stop cancels the pending grace timer.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
