package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/czeful/goalchat/internal/bus"
)

// State represents the lifecycle of the realtime connection.
type State string

const (
	Idle         State = "IDLE"
	Connecting   State = "CONNECTING"
	Open         State = "OPEN"
	Reconnecting State = "RECONNECTING"
	AuthRejected State = "AUTH_REJECTED"
	Closed       State = "CLOSED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Idle:         {Connecting, Closed},
	Connecting:   {Open, Reconnecting, AuthRejected, Closed},
	Open:         {Reconnecting, Closed},
	Reconnecting: {Connecting, Closed},
	AuthRejected: {Connecting, Closed},
	Closed:       {Connecting},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu       sync.RWMutex
	current  State
	since    time.Time
	attempts int
	bus      *bus.Bus
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns the current state, when it was entered, and the number of
// reconnect attempts since the connection was last open.
func (m *Machine) Snapshot() (State, time.Time, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.since, m.attempts
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.since = time.Now()
	switch to {
	case Reconnecting:
		m.attempts++
	case Open, Closed:
		m.attempts = 0
	}
	m.bus.Publish(bus.Event{
		Kind:      bus.KindConnState,
		Timestamp: m.since,
		Payload: StatusChange{
			From:     from,
			To:       to,
			Attempts: m.attempts,
		},
	})
	return nil
}

// StatusChange is the payload for connection state events.
type StatusChange struct {
	From     State
	To       State
	Attempts int
}

// Banner returns the connection notice a front end should show, or "" when
// the connection is healthy.
func Banner(s State) string {
	switch s {
	case Idle, Connecting:
		return "connecting…"
	case Reconnecting:
		return "reconnecting…"
	case AuthRejected:
		return "session expired, log in again"
	case Closed:
		return "disconnected"
	}
	return ""
}
