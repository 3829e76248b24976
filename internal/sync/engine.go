// Package sync routes inbound realtime frames to the components that track
// them and keeps the cached friend list reconciled with the API.
package sync

import (
	"time"

	"github.com/czeful/goalchat/internal/bus"
	"github.com/czeful/goalchat/internal/metrics"
	"github.com/czeful/goalchat/internal/wire"
	"go.uber.org/zap"
)

// Conversation receives content events; *conversation.Store satisfies it.
type Conversation interface {
	AppendInbound(e wire.Event) bool
}

// Presence receives typing and status events; *presence.Tracker satisfies it.
type Presence interface {
	Handle(e wire.Event) bool
	Observe(e wire.Event) bool
}

// StatusStore persists observed friend presence; *store.DB satisfies it.
type StatusStore interface {
	SetFriendStatus(id, status string, seenAt time.Time) error
}

// Engine is the single handler of inbound frames. Handle is called from the
// transport read goroutine, so frames are applied in arrival order.
type Engine struct {
	conv     Conversation
	presence Presence
	statuses StatusStore
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewEngine creates a new engine. statuses may be nil.
func NewEngine(conv Conversation, p Presence, statuses StatusStore, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		conv:     conv,
		presence: p,
		statuses: statuses,
		bus:      b,
		logger:   logger.Named("sync"),
	}
}

// Handle applies one inbound event and republishes it as ws.<type>.
func (e *Engine) Handle(ev wire.Event) {
	metrics.InboundEvents.WithLabelValues(string(ev.Type)).Inc()

	switch {
	case ev.Type == wire.TypeTyping:
		e.presence.Handle(ev)
	case ev.Type == wire.TypeStatus:
		e.presence.Handle(ev)
		if e.presence.Observe(ev) {
			e.persistStatus(ev)
		}
	case ev.Type.IsContent():
		e.conv.AppendInbound(ev)
	default:
		e.logger.Debug("unhandled event type", zap.String("type", string(ev.Type)))
	}

	e.bus.Publish(bus.Event{
		Kind:      bus.KindInboundPrefix + string(ev.Type),
		Timestamp: time.Now(),
		Payload:   ev,
	})
}

func (e *Engine) persistStatus(ev wire.Event) {
	if e.statuses == nil {
		return
	}
	if err := e.statuses.SetFriendStatus(ev.UserID, ev.Status, time.Now()); err != nil {
		e.logger.Warn("failed to persist friend status", zap.String("user", ev.UserID), zap.Error(err))
	}
}
