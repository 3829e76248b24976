package bus

import "time"

// Event kinds published by the chat core. Subscribers filter by prefix, so
// "chat." matches every conversation event and "ws." every raw inbound frame.
const (
	KindConnState       = "conn.state_changed"
	KindChatUpdated     = "chat.updated"
	KindHistoryLoaded   = "chat.history_loaded"
	KindHistoryFailed   = "chat.history_failed"
	KindPeerSelected    = "chat.peer_selected"
	KindPresenceChanged = "presence.changed"
	KindPresenceSeen    = "presence.seen"
	KindComposerChanged = "composer.changed"
	KindOutboxQueued    = "outbox.queued"
	KindOutboxFlushed   = "outbox.flushed"
	KindSessionToken    = "session.token_changed"

	// KindInboundPrefix is prepended to the wire type of every inbound frame.
	KindInboundPrefix = "ws."
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
