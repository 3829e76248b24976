package store

// Outbox row states.
const (
	OutboxQueued = "queued"
	OutboxSent   = "sent"
	OutboxFailed = "failed"
)

// OutboxEntry is a content event waiting for the socket to come back.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	PeerID       string
	Payload      []byte // encoded wire event
	Status       string
	Attempts     int
	ErrorMessage string
	CreatedAt    int64
}

// Friend is a cached friend-list row.
type Friend struct {
	ID       string
	Username string
	Email    string
	Status   string // last observed presence, "" when never seen
	SeenAt   int64
}
