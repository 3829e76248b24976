package api

import (
	"encoding/json"
	"time"

	"github.com/czeful/goalchat/internal/composer"
	"github.com/czeful/goalchat/internal/presence"
	"github.com/czeful/goalchat/internal/status"
	"github.com/czeful/goalchat/internal/wire"
)

// SessionStatus describes the daemon and its connection.
type SessionStatus struct {
	Session     string       `json:"session"`
	State       status.State `json:"state"`
	Since       time.Time    `json:"since"`
	Attempts    int          `json:"attempts,omitempty"`
	Banner      string       `json:"banner,omitempty"`
	LoggedIn    bool         `json:"logged_in"`
	UserID      string       `json:"user_id,omitempty"`
	Username    string       `json:"username,omitempty"`
	OutboxDepth int          `json:"outbox_depth"`
	UptimeMs    int64        `json:"uptime_ms"`
}

type LoginRequest struct {
	Token string `json:"token"`
}

// Identity is the logged-in user.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

type SelectRequest struct {
	PeerID string `json:"peer_id"`
}

// ChatState is what a front end renders for the selected peer.
type ChatState struct {
	PeerID     string         `json:"peer_id"`
	Generation uint64         `json:"generation"`
	Messages   []wire.Message `json:"messages"`
	Loading    bool           `json:"loading,omitempty"`
	LoadError  string         `json:"load_error,omitempty"`
	Presence   presence.State `json:"presence"`
	Composer   composer.State `json:"composer"`
}

type FriendsRequest struct {
	// Refresh asks the daemon to fetch the list from the API first.
	Refresh bool `json:"refresh,omitempty"`
}

type Friend struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
	// Status is the last observed presence, "" when never seen.
	Status string `json:"status,omitempty"`
	SeenAt int64  `json:"seen_at,omitempty"`
}

type FriendList struct {
	Friends []Friend `json:"friends"`
	// Stale is set when the refresh failed and the cached list was served.
	Stale bool `json:"stale,omitempty"`
}

type KeystrokeRequest struct {
	Text string `json:"text"`
}

type PathRequest struct {
	Path string `json:"path"`
}

type DiscardRequest struct {
	Slot composer.Slot `json:"slot"`
}

type SendReply struct {
	Messages []wire.Message `json:"messages"`
}

type WatchRequest struct {
	// Prefixes filters event kinds; empty means everything.
	Prefixes []string `json:"prefixes,omitempty"`
}

// Event is one bus event as streamed to clients.
type Event struct {
	ID         string          `json:"id"`
	Session    string          `json:"session"`
	Kind       string          `json:"kind"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
