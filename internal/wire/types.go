package wire

import (
	"strconv"
	"time"
)

// Type is the discriminator of a realtime envelope.
type Type string

const (
	TypeText   Type = "text"
	TypeFile   Type = "file"
	TypeImage  Type = "image"
	TypeAudio  Type = "audio"
	TypeTyping Type = "typing"
	TypeStatus Type = "status"
)

// IsContent reports whether events of this type belong in a conversation log.
func (t Type) IsContent() bool {
	switch t {
	case TypeText, TypeFile, TypeImage, TypeAudio:
		return true
	}
	return false
}

// IsAttachment reports whether the type carries an uploaded attachment.
func (t Type) IsAttachment() bool {
	return t == TypeFile || t == TypeImage || t == TypeAudio
}

// Presence values carried by status events.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Delivery is the local confirmation state of a message. It never goes on the wire.
type Delivery string

const (
	// Confirmed entries came from the server, either live or via history.
	Confirmed Delivery = "confirmed"
	// Sent entries were written to the socket but not echoed yet.
	Sent Delivery = "sent"
	// Pending entries are waiting in the outbox for a reconnect.
	Pending Delivery = "pending"
	// Failed entries could not be written nor queued.
	Failed Delivery = "failed"
)

// Attachment describes an uploaded binary payload.
type Attachment struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type,omitempty"`
}

// Message is the canonical conversation entry.
type Message struct {
	ClientMsgID string      `json:"client_msg_id,omitempty"`
	SenderID    string      `json:"sender_id"`
	ReceiverID  string      `json:"receiver_id"`
	Type        Type        `json:"type"`
	Text        string      `json:"text,omitempty"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	Delivery    Delivery    `json:"delivery"`
}

// Body returns the text for text messages and the attachment URL otherwise.
func (m Message) Body() string {
	if m.Attachment != nil {
		return m.Attachment.URL
	}
	return m.Text
}

// Involves reports whether the message is between self and peer in either direction.
func (m Message) Involves(self, peer string) bool {
	return (m.SenderID == self && m.ReceiverID == peer) ||
		(m.SenderID == peer && m.ReceiverID == self)
}

// Key is the content-and-time identity used when client ids are unavailable.
type Key struct {
	SenderID  string
	CreatedAt int64
	Body      string
}

// ContentKey returns the (sender, createdAt, text-or-url) triple of m.
func (m Message) ContentKey() Key {
	var ms int64
	if !m.CreatedAt.IsZero() {
		ms = m.CreatedAt.UnixMilli()
	}
	return Key{SenderID: m.SenderID, CreatedAt: ms, Body: m.Body()}
}

// Event is a realtime envelope as it travels over the socket.
type Event struct {
	Type        Type   `json:"type"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
	SenderID    string `json:"sender_id,omitempty"`
	ReceiverID  string `json:"receiver_id,omitempty"`
	Text        string `json:"text,omitempty"`
	FileURL     string `json:"fileUrl,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Typing      *bool  `json:"typing,omitempty"`
	UserID      string `json:"userId,omitempty"`
	Status      string `json:"status,omitempty"`
	FriendID    string `json:"friendId,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// IsTyping returns the typing flag, false when absent.
func (e Event) IsTyping() bool {
	return e.Typing != nil && *e.Typing
}

// Message converts a content event into a conversation entry. The delivery
// state is Confirmed; callers building optimistic entries override it.
func (e Event) Message() Message {
	m := Message{
		ClientMsgID: e.ClientMsgID,
		SenderID:    e.SenderID,
		ReceiverID:  e.ReceiverID,
		Type:        e.Type,
		Text:        e.Text,
		CreatedAt:   ParseTime(e.CreatedAt),
		Delivery:    Confirmed,
	}
	if e.Type.IsAttachment() {
		m.Attachment = &Attachment{
			URL:       e.FileURL,
			Name:      e.FileName,
			SizeBytes: e.FileSize,
			MimeType:  e.MimeType,
		}
	}
	return m
}

// EventFor builds the outbound envelope for an optimistic message.
func EventFor(m Message) Event {
	e := Event{
		Type:        m.Type,
		ClientMsgID: m.ClientMsgID,
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		Text:        m.Text,
		CreatedAt:   FormatTime(m.CreatedAt),
	}
	if m.Attachment != nil {
		e.FileURL = m.Attachment.URL
		e.FileName = m.Attachment.Name
		e.FileSize = m.Attachment.SizeBytes
		e.MimeType = m.Attachment.MimeType
	}
	return e
}

// TypingEvent builds a typing indicator from self to peer.
func TypingEvent(self, peer string, typing bool) Event {
	return Event{Type: TypeTyping, SenderID: self, ReceiverID: peer, Typing: &typing}
}

// PresenceQuery asks the server for the online status of peer.
func PresenceQuery(peer string) Event {
	return Event{Type: TypeStatus, FriendID: peer}
}

// timeLayout matches the millisecond ISO-8601 strings browsers produce.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime renders t in UTC with millisecond precision. Zero stays empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

// ParseTime accepts RFC 3339 with or without fractional seconds, and unix
// milliseconds as a decimal string. Unparseable input yields the zero time.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

// Now returns the current time truncated to the wire precision.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
