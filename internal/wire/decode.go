package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMissingType is returned for frames without a type discriminator.
var ErrMissingType = errors.New("wire: event has no type")

// The backend is not consistent about field casing. Every accepted spelling
// is listed here and nowhere else.
var (
	aliasType        = []string{"type", "Type"}
	aliasClientMsgID = []string{"client_msg_id", "clientMsgId", "ClientMsgID"}
	aliasSender      = []string{"sender_id", "senderId", "SenderID"}
	aliasReceiver    = []string{"receiver_id", "receiverId", "ReceiverID"}
	aliasText        = []string{"text", "Text"}
	aliasFileURL     = []string{"fileUrl", "file_url", "FileURL"}
	aliasFileName    = []string{"fileName", "file_name", "FileName"}
	aliasFileSize    = []string{"fileSize", "file_size", "FileSize"}
	aliasMimeType    = []string{"mimeType", "mime_type", "MimeType"}
	aliasTyping      = []string{"typing", "Typing"}
	aliasUserID      = []string{"userId", "user_id", "UserID"}
	aliasStatus      = []string{"status", "Status"}
	aliasFriendID    = []string{"friendId", "friend_id", "FriendID"}
	aliasCreatedAt   = []string{"created_at", "createdAt", "CreatedAt"}
	aliasProfileID   = []string{"ID", "id", "_id"}
	aliasUsername    = []string{"username", "Username", "name", "Name"}
	aliasEmail       = []string{"email", "Email"}
)

type record map[string]json.RawMessage

func (r record) raw(aliases []string) (json.RawMessage, bool) {
	for _, a := range aliases {
		if v, ok := r[a]; ok && !isNull(v) {
			return v, true
		}
	}
	return nil, false
}

func (r record) str(aliases []string) string {
	v, ok := r.raw(aliases)
	if !ok {
		return ""
	}
	return scalarString(v)
}

func (r record) integer(aliases []string) int64 {
	v, ok := r.raw(aliases)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(scalarString(v), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (r record) boolPtr(aliases []string) *bool {
	v, ok := r.raw(aliases)
	if !ok {
		return nil
	}
	var b bool
	switch scalarString(v) {
	case "true", "1":
		b = true
	case "false", "0":
		b = false
	default:
		return nil
	}
	return &b
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || string(bytes.TrimSpace(v)) == "null"
}

// scalarString renders JSON strings, numbers and booleans as plain strings,
// so numeric ids and quoted ids normalize to the same value.
func scalarString(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return ""
		}
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}

func decodeRecord(data []byte) (record, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}
	if r == nil {
		return nil, fmt.Errorf("wire: decode: not an object")
	}
	return r, nil
}

func (r record) event() Event {
	return Event{
		Type:        Type(strings.ToLower(r.str(aliasType))),
		ClientMsgID: r.str(aliasClientMsgID),
		SenderID:    r.str(aliasSender),
		ReceiverID:  r.str(aliasReceiver),
		Text:        r.str(aliasText),
		FileURL:     r.str(aliasFileURL),
		FileName:    r.str(aliasFileName),
		FileSize:    r.integer(aliasFileSize),
		MimeType:    r.str(aliasMimeType),
		Typing:      r.boolPtr(aliasTyping),
		UserID:      r.str(aliasUserID),
		Status:      strings.ToLower(r.str(aliasStatus)),
		FriendID:    r.str(aliasFriendID),
		CreatedAt:   r.str(aliasCreatedAt),
	}
}

// DecodeEvent parses one inbound frame into the canonical envelope.
func DecodeEvent(data []byte) (Event, error) {
	r, err := decodeRecord(data)
	if err != nil {
		return Event{}, err
	}
	e := r.event()
	if e.Type == "" {
		return Event{}, ErrMissingType
	}
	return e, nil
}

// EncodeEvent serializes an outbound envelope.
func EncodeEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeHistory parses a history response (an array of message records,
// oldest first). Records that are not content messages are skipped. A record
// without a type that carries a file URL is treated as a file, otherwise as
// text; old history rows predate the type field.
func DecodeHistory(data []byte) ([]Message, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("wire: decode history: %w", err)
	}
	msgs := make([]Message, 0, len(raws))
	for i, raw := range raws {
		r, err := decodeRecord(raw)
		if err != nil {
			return nil, fmt.Errorf("wire: history record %d: %w", i, err)
		}
		e := r.event()
		if e.Type == "" {
			if e.FileURL != "" {
				e.Type = TypeFile
			} else {
				e.Type = TypeText
			}
		}
		if !e.Type.IsContent() {
			continue
		}
		msgs = append(msgs, e.Message())
	}
	return msgs, nil
}

// Profile is the subset of a user record the chat core needs.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// DecodeProfile parses a user record, tolerating ID/id/_id spellings.
func DecodeProfile(data []byte) (Profile, error) {
	r, err := decodeRecord(data)
	if err != nil {
		return Profile{}, err
	}
	return r.profile(), nil
}

func (r record) profile() Profile {
	return Profile{
		ID:       r.str(aliasProfileID),
		Username: r.str(aliasUsername),
		Email:    r.str(aliasEmail),
	}
}

// DecodeProfiles parses a list of user records. Anything that is not an
// array decodes to an empty list, matching how the friends endpoint is used.
func DecodeProfiles(data []byte) []Profile {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil
	}
	out := make([]Profile, 0, len(raws))
	for _, raw := range raws {
		r, err := decodeRecord(raw)
		if err != nil {
			continue
		}
		if p := r.profile(); p.ID != "" {
			out = append(out, p)
		}
	}
	return out
}
