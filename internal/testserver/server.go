// Package testserver is an in-process stand-in for the chat backend: a
// websocket relay plus the REST endpoints the client calls. Tests only.
package testserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/czeful/goalchat/internal/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Token signs a token carrying the user_id claim.
func Token(userID string) string {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("testserver"))
	if err != nil {
		panic(err)
	}
	return tok
}

// Server relays realtime events between connected users and serves history,
// uploads, profiles and friends.
type Server struct {
	HTTP *httptest.Server

	mu           sync.Mutex
	users        map[string]string // id -> username
	conns        map[string]map[*peerConn]struct{}
	history      []map[string]any
	uploads      map[string][]byte
	revoked      map[string]bool
	silentStatus bool
	historyDelay time.Duration
	historyFail  bool
	uploadFail   bool
	handshakes   []http.Header
	queries      []string
}

type peerConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (p *peerConn) send(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = p.ws.WriteJSON(v)
}

// New starts a server. users maps ids to usernames.
func New(users map[string]string) *Server {
	s := &Server{
		users:   users,
		conns:   make(map[string]map[*peerConn]struct{}),
		uploads: make(map[string][]byte),
		revoked: make(map[string]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat", s.handleWS)
	mux.HandleFunc("/chat/", s.handleHistory)
	mux.HandleFunc("/api/upload", s.handleUpload)
	mux.HandleFunc("/uploads/", s.handleDownload)
	mux.HandleFunc("/users/me", s.handleMe)
	mux.HandleFunc("/friends", s.handleFriends)
	s.HTTP = httptest.NewServer(mux)
	return s
}

// Close stops the server and drops every socket.
func (s *Server) Close() {
	s.DropConnections()
	s.HTTP.Close()
}

// APIURL is the REST base URL.
func (s *Server) APIURL() string { return s.HTTP.URL }

// ChatURL is the websocket endpoint.
func (s *Server) ChatURL() string {
	return "ws" + strings.TrimPrefix(s.HTTP.URL, "http") + "/ws/chat"
}

// Revoke makes every request carrying token fail with 401.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	s.revoked[token] = true
	s.mu.Unlock()
}

// SetSilentStatus stops the server from answering presence queries.
func (s *Server) SetSilentStatus(v bool) {
	s.mu.Lock()
	s.silentStatus = v
	s.mu.Unlock()
}

// SetHistoryDelay holds history responses for d.
func (s *Server) SetHistoryDelay(d time.Duration) {
	s.mu.Lock()
	s.historyDelay = d
	s.mu.Unlock()
}

// SetHistoryFail makes history requests answer 500.
func (s *Server) SetHistoryFail(v bool) {
	s.mu.Lock()
	s.historyFail = v
	s.mu.Unlock()
}

// SetUploadFail makes uploads answer 500.
func (s *Server) SetUploadFail(v bool) {
	s.mu.Lock()
	s.uploadFail = v
	s.mu.Unlock()
}

// Handshakes returns the headers of every accepted or rejected websocket handshake.
func (s *Server) Handshakes() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]http.Header(nil), s.handshakes...)
}

// Queries returns the raw query strings of every websocket handshake.
func (s *Server) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// Online reports whether userID has at least one open socket.
func (s *Server) Online(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns[userID]) > 0
}

// Stored returns a copy of the relay's message log.
func (s *Server) Stored() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.history...)
}

// DropConnections closes every open socket without a close frame.
func (s *Server) DropConnections() {
	s.mu.Lock()
	var all []*peerConn
	for _, set := range s.conns {
		for pc := range set {
			all = append(all, pc)
		}
	}
	s.mu.Unlock()
	for _, pc := range all {
		_ = pc.ws.Close()
	}
}

// Push sends a raw frame to every socket of userID.
func (s *Server) Push(userID string, frame any) {
	for _, pc := range s.socketsOf(userID) {
		pc.send(frame)
	}
}

// PushRaw writes data verbatim to every socket of userID.
func (s *Server) PushRaw(userID string, data []byte) {
	for _, pc := range s.socketsOf(userID) {
		pc.mu.Lock()
		_ = pc.ws.WriteMessage(websocket.TextMessage, data)
		pc.mu.Unlock()
	}
}

func (s *Server) socketsOf(userID string) []*peerConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*peerConn
	for pc := range s.conns[userID] {
		out = append(out, pc)
	}
	return out
}

func (s *Server) authenticate(r *http.Request) (string, bool) {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if tok == "" {
		tok = r.URL.Query().Get("token")
	}
	s.mu.Lock()
	revoked := s.revoked[tok]
	s.mu.Unlock()
	if tok == "" || revoked {
		return "", false
	}
	c, err := auth.ParseClaims(tok)
	if err != nil {
		return "", false
	}
	return c.UserID, true
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.handshakes = append(s.handshakes, r.Header.Clone())
	s.queries = append(s.queries, r.URL.RawQuery)
	s.mu.Unlock()

	uid, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	pc := &peerConn{ws: ws}

	s.mu.Lock()
	if s.conns[uid] == nil {
		s.conns[uid] = make(map[*peerConn]struct{})
	}
	first := len(s.conns[uid]) == 0
	s.conns[uid][pc] = struct{}{}
	s.mu.Unlock()
	if first {
		s.broadcastPresence(uid, "online")
	}

	defer func() {
		s.mu.Lock()
		delete(s.conns[uid], pc)
		last := len(s.conns[uid]) == 0
		s.mu.Unlock()
		_ = ws.Close()
		if last {
			s.broadcastPresence(uid, "offline")
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		s.route(uid, pc, msg)
	}
}

func (s *Server) route(uid string, from *peerConn, msg map[string]any) {
	typ, _ := msg["type"].(string)
	switch typ {
	case "status":
		s.mu.Lock()
		silent := s.silentStatus
		s.mu.Unlock()
		if silent {
			return
		}
		friend := fmt.Sprint(msg["friendId"])
		state := "offline"
		if s.Online(friend) {
			state = "online"
		}
		from.send(map[string]any{"type": "status", "userId": friend, "status": state})
	case "typing":
		to := fmt.Sprint(msg["receiver_id"])
		s.Push(to, map[string]any{
			"type":       "typing",
			"senderId":   uid,
			"receiverId": to,
			"typing":     msg["typing"],
		})
	case "text", "file", "image", "audio":
		to := fmt.Sprint(msg["receiver_id"])
		if _, ok := msg["created_at"]; !ok {
			msg["created_at"] = time.Now().UTC().Format(time.RFC3339Nano)
		}
		msg["sender_id"] = uid
		s.mu.Lock()
		s.history = append(s.history, msg)
		s.mu.Unlock()
		echo := echoFrame(msg)
		s.Push(to, echo)
		if to != uid {
			s.Push(uid, echo)
		}
	}
}

// echoFrame re-keys a stored message the way the backend's ORM serializes it.
func echoFrame(msg map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range msg {
		switch k {
		case "sender_id":
			out["senderId"] = v
		case "receiver_id":
			out["receiverId"] = v
		case "created_at":
			out["createdAt"] = v
		case "client_msg_id":
			out["clientMsgId"] = v
		default:
			out[k] = v
		}
	}
	return out
}

func (s *Server) broadcastPresence(uid, state string) {
	s.mu.Lock()
	var others []string
	for id := range s.conns {
		if id != uid {
			others = append(others, id)
		}
	}
	s.mu.Unlock()
	for _, id := range others {
		s.Push(id, map[string]any{"type": "status", "userId": uid, "status": state})
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	peer := strings.TrimPrefix(r.URL.Path, "/chat/")

	s.mu.Lock()
	delay, fail := s.historyDelay, s.historyFail
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if fail {
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	out := []map[string]any{}
	for _, m := range s.history {
		from, to := fmt.Sprint(m["sender_id"]), fmt.Sprint(m["receiver_id"])
		if (from == uid && to == peer) || (from == peer && to == uid) {
			out = append(out, m)
		}
	}
	s.mu.Unlock()
	writeJSON(w, out)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(r); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	fail := s.uploadFail
	s.mu.Unlock()
	if fail {
		http.Error(w, "storage down", http.StatusInternalServerError)
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	key := fmt.Sprintf("%d-%s", len(s.uploads)+1, hdr.Filename)
	s.uploads[key] = data
	s.mu.Unlock()
	writeJSON(w, map[string]string{"url": s.HTTP.URL + "/uploads/" + key, "name": hdr.Filename})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/uploads/")
	s.mu.Lock()
	data, ok := s.uploads[key]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(data)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]any{"ID": uid, "username": s.users[uid]})
}

func (s *Server) handleFriends(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	out := []map[string]any{}
	for id, name := range s.users {
		if id != uid {
			out = append(out, map[string]any{"id": id, "username": name})
		}
	}
	writeJSON(w, out)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
