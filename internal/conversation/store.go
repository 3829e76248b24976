// Package conversation holds the message log of the selected peer and keeps
// it free of duplicates when optimistic echoes, live events and history
// overlap.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/czeful/goalchat/internal/bus"
	"github.com/czeful/goalchat/internal/metrics"
	"github.com/czeful/goalchat/internal/wire"
	"go.uber.org/zap"
)

// ErrStale is returned by LoadHistory when the peer was switched while the
// fetch was in flight. The result has been discarded.
var ErrStale = errors.New("conversation: history superseded by a newer selection")

// Fetcher loads the message history with a peer, oldest first.
type Fetcher interface {
	History(ctx context.Context, peerID string) ([]wire.Message, error)
}

// Change is the payload of chat.* bus events.
type Change struct {
	PeerID     string
	Generation uint64
	Message    *wire.Message `json:",omitempty"`
	Err        string        `json:",omitempty"`
}

// Snapshot is a consistent copy of the store.
type Snapshot struct {
	PeerID     string
	Generation uint64
	Messages   []wire.Message
	Loading    bool
	LoadErr    error
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	self    string
	peer    string
	gen     uint64
	msgs    []wire.Message
	byID    map[string]int
	byKey   map[wire.Key][]int
	loading bool
	loadErr error

	bus *bus.Bus
	log *zap.Logger
}

// New creates an empty store with no peer selected.
func New(b *bus.Bus, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{bus: b, log: log.Named("conversation")}
	s.reindex()
	return s
}

// SetSelf records the local user id used to filter inbound events.
func (s *Store) SetSelf(userID string) {
	s.mu.Lock()
	s.self = userID
	s.mu.Unlock()
}

// Select switches to peerID and discards the current log. It returns the new
// generation; any history load started before is now stale.
func (s *Store) Select(peerID string) uint64 {
	s.mu.Lock()
	s.peer = peerID
	s.gen++
	s.msgs = nil
	s.loading = false
	s.loadErr = nil
	s.reindex()
	gen := s.gen
	s.mu.Unlock()

	s.log.Debug("peer selected", zap.String("peer", peerID), zap.Uint64("gen", gen))
	s.bus.Emit(bus.KindPeerSelected, Change{PeerID: peerID, Generation: gen})
	return gen
}

// Peer returns the selected peer, "" when none.
func (s *Store) Peer() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peer
}

// LoadHistory fetches the history with peerID and commits it only if the
// store still targets the same peer and generation. Entries that arrived
// while the fetch was in flight are kept after the history unless history
// already holds them.
func (s *Store) LoadHistory(ctx context.Context, f Fetcher, peerID string) error {
	s.mu.Lock()
	if peerID == "" || peerID != s.peer {
		s.mu.Unlock()
		return ErrStale
	}
	gen := s.gen
	s.loading = true
	s.loadErr = nil
	s.mu.Unlock()
	s.bus.Emit(bus.KindChatUpdated, Change{PeerID: peerID, Generation: gen})

	history, err := f.History(ctx, peerID)

	s.mu.Lock()
	if s.gen != gen || s.peer != peerID {
		s.mu.Unlock()
		metrics.HistoryLoads.WithLabelValues("stale").Inc()
		s.log.Debug("discarding stale history", zap.String("peer", peerID), zap.Uint64("gen", gen))
		return ErrStale
	}
	s.loading = false
	if err != nil {
		s.loadErr = err
		s.mu.Unlock()
		metrics.HistoryLoads.WithLabelValues("error").Inc()
		s.log.Warn("history load failed", zap.String("peer", peerID), zap.Error(err))
		s.bus.Emit(bus.KindHistoryFailed, Change{PeerID: peerID, Generation: gen, Err: err.Error()})
		return fmt.Errorf("load history with %s: %w", peerID, err)
	}

	live := s.msgs
	s.msgs = make([]wire.Message, 0, len(history)+len(live))
	s.reindex()
	for _, m := range history {
		if !s.involves(m) {
			continue
		}
		if m.Delivery == "" {
			m.Delivery = wire.Confirmed
		}
		if _, dup := s.merge(m); !dup {
			s.push(m)
		}
	}
	for _, m := range live {
		if _, dup := s.merge(m); !dup {
			s.push(m)
		}
	}
	n := len(s.msgs)
	s.mu.Unlock()

	metrics.HistoryLoads.WithLabelValues("ok").Inc()
	s.log.Debug("history loaded", zap.String("peer", peerID), zap.Int("entries", n))
	s.bus.Emit(bus.KindHistoryLoaded, Change{PeerID: peerID, Generation: gen})
	return nil
}

// AppendInbound adds a content event exchanged with the selected peer.
// Control events, events of other conversations and duplicates are not
// appended; a duplicate of an optimistic entry confirms it. Reports whether
// the log changed.
func (s *Store) AppendInbound(e wire.Event) bool {
	if !e.Type.IsContent() {
		return false
	}
	m := e.Message()

	s.mu.Lock()
	if s.peer == "" || !s.involves(m) {
		s.mu.Unlock()
		return false
	}
	idx, dup := s.merge(m)
	if dup {
		changed := idx >= 0
		var confirmed wire.Message
		if changed {
			confirmed = s.msgs[idx]
		}
		peer, gen := s.peer, s.gen
		s.mu.Unlock()
		metrics.DuplicatesDropped.Inc()
		if changed {
			s.bus.Emit(bus.KindChatUpdated, Change{PeerID: peer, Generation: gen, Message: &confirmed})
		}
		return changed
	}
	s.push(m)
	peer, gen := s.peer, s.gen
	s.mu.Unlock()

	s.bus.Emit(bus.KindChatUpdated, Change{PeerID: peer, Generation: gen, Message: &m})
	return true
}

// AppendOptimistic adds a locally originated message before the server has
// seen it. It is never retracted. Messages for a peer that is no longer
// selected are dropped.
func (s *Store) AppendOptimistic(m wire.Message) bool {
	if m.Delivery == "" {
		m.Delivery = wire.Sent
	}
	s.mu.Lock()
	if s.peer == "" || !s.involves(m) {
		s.mu.Unlock()
		return false
	}
	if _, dup := s.find(m); dup {
		s.mu.Unlock()
		return false
	}
	s.push(m)
	peer, gen := s.peer, s.gen
	s.mu.Unlock()

	s.bus.Emit(bus.KindChatUpdated, Change{PeerID: peer, Generation: gen, Message: &m})
	return true
}

// SetDelivery moves an optimistic entry to d. Confirmed entries never change.
func (s *Store) SetDelivery(clientMsgID string, d wire.Delivery) bool {
	if clientMsgID == "" {
		return false
	}
	s.mu.Lock()
	i, ok := s.byID[clientMsgID]
	if !ok || s.msgs[i].Delivery == wire.Confirmed || s.msgs[i].Delivery == d {
		s.mu.Unlock()
		return false
	}
	s.msgs[i].Delivery = d
	m := s.msgs[i]
	peer, gen := s.peer, s.gen
	s.mu.Unlock()

	s.bus.Emit(bus.KindChatUpdated, Change{PeerID: peer, Generation: gen, Message: &m})
	return true
}

// Messages returns a copy of the log in display order.
func (s *Store) Messages() []wire.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.msgs)
}

// Snapshot returns a consistent copy of the store state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		PeerID:     s.peer,
		Generation: s.gen,
		Messages:   slices.Clone(s.msgs),
		Loading:    s.loading,
		LoadErr:    s.loadErr,
	}
}

// involves requires s.mu held.
func (s *Store) involves(m wire.Message) bool {
	if s.self == "" {
		return m.SenderID == s.peer || m.ReceiverID == s.peer
	}
	return m.Involves(s.self, s.peer)
}

// find returns the index of an entry m duplicates. Entries collapse on equal
// client ids; when either side has no client id they collapse on the
// (sender, created_at, body) triple. Requires s.mu held.
func (s *Store) find(m wire.Message) (int, bool) {
	if m.ClientMsgID != "" {
		if i, ok := s.byID[m.ClientMsgID]; ok {
			return i, true
		}
	}
	for _, i := range s.byKey[m.ContentKey()] {
		if m.ClientMsgID == "" || s.msgs[i].ClientMsgID == "" {
			return i, true
		}
	}
	return -1, false
}

// merge folds m into an existing duplicate. It returns the index of the entry
// when the duplicate was upgraded, -1 when nothing changed. Requires s.mu held.
func (s *Store) merge(m wire.Message) (int, bool) {
	i, dup := s.find(m)
	if !dup {
		return -1, false
	}
	cur := s.msgs[i]
	if cur.Delivery == wire.Confirmed || m.Delivery != wire.Confirmed {
		return -1, true
	}
	// The echo is authoritative for time and identity.
	s.unindex(i)
	if !m.CreatedAt.IsZero() {
		cur.CreatedAt = m.CreatedAt
	}
	if cur.ClientMsgID == "" {
		cur.ClientMsgID = m.ClientMsgID
	}
	if cur.Attachment == nil && m.Attachment != nil {
		cur.Attachment = m.Attachment
	}
	cur.Delivery = wire.Confirmed
	s.msgs[i] = cur
	s.index(i)
	return i, true
}

func (s *Store) push(m wire.Message) {
	s.msgs = append(s.msgs, m)
	s.index(len(s.msgs) - 1)
}

func (s *Store) index(i int) {
	m := s.msgs[i]
	if m.ClientMsgID != "" {
		s.byID[m.ClientMsgID] = i
	}
	k := m.ContentKey()
	s.byKey[k] = append(s.byKey[k], i)
}

func (s *Store) unindex(i int) {
	m := s.msgs[i]
	if m.ClientMsgID != "" {
		delete(s.byID, m.ClientMsgID)
	}
	k := m.ContentKey()
	s.byKey[k] = slices.DeleteFunc(s.byKey[k], func(j int) bool { return j == i })
	if len(s.byKey[k]) == 0 {
		delete(s.byKey, k)
	}
}

func (s *Store) reindex() {
	s.byID = make(map[string]int, len(s.msgs))
	s.byKey = make(map[wire.Key][]int, len(s.msgs))
	for i := range s.msgs {
		s.index(i)
	}
}
