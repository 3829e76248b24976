// Package chat ties the conversation log, the presence tracker and the
// composer to the peer the user is looking at.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/czeful/goalchat/internal/composer"
	"github.com/czeful/goalchat/internal/conversation"
	"github.com/czeful/goalchat/internal/presence"
	"github.com/czeful/goalchat/internal/wire"
	"go.uber.org/zap"
)

// ErrEmptyPeer is returned when selecting without a peer id.
var ErrEmptyPeer = errors.New("chat: empty peer id")

// Snapshot is everything a front end renders for the selected peer.
type Snapshot struct {
	Conversation conversation.Snapshot
	Presence     presence.State
	Composer     composer.State
}

// View coordinates peer selection. Background work (history loads, audio
// capture) is bound to the view's lifetime, not to the caller's context.
type View struct {
	conv     *conversation.Store
	presence *presence.Tracker
	composer *composer.Composer
	out      composer.Dispatcher
	fetcher  conversation.Fetcher
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	loadCancel context.CancelFunc
}

// NewView creates a view with no peer selected. Close releases it.
func NewView(conv *conversation.Store, p *presence.Tracker, c *composer.Composer, out composer.Dispatcher, f conversation.Fetcher, logger *zap.Logger) *View {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &View{
		conv:     conv,
		presence: p,
		composer: c,
		out:      out,
		fetcher:  f,
		logger:   logger.Named("chat"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetSelf records the local user id.
func (v *View) SetSelf(userID string) {
	v.conv.SetSelf(userID)
	v.composer.SetSelf(userID)
}

// SelectPeer switches every per-peer component to peerID, asks the server for
// the peer's presence and loads history in the background. A load still
// running for an earlier peer is abandoned.
func (v *View) SelectPeer(ctx context.Context, peerID string) error {
	if peerID == "" {
		return ErrEmptyPeer
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	v.conv.Select(peerID)
	query := v.presence.Select(peerID)
	v.composer.SetPeer(peerID)
	if d := v.out.Dispatch(query); d == wire.Failed {
		v.logger.Debug("presence query not sent", zap.String("peer", peerID))
	}
	v.loadAsync(peerID)
	return nil
}

// Resync asks the server for the selected peer's presence again. It runs
// after every (re)connect since status changes sent while the socket was
// down never arrive.
func (v *View) Resync() {
	query, ok := v.presence.Refresh()
	if !ok {
		return
	}
	if d := v.out.Dispatch(query); d == wire.Failed {
		v.logger.Debug("presence query not sent", zap.String("peer", query.FriendID))
	}
}

func (v *View) loadAsync(peerID string) {
	ctx, cancel := context.WithCancel(v.ctx)
	v.mu.Lock()
	if v.loadCancel != nil {
		v.loadCancel()
	}
	v.loadCancel = cancel
	v.mu.Unlock()

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		defer cancel()
		v.logLoad(peerID, v.conv.LoadHistory(ctx, v.fetcher, peerID))
	}()
}

func (v *View) logLoad(peerID string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, conversation.ErrStale), errors.Is(err, context.Canceled):
		v.logger.Debug("history load superseded", zap.String("peer", peerID))
	default:
		v.logger.Warn("history load failed", zap.String("peer", peerID), zap.Error(err))
	}
}

// Reload fetches the selected peer's history again and waits for it.
func (v *View) Reload(ctx context.Context) error {
	peer := v.conv.Peer()
	if peer == "" {
		return composer.ErrNoPeer
	}
	err := v.conv.LoadHistory(ctx, v.fetcher, peer)
	v.logLoad(peer, err)
	if err != nil {
		return fmt.Errorf("reload %s: %w", peer, err)
	}
	return nil
}

// Peer returns the selected peer id.
func (v *View) Peer() string { return v.conv.Peer() }

// Snapshot returns a consistent copy of each component.
func (v *View) Snapshot() Snapshot {
	return Snapshot{
		Conversation: v.conv.Snapshot(),
		Presence:     v.presence.State(),
		Composer:     v.composer.State(),
	}
}

func (v *View) Keystroke(text string) error { return v.composer.Keystroke(text) }

func (v *View) StageFile(path string) (composer.Pending, error) { return v.composer.StageFile(path) }

func (v *View) StageAudio(path string) (composer.Pending, error) { return v.composer.StageAudio(path) }

// BeginAudio starts a capture that runs until EndAudio or Close.
func (v *View) BeginAudio() error { return v.composer.BeginAudio(v.ctx) }

func (v *View) EndAudio() (composer.Pending, error) { return v.composer.EndAudio() }

func (v *View) Discard(slot composer.Slot) { v.composer.Discard(slot) }

// Send sends the staged items and the draft.
func (v *View) Send(ctx context.Context) ([]wire.Message, error) {
	return v.composer.Send(ctx)
}

// Close abandons background work and waits for it.
func (v *View) Close() {
	v.cancel()
	v.wg.Wait()
	v.presence.Stop()
}
