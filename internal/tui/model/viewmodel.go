package model

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/czeful/goalchat/internal/api"
	"github.com/czeful/goalchat/internal/composer"
	"go.uber.org/multierr"
)

// Daemon is the part of *client.Client the TUI uses.
type Daemon interface {
	Status(ctx context.Context) (*api.SessionStatus, error)
	Login(ctx context.Context, token string) (*api.Identity, error)
	Logout(ctx context.Context) error
	Friends(ctx context.Context, refresh bool) (*api.FriendList, error)
	Select(ctx context.Context, peerID string) (*api.ChatState, error)
	Reload(ctx context.Context) (*api.ChatState, error)
	Snapshot(ctx context.Context) (*api.ChatState, error)
	Keystroke(ctx context.Context, text string) (*composer.State, error)
	StageFile(ctx context.Context, path string) (*composer.Pending, error)
	StageAudio(ctx context.Context, path string) (*composer.Pending, error)
	BeginAudio(ctx context.Context) error
	EndAudio(ctx context.Context) (*composer.Pending, error)
	Discard(ctx context.Context, slot composer.Slot) (*composer.State, error)
	Send(ctx context.Context) (*api.SendReply, error)
	Watch(ctx context.Context, prefixes []string, fn func(*api.Event)) error
}

// Change flags which part of the model a daemon event invalidated.
type Change uint8

const (
	ChangeStatus Change = 1 << iota
	ChangeFriends
	ChangeChat

	ChangeAll = ChangeStatus | ChangeFriends | ChangeChat
)

// ChangeFor maps a bus event kind to the data it invalidates. Raw inbound
// frames map to nothing; their effects arrive as chat and presence events.
func ChangeFor(kind string) Change {
	switch {
	case strings.HasPrefix(kind, "conn."), strings.HasPrefix(kind, "session."), strings.HasPrefix(kind, "outbox."):
		return ChangeStatus
	case kind == "presence.seen":
		return ChangeFriends
	case strings.HasPrefix(kind, "chat."), strings.HasPrefix(kind, "presence."), strings.HasPrefix(kind, "composer."):
		return ChangeChat
	}
	return 0
}

// ViewModel caches daemon state and coalesces change notifications into
// refresh signals for the draw loop.
type ViewModel struct {
	mu sync.RWMutex

	daemon  Daemon
	status  *api.SessionStatus
	friends *api.FriendList
	chat    *api.ChatState
	pending Change

	refreshCh chan struct{}
}

func NewViewModel(d Daemon) *ViewModel {
	return &ViewModel{
		daemon:    d,
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh signals that Sync has work to do.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

// Invalidate marks c stale and signals a refresh.
func (vm *ViewModel) Invalidate(c Change) {
	if c == 0 {
		return
	}
	vm.mu.Lock()
	vm.pending |= c
	vm.mu.Unlock()
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// Sync reloads everything invalidated since the last call and returns what
// it reloaded. Parts that fail to load stay invalidated.
func (vm *ViewModel) Sync(ctx context.Context) (Change, error) {
	vm.mu.Lock()
	todo := vm.pending
	vm.pending = 0
	vm.mu.Unlock()

	var done Change
	var errs error
	if todo&ChangeStatus != 0 {
		errs = multierr.Append(errs, vm.track(ChangeStatus, &done, vm.LoadStatus(ctx)))
	}
	if todo&ChangeFriends != 0 {
		errs = multierr.Append(errs, vm.track(ChangeFriends, &done, vm.LoadFriends(ctx, false)))
	}
	if todo&ChangeChat != 0 {
		errs = multierr.Append(errs, vm.track(ChangeChat, &done, vm.LoadChat(ctx)))
	}
	return done, errs
}

func (vm *ViewModel) track(c Change, done *Change, err error) error {
	if err != nil {
		vm.mu.Lock()
		vm.pending |= c
		vm.mu.Unlock()
		return err
	}
	*done |= c
	return nil
}

// Follow streams daemon events into Invalidate until ctx ends, reconnecting
// with exponential backoff when the stream drops. onDrop is told about each
// failure.
func (vm *ViewModel) Follow(ctx context.Context, onDrop func(error)) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0

	for ctx.Err() == nil {
		started := time.Now()
		err := vm.daemon.Watch(ctx, nil, func(ev *api.Event) {
			vm.Invalidate(ChangeFor(ev.Kind))
		})
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("event stream closed")
		}
		if onDrop != nil {
			onDrop(err)
		}
		if time.Since(started) > bo.MaxInterval {
			bo.Reset()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
		// Anything may have changed while the stream was down.
		vm.Invalidate(ChangeAll)
	}
}

func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	st, err := vm.daemon.Status(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = st
	vm.mu.Unlock()
	return nil
}

// LoadFriends reads the friend list; refresh asks the daemon to refetch it.
func (vm *ViewModel) LoadFriends(ctx context.Context, refresh bool) error {
	list, err := vm.daemon.Friends(ctx, refresh)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.friends = list
	vm.mu.Unlock()
	return nil
}

func (vm *ViewModel) LoadChat(ctx context.Context) error {
	return vm.setChat(vm.daemon.Snapshot(ctx))
}

// Open selects peerID in the daemon.
func (vm *ViewModel) Open(ctx context.Context, peerID string) error {
	return vm.setChat(vm.daemon.Select(ctx, peerID))
}

func (vm *ViewModel) Reload(ctx context.Context) error {
	return vm.setChat(vm.daemon.Reload(ctx))
}

func (vm *ViewModel) setChat(st *api.ChatState, err error) error {
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.chat = st
	vm.mu.Unlock()
	return nil
}

// Type forwards the composer text.
func (vm *ViewModel) Type(ctx context.Context, text string) error {
	_, err := vm.daemon.Keystroke(ctx, text)
	return err
}

// Attach stages path as a file or, with audio set, as a voice clip.
func (vm *ViewModel) Attach(ctx context.Context, path string, audio bool) (*composer.Pending, error) {
	if audio {
		return vm.daemon.StageAudio(ctx, path)
	}
	return vm.daemon.StageFile(ctx, path)
}

// ToggleRecording starts a recording, or stops and stages the running one.
// The staged clip is returned when a recording ended.
func (vm *ViewModel) ToggleRecording(ctx context.Context) (*composer.Pending, error) {
	if c := vm.Chat(); c != nil && c.Composer.Recording {
		return vm.daemon.EndAudio(ctx)
	}
	return nil, vm.daemon.BeginAudio(ctx)
}

func (vm *ViewModel) Discard(ctx context.Context, slot composer.Slot) error {
	_, err := vm.daemon.Discard(ctx, slot)
	return err
}

// Send sends the draft and staged attachments.
func (vm *ViewModel) Send(ctx context.Context) (*api.SendReply, error) {
	return vm.daemon.Send(ctx)
}

func (vm *ViewModel) Login(ctx context.Context, token string) (*api.Identity, error) {
	return vm.daemon.Login(ctx, token)
}

func (vm *ViewModel) Logout(ctx context.Context) error {
	return vm.daemon.Logout(ctx)
}

func (vm *ViewModel) Status() *api.SessionStatus {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

func (vm *ViewModel) Friends() *api.FriendList {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.friends
}

func (vm *ViewModel) Chat() *api.ChatState {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.chat
}

// FriendName returns the username for id, or id itself when unknown.
func (vm *ViewModel) FriendName(id string) string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.friends != nil {
		for _, f := range vm.friends.Friends {
			if f.ID == id && f.Username != "" {
				return f.Username
			}
		}
	}
	return id
}

// FindFriend resolves an id or a case-insensitive username.
func (vm *ViewModel) FindFriend(nameOrID string) (api.Friend, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.friends == nil {
		return api.Friend{}, false
	}
	for _, f := range vm.friends.Friends {
		if f.ID == nameOrID {
			return f, true
		}
	}
	for _, f := range vm.friends.Friends {
		if strings.EqualFold(f.Username, nameOrID) {
			return f, true
		}
	}
	return api.Friend{}, false
}
