package model

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/czeful/goalchat/internal/api"
	"github.com/czeful/goalchat/internal/composer"
	"github.com/czeful/goalchat/internal/status"
)

type fakeDaemon struct {
	mu        sync.Mutex
	calls     []string
	statusErr error
	recording bool
	events    chan *api.Event
	watches   int
}

func (f *fakeDaemon) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeDaemon) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeDaemon) Status(context.Context) (*api.SessionStatus, error) {
	f.record("status")
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return &api.SessionStatus{Session: "default", State: status.Open}, nil
}

func (f *fakeDaemon) Login(_ context.Context, token string) (*api.Identity, error) {
	f.record("login")
	return &api.Identity{UserID: "u1"}, nil
}

func (f *fakeDaemon) Logout(context.Context) error { f.record("logout"); return nil }

func (f *fakeDaemon) Friends(_ context.Context, refresh bool) (*api.FriendList, error) {
	if refresh {
		f.record("friends:refresh")
	} else {
		f.record("friends")
	}
	return &api.FriendList{Friends: []api.Friend{
		{ID: "b1", Username: "Bob"},
		{ID: "c1", Username: "carol", Online: true},
	}}, nil
}

func (f *fakeDaemon) Select(_ context.Context, peerID string) (*api.ChatState, error) {
	f.record("select:" + peerID)
	return &api.ChatState{PeerID: peerID}, nil
}

func (f *fakeDaemon) Reload(context.Context) (*api.ChatState, error) {
	f.record("reload")
	return &api.ChatState{PeerID: "b1"}, nil
}

func (f *fakeDaemon) Snapshot(context.Context) (*api.ChatState, error) {
	f.record("snapshot")
	return &api.ChatState{PeerID: "b1", Composer: composer.State{Recording: f.recording}}, nil
}

func (f *fakeDaemon) Keystroke(_ context.Context, text string) (*composer.State, error) {
	f.record("type:" + text)
	return &composer.State{Draft: text}, nil
}

func (f *fakeDaemon) StageFile(_ context.Context, path string) (*composer.Pending, error) {
	f.record("file:" + path)
	return &composer.Pending{Path: path}, nil
}

func (f *fakeDaemon) StageAudio(_ context.Context, path string) (*composer.Pending, error) {
	f.record("audio:" + path)
	return &composer.Pending{Path: path}, nil
}

func (f *fakeDaemon) BeginAudio(context.Context) error { f.record("begin"); return nil }

func (f *fakeDaemon) EndAudio(context.Context) (*composer.Pending, error) {
	f.record("end")
	return &composer.Pending{Name: "voice.wav"}, nil
}

func (f *fakeDaemon) Discard(_ context.Context, slot composer.Slot) (*composer.State, error) {
	f.record("discard:" + string(slot))
	return &composer.State{}, nil
}

func (f *fakeDaemon) Send(context.Context) (*api.SendReply, error) {
	f.record("send")
	return &api.SendReply{}, nil
}

func (f *fakeDaemon) Watch(ctx context.Context, _ []string, fn func(*api.Event)) error {
	f.mu.Lock()
	f.watches++
	f.mu.Unlock()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-f.events:
			if !ok {
				return errors.New("stream reset")
			}
			fn(ev)
		}
	}
}

func TestChangeFor(t *testing.T) {
	tests := []struct {
		kind string
		want Change
	}{
		{"conn.state_changed", ChangeStatus},
		{"session.token_changed", ChangeStatus},
		{"outbox.queued", ChangeStatus},
		{"presence.seen", ChangeFriends},
		{"presence.changed", ChangeChat},
		{"chat.updated", ChangeChat},
		{"composer.changed", ChangeChat},
		{"ws.text", 0},
		{"unknown", 0},
	}
	for _, tt := range tests {
		if got := ChangeFor(tt.kind); got != tt.want {
			t.Errorf("ChangeFor(%q) = %b, want %b", tt.kind, got, tt.want)
		}
	}
}

func TestSyncCoalescesAndRetries(t *testing.T) {
	d := &fakeDaemon{statusErr: errors.New("daemon down")}
	vm := NewViewModel(d)

	vm.Invalidate(ChangeChat)
	vm.Invalidate(ChangeChat)
	vm.Invalidate(ChangeStatus)

	select {
	case <-vm.RefreshCh():
	default:
		t.Fatal("no refresh signal")
	}
	select {
	case <-vm.RefreshCh():
		t.Fatal("signals were not coalesced")
	default:
	}

	done, err := vm.Sync(context.Background())
	if err == nil {
		t.Fatal("expected the status error")
	}
	if done != ChangeChat {
		t.Fatalf("done = %b, want chat only", done)
	}
	if vm.Chat() == nil || vm.Chat().PeerID != "b1" {
		t.Fatalf("chat = %+v", vm.Chat())
	}

	d.statusErr = nil
	done, err = vm.Sync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if done != ChangeStatus {
		t.Fatalf("retry done = %b, want status", done)
	}
	if vm.Status().State != status.Open {
		t.Fatalf("status = %+v", vm.Status())
	}
}

func TestFindFriend(t *testing.T) {
	vm := NewViewModel(&fakeDaemon{})
	if _, ok := vm.FindFriend("bob"); ok {
		t.Fatal("found a friend before loading")
	}
	if err := vm.LoadFriends(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if f, ok := vm.FindFriend("bob"); !ok || f.ID != "b1" {
		t.Fatalf("by name: %+v %v", f, ok)
	}
	if f, ok := vm.FindFriend("c1"); !ok || f.Username != "carol" {
		t.Fatalf("by id: %+v %v", f, ok)
	}
	if got := vm.FriendName("zz"); got != "zz" {
		t.Fatalf("FriendName fallback = %q", got)
	}
	if got := vm.FriendName("b1"); got != "Bob" {
		t.Fatalf("FriendName = %q", got)
	}
}

func TestToggleRecording(t *testing.T) {
	d := &fakeDaemon{}
	vm := NewViewModel(d)
	ctx := context.Background()

	if p, err := vm.ToggleRecording(ctx); err != nil || p != nil {
		t.Fatalf("start: %v %v", p, err)
	}
	d.recording = true
	if err := vm.LoadChat(ctx); err != nil {
		t.Fatal(err)
	}
	p, err := vm.ToggleRecording(ctx)
	if err != nil || p == nil || p.Name != "voice.wav" {
		t.Fatalf("stop: %+v %v", p, err)
	}

	calls := d.Calls()
	want := []string{"begin", "snapshot", "end"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}

func TestFollowReconnects(t *testing.T) {
	d := &fakeDaemon{events: make(chan *api.Event)}
	vm := NewViewModel(d)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	drops := make(chan error, 4)
	go vm.Follow(ctx, func(err error) {
		select {
		case drops <- err:
		default:
		}
	})

	d.events <- &api.Event{Kind: "chat.updated"}
	select {
	case <-vm.RefreshCh():
	case <-time.After(2 * time.Second):
		t.Fatal("event did not signal a refresh")
	}

	close(d.events)
	select {
	case err := <-drops:
		if err == nil {
			t.Fatal("nil drop error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("drop not reported")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		d.mu.Lock()
		n := d.watches
		d.mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watch was not reopened")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
