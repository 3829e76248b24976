package api

import (
	"context"

	"github.com/czeful/goalchat/internal/chat"
	"github.com/czeful/goalchat/internal/presence"
	"github.com/czeful/goalchat/internal/store"
	"github.com/czeful/goalchat/internal/wire"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/emptypb"
)

// Friends lists cached friends; *sync.Reconciler satisfies it.
type Friends interface {
	Refresh(ctx context.Context) ([]store.Friend, error)
	Cached() ([]store.Friend, error)
}

// Seer answers last observed presence; *presence.Tracker satisfies it.
type Seer interface {
	LastSeen(userID string) (presence.Seen, bool)
}

// ChatService implements the Chat service.
type ChatService struct {
	view    *chat.View
	friends Friends
	seen    Seer
	logger  *zap.Logger
}

// NewChatService creates a new chat service.
func NewChatService(view *chat.View, friends Friends, seen Seer, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{view: view, friends: friends, seen: seen, logger: logger}
}

func (s *ChatService) Select(ctx context.Context, req *SelectRequest) (*ChatState, error) {
	if err := s.view.SelectPeer(ctx, req.PeerID); err != nil {
		return nil, toStatus(err)
	}
	return chatState(s.view.Snapshot()), nil
}

func (s *ChatService) Reload(ctx context.Context, _ *emptypb.Empty) (*ChatState, error) {
	if err := s.view.Reload(ctx); err != nil {
		return nil, toStatus(err)
	}
	return chatState(s.view.Snapshot()), nil
}

func (s *ChatService) Snapshot(_ context.Context, _ *emptypb.Empty) (*ChatState, error) {
	return chatState(s.view.Snapshot()), nil
}

func (s *ChatService) Friends(ctx context.Context, req *FriendsRequest) (*FriendList, error) {
	var (
		rows  []store.Friend
		err   error
		stale bool
	)
	if req.Refresh {
		rows, err = s.friends.Refresh(ctx)
		if err != nil && rows != nil {
			s.logger.Warn("serving cached friends", zap.Error(err))
			stale, err = true, nil
		}
	} else {
		rows, err = s.friends.Cached()
	}
	if err != nil {
		return nil, toStatus(err)
	}

	out := &FriendList{Friends: make([]Friend, 0, len(rows)), Stale: stale}
	for _, r := range rows {
		f := Friend{ID: r.ID, Username: r.Username, Status: r.Status, SeenAt: r.SeenAt}
		if s.seen != nil {
			if seen, ok := s.seen.LastSeen(r.ID); ok {
				f.Online = seen.Online
				f.SeenAt = seen.At.UnixMilli()
				if seen.Online {
					f.Status = wire.StatusOnline
				} else {
					f.Status = wire.StatusOffline
				}
			}
		}
		out.Friends = append(out.Friends, f)
	}
	return out, nil
}

func chatState(snap chat.Snapshot) *ChatState {
	st := &ChatState{
		PeerID:     snap.Conversation.PeerID,
		Generation: snap.Conversation.Generation,
		Messages:   snap.Conversation.Messages,
		Loading:    snap.Conversation.Loading,
		Presence:   snap.Presence,
		Composer:   snap.Composer,
	}
	if st.Messages == nil {
		st.Messages = []wire.Message{}
	}
	if snap.Conversation.LoadErr != nil {
		st.LoadError = snap.Conversation.LoadErr.Error()
	}
	return st
}
