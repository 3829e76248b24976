package sync

import (
	"context"
	"fmt"

	"github.com/czeful/goalchat/internal/store"
	"github.com/czeful/goalchat/internal/wire"
	"go.uber.org/zap"
)

// FriendSource lists friends from the API; *rest.Client satisfies it.
type FriendSource interface {
	Friends(ctx context.Context) ([]wire.Profile, error)
}

// FriendStore caches the friend list; *store.DB satisfies it.
type FriendStore interface {
	ReplaceFriends(friends []store.Friend) error
	ListFriends() ([]store.Friend, error)
}

// Reconciler keeps the cached friend list in step with the API.
type Reconciler struct {
	src    FriendSource
	db     FriendStore
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(src FriendSource, db FriendStore, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{src: src, db: db, logger: logger.Named("friends")}
}

// Refresh fetches the friend list and replaces the cache. When the API is
// unreachable the cached list is returned together with the fetch error.
func (r *Reconciler) Refresh(ctx context.Context) ([]store.Friend, error) {
	profiles, err := r.src.Friends(ctx)
	if err != nil {
		cached, cerr := r.db.ListFriends()
		if cerr != nil {
			return nil, fmt.Errorf("list cached friends: %w", cerr)
		}
		r.logger.Warn("friend refresh failed, serving cache", zap.Int("cached", len(cached)), zap.Error(err))
		return cached, fmt.Errorf("fetch friends: %w", err)
	}

	friends := make([]store.Friend, 0, len(profiles))
	for _, p := range profiles {
		friends = append(friends, store.Friend{ID: p.ID, Username: p.Username, Email: p.Email})
	}
	if err := r.db.ReplaceFriends(friends); err != nil {
		return nil, fmt.Errorf("replace friends: %w", err)
	}
	r.logger.Debug("friends refreshed", zap.Int("count", len(friends)))
	return r.db.ListFriends()
}

// Cached returns the stored friend list without contacting the API.
func (r *Reconciler) Cached() ([]store.Friend, error) {
	return r.db.ListFriends()
}
