package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/czeful/goalchat/internal/bus"
	"github.com/czeful/goalchat/internal/store"
	"go.uber.org/zap"
)

// KV is the persistence the keeper needs; *store.DB satisfies it.
type KV interface {
	SetValue(key, value string) error
	Value(key string) (string, error)
	DeleteValues(keys ...string) error
}

// Credential is the active session identity.
type Credential struct {
	Token    string
	UserID   string
	Username string
}

// Valid reports whether both a token and a user id are known.
func (c Credential) Valid() bool {
	return c.Token != "" && c.UserID != ""
}

// Keeper owns the session credential and persists it across restarts.
type Keeper struct {
	mu   sync.RWMutex
	cred Credential
	kv   KV
	bus  *bus.Bus
	log  *zap.Logger
}

// NewKeeper loads any persisted credential from kv.
func NewKeeper(kv KV, b *bus.Bus, log *zap.Logger) (*Keeper, error) {
	if log == nil {
		log = zap.NewNop()
	}
	k := &Keeper{kv: kv, bus: b, log: log}
	var err error
	if k.cred.Token, err = kv.Value(store.KeyToken); err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if k.cred.UserID, err = kv.Value(store.KeyUserID); err != nil {
		return nil, fmt.Errorf("load user id: %w", err)
	}
	if k.cred.Username, err = kv.Value(store.KeyUsername); err != nil {
		return nil, fmt.Errorf("load username: %w", err)
	}
	if k.cred.Token != "" && k.cred.UserID == "" {
		if c, err := ParseClaims(k.cred.Token); err == nil {
			k.cred.UserID = c.UserID
		}
	}
	return k, nil
}

// Current returns a copy of the credential.
func (k *Keeper) Current() Credential {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.cred
}

// SetToken stores a new bearer token. The user id comes from the token's
// claims; when the token has none, the caller resolves it later with
// SetIdentity. ErrNoUserID is not returned as an error here.
func (k *Keeper) SetToken(token string) (Credential, error) {
	claims, err := ParseClaims(token)
	if err != nil && !errors.Is(err, ErrNoUserID) {
		return Credential{}, err
	}
	cred := Credential{Token: token, UserID: claims.UserID}

	if err := k.kv.SetValue(store.KeyToken, token); err != nil {
		return Credential{}, fmt.Errorf("persist token: %w", err)
	}
	if err := k.kv.DeleteValues(store.KeyUserID, store.KeyUsername); err != nil {
		return Credential{}, fmt.Errorf("reset identity: %w", err)
	}
	if cred.UserID != "" {
		if err := k.kv.SetValue(store.KeyUserID, cred.UserID); err != nil {
			return Credential{}, fmt.Errorf("persist user id: %w", err)
		}
	}

	k.mu.Lock()
	k.cred = cred
	k.mu.Unlock()
	k.log.Info("session token set", zap.String("user_id", cred.UserID), zap.Bool("expired", claims.Expired(time.Now())))
	k.bus.Emit(bus.KindSessionToken, cred.UserID)
	return cred, nil
}

// SetIdentity records the user id and username resolved from the profile endpoint.
func (k *Keeper) SetIdentity(userID, username string) error {
	if userID != "" {
		if err := k.kv.SetValue(store.KeyUserID, userID); err != nil {
			return err
		}
	}
	if username != "" {
		if err := k.kv.SetValue(store.KeyUsername, username); err != nil {
			return err
		}
	}
	k.mu.Lock()
	if userID != "" {
		k.cred.UserID = userID
	}
	if username != "" {
		k.cred.Username = username
	}
	k.mu.Unlock()
	return nil
}

// Clear drops the credential, e.g. after the server answered 401.
func (k *Keeper) Clear() error {
	k.mu.Lock()
	had := k.cred.Token != ""
	k.cred = Credential{}
	k.mu.Unlock()
	if err := k.kv.DeleteValues(store.KeyToken, store.KeyUserID, store.KeyUsername); err != nil {
		return err
	}
	if had {
		k.log.Warn("session token cleared")
		k.bus.Emit(bus.KindSessionToken, "")
	}
	return nil
}
