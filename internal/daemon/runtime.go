package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/czeful/goalchat/internal/auth"
	"github.com/czeful/goalchat/internal/bus"
	"github.com/czeful/goalchat/internal/chat"
	"github.com/czeful/goalchat/internal/config"
	"github.com/czeful/goalchat/internal/outbox"
	"github.com/czeful/goalchat/internal/rest"
	"github.com/czeful/goalchat/internal/status"
	intsync "github.com/czeful/goalchat/internal/sync"
	"github.com/czeful/goalchat/internal/transport"
	"go.uber.org/zap"
)

// Runtime owns the realtime connection. It opens a socket for the current
// credential and replaces it whenever the credential changes.
type Runtime struct {
	cfg     *config.Config
	keeper  *auth.Keeper
	api     *rest.Client
	view    *chat.View
	out     *outbox.Dispatcher
	engine  *intsync.Engine
	machine *status.Machine
	bus     *bus.Bus
	logger  *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	conn   *transport.Conn
	wg     sync.WaitGroup
}

func NewRuntime(cfg *config.Config, k *auth.Keeper, api *rest.Client, view *chat.View, out *outbox.Dispatcher, engine *intsync.Engine, m *status.Machine, b *bus.Bus, logger *zap.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		keeper:  k,
		api:     api,
		view:    view,
		out:     out,
		engine:  engine,
		machine: m,
		bus:     b,
		logger:  logger.Named("runtime"),
	}
}

// Start connects with the stored credential, if any, and starts reacting to
// credential changes.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	ch, unsub := r.bus.Subscribe(8, bus.KindSessionToken)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer unsub()
		r.watchToken(ch)
	}()

	cred := r.keeper.Current()
	if cred.Token == "" {
		r.logger.Info("no credential found, waiting for login")
		return
	}
	if cred.UserID != "" && cred.Username != "" {
		r.connect()
		return
	}
	// The profile lookup may stall on an unreachable API; keep it off the
	// start path so the daemon comes up offline and serves the outbox.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.resolveIdentity(r.ctx); err != nil {
			r.logger.Warn("could not resolve identity", zap.Error(err))
		}
		if r.ctx.Err() == nil && r.keeper.Current().Token == cred.Token {
			r.connect()
		}
	}()
}

// watchToken drops the connection when the credential is cleared, e.g. after
// the API answered 401.
func (r *Runtime) watchToken(ch <-chan bus.Event) {
	for {
		select {
		case <-ch:
			if r.keeper.Current().Token == "" {
				r.disconnect()
			}
		case <-r.ctx.Done():
			return
		}
	}
}

// Credential returns the current credential.
func (r *Runtime) Credential() auth.Credential {
	return r.keeper.Current()
}

// Login stores token, resolves the user behind it and reconnects.
func (r *Runtime) Login(ctx context.Context, token string) (auth.Credential, error) {
	if _, err := r.keeper.SetToken(token); err != nil {
		return auth.Credential{}, fmt.Errorf("store token: %w", err)
	}
	cred, err := r.resolveIdentity(ctx)
	if err != nil {
		if errors.Is(err, rest.ErrUnauthorized) {
			return auth.Credential{}, err
		}
		if cred.UserID == "" {
			_ = r.keeper.Clear()
			return auth.Credential{}, fmt.Errorf("%w: %v", auth.ErrNoUserID, err)
		}
		r.logger.Warn("profile lookup failed, using token claims", zap.Error(err))
	}
	r.connect()
	return r.keeper.Current(), nil
}

// Logout forgets the credential and closes the socket.
func (r *Runtime) Logout() error {
	r.disconnect()
	return r.keeper.Clear()
}

// resolveIdentity fills in the user id and username from the profile
// endpoint. The returned credential is current even when the lookup fails.
func (r *Runtime) resolveIdentity(ctx context.Context) (auth.Credential, error) {
	p, err := r.api.Profile(ctx)
	if err != nil {
		return r.keeper.Current(), fmt.Errorf("fetch profile: %w", err)
	}
	cred := r.keeper.Current()
	userID := cred.UserID
	if userID == "" {
		userID = p.ID
	}
	if err := r.keeper.SetIdentity(userID, p.Username); err != nil {
		return r.keeper.Current(), fmt.Errorf("store identity: %w", err)
	}
	return r.keeper.Current(), nil
}

// connect replaces the socket with one for the current credential.
func (r *Runtime) connect() {
	r.disconnect()

	cred := r.keeper.Current()
	if cred.Token == "" {
		return
	}
	r.view.SetSelf(cred.UserID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil || r.ctx.Err() != nil {
		return
	}
	conn := transport.Open(r.ctx, transport.Options{
		URL:          r.cfg.ChatURL,
		Token:        cred.Token,
		ReconnectMin: r.cfg.ReconnectMin.Duration,
		ReconnectMax: r.cfg.ReconnectMax.Duration,
		PingInterval: r.cfg.PingInterval.Duration,
		Machine:      r.machine,
		Logger:       r.logger,
	}, r.engine.Handle)
	conn.OnOpen(func() {
		if n, err := r.out.Flush(); err != nil {
			r.logger.Warn("outbox flush on connect", zap.Int("sent", n), zap.Error(err))
		}
		r.view.Resync()
	})
	r.out.SetWriter(conn)
	r.conn = conn
	r.logger.Info("connecting", zap.String("url", r.cfg.ChatURL), zap.String("user_id", cred.UserID))
}

func (r *Runtime) disconnect() {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn == nil {
		return
	}
	r.out.SetWriter(nil)
	if err := conn.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		r.logger.Warn("close connection", zap.Error(err))
	}
}

// Close stops the runtime and waits for its goroutines.
func (r *Runtime) Close() error {
	r.disconnect()
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
	// A start-up identity lookup may have connected after the first disconnect.
	r.disconnect()
	return nil
}
