// Package transport keeps one realtime websocket open per credential and
// reconnects it with exponential backoff when it drops.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/czeful/goalchat/internal/auth"
	"github.com/czeful/goalchat/internal/metrics"
	"github.com/czeful/goalchat/internal/status"
	"github.com/czeful/goalchat/internal/wire"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrNotOpen is returned by Write while the socket is not OPEN.
	ErrNotOpen = errors.New("transport: connection not open")
	// ErrClosed is returned by Write after Close.
	ErrClosed = errors.New("transport: connection closed")
	// ErrAuthRejected means the handshake was refused with 401 or 403.
	ErrAuthRejected = errors.New("transport: credential rejected")
)

const writeWait = 10 * time.Second

// Handler receives every decoded inbound event, in frame order.
type Handler func(wire.Event)

// Options configures a connection.
type Options struct {
	URL          string
	Token        string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	// PingInterval enables keepalive pings; the read deadline is twice the interval.
	PingInterval time.Duration
	Dialer       *websocket.Dialer
	Machine      *status.Machine
	Logger       *zap.Logger
}

// Conn is a self-healing websocket bound to one endpoint and one credential.
type Conn struct {
	opts    Options
	handler Handler
	log     *zap.Logger
	machine *status.Machine

	mu     sync.Mutex
	ws     *websocket.Conn
	hooks  []func()
	closed bool

	writeMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Open starts connecting in the background and returns immediately. The
// returned Conn keeps reconnecting until Close, ctx cancellation, or an
// auth rejection.
func Open(ctx context.Context, opts Options, h Handler) *Conn {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Machine == nil {
		opts.Machine = status.NewMachine(nil)
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = 500 * time.Millisecond
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = max(30*time.Second, opts.ReconnectMin)
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		}
	}
	if h == nil {
		h = func(wire.Event) {}
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		opts:    opts,
		handler: h,
		log:     opts.Logger.Named("transport"),
		machine: opts.Machine,
		ctx:     cctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

// OnOpen registers fn to run after every successful connect, including
// reconnects. Hooks run on their own goroutine, in registration order.
func (c *Conn) OnOpen(fn func()) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	open := c.ws != nil
	c.mu.Unlock()
	if open {
		go fn()
	}
}

// State returns the connection state.
func (c *Conn) State() status.State {
	return c.machine.Current()
}

// Ready reports whether a socket is currently attached, so a Write has a
// chance to succeed.
func (c *Conn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil && !c.closed
}

// Done is closed once the connect loop has stopped for good.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Send writes e if the connection is OPEN and reports whether it did.
// Nothing is queued or retried.
func (c *Conn) Send(e wire.Event) bool {
	data, err := wire.EncodeEvent(e)
	if err != nil {
		c.log.Error("encode event", zap.String("type", string(e.Type)), zap.Error(err))
		return false
	}
	if err := c.Write(data); err != nil {
		if errors.Is(err, ErrNotOpen) || errors.Is(err, ErrClosed) {
			c.log.Debug("send skipped", zap.String("type", string(e.Type)), zap.Error(err))
		} else {
			c.log.Warn("send failed", zap.String("type", string(e.Type)), zap.Error(err))
		}
		return false
	}
	return true
}

// Write sends one already encoded frame.
func (c *Conn) Write(data []byte) error {
	c.mu.Lock()
	ws, closed := c.ws, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if ws == nil {
		return ErrNotOpen
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		// Closing the socket makes the read loop notice and reconnect.
		_ = ws.Close()
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Close stops the connect loop and releases the socket. Safe to call more
// than once and from any goroutine.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		ws := c.ws
		c.mu.Unlock()
		c.cancel()
		if ws != nil {
			c.writeMu.Lock()
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			_ = ws.Close()
		}
	})
	<-c.done
	return nil
}

func (c *Conn) run() {
	defer close(c.done)
	defer c.transition(status.Closed)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.ReconnectMin
	bo.MaxInterval = c.opts.ReconnectMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		c.transition(status.Connecting)
		ws, err := c.dial()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrAuthRejected) {
				c.log.Warn("handshake rejected, waiting for a new credential", zap.Error(err))
				c.transition(status.AuthRejected)
				<-c.ctx.Done()
				return
			}
			c.log.Warn("connect failed", zap.Error(err))
		} else {
			bo.Reset()
			c.serve(ws)
			if c.ctx.Err() != nil {
				return
			}
		}

		c.transition(status.Reconnecting)
		metrics.Reconnects.Inc()
		wait := bo.NextBackOff()
		_, _, attempts := c.machine.Snapshot()
		c.log.Info("reconnecting", zap.Duration("in", wait), zap.Int("attempt", attempts))
		t := time.NewTimer(wait)
		select {
		case <-c.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (c *Conn) dial() (*websocket.Conn, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse url: %w", err)
	}
	header := http.Header{}
	if c.opts.Token != "" {
		q := u.Query()
		q.Set("token", c.opts.Token)
		u.RawQuery = q.Encode()
		header.Set("Authorization", auth.BearerHeader(c.opts.Token))
	}

	ws, resp, err := c.opts.Dialer.DialContext(c.ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", u.Host, err)
	}
	return ws, nil
}

// serve runs one connected session until the socket fails or c closes.
func (c *Conn) serve(ws *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	hooks := append([]func(){}, c.hooks...)
	c.mu.Unlock()

	c.transition(status.Open)
	c.log.Info("connected", zap.String("url", c.opts.URL))
	if len(hooks) > 0 {
		go func() {
			for _, fn := range hooks {
				fn()
			}
		}()
	}

	stop := make(chan struct{})
	go c.keepalive(ws, stop)

	err := c.readLoop(ws)
	close(stop)

	c.mu.Lock()
	c.ws = nil
	c.mu.Unlock()
	_ = ws.Close()

	if c.ctx.Err() == nil {
		c.log.Warn("connection lost", zap.Error(err))
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	if c.opts.PingInterval > 0 {
		pongWait := 2 * c.opts.PingInterval
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		if c.opts.PingInterval > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(2 * c.opts.PingInterval))
		}
		evt, err := wire.DecodeEvent(data)
		if err != nil {
			metrics.DecodeErrors.Inc()
			c.log.Warn("dropping unparseable frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		c.handler(evt)
	}
}

// keepalive pings on an interval and closes ws when c shuts down, which
// unblocks the read loop.
func (c *Conn) keepalive(ws *websocket.Conn, stop <-chan struct{}) {
	var tick <-chan time.Time
	if c.opts.PingInterval > 0 {
		t := time.NewTicker(c.opts.PingInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			_ = ws.Close()
			return
		case <-tick:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug("ping failed", zap.Error(err))
				_ = ws.Close()
				return
			}
		}
	}
}

func (c *Conn) transition(to status.State) {
	if c.machine.Current() == to {
		return
	}
	if err := c.machine.Transition(to); err != nil {
		c.log.Debug("state transition skipped", zap.Error(err))
	}
}
