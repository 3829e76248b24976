package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/czeful/goalchat/internal/bus"
	"github.com/czeful/goalchat/internal/metrics"
	"github.com/czeful/goalchat/internal/store"
	"github.com/czeful/goalchat/internal/wire"
	"go.uber.org/zap"
)

// Writer sends one encoded frame; *transport.Conn satisfies it.
type Writer interface {
	Write(data []byte) error
}

// Queue persists events that could not be written; *store.DB satisfies it.
type Queue interface {
	QueueOutbox(clientMsgID, peerID string, payload []byte, capacity int) error
	MarkOutboxSent(clientMsgID string) error
	MarkOutboxAttempt(clientMsgID, errMsg string) error
	PendingOutbox() ([]store.OutboxEntry, error)
	OutboxDepth() (int, error)
	PruneOutbox(cutoff time.Time) (int64, error)
}

// Retention is how long sent and failed rows stay in the outbox table.
const Retention = 24 * time.Hour

// DeliverySink is told when a queued message finally goes out.
type DeliverySink interface {
	SetDelivery(clientMsgID string, d wire.Delivery) bool
}

// Result is the payload of outbox.* bus events.
type Result struct {
	ClientMsgID string
	Delivery    wire.Delivery
	Flushed     int `json:",omitempty"`
	Depth       int `json:",omitempty"`
}

var errNoWriter = errors.New("outbox: no connection")

// Dispatcher writes outbound events to the socket and parks content events
// in the outbox while the socket is down.
type Dispatcher struct {
	mu       sync.Mutex
	writer   Writer
	queue    Queue
	capacity int
	sink     DeliverySink

	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. capacity bounds the queued rows.
func NewDispatcher(q Queue, capacity int, sink DeliverySink, b *bus.Bus, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    q,
		capacity: capacity,
		sink:     sink,
		bus:      b,
		logger:   logger.Named("outbox"),
	}
}

// SetWriter swaps the connection, e.g. after the credential changed.
func (d *Dispatcher) SetWriter(w Writer) {
	d.mu.Lock()
	d.writer = w
	d.mu.Unlock()
}

// readier is implemented by writers that know whether their socket is up;
// *transport.Conn does.
type readier interface {
	Ready() bool
}

// ready requires d.mu held. Writers without a readiness signal are assumed up.
func (d *Dispatcher) ready() bool {
	if d.writer == nil {
		return false
	}
	if r, ok := d.writer.(readier); ok {
		return r.Ready()
	}
	return true
}

func (d *Dispatcher) write(data []byte) error {
	if d.writer == nil {
		return errNoWriter
	}
	return d.writer.Write(data)
}

// Dispatch sends e and reports the resulting delivery state. Typing and
// status events are written or dropped. Content events that cannot be
// written, or that would overtake older queued ones, are queued.
func (d *Dispatcher) Dispatch(e wire.Event) wire.Delivery {
	data, err := wire.EncodeEvent(e)
	if err != nil {
		d.logger.Error("encode event", zap.Error(err))
		return wire.Failed
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !e.Type.IsContent() {
		if err := d.write(data); err != nil {
			metrics.OutboundEvents.WithLabelValues(string(e.Type), string(wire.Failed)).Inc()
			return wire.Failed
		}
		metrics.OutboundEvents.WithLabelValues(string(e.Type), string(wire.Sent)).Inc()
		return wire.Sent
	}

	depth, err := d.queue.OutboxDepth()
	if err != nil {
		d.logger.Error("read outbox depth", zap.Error(err))
	}
	if depth == 0 {
		if err := d.write(data); err == nil {
			metrics.OutboundEvents.WithLabelValues(string(e.Type), string(wire.Sent)).Inc()
			return wire.Sent
		}
	}

	delivery := d.park(e, data)
	// Draining against a socket that is known to be down would only bump
	// attempt counters; the OnOpen flush picks the rows up instead.
	if delivery == wire.Pending && depth > 0 && d.ready() {
		// Older rows are still queued; try to drain them along with this one.
		if _, err := d.flushLocked(); err == nil {
			delivery = wire.Sent
		}
	}
	metrics.OutboundEvents.WithLabelValues(string(e.Type), string(delivery)).Inc()
	return delivery
}

// park requires d.mu held.
func (d *Dispatcher) park(e wire.Event, data []byte) wire.Delivery {
	err := d.queue.QueueOutbox(e.ClientMsgID, e.ReceiverID, data, d.capacity)
	switch {
	case errors.Is(err, store.ErrOutboxFull):
		d.logger.Warn("outbox full, message not queued", zap.String("client_msg_id", e.ClientMsgID))
		d.bus.Emit(bus.KindOutboxQueued, Result{ClientMsgID: e.ClientMsgID, Delivery: wire.Failed})
		return wire.Failed
	case err != nil:
		d.logger.Error("queue outbox", zap.Error(err), zap.String("client_msg_id", e.ClientMsgID))
		return wire.Failed
	}
	depth := d.refreshDepth()
	d.logger.Info("message queued", zap.String("client_msg_id", e.ClientMsgID), zap.Int("depth", depth))
	d.bus.Emit(bus.KindOutboxQueued, Result{ClientMsgID: e.ClientMsgID, Delivery: wire.Pending, Depth: depth})
	return wire.Pending
}

// Flush writes queued events oldest first and stops at the first failure.
// It returns how many were sent.
func (d *Dispatcher) Flush() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushLocked()
}

func (d *Dispatcher) flushLocked() (int, error) {
	pending, err := d.queue.PendingOutbox()
	if err != nil {
		return 0, fmt.Errorf("read outbox: %w", err)
	}
	sent := 0
	for _, entry := range pending {
		if err := d.write(entry.Payload); err != nil {
			if mErr := d.queue.MarkOutboxAttempt(entry.ClientMsgID, err.Error()); mErr != nil {
				d.logger.Error("failed to record attempt", zap.Error(mErr))
			}
			d.refreshDepth()
			return sent, fmt.Errorf("flush %s: %w", entry.ClientMsgID, err)
		}
		if err := d.queue.MarkOutboxSent(entry.ClientMsgID); err != nil {
			d.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}
		if d.sink != nil {
			d.sink.SetDelivery(entry.ClientMsgID, wire.Sent)
		}
		sent++
	}
	depth := d.refreshDepth()
	if sent > 0 {
		d.logger.Info("outbox flushed", zap.Int("sent", sent))
		d.bus.Emit(bus.KindOutboxFlushed, Result{Flushed: sent, Depth: depth})
	}
	return sent, nil
}

func (d *Dispatcher) refreshDepth() int {
	depth, err := d.queue.OutboxDepth()
	if err != nil {
		return 0
	}
	metrics.OutboxDepth.Set(float64(depth))
	return depth
}

// Depth returns the number of queued events.
func (d *Dispatcher) Depth() int {
	depth, _ := d.queue.OutboxDepth()
	return depth
}

// Start retries the outbox on an interval as a backstop for missed reconnect hooks.
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.loop(ctx, interval)
}

// Stop stops the retry loop.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) loop(ctx context.Context, interval time.Duration) {
	defer d.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	prune := time.NewTicker(time.Hour)
	defer prune.Stop()

	d.prune()
	for {
		select {
		case <-ticker.C:
			if d.Depth() == 0 {
				continue
			}
			if _, err := d.Flush(); err != nil {
				d.logger.Debug("outbox retry", zap.Error(err))
			}
		case <-prune.C:
			d.prune()
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) prune() {
	n, err := d.queue.PruneOutbox(time.Now().Add(-Retention))
	if err != nil {
		d.logger.Warn("outbox prune failed", zap.Error(err))
		return
	}
	if n > 0 {
		d.logger.Debug("outbox pruned", zap.Int64("rows", n))
	}
}
