package bus

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Bus fans events out to subscribers filtered by kind prefix. Publish never
// blocks: a subscriber whose buffer is full misses the event and the miss is
// counted.
type Bus struct {
	mu      sync.Mutex
	subs    atomic.Pointer[[]*subscriber]
	dropped atomic.Uint64
}

type subscriber struct {
	prefixes []string
	ch       chan Event
}

func (s *subscriber) wants(kind string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	return slices.ContainsFunc(s.prefixes, func(p string) bool {
		return strings.HasPrefix(kind, p)
	})
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{}
}

// Publish delivers evt to every interested subscriber. A nil bus is a no-op.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	for _, s := range b.current() {
		if !s.wants(evt.Kind) {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Emit publishes payload under kind, stamped now.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Payload: payload})
}

// Subscribe registers a buffered channel receiving events whose kind starts
// with any of prefixes; no prefixes means everything. The returned func
// unregisters it and is safe to call more than once.
func (b *Bus) Subscribe(bufSize int, prefixes ...string) (<-chan Event, func()) {
	s := &subscriber{prefixes: slices.Clone(prefixes), ch: make(chan Event, bufSize)}
	b.update(func(cur []*subscriber) []*subscriber {
		return append(slices.Clone(cur), s)
	})
	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.update(func(cur []*subscriber) []*subscriber {
				return slices.DeleteFunc(slices.Clone(cur), func(x *subscriber) bool { return x == s })
			})
		})
	}
}

func (b *Bus) update(fn func([]*subscriber) []*subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := fn(b.current())
	b.subs.Store(&next)
}

func (b *Bus) current() []*subscriber {
	if p := b.subs.Load(); p != nil {
		return *p
	}
	return nil
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}
