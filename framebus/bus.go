package framebus

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/rov-host/video"
)

var (
	ErrBusClosed          = errors.New("framebus: bus is closed")
	ErrSubscriberExists   = errors.New("framebus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("framebus: subscriber not found")
	ErrNilChannel         = errors.New("framebus: nil channel provided")
)

// Frame is the unit distributed by the bus.
type Frame = video.Frame

// SubscriberStats counts deliveries to one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// Stats is a snapshot of the whole bus.
type Stats struct {
	Published   uint64
	Subscribers map[string]SubscriberStats
}

type subscriber struct {
	ch      chan<- Frame
	latest  *Latest
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus distributes frames to subscribers without blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   atomic.Uint64
	closed      bool
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers ch under id. Frames that do not fit are dropped.
func (b *Bus) Subscribe(id string, ch chan<- Frame) error {
	if ch == nil {
		return ErrNilChannel
	}
	return b.add(id, &subscriber{ch: ch})
}

// SubscribeLatest registers a latest-only receiver under id.
func (b *Bus) SubscribeLatest(id string) (*Latest, error) {
	l := newLatest()
	if err := b.add(id, &subscriber{latest: l}); err != nil {
		return nil, err
	}
	return l, nil
}

func (b *Bus) add(id string, s *subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = s
	return nil
}

// Publish hands f to every subscriber. Safe to call from GStreamer
// streaming threads.
func (b *Bus) Publish(f Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for _, s := range b.subscribers {
		if s.latest != nil {
			s.latest.set(f)
			s.sent.Add(1)
			continue
		}
		select {
		case s.ch <- f:
			s.sent.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
}

// Unsubscribe removes id. A latest receiver is closed; a channel is left
// for its owner to close.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.subscribers[id]
	if !ok {
		return ErrSubscriberNotFound
	}
	if s.latest != nil {
		s.latest.Close()
	}
	delete(b.subscribers, id)
	return nil
}

// Stats returns counters for the bus and each subscriber.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := Stats{
		Published:   b.published.Load(),
		Subscribers: make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, s := range b.subscribers {
		out.Subscribers[id] = SubscriberStats{Sent: s.sent.Load(), Dropped: s.dropped.Load()}
	}
	return out
}

// Close removes every subscriber. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subscribers {
		if s.latest != nil {
			s.latest.Close()
		}
	}
	b.subscribers = nil
}

// Latest holds the newest published frame.
type Latest struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *Frame
	fresh  bool
	closed bool
}

func newLatest() *Latest {
	l := &Latest{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *Latest) set(f Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.frame = &f
	l.fresh = true
	l.cond.Broadcast()
}

// Receive blocks until a frame newer than the last one received arrives.
// ok is false once the receiver is closed.
func (l *Latest) Receive() (Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for !l.fresh && !l.closed {
		l.cond.Wait()
	}
	if l.closed {
		return Frame{}, false
	}
	l.fresh = false
	return *l.frame, true
}

// TryReceive returns the newest frame without blocking, fresh or not.
func (l *Latest) TryReceive() (Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frame == nil {
		return Frame{}, false
	}
	l.fresh = false
	return *l.frame, true
}

// Close wakes blocked receivers.
func (l *Latest) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.cond.Broadcast()
}
