package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/rov-host/control"
	"github.com/e7canasta/rov-host/internal/metrics"
	"github.com/e7canasta/rov-host/internal/rpc"
)

const (
	// DefaultInputRate is the send loop tick rate in ticks per second.
	DefaultInputRate = 60

	// DefaultPollInterval is the telemetry poll period.
	DefaultPollInterval = 500 * time.Millisecond

	stopTimeout       = 3 * time.Second
	finalEventTimeout = time.Second
)

var (
	// ErrBusy is returned when a blocking operation is already running.
	ErrBusy = errors.New("session: a blocking operation is already running")

	// ErrClosed is returned by operations on a disconnected session.
	ErrClosed = errors.New("session: closed")
)

// Options configures a Session.
type Options struct {
	// Vehicle names the session in logs, metrics and events.
	Vehicle string

	// InputRate is the send loop rate in ticks per second (1-1000).
	InputRate int

	// PollInterval is the telemetry poll period.
	PollInterval time.Duration

	// RPC tunes the underlying client.
	RPC rpc.Options

	// Events receives session events. Required. The session never closes it.
	Events chan<- Event
}

// Operation is a long-running job that needs the RPC channel to itself.
type Operation func(ctx context.Context, client *rpc.Client) error

// Session is an open connection to a vehicle.
//
// Two loops run for its lifetime: the poll loop fetches telemetry and the
// send loop delivers the latest pending control packet. Any RPC failure in
// either loop ends the session; reconnecting means calling Connect again.
type Session struct {
	vehicle      string
	client       *rpc.Client
	inputRate    int
	pollInterval time.Duration
	events       chan<- Event
	logger       *slog.Logger

	slot pendingSlot

	// busy is set while a blocking operation owns the channel. channel is
	// held for reading by loop requests and for writing by that operation.
	busy    atomic.Bool
	channel sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool

	sent  atomic.Uint64
	polls atomic.Uint64
}

// Stats is a snapshot of session counters.
type Stats struct {
	Vehicle     string
	PacketsSent uint64
	Polls       uint64
	Overwritten uint64
	Pending     bool
	Busy        bool
}

// Connect validates endpoint, builds the RPC client and starts both loops.
// The session lives until Disconnect, a fatal RPC error or ctx ends.
func Connect(ctx context.Context, endpoint string, opts Options) (*Session, error) {
	if opts.Events == nil {
		return nil, fmt.Errorf("session: events channel is required")
	}
	if opts.InputRate == 0 {
		opts.InputRate = DefaultInputRate
	}
	if opts.InputRate < 1 || opts.InputRate > 1000 {
		return nil, fmt.Errorf("session: input rate must be 1-1000, got %d", opts.InputRate)
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.PollInterval < 0 {
		return nil, fmt.Errorf("session: poll interval must be positive, got %v", opts.PollInterval)
	}
	if opts.Vehicle == "" {
		opts.Vehicle = "vehicle"
	}

	client, err := rpc.NewClient(endpoint, opts.RPC)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		vehicle:      opts.Vehicle,
		client:       client,
		inputRate:    opts.InputRate,
		pollInterval: opts.PollInterval,
		events:       opts.Events,
		logger:       slog.Default().With("component", "session", "vehicle", opts.Vehicle),
		ctx:          sctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return s.pollLoop(gctx) })
	g.Go(func() error { return s.sendLoop(gctx) })
	go s.supervise(g)

	metrics.SessionConnected.WithLabelValues(s.vehicle).Set(1)
	s.logger.Info("session: connected",
		"endpoint", client.Endpoint(),
		"input_rate", s.inputRate,
		"poll_interval", s.pollInterval,
	)
	s.emit(ConnectionChanged{Vehicle: s.vehicle, Connected: true})

	return s, nil
}

// supervise waits for both loops and reports how the session ended.
func (s *Session) supervise(g *errgroup.Group) {
	err := g.Wait()
	defer close(s.done)

	s.cancel()
	s.client.Close()
	metrics.SessionConnected.WithLabelValues(s.vehicle).Set(0)

	s.mu.Lock()
	wasOpen := !s.closed
	s.closed = true
	s.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) && wasOpen {
		metrics.ConnectionLostTotal.WithLabelValues(s.vehicle).Inc()
		s.logger.Error("session: connection lost", "error", err)
		s.emitFinal(ConnectionLost{Vehicle: s.vehicle, Err: err})
	} else {
		s.logger.Info("session: disconnected",
			"packets_sent", s.sent.Load(),
			"polls", s.polls.Load(),
		)
	}
	s.emitFinal(ConnectionChanged{Vehicle: s.vehicle, Connected: false})
}

// Submit replaces the pending control packet. Only the latest packet is
// sent; a packet replaced before its tick is never retried.
func (s *Session) Submit(p control.ControlPacket) {
	if s.slot.publish(p) {
		metrics.CommandsOverwrittenTotal.WithLabelValues(s.vehicle).Inc()
	}
}

// BlockOn runs op with exclusive use of the RPC channel. Polling and sending
// are suspended until op returns. A second BlockOn while one is running
// fails with ErrBusy. op's context is cancelled by Disconnect.
func (s *Session) BlockOn(ctx context.Context, op Operation) error {
	if s.isClosed() {
		return ErrClosed
	}
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.busy.Store(false)

	s.channel.Lock()
	defer s.channel.Unlock()

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	start := time.Now()
	s.logger.Info("session: blocking operation started")
	if err := op(opCtx, s.client); err != nil {
		s.logger.Warn("session: blocking operation failed", "error", err, "elapsed", time.Since(start))
		return err
	}
	s.logger.Info("session: blocking operation finished", "elapsed", time.Since(start))
	return nil
}

// Disconnect cancels both loops and waits for them to stop. It is
// idempotent and reports ConnectionChanged{Connected: false} once.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	select {
	case <-s.done:
		return nil
	case <-time.After(stopTimeout):
		s.logger.Warn("session: loops did not stop in time", "timeout", stopTimeout)
		return fmt.Errorf("session: disconnect timed out after %v", stopTimeout)
	}
}

// Done is closed once the session has fully stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Vehicle returns the session's vehicle name.
func (s *Session) Vehicle() string {
	return s.vehicle
}

// Busy reports whether a blocking operation is running.
func (s *Session) Busy() bool {
	return s.busy.Load()
}

// Stats returns current counters.
func (s *Session) Stats() Stats {
	pending, overwritten := s.slot.stats()
	return Stats{
		Vehicle:     s.vehicle,
		PacketsSent: s.sent.Load(),
		Polls:       s.polls.Load(),
		Overwritten: overwritten,
		Pending:     pending,
		Busy:        s.busy.Load(),
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// emit delivers ev unless the session is closed. A full mailbox drops the
// event with a warning.
func (s *Session) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("session: event dropped, mailbox full", "event", fmt.Sprintf("%T", ev))
	}
}

func (s *Session) emitFinal(ev Event) {
	select {
	case s.events <- ev:
	case <-time.After(finalEventTimeout):
		s.logger.Warn("session: final event dropped, mailbox full", "event", fmt.Sprintf("%T", ev))
	}
}
