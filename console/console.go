// Package console ties the per-vehicle components together.
//
// A Console owns one future.Loop that plays the part of the UI thread: every
// state change happens on it, so the operations below never need locks
// between each other. Blocking work (pipeline teardown, disconnects,
// firmware transfers, tuner sessions) runs on its own goroutine and reports
// back through futures resolved on the loop.
//
// Session, video and tuner events arrive on buffered mailboxes, are
// forwarded to the loop, and leave as Messages through OnMessage and the
// optional Publisher.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/rov-host/control"
	"github.com/e7canasta/rov-host/framebus"
	"github.com/e7canasta/rov-host/future"
	"github.com/e7canasta/rov-host/internal/config"
	"github.com/e7canasta/rov-host/session"
	"github.com/e7canasta/rov-host/tuner"
	"github.com/e7canasta/rov-host/video"
)

const (
	mailboxSize = 64
	outboxSize  = 256
	stopTimeout = 10 * time.Second
)

// Options configures a Console.
type Options struct {
	// Config must already be validated.
	Config *config.Config

	// Loop is the UI loop. Nil creates one that Run drives.
	Loop *future.Loop

	// Bus receives decoded frames of every vehicle. Nil creates one.
	Bus *framebus.Bus

	// Publisher, when set, receives telemetry and events off the loop.
	Publisher Publisher

	// OnMessage runs on the loop for every outbound message.
	OnMessage func(Message)

	Logger *slog.Logger
}

// Console is the host-side controller for a fleet of vehicles.
type Console struct {
	loop      *future.Loop
	ownLoop   bool
	bus       *framebus.Bus
	publisher Publisher
	onMessage func(Message)
	logger    *slog.Logger

	sessionEvents chan session.Event
	videoEvents   chan video.Event
	tunerEvents   chan tuner.Event
	outbox        chan Message

	running atomic.Bool
	ready   atomic.Bool

	// mu guards the fields below. Writers run on the loop; readers may be
	// any goroutine.
	mu       sync.RWMutex
	ctx      context.Context // bounds sessions and pipelines
	started  time.Time
	cfg      *config.Config
	mapping  control.Mapping
	vehicles map[string]*vehicle
}

// New builds a console for cfg. Nothing connects until the owner asks.
func New(opts Options) (*Console, error) {
	if opts.Config == nil {
		return nil, errors.New("console: Options.Config is required")
	}
	mapping, err := opts.Config.Input.Mapping()
	if err != nil {
		return nil, fmt.Errorf("console: input mapping: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Console{
		loop:          opts.Loop,
		bus:           opts.Bus,
		publisher:     opts.Publisher,
		onMessage:     opts.OnMessage,
		logger:        logger.With("component", "console"),
		sessionEvents: make(chan session.Event, mailboxSize),
		videoEvents:   make(chan video.Event, mailboxSize),
		tunerEvents:   make(chan tuner.Event, mailboxSize),
		outbox:        make(chan Message, outboxSize),
		ctx:           context.Background(),
		cfg:           opts.Config,
		mapping:       mapping,
		vehicles:      make(map[string]*vehicle),
	}
	if c.loop == nil {
		c.loop = future.NewLoop()
		c.ownLoop = true
	}
	if c.bus == nil {
		c.bus = framebus.New()
	}
	for _, vc := range opts.Config.Vehicles {
		v, err := newVehicle(vc, mapping)
		if err != nil {
			return nil, err
		}
		c.vehicles[vc.Name] = v
	}
	return c, nil
}

// Loop returns the console's UI loop.
func (c *Console) Loop() *future.Loop { return c.loop }

// Bus returns the frame bus.
func (c *Console) Bus() *framebus.Bus { return c.bus }

// Config returns the configuration in effect.
func (c *Console) Config() *config.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Vehicles returns the configured vehicle names, sorted.
func (c *Console) Vehicles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.vehicles))
	for name := range c.vehicles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run drives the console until ctx ends, then stops every vehicle. A
// console can run once.
func (c *Console) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.mu.Lock()
	c.ctx = ctx
	c.started = time.Now()
	c.mu.Unlock()

	// The loop outlives ctx so shutdown can still resolve record futures.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	if c.ownLoop {
		go c.loop.Run(loopCtx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.pump(gctx)
		return nil
	})
	g.Go(func() error {
		c.publishOutbox(gctx)
		return nil
	})

	c.ready.Store(true)
	c.logger.Info("console: running", "vehicles", c.Vehicles())

	<-ctx.Done()
	c.ready.Store(false)

	c.shutdown()
	err := g.Wait()

	if c.ownLoop {
		c.loop.Close()
	}
	c.logger.Info("console: stopped", "uptime", time.Since(c.startedAt()))
	return err
}

// shutdown stops every vehicle in parallel and waits up to stopTimeout.
func (c *Console) shutdown() {
	c.mu.RLock()
	vehicles := make([]*vehicle, 0, len(c.vehicles))
	for _, v := range c.vehicles {
		vehicles = append(vehicles, v)
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for _, v := range vehicles {
		v := v
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.stopVehicle(v)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		c.logger.Warn("console: vehicles did not stop in time", "timeout", stopTimeout)
	}
}

// stopVehicle halts whatever v has running. It blocks and must not run on
// the loop.
func (c *Console) stopVehicle(v *vehicle) {
	c.mu.RLock()
	ctrl, sess, tn := v.video, v.session, v.tuner
	c.mu.RUnlock()

	if tn != nil {
		tn.Stop()
	}
	if ctrl != nil {
		if err := ctrl.Stop(); err != nil && !errors.Is(err, video.ErrNotPlaying) {
			c.logger.Warn("console: video stop failed", "vehicle", v.name, "error", err)
		}
		// Cancellation may have reached the pipeline first; its own
		// shutdown is still draining the recording.
		select {
		case <-ctrl.Done():
		case <-time.After(stopTimeout):
			c.logger.Warn("console: video did not stop in time", "vehicle", v.name)
		}
	}
	if sess != nil {
		if err := sess.Disconnect(); err != nil {
			c.logger.Warn("console: disconnect failed", "vehicle", v.name, "error", err)
		}
	}
}

// pump moves component events onto the loop.
func (c *Console) pump(ctx context.Context) {
	for {
		var msg Message
		select {
		case <-ctx.Done():
			return
		case ev := <-c.sessionEvents:
			msg = ev
		case ev := <-c.videoEvents:
			msg = ev
		case ev := <-c.tunerEvents:
			msg = ev
		}
		if err := c.loop.Post(func() { c.handleEvent(msg) }); err != nil {
			return
		}
	}
}

// emit hands msg to OnMessage and queues it for the publisher. Runs on the
// loop.
func (c *Console) emit(msg Message) {
	if c.onMessage != nil {
		c.onMessage(msg)
	}
	if c.publisher == nil {
		return
	}
	select {
	case c.outbox <- msg:
	default:
		c.logger.Warn("console: message dropped, outbox full", "message", fmt.Sprintf("%T", msg))
	}
}

func (c *Console) toast(vehicle string, level slog.Level, format string, args ...any) {
	c.emit(Toast{Vehicle: vehicle, Level: level, Text: fmt.Sprintf(format, args...)})
}

func (c *Console) publishOutbox(ctx context.Context) {
	if c.publisher == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.outbox:
			c.publish(msg)
		}
	}
}

func (c *Console) publish(msg Message) {
	var err error
	if t, ok := msg.(session.TelemetryReceived); ok {
		err = c.publisher.PublishTelemetry(t.Vehicle, t.Info, t.At)
	} else if typ, data, ok := eventPayload(msg); ok {
		err = c.publisher.PublishEvent(msg.VehicleName(), typ, data)
	} else {
		return
	}
	if err != nil {
		c.logger.Debug("console: publish failed", "message", fmt.Sprintf("%T", msg), "error", err)
	}
}

// onLoop runs fn on the loop and resolves the returned future with its
// result.
func onLoop[T any](c *Console, fn func() (T, error)) *future.Future[T] {
	return onLoopAsync(c, func() (*future.Future[T], error) {
		v, err := fn()
		if err != nil {
			return nil, err
		}
		return future.Resolved(c.loop, v), nil
	})
}

// onLoopAsync runs fn on the loop and chains the future it returns.
func onLoopAsync[T any](c *Console, fn func() (*future.Future[T], error)) *future.Future[T] {
	p, out := future.NewPromise[T](c.loop)
	err := c.loop.Post(func() {
		f, err := fn()
		if err != nil {
			_ = p.Failure(err)
			return
		}
		f.OnComplete(func(v T, err error) { _ = p.Complete(v, err) })
	})
	if err != nil {
		_ = p.Failure(err)
	}
	return out
}

func (c *Console) startedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.started
}

func (c *Console) runContext() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ctx
}

// lookup returns the named vehicle. Loop only.
func (c *Console) lookup(name string) (*vehicle, error) {
	v, ok := c.vehicles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVehicle, name)
	}
	return v, nil
}
