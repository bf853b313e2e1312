// Package tuner runs the vehicle's parameter tuning mode.
//
// A Tuner is a session.Operation: while it runs under Session.BlockOn the
// regular control traffic is paused, debug mode is enabled on the vehicle,
// control loop feedback is polled every 250 ms, and propeller or PID
// previews are batched and flushed every 100 ms. A propeller preview is
// zeroed automatically one second after the last change so a thruster never
// keeps spinning on a forgotten slider.
package tuner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/rov-host/internal/rpc"
)

const (
	DefaultFeedbackInterval = 250 * time.Millisecond
	DefaultPreviewInterval  = 100 * time.Millisecond
	DefaultPreviewHold      = time.Second
	DefaultHistoryLimit     = 200

	commandQueueSize = 128
	debugOffTimeout  = time.Second
)

var (
	// ErrAlreadyRunning is returned by Run on a tuner that is running.
	ErrAlreadyRunning = errors.New("tuner: already running")

	// ErrNotRunning is returned by requests made while Run is not active.
	ErrNotRunning = errors.New("tuner: not running")

	// ErrQueueFull is returned when the command queue is saturated.
	ErrQueueFull = errors.New("tuner: command queue full")

	errStopped = errors.New("tuner: stopped")
)

// Event is delivered to the owner's channel.
type Event interface {
	VehicleName() string
}

type FeedbackReceived struct {
	Vehicle  string
	Feedback Feedback
	At       time.Time
}

type ParametersLoaded struct {
	Vehicle    string
	Parameters Parameters
}

type ParametersSaved struct {
	Vehicle string
}

// Stopped is sent once when Run returns. Err is nil on a requested stop.
type Stopped struct {
	Vehicle string
	Err     error
}

func (e FeedbackReceived) VehicleName() string { return e.Vehicle }
func (e ParametersLoaded) VehicleName() string { return e.Vehicle }
func (e ParametersSaved) VehicleName() string  { return e.Vehicle }
func (e Stopped) VehicleName() string          { return e.Vehicle }

// Options configures a Tuner.
type Options struct {
	Vehicle          string
	FeedbackInterval time.Duration
	PreviewInterval  time.Duration
	PreviewHold      time.Duration
	HistoryLimit     int

	// Events receives tuner events. Required.
	Events chan<- Event
}

type commandKind int

const (
	cmdUpload commandKind = iota
	cmdLoad
	cmdDebug
)

type command struct {
	kind    commandKind
	params  Parameters
	enabled bool
}

// Tuner drives one tuning session. Create it with New and hand Run to
// Session.BlockOn.
type Tuner struct {
	opts   Options
	logger *slog.Logger

	commands chan command
	stop     chan struct{}
	running  atomic.Bool

	mu           sync.Mutex
	previewProps map[string]int8
	previewLoops map[string]ControlLoop
	lastPreview  time.Time
	history      map[string][]float32
}

// New validates opts and applies defaults.
func New(opts Options) (*Tuner, error) {
	if opts.Events == nil {
		return nil, fmt.Errorf("tuner: events channel is required")
	}
	if opts.FeedbackInterval == 0 {
		opts.FeedbackInterval = DefaultFeedbackInterval
	}
	if opts.PreviewInterval == 0 {
		opts.PreviewInterval = DefaultPreviewInterval
	}
	if opts.PreviewHold == 0 {
		opts.PreviewHold = DefaultPreviewHold
	}
	if opts.HistoryLimit == 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.FeedbackInterval < 0 || opts.PreviewInterval < 0 || opts.PreviewHold < 0 || opts.HistoryLimit < 0 {
		return nil, fmt.Errorf("tuner: intervals and history limit must be positive")
	}

	return &Tuner{
		opts:         opts,
		logger:       slog.Default().With("component", "tuner", "vehicle", opts.Vehicle),
		commands:     make(chan command, commandQueueSize),
		previewProps: make(map[string]int8),
		previewLoops: make(map[string]ControlLoop),
		history:      make(map[string][]float32),
	}, nil
}

// Run enables debug mode, loads the vehicle's parameters and serves tuning
// requests until Stop, ctx cancellation or the first RPC error. Debug mode
// is disabled on the way out.
func (t *Tuner) Run(ctx context.Context, client *rpc.Client) error {
	if !t.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer t.running.Store(false)

	t.mu.Lock()
	t.stop = make(chan struct{})
	stop := t.stop
	t.mu.Unlock()

	t.logger.Info("tuner: starting")
	if err := client.Call(ctx, rpc.MethodSetDebugModeEnabled, rpc.Positional(true), nil); err != nil {
		t.finish(err)
		return fmt.Errorf("tuner: enable debug mode: %w", err)
	}
	if err := t.load(ctx, client); err != nil {
		t.disableDebug(ctx, client)
		t.finish(err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-stop:
			return errStopped
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	g.Go(func() error { return t.feedbackLoop(gctx, client) })
	g.Go(func() error { return t.previewLoop(gctx, client) })
	g.Go(func() error { return t.commandLoop(gctx, client) })

	err := g.Wait()
	if errors.Is(err, errStopped) {
		err = nil
	}
	t.disableDebug(ctx, client)
	t.finish(err)
	return err
}

func (t *Tuner) disableDebug(ctx context.Context, client *rpc.Client) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), debugOffTimeout)
	defer cancel()
	if err := client.Call(dctx, rpc.MethodSetDebugModeEnabled, rpc.Positional(false), nil); err != nil {
		t.logger.Warn("tuner: could not disable debug mode", "error", err)
	}
}

func (t *Tuner) finish(err error) {
	if err != nil {
		t.logger.Error("tuner: stopped on error", "error", err)
	} else {
		t.logger.Info("tuner: stopped")
	}
	select {
	case t.opts.Events <- Stopped{Vehicle: t.opts.Vehicle, Err: err}:
	case <-time.After(time.Second):
		t.logger.Warn("tuner: stop event dropped, mailbox full")
	}
}

// Stop ends Run. It is a no-op when the tuner is not running.
func (t *Tuner) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop == nil {
		return
	}
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
}

// Running reports whether Run is active.
func (t *Tuner) Running() bool {
	return t.running.Load()
}

// PreviewPropeller queues a raw value for one propeller. Values are flushed
// in batches and zeroed after PreviewHold without changes.
func (t *Tuner) PreviewPropeller(name string, value int8) error {
	if !t.running.Load() {
		return ErrNotRunning
	}
	t.mu.Lock()
	t.previewProps[name] = value
	t.lastPreview = time.Now()
	t.mu.Unlock()
	return nil
}

// PreviewControlLoop queues PID gains for one loop.
func (t *Tuner) PreviewControlLoop(name string, cl ControlLoop) error {
	if !t.running.Load() {
		return ErrNotRunning
	}
	t.mu.Lock()
	t.previewLoops[name] = cl
	t.mu.Unlock()
	return nil
}

// Upload sends p to the vehicle and persists it there.
func (t *Tuner) Upload(p Parameters) error {
	return t.enqueue(command{kind: cmdUpload, params: p})
}

// Reload re-reads the parameters stored on the vehicle.
func (t *Tuner) Reload() error {
	return t.enqueue(command{kind: cmdLoad})
}

// SetDebugMode toggles the vehicle's debug mode while tuning.
func (t *Tuner) SetDebugMode(enabled bool) error {
	return t.enqueue(command{kind: cmdDebug, enabled: enabled})
}

func (t *Tuner) enqueue(c command) error {
	if !t.running.Load() {
		return ErrNotRunning
	}
	select {
	case t.commands <- c:
		return nil
	default:
		return ErrQueueFull
	}
}

// History returns the recent feedback values of loop, oldest first.
func (t *Tuner) History(loop string) []float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]float32(nil), t.history[loop]...)
}

func (t *Tuner) feedbackLoop(ctx context.Context, client *rpc.Client) error {
	ticker := time.NewTicker(t.opts.FeedbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var fb Feedback
		if err := client.Call(ctx, rpc.MethodGetFeedbacks, nil, &fb); err != nil {
			return fmt.Errorf("tuner: feedback: %w", err)
		}
		t.record(fb)
		t.emit(FeedbackReceived{Vehicle: t.opts.Vehicle, Feedback: fb, At: time.Now()})
	}
}

func (t *Tuner) record(fb Feedback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, v := range fb.ControlLoops {
		h := append(t.history[name], v)
		if len(h) > t.opts.HistoryLimit {
			h = h[len(h)-t.opts.HistoryLimit:]
		}
		t.history[name] = h
	}
}

// previewLoop flushes queued previews and zeroes stale propeller previews.
func (t *Tuner) previewLoop(ctx context.Context, client *rpc.Client) error {
	ticker := time.NewTicker(t.opts.PreviewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		props, loops, expired := t.takePreviews()
		if len(props) > 0 {
			if err := client.Call(ctx, rpc.MethodSetPropellerValues, props, nil); err != nil {
				return fmt.Errorf("tuner: preview propellers: %w", err)
			}
		}
		if len(loops) > 0 {
			if err := client.Call(ctx, rpc.MethodSetControlLoopParameters, loops, nil); err != nil {
				return fmt.Errorf("tuner: preview control loops: %w", err)
			}
		}
		if expired {
			zeros := make(map[string]int8, len(DefaultPropellers))
			for _, name := range DefaultPropellers {
				zeros[name] = 0
			}
			if err := client.Call(ctx, rpc.MethodSetPropellerValues, zeros, nil); err != nil {
				return fmt.Errorf("tuner: stop propeller preview: %w", err)
			}
			t.logger.Debug("tuner: propeller preview zeroed")
		}
	}
}

func (t *Tuner) takePreviews() (map[string]int8, map[string]ControlLoop, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var props map[string]int8
	if len(t.previewProps) > 0 {
		props = t.previewProps
		t.previewProps = make(map[string]int8)
	}
	var loops map[string]ControlLoop
	if len(t.previewLoops) > 0 {
		loops = t.previewLoops
		t.previewLoops = make(map[string]ControlLoop)
	}

	expired := false
	if props == nil && !t.lastPreview.IsZero() && time.Since(t.lastPreview) >= t.opts.PreviewHold {
		expired = true
		t.lastPreview = time.Time{}
	}
	return props, loops, expired
}

func (t *Tuner) commandLoop(ctx context.Context, client *rpc.Client) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-t.commands:
			var err error
			switch c.kind {
			case cmdUpload:
				err = t.upload(ctx, client, c.params)
			case cmdLoad:
				err = t.load(ctx, client)
			case cmdDebug:
				err = client.Call(ctx, rpc.MethodSetDebugModeEnabled, rpc.Positional(c.enabled), nil)
			}
			if err != nil {
				return err
			}
		}
	}
}

func (t *Tuner) upload(ctx context.Context, client *rpc.Client, p Parameters) error {
	_, err := client.Batch(ctx, []rpc.Request{
		{Method: rpc.MethodSetPropellerPWMFreqCalibration, Params: rpc.Positional(p.PropellerPWMFreqCalibration)},
		{Method: rpc.MethodSetPropellerParameters, Params: p.Propellers},
		{Method: rpc.MethodSetControlLoopParameters, Params: p.ControlLoops},
	})
	if err != nil {
		return fmt.Errorf("tuner: upload parameters: %w", err)
	}
	if err := client.Call(ctx, rpc.MethodSaveParameters, nil, nil); err != nil {
		return fmt.Errorf("tuner: save parameters: %w", err)
	}
	t.logger.Info("tuner: parameters saved on vehicle")
	t.emit(ParametersSaved{Vehicle: t.opts.Vehicle})
	return nil
}

func (t *Tuner) load(ctx context.Context, client *rpc.Client) error {
	p := DefaultParameters()
	if err := client.Call(ctx, rpc.MethodLoadParameters, nil, &p); err != nil {
		return fmt.Errorf("tuner: load parameters: %w", err)
	}
	t.emit(ParametersLoaded{Vehicle: t.opts.Vehicle, Parameters: p})
	return nil
}

func (t *Tuner) emit(ev Event) {
	select {
	case t.opts.Events <- ev:
	default:
		t.logger.Warn("tuner: event dropped, mailbox full", "event", fmt.Sprintf("%T", ev))
	}
}
