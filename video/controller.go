package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"

	"github.com/e7canasta/rov-host/future"
	"github.com/e7canasta/rov-host/internal/metrics"
	"github.com/e7canasta/rov-host/transform"
	"github.com/e7canasta/rov-host/video/internal/pipeline"
	"github.com/e7canasta/rov-host/video/internal/record"
)

// Options configures a Controller.
type Options struct {
	Vehicle string
	// Source is a port, udp://, rtp:// or rtsp:// URL. Empty means UDP 5600.
	Source  string
	Decoder Decoder
	// Encoder re-encodes recordings from decoded frames. Nil records the
	// received stream as is.
	Encoder    *Encoder
	Colorspace ColorspaceConversion
	Transform  transform.Kind
	LeakyQueue bool

	// RecordDir receives recordings started without an explicit path.
	RecordDir    string
	DrainTimeout time.Duration

	// Loop resolves record futures. Required.
	Loop *future.Loop
	// OnFrame runs on the streaming thread for every delivered frame.
	OnFrame func(Frame)
	Events  chan<- Event
	Logger  *slog.Logger
}

// Controller owns one receive/decode pipeline and its record branch.
type Controller struct {
	opts      Options
	source    Source
	transform transform.Transform
	logger    *slog.Logger

	state    atomic.Int32
	geometry pipeline.Geometry
	recorder *record.Manager
	rate     *rateTracker
	latest   atomic.Pointer[Frame]

	mu          sync.Mutex
	elems       *pipeline.Elements
	sink        *pipeline.SinkContext
	cancel      context.CancelFunc
	monitorDone chan struct{}
	stopped     chan struct{}
}

// NewController validates opts. No GStreamer objects exist until Start.
func NewController(opts Options) (*Controller, error) {
	if opts.Loop == nil {
		return nil, errors.New("video: Options.Loop is required")
	}
	src, err := ParseSource(opts.Source)
	if err != nil {
		return nil, err
	}
	if opts.Decoder.Codec == "" {
		opts.Decoder = DefaultDecoder()
	}
	if opts.Decoder.Provider == "" {
		opts.Decoder.Provider = ProviderAVCodec
	}
	if opts.Colorspace == "" {
		opts.Colorspace = ConvertCPU
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = record.DefaultDrainTimeout
	}
	tr, err := transform.New(opts.Transform)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("vehicle", opts.Vehicle)

	c := &Controller{
		opts:      opts,
		source:    src,
		transform: transform.Timed(tr),
		logger:    logger,
		recorder:  record.NewManager(opts.Loop, opts.DrainTimeout, logger),
		rate:      newRateTracker(),
		stopped:   make(chan struct{}),
	}
	close(c.stopped)
	metrics.VideoPipelineState.WithLabelValues(opts.Vehicle).Set(float64(StateStopped))
	return c, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Source returns the parsed stream source.
func (c *Controller) Source() Source { return c.source }

// Start builds the pipeline and sets it playing. ctx bounds the pipeline's
// lifetime: cancelling it stops playback as Stop would.
//
// A missing element fails with *CapabilityError and leaves the controller
// Stopped.
func (c *Controller) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrNotStopped
	}
	c.setState(StateStarting)

	elems, err := pipeline.Build(c.pipelineConfig(), c.logger)
	if err != nil {
		c.setState(StateStopped)
		return err
	}

	sink := &pipeline.SinkContext{Geometry: &c.geometry, Deliver: c.deliver, Logger: c.logger}
	sink.Attach(elems.AppSink)

	if err := pipeline.Play(elems); err != nil {
		_ = pipeline.Destroy(elems)
		c.setState(StateStopped)
		return err
	}

	monCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.elems, c.sink, c.cancel, c.monitorDone = elems, sink, cancel, done
	c.stopped = make(chan struct{})
	c.mu.Unlock()

	c.setState(StatePlaying)
	c.logger.Info("video: pipeline playing",
		"source", c.source.String(),
		"decoder", c.opts.Decoder.Element(),
		"transform", string(c.transform.Kind()),
	)

	go c.monitor(ctx, monCtx, elems, done)
	return nil
}

func (c *Controller) monitor(owner, monCtx context.Context, elems *pipeline.Elements, done chan struct{}) {
	defer close(done)

	err := pipeline.Monitor(monCtx, elems.Pipeline, c.logger, func(be *pipeline.BusError) {
		metrics.VideoErrorsTotal.WithLabelValues(c.opts.Vehicle, be.Category.String()).Inc()
	})
	if err == nil && owner.Err() == nil {
		return // Stop cancelled us
	}
	if !c.state.CompareAndSwap(int32(StatePlaying), int32(StateStopping)) {
		return
	}
	c.setState(StateStopping)

	if err != nil {
		category := "eos"
		var be *pipeline.BusError
		if errors.As(err, &be) {
			category = be.Category.String()
		}
		c.emit(PipelineError{Vehicle: c.opts.Vehicle, Category: category, Err: err})
	}
	c.shutdown(err, false)
}

// Stop drains an active recording, then halts the pipeline.
func (c *Controller) Stop() error {
	if !c.state.CompareAndSwap(int32(StatePlaying), int32(StateStopping)) {
		return ErrNotPlaying
	}
	c.setState(StateStopping)
	c.shutdown(nil, true)
	return nil
}

// shutdown ends playback. A nil cause drains the record branch; otherwise
// it is torn down at once since EOS can no longer flow.
func (c *Controller) shutdown(cause error, waitMonitor bool) {
	if cause == nil {
		if c.recorder.Recording() {
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.DrainTimeout+time.Second)
			res, err := c.recorder.DetachAndWait(ctx)
			cancel()
			c.recordFinished(res, err)
		}
	} else if res, ok := c.recorder.Abort(); ok {
		c.recordFinished(res, cause)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.DrainTimeout+time.Second)
	if err := c.recorder.Wait(ctx); err != nil {
		c.logger.Warn("video: record branch still draining at shutdown", "error", err)
	}
	cancel()

	c.mu.Lock()
	elems, stop, done, stopped := c.elems, c.cancel, c.monitorDone, c.stopped
	c.elems, c.sink, c.cancel, c.monitorDone = nil, nil, nil, nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if waitMonitor && done != nil {
		<-done
	}
	if err := pipeline.Destroy(elems); err != nil {
		c.logger.Warn("video: pipeline teardown failed", "error", err)
	}

	c.geometry.Reset()
	c.rate.reset()
	c.setState(StateStopped)
	close(stopped)
	c.logger.Info("video: pipeline stopped", "cause", cause)
}

// Done is closed once the current playback has fully stopped, including
// the record drain. It is already closed when nothing is playing.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// StartRecord attaches a record branch writing to path. An empty path
// names the file after the current time inside RecordDir.
func (c *Controller) StartRecord(path string) (string, error) {
	if c.State() != StatePlaying {
		return "", ErrNotPlaying
	}
	if path == "" {
		path = filepath.Join(c.opts.RecordDir, RecordFileName(time.Now()))
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("video: create record dir: %w", err)
		}
	}

	c.mu.Lock()
	elems := c.elems
	c.mu.Unlock()
	if elems == nil {
		return "", ErrNotPlaying
	}

	tee, spec := elems.RawTee, record.Spec{Path: path, Parser: c.opts.Decoder.Codec.Parser()}
	if enc := c.opts.Encoder; enc != nil {
		tee = elems.DecodedTee
		spec.Encode = []string{"videoconvert", enc.Element()}
		spec.Parser = enc.Codec.Parser()
	}

	id, err := c.recorder.Attach(path, func() (record.Branch, error) {
		return record.NewGstBranch(elems.Pipeline, tee, spec, c.logger)
	})
	if err != nil {
		return "", err
	}

	metrics.RecordingActive.WithLabelValues(c.opts.Vehicle).Set(1)
	c.emit(RecordingChanged{Vehicle: c.opts.Vehicle, Recording: true, Path: path})
	return id, nil
}

// StopRecord begins draining the record branch. The future resolves on the
// loop after teardown; a branch that did not drain in time fails it with
// ErrDrainTimeout, with the result still set.
func (c *Controller) StopRecord() (*future.Future[RecordResult], error) {
	f, err := c.recorder.Detach()
	if err != nil {
		return nil, err
	}
	f.OnComplete(c.recordFinished)
	return f, nil
}

// Recording reports whether a record branch is attached.
func (c *Controller) Recording() bool { return c.recorder.Recording() }

func (c *Controller) recordFinished(res RecordResult, err error) {
	outcome := "drained"
	if res.Forced || err != nil {
		outcome = "forced"
	}
	metrics.RecordingActive.WithLabelValues(c.opts.Vehicle).Set(0)
	metrics.RecordingsTotal.WithLabelValues(c.opts.Vehicle, outcome).Inc()
	c.emit(RecordingChanged{Vehicle: c.opts.Vehicle, Path: res.Path, Forced: res.Forced, Err: err})
}

// Screenshot saves the latest frame. The image format follows the file
// extension (png, jpg, tif, bmp, gif).
func (c *Controller) Screenshot(path string) error {
	f := c.latest.Load()
	if f == nil {
		return ErrNoFrame
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("video: create screenshot dir: %w", err)
	}
	if err := imaging.Save(f.Image(), path); err != nil {
		return fmt.Errorf("video: save screenshot: %w", err)
	}
	c.logger.Info("video: screenshot saved", "path", path, "seq", f.Seq)
	return nil
}

// LatestFrame returns the most recently delivered frame.
func (c *Controller) LatestFrame() (Frame, bool) {
	f := c.latest.Load()
	if f == nil {
		return Frame{}, false
	}
	return *f, true
}

// Stats returns a snapshot of counters and frame rate.
func (c *Controller) Stats() Stats {
	s := Stats{State: c.State(), Rate: c.rate.stats()}
	s.Width, s.Height, _ = c.geometry.Load()
	s.RecordPath, s.Recording = c.recorder.Path()

	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink != nil {
		s.Frames, s.Skipped, s.Bytes = sink.Counters()
	}
	return s
}

func (c *Controller) deliver(f pipeline.Frame) {
	if err := c.transform.Apply(f.Data, f.Width, f.Height); err != nil {
		metrics.VideoFramesSkippedTotal.WithLabelValues(c.opts.Vehicle).Inc()
		c.logger.Debug("video: transform failed, dropping frame", "seq", f.Seq, "error", err)
		return
	}

	frame := Frame{
		Vehicle:   c.opts.Vehicle,
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
		Width:     f.Width,
		Height:    f.Height,
		Data:      f.Data,
		TraceID:   f.TraceID,
	}
	c.latest.Store(&frame)
	c.rate.add(frame.Timestamp)
	metrics.VideoFramesTotal.WithLabelValues(c.opts.Vehicle).Inc()

	if c.opts.OnFrame != nil {
		c.opts.OnFrame(frame)
	}
}

func (c *Controller) pipelineConfig() pipeline.Config {
	return pipeline.Config{
		SourceKind:  string(c.source.Kind),
		Address:     c.source.Address,
		Port:        c.source.Port,
		Location:    c.source.Location,
		RTPCaps:     c.opts.Decoder.Codec.RTPCaps(),
		Depayloader: c.opts.Decoder.Codec.Depayloader(),
		Parser:      c.opts.Decoder.Codec.Parser(),
		Decoder:     c.opts.Decoder.Element(),
		Colorspace:  c.opts.Colorspace.Elements(),
		LeakyQueue:  c.opts.LeakyQueue,
	}
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	metrics.VideoPipelineState.WithLabelValues(c.opts.Vehicle).Set(float64(s))
	c.emit(StateChanged{Vehicle: c.opts.Vehicle, State: s})
}

// emit is non-blocking; a full mailbox drops the event.
func (c *Controller) emit(ev Event) {
	if c.opts.Events == nil {
		return
	}
	select {
	case c.opts.Events <- ev:
	default:
		c.logger.Warn("video: event dropped, mailbox full", "event", fmt.Sprintf("%T", ev))
	}
}
