package video

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/rov-host/future"
)

func testLoop(t *testing.T) *future.Loop {
	t.Helper()
	loop := future.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(cancel)
	return loop
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewController_Validation(t *testing.T) {
	if _, err := NewController(Options{}); err == nil {
		t.Error("missing loop should fail")
	}
	loop := testLoop(t)
	if _, err := NewController(Options{Loop: loop, Source: "ftp://x"}); !errors.Is(err, ErrInvalidSource) {
		t.Errorf("bad source err = %v", err)
	}
	if _, err := NewController(Options{Loop: loop, Transform: "sepia"}); err == nil {
		t.Error("unknown transform should fail")
	}

	c, err := NewController(Options{Loop: loop, Vehicle: "v"})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	if c.State() != StateStopped {
		t.Errorf("initial state = %s", c.State())
	}
	if c.opts.Decoder != DefaultDecoder() {
		t.Errorf("default decoder = %s", c.opts.Decoder)
	}
}

func TestController_PreconditionsWhenStopped(t *testing.T) {
	c, err := NewController(Options{Loop: testLoop(t), Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("Stop = %v, want ErrNotPlaying", err)
	}
	if _, err := c.StartRecord(""); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("StartRecord = %v, want ErrNotPlaying", err)
	}
	if _, err := c.StopRecord(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("StopRecord = %v, want ErrNotRecording", err)
	}
	if err := c.Screenshot(filepath.Join(t.TempDir(), "a.png")); !errors.Is(err, ErrNoFrame) {
		t.Errorf("Screenshot = %v, want ErrNoFrame", err)
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done should be closed while stopped")
	}
}

func TestController_CapabilityError(t *testing.T) {
	for _, e := range []string{"udpsrc", "rtph264depay", "tee", "queue", "h264parse"} {
		if !Available(e) {
			t.Skipf("GStreamer element %s not available", e)
		}
	}
	events := make(chan Event, 16)
	c, err := NewController(Options{
		Loop:    testLoop(t),
		Decoder: Decoder{Codec: H264, Provider: ProviderD3D11},
		Source:  "5998",
		Events:  events,
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if Available("d3d11h264dec") {
		t.Skip("d3d11 decoder present on this host")
	}

	err = c.Start(context.Background())
	var capErr *CapabilityError
	if !errors.As(err, &capErr) || capErr.Element != "d3d11h264dec" {
		t.Fatalf("Start = %v, want CapabilityError for d3d11h264dec", err)
	}
	if c.State() != StateStopped {
		t.Errorf("state after failed start = %s", c.State())
	}
}

// sender streams a synthetic H.264 test pattern to localhost:port.
func startSender(t *testing.T, port string) {
	t.Helper()
	for _, e := range []string{"videotestsrc", "x264enc", "rtph264pay", "udpsink", "avdec_h264", "h264parse", "matroskamux"} {
		if !Available(e) {
			t.Skipf("GStreamer element %s not available", e)
		}
	}
	p, err := gst.NewPipelineFromString(
		"videotestsrc is-live=true pattern=ball ! video/x-raw,width=322,height=240,framerate=30/1 ! " +
			"x264enc tune=zerolatency key-int-max=15 ! rtph264pay config-interval=1 ! " +
			"udpsink host=127.0.0.1 port=" + port)
	if err != nil {
		t.Fatalf("sender pipeline: %v", err)
	}
	if err := p.SetState(gst.StatePlaying); err != nil {
		t.Fatalf("sender play: %v", err)
	}
	t.Cleanup(func() { _ = p.SetState(gst.StateNull) })
}

func TestController_PlayRecordStop(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	startSender(t, "5997")

	frames := make(chan Frame, 8)
	events := make(chan Event, 64)
	dir := t.TempDir()
	c, err := NewController(Options{
		Vehicle:      "sim",
		Source:       "udp://127.0.0.1:5997",
		Loop:         testLoop(t),
		RecordDir:    dir,
		DrainTimeout: 3 * time.Second,
		Transform:    "color_correction",
		Events:       events,
		Logger:       quietLogger(),
		OnFrame: func(f Frame) {
			select {
			case frames <- f:
			default:
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrNotStopped) {
		t.Errorf("second Start = %v, want ErrNotStopped", err)
	}

	select {
	case f := <-frames:
		if f.Width != 322 || f.Height != 240 || len(f.Data) != 322*240*3 {
			t.Fatalf("frame %dx%d with %d bytes", f.Width, f.Height, len(f.Data))
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no frame received")
	}

	if _, err := c.StartRecord(""); err != nil {
		t.Fatalf("StartRecord: %v", err)
	}
	if _, err := c.StartRecord(""); !errors.Is(err, ErrRecording) {
		t.Errorf("second StartRecord = %v, want ErrRecording", err)
	}
	time.Sleep(time.Second)

	f, err := c.StopRecord()
	if err != nil {
		t.Fatalf("StopRecord: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := f.Await(ctx)
	if err != nil {
		t.Fatalf("record result: %v", err)
	}
	info, err := os.Stat(res.Path)
	if err != nil || info.Size() == 0 {
		t.Fatalf("recording %s missing or empty: %v", res.Path, err)
	}

	shot := filepath.Join(dir, "shot.png")
	if err := c.Screenshot(shot); err != nil {
		t.Errorf("Screenshot: %v", err)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.State() != StateStopped {
		t.Errorf("state after Stop = %s", c.State())
	}
	if err := c.Stop(); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("second Stop = %v", err)
	}
}

func TestController_BusErrorAbortsToStopped(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	startSender(t, "5996")

	frames := make(chan Frame, 1)
	events := make(chan Event, 64)
	c, err := NewController(Options{
		Vehicle:      "sim",
		Source:       "udp://127.0.0.1:5996",
		Loop:         testLoop(t),
		RecordDir:    t.TempDir(),
		DrainTimeout: 2 * time.Second,
		Events:       events,
		Logger:       quietLogger(),
		OnFrame: func(f Frame) {
			select {
			case frames <- f:
			default:
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop() })

	select {
	case <-frames:
	case <-time.After(10 * time.Second):
		t.Fatal("no frame received")
	}
	if _, err := c.StartRecord(""); err != nil {
		t.Fatalf("StartRecord: %v", err)
	}
	done := c.Done()

	c.mu.Lock()
	depay := c.elems.Depay
	c.mu.Unlock()
	depay.ErrorMessage(gst.DomainStream, gst.StreamErrorDecode, "corrupt stream", "injected by test")

	var (
		pipelineErr *PipelineError
		recordEnd   *RecordingChanged
	)
	deadline := time.After(10 * time.Second)
	for pipelineErr == nil || recordEnd == nil {
		select {
		case ev := <-events:
			switch e := ev.(type) {
			case PipelineError:
				pipelineErr = &e
			case RecordingChanged:
				if !e.Recording {
					recordEnd = &e
				}
			}
		case <-deadline:
			t.Fatalf("pipeline error = %v, record end = %v", pipelineErr, recordEnd)
		}
	}

	if pipelineErr.Err == nil || pipelineErr.Category == "" {
		t.Errorf("PipelineError = %+v", *pipelineErr)
	}
	if !recordEnd.Forced {
		t.Errorf("recording ended without Forced: %+v", *recordEnd)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed after the pipeline aborted")
	}
	if c.State() != StateStopped {
		t.Errorf("state = %s, want stopped", c.State())
	}
	if err := c.Stop(); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("Stop after abort = %v, want ErrNotPlaying", err)
	}
}
