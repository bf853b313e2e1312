package console

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/rov-host/control"
	"github.com/e7canasta/rov-host/firmware"
	"github.com/e7canasta/rov-host/future"
	"github.com/e7canasta/rov-host/internal/config"
	"github.com/e7canasta/rov-host/internal/rpc"
	"github.com/e7canasta/rov-host/internal/rpc/rpctest"
	"github.com/e7canasta/rov-host/session"
	"github.com/e7canasta/rov-host/video"
)

type fakePublisher struct {
	mu        sync.Mutex
	telemetry int
	events    []string
}

func (p *fakePublisher) PublishTelemetry(string, []session.KV, time.Time) error {
	p.mu.Lock()
	p.telemetry++
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) PublishEvent(_ string, typ string, _ any) error {
	p.mu.Lock()
	p.events = append(p.events, typ)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) counts() (int, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.telemetry, append([]string(nil), p.events...)
}

type harness struct {
	console  *Console
	messages chan Message
	pub      *fakePublisher
}

func testConfig(t *testing.T, endpoint string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Preferences.InputSendingRate = 50
	cfg.Preferences.PollInterval = 50 * time.Millisecond
	cfg.Preferences.VideoSavePath = filepath.Join(t.TempDir(), "videos")
	cfg.Preferences.ImageSavePath = filepath.Join(t.TempDir(), "images")
	cfg.Vehicles[0].Name = "alpha"
	cfg.Vehicles[0].RPCEndpoint = endpoint
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func start(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	h := &harness{messages: make(chan Message, 1024), pub: &fakePublisher{}}
	c, err := New(Options{
		Config:    cfg,
		Publisher: h.pub,
		OnMessage: func(m Message) {
			select {
			case h.messages <- m:
			default:
			}
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.console = c

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(15 * time.Second):
			t.Error("console did not stop")
		}
	})

	deadline := time.Now().Add(2 * time.Second)
	for !c.HealthReport().Ready {
		if time.Now().After(deadline) {
			t.Fatal("console never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return h
}

func await[T any](t *testing.T, f *future.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Await(ctx)
}

func waitMessage[T Message](t *testing.T, h *harness, timeout time.Duration) T {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case m := <-h.messages:
			if typed, ok := m.(T); ok {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConsole_ConnectTelemetryDisconnect(t *testing.T) {
	srv := rpctest.NewServer()
	defer srv.Close()
	srv.Handle(rpc.MethodGetInfo, func(json.RawMessage) (any, error) {
		return map[string]string{"depth": "4.2"}, nil
	})

	h := start(t, testConfig(t, srv.URL))
	c := h.console

	if _, err := await(t, c.Connect("alpha")); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := await(t, c.Connect("alpha")); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("second Connect = %v, want ErrAlreadyConnected", err)
	}

	tel := waitMessage[session.TelemetryReceived](t, h, 2*time.Second)
	if len(tel.Info) != 1 || tel.Info[0].Value != "4.2" {
		t.Errorf("telemetry = %+v", tel.Info)
	}
	if vh := c.HealthReport().Vehicles[0]; !vh.Connected || vh.Name != "alpha" {
		t.Errorf("health = %+v", vh)
	}

	if _, err := await(t, c.Disconnect("alpha")); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if c.HealthReport().Vehicles[0].Connected {
		t.Error("still connected after Disconnect")
	}
	if _, err := await(t, c.Connect("alpha")); err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	waitFor(t, "telemetry to be published", func() bool {
		n, _ := h.pub.counts()
		return n > 0
	})
}

func TestConsole_InputSubmitsPacket(t *testing.T) {
	srv := rpctest.NewServer()
	defer srv.Close()

	h := start(t, testConfig(t, srv.URL))
	c := h.console
	if _, err := await(t, c.Connect("alpha")); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Axis 0 drives MotionX in the default layout.
	if _, err := await(t, c.Input("alpha", control.InputEvent{Kind: control.InputAxis, Index: 0, Value: 32767})); err != nil {
		t.Fatalf("Input: %v", err)
	}
	snap, err := c.Status("alpha")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.Get(control.MotionX) != 32767 {
		t.Errorf("MotionX = %d", snap.Get(control.MotionX))
	}

	waitFor(t, "a move batch", func() bool { return len(srv.Batches()) > 0 })
	if got := srv.Batches()[0][0].Method; got != rpc.MethodMove {
		t.Errorf("first batch call = %s, want %s", got, rpc.MethodMove)
	}
}

func TestConsole_SubmitRequiresConnection(t *testing.T) {
	h := start(t, testConfig(t, "http://127.0.0.1:1"))
	c := h.console

	if _, err := await(t, c.SubmitControl("alpha")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SubmitControl = %v, want ErrNotConnected", err)
	}
	// Status writes are kept while disconnected.
	if _, err := await(t, c.SetStatus("alpha", control.DepthLocked, 1)); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if snap, _ := c.Status("alpha"); snap.Get(control.DepthLocked) != 1 {
		t.Error("SetStatus not applied")
	}
}

func TestConsole_UnknownVehicle(t *testing.T) {
	h := start(t, testConfig(t, "http://127.0.0.1:1"))
	c := h.console

	checks := map[string]error{}
	_, checks["connect"] = await(t, c.Connect("ghost"))
	_, checks["disconnect"] = await(t, c.Disconnect("ghost"))
	_, checks["start_video"] = await(t, c.StartVideo("ghost"))
	_, checks["start_record"] = await(t, c.StartRecord("ghost", ""))
	_, checks["input"] = await(t, c.Input("ghost", control.InputEvent{}))
	for name, err := range checks {
		if !errors.Is(err, ErrUnknownVehicle) {
			t.Errorf("%s: err = %v, want ErrUnknownVehicle", name, err)
		}
	}
	if _, err := c.Status("ghost"); !errors.Is(err, ErrUnknownVehicle) {
		t.Errorf("Status: %v", err)
	}
}

func TestConsole_VideoPreconditions(t *testing.T) {
	h := start(t, testConfig(t, "http://127.0.0.1:1"))
	c := h.console

	if _, err := await(t, c.StopVideo("alpha")); !errors.Is(err, ErrVideoStopped) {
		t.Errorf("StopVideo = %v, want ErrVideoStopped", err)
	}
	if _, err := await(t, c.StartRecord("alpha", "")); !errors.Is(err, ErrVideoStopped) {
		t.Errorf("StartRecord = %v, want ErrVideoStopped", err)
	}
	if _, err := await(t, c.StopRecord("alpha")); !errors.Is(err, video.ErrNotRecording) {
		t.Errorf("StopRecord = %v, want ErrNotRecording", err)
	}
	if _, err := await(t, c.Screenshot("alpha", "")); !errors.Is(err, video.ErrNoFrame) {
		t.Errorf("Screenshot = %v, want ErrNoFrame", err)
	}
}

func TestConsole_ConnectionLost(t *testing.T) {
	srv := rpctest.NewServer()
	defer srv.Close()

	h := start(t, testConfig(t, srv.URL))
	c := h.console
	if _, err := await(t, c.Connect("alpha")); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	srv.SetFailing(true)

	waitMessage[session.ConnectionLost](t, h, 3*time.Second)
	waitFor(t, "session to be cleared", func() bool {
		return !c.HealthReport().Vehicles[0].Connected
	})
	if c.HealthReport().Vehicles[0].LastError == "" {
		t.Error("last error not recorded")
	}

	srv.SetFailing(false)
	if _, err := await(t, c.Connect("alpha")); err != nil {
		t.Fatalf("reconnect after loss: %v", err)
	}
}

func TestConsole_FirmwareUpload(t *testing.T) {
	srv := rpctest.NewServer()
	defer srv.Close()

	h := start(t, testConfig(t, srv.URL))
	c := h.console

	path := filepath.Join(t.TempDir(), "fw.bin")
	if err := os.WriteFile(path, make([]byte, 5000), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := await(t, c.UploadFirmware("alpha", path, firmware.CompressionNone)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("upload while disconnected = %v, want ErrNotConnected", err)
	}

	if _, err := await(t, c.Connect("alpha")); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := await(t, c.UploadFirmware("alpha", path, firmware.CompressionNone)); err != nil {
		t.Fatalf("UploadFirmware: %v", err)
	}

	finished := waitMessage[FirmwareFinished](t, h, 2*time.Second)
	if finished.Err != nil {
		t.Errorf("FirmwareFinished.Err = %v", finished.Err)
	}
	streams := srv.Streams()
	if len(streams) != 1 || len(streams[0].Payload) != 5000 {
		t.Errorf("streams = %d", len(streams))
	}
}

func TestConsole_TunerNotRunning(t *testing.T) {
	h := start(t, testConfig(t, "http://127.0.0.1:1"))
	c := h.console

	if _, err := await(t, c.StartTuner("alpha")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("StartTuner = %v, want ErrNotConnected", err)
	}
	if _, err := await(t, c.StopTuner("alpha")); !errors.Is(err, ErrTunerStopped) {
		t.Errorf("StopTuner = %v, want ErrTunerStopped", err)
	}
	if _, err := c.Tuner("alpha"); !errors.Is(err, ErrTunerStopped) {
		t.Errorf("Tuner = %v", err)
	}
}

func TestConsole_ApplyConfig(t *testing.T) {
	h := start(t, testConfig(t, "http://127.0.0.1:1"))
	c := h.console

	next := testConfig(t, "http://127.0.0.1:2")
	beta := next.Vehicles[0]
	beta.Name = "beta"
	next.Vehicles = append(next.Vehicles, beta)

	if _, err := await(t, c.ApplyConfig(next)); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if got := c.Vehicles(); len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Errorf("Vehicles = %v", got)
	}
	updated := waitMessage[ConfigUpdated](t, h, time.Second)
	if len(updated.Vehicles) != 2 {
		t.Errorf("ConfigUpdated = %+v", updated)
	}
	if c.Config() != next {
		t.Error("Config() not swapped")
	}

	bad := testConfig(t, "http://127.0.0.1:3")
	bad.Preferences.InputSendingRate = 5000
	if _, err := await(t, c.ApplyConfig(bad)); err == nil {
		t.Error("invalid config accepted")
	}
	if c.Config() != next {
		t.Error("invalid config replaced the current one")
	}

	only := testConfig(t, "http://127.0.0.1:4")
	only.Vehicles[0].Name = "beta"
	if _, err := await(t, c.ApplyConfig(only)); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}
	if got := c.Vehicles(); len(got) != 1 || got[0] != "beta" {
		t.Errorf("Vehicles after removal = %v", got)
	}
}

func TestConsole_ScreenshotPath(t *testing.T) {
	h := start(t, testConfig(t, "http://127.0.0.1:1"))
	c := h.console

	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)
	got := c.screenshotPath(now)
	want := filepath.Join(c.Config().Preferences.ImageSavePath, "2024-03-09T14-05-07.png")
	if got != want {
		t.Errorf("screenshotPath = %q, want %q", got, want)
	}
}

func TestConsole_RunTwice(t *testing.T) {
	h := start(t, testConfig(t, "http://127.0.0.1:1"))
	if err := h.console.Run(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("second Run = %v, want ErrRunning", err)
	}
}

func TestEventPayload(t *testing.T) {
	tests := []struct {
		msg  Message
		typ  string
		key  string
		want any
	}{
		{session.ConnectionChanged{Vehicle: "a", Connected: true}, "connection_changed", "connected", true},
		{session.ConnectionLost{Vehicle: "a", Err: errors.New("eof")}, "connection_lost", "error", "eof"},
		{video.StateChanged{Vehicle: "a", State: video.StatePlaying}, "video_state", "state", "playing"},
		{video.RecordingChanged{Vehicle: "a", Recording: true, Path: "/x.mkv"}, "recording_changed", "path", "/x.mkv"},
		{PollingChanged{Vehicle: "a", Polling: true}, "polling_changed", "polling", true},
		{FirmwareFinished{Vehicle: "a"}, "firmware_finished", "error", ""},
	}
	for _, tt := range tests {
		typ, data, ok := eventPayload(tt.msg)
		if !ok || typ != tt.typ {
			t.Errorf("%T: type = %q ok=%v, want %q", tt.msg, typ, ok, tt.typ)
			continue
		}
		if data[tt.key] != tt.want {
			t.Errorf("%T: data[%s] = %v, want %v", tt.msg, tt.key, data[tt.key], tt.want)
		}
	}
	if _, _, ok := eventPayload(session.TelemetryReceived{}); ok {
		t.Error("telemetry should not be an event payload")
	}
}
