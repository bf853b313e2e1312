package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/e7canasta/rov-host/control"
	"github.com/e7canasta/rov-host/internal/rpc"
	"github.com/e7canasta/rov-host/internal/rpc/rpctest"
	"github.com/e7canasta/rov-host/session"
)

func waitEvent[T session.Event](t *testing.T, events <-chan session.Event, timeout time.Duration) T {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if typed, ok := ev.(T); ok {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func connect(t *testing.T, srv *rpctest.Server, opts session.Options) (*session.Session, chan session.Event) {
	t.Helper()
	events := make(chan session.Event, 64)
	opts.Events = events
	if opts.Vehicle == "" {
		opts.Vehicle = t.Name()
	}
	s, err := session.Connect(context.Background(), srv.URL, opts)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Disconnect() })
	return s, events
}

func TestConnect_InvalidEndpoint(t *testing.T) {
	events := make(chan session.Event, 1)
	_, err := session.Connect(context.Background(), "tcp://192.168.137.219:8888", session.Options{Events: events})
	if !errors.Is(err, rpc.ErrInvalidEndpoint) {
		t.Fatalf("err = %v, want ErrInvalidEndpoint", err)
	}
	if len(events) != 0 {
		t.Errorf("no events expected on failed connect, got %d", len(events))
	}
}

func TestConnect_OptionValidation(t *testing.T) {
	if _, err := session.Connect(context.Background(), "http://127.0.0.1:1", session.Options{}); err == nil {
		t.Error("expected error without events channel")
	}
	events := make(chan session.Event, 1)
	if _, err := session.Connect(context.Background(), "http://127.0.0.1:1", session.Options{Events: events, InputRate: 5000}); err == nil {
		t.Error("expected error for input rate 5000")
	}
}

func TestSession_TelemetrySorted(t *testing.T) {
	srv := rpctest.NewServer()
	defer srv.Close()
	srv.Handle(rpc.MethodGetInfo, func(json.RawMessage) (any, error) {
		return map[string]string{"heading": "37"}, nil
	})

	_, events := connect(t, srv, session.Options{PollInterval: 50 * time.Millisecond})

	changed := waitEvent[session.ConnectionChanged](t, events, time.Second)
	if !changed.Connected {
		t.Fatal("first event should report connected")
	}

	got := waitEvent[session.TelemetryReceived](t, events, 2*time.Second)
	if len(got.Info) != 1 || got.Info[0] != (session.KV{Key: "heading", Value: "37"}) {
		t.Fatalf("telemetry = %v, want [heading=37]", got.Info)
	}
}

func TestSession_LastSubmitWins(t *testing.T) {
	srv := rpctest.NewServer()
	defer srv.Close()

	s, _ := connect(t, srv, session.Options{InputRate: 10, PollInterval: time.Hour})

	const n = 100
	for i := 1; i <= n; i++ {
		s.Submit(control.ControlPacket{Motion: control.Motion{X: float32(i) / n}})
	}

	time.Sleep(350 * time.Millisecond)

	batches := srv.Batches()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want exactly 1", len(batches))
	}
	batch := batches[0]
	if len(batch) != 4 {
		t.Fatalf("batch has %d calls, want 4", len(batch))
	}
	wantMethods := []string{rpc.MethodMove, rpc.MethodSetDepthLocked, rpc.MethodSetDirectionLocked, rpc.MethodCatch}
	for i, m := range wantMethods {
		if batch[i].Method != m {
			t.Errorf("batch[%d] = %s, want %s", i, batch[i].Method, m)
		}
	}

	var motion control.Motion
	if err := json.Unmarshal(batch[0].Params, &motion); err != nil {
		t.Fatalf("decode move params: %v", err)
	}
	if motion.X != 1 {
		t.Errorf("sent X = %v, want the last submission 1", motion.X)
	}

	if st := s.Stats(); st.PacketsSent != 1 || st.Overwritten != n-1 || st.Pending {
		t.Errorf("stats = %+v", st)
	}
}

func TestSession_BlockOnSuspendsTraffic(t *testing.T) {
	srv := rpctest.NewServer()
	defer srv.Close()

	s, _ := connect(t, srv, session.Options{InputRate: 50, PollInterval: 20 * time.Millisecond})

	started := make(chan struct{})
	release := make(chan struct{})
	opDone := make(chan error, 1)
	go func() {
		opDone <- s.BlockOn(context.Background(), func(ctx context.Context, _ *rpc.Client) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	batchesBefore := len(srv.Batches())
	pollsBefore := srv.Count(rpc.MethodGetInfo)

	s.Submit(control.ControlPacket{Catch: 1})
	time.Sleep(200 * time.Millisecond)

	if got := len(srv.Batches()) - batchesBefore; got != 0 {
		t.Fatalf("%d batches sent while blocking operation active", got)
	}
	if got := srv.Count(rpc.MethodGetInfo) - pollsBefore; got != 0 {
		t.Fatalf("%d polls while blocking operation active", got)
	}

	if err := s.BlockOn(context.Background(), func(context.Context, *rpc.Client) error { return nil }); !errors.Is(err, session.ErrBusy) {
		t.Fatalf("second BlockOn = %v, want ErrBusy", err)
	}

	close(release)
	if err := <-opDone; err != nil {
		t.Fatalf("BlockOn: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if got := len(srv.Batches()) - batchesBefore; got != 1 {
		t.Fatalf("got %d batches after release, want 1", got)
	}
}

func TestSession_ConnectionLost(t *testing.T) {
	srv := rpctest.NewServer()
	defer srv.Close()
	srv.SetFailing(true)

	s, events := connect(t, srv, session.Options{PollInterval: 20 * time.Millisecond})

	lost := waitEvent[session.ConnectionLost](t, events, 2*time.Second)
	if lost.Err == nil {
		t.Fatal("ConnectionLost without error")
	}
	changed := waitEvent[session.ConnectionChanged](t, events, time.Second)
	if changed.Connected {
		t.Fatal("expected disconnected after loss")
	}

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not stop after connection loss")
	}

	if err := s.BlockOn(context.Background(), func(context.Context, *rpc.Client) error { return nil }); !errors.Is(err, session.ErrClosed) {
		t.Errorf("BlockOn after loss = %v, want ErrClosed", err)
	}
}

func TestSession_DisconnectIdempotent(t *testing.T) {
	srv := rpctest.NewServer()
	defer srv.Close()

	s, events := connect(t, srv, session.Options{PollInterval: 10 * time.Millisecond})
	waitEvent[session.ConnectionChanged](t, events, time.Second)

	if err := s.Disconnect(); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}

	disconnected := 0
	drain := time.After(100 * time.Millisecond)
	for done := false; !done; {
		select {
		case ev := <-events:
			switch e := ev.(type) {
			case session.ConnectionChanged:
				if !e.Connected {
					disconnected++
				}
			case session.ConnectionLost:
				t.Errorf("unexpected ConnectionLost on clean disconnect: %v", e.Err)
			}
		case <-drain:
			done = true
		}
	}
	if disconnected != 1 {
		t.Errorf("disconnected reported %d times, want 1", disconnected)
	}

	// No telemetry after disconnect.
	time.Sleep(50 * time.Millisecond)
	for len(events) > 0 {
		if _, ok := (<-events).(session.TelemetryReceived); ok {
			t.Fatal("telemetry delivered after Disconnect")
		}
	}
}
