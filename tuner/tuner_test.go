package tuner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/e7canasta/rov-host/internal/rpc"
	"github.com/e7canasta/rov-host/internal/rpc/rpctest"
)

type harness struct {
	srv    *rpctest.Server
	tuner  *Tuner
	events chan Event
	done   chan error
}

func startTuner(t *testing.T, opts Options, setup func(*rpctest.Server)) *harness {
	t.Helper()
	srv := rpctest.NewServer()
	t.Cleanup(srv.Close)
	if setup != nil {
		setup(srv)
	}

	client, err := rpc.NewClient(srv.URL, rpc.Options{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	events := make(chan Event, 256)
	opts.Events = events
	opts.Vehicle = "tuner-test"
	tu, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- tu.Run(context.Background(), client) }()
	t.Cleanup(tu.Stop)

	return &harness{srv: srv, tuner: tu, events: events, done: done}
}

func waitFor[T Event](t *testing.T, events <-chan Event) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
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

func TestTuner_LoadAndStop(t *testing.T) {
	h := startTuner(t, Options{FeedbackInterval: time.Hour}, func(srv *rpctest.Server) {
		srv.Handle(rpc.MethodLoadParameters, func(json.RawMessage) (any, error) {
			return map[string]any{
				"propeller_pwm_freq_calibration": 0.5,
				"propeller_parameters": map[string]any{
					"front_left": map[string]any{"deadzone_lower": -5, "deadzone_upper": 5, "power_positive": 0.9, "power_negative": 0.8, "enabled": true},
				},
			}, nil
		})
	})

	loaded := waitFor[ParametersLoaded](t, h.events)
	if loaded.Parameters.PropellerPWMFreqCalibration != 0.5 {
		t.Errorf("calibration = %v", loaded.Parameters.PropellerPWMFreqCalibration)
	}
	if fl := loaded.Parameters.Propellers["front_left"]; fl.DeadzoneUpper != 5 || fl.PowerPositive != 0.9 {
		t.Errorf("front_left = %+v", fl)
	}
	if _, ok := loaded.Parameters.ControlLoops["depth_lock"]; !ok {
		t.Error("defaults should fill control loops missing from the response")
	}

	h.tuner.Stop()
	stopped := waitFor[Stopped](t, h.events)
	if stopped.Err != nil {
		t.Fatalf("Stopped.Err = %v", stopped.Err)
	}
	if err := <-h.done; err != nil {
		t.Fatalf("Run = %v", err)
	}

	var debugCalls []string
	for _, c := range h.srv.Calls() {
		if c.Method == rpc.MethodSetDebugModeEnabled {
			debugCalls = append(debugCalls, string(c.Params))
		}
	}
	if len(debugCalls) != 2 || debugCalls[0] != "[true]" || debugCalls[1] != "[false]" {
		t.Errorf("debug mode calls = %v, want [[true] [false]]", debugCalls)
	}
}

func TestTuner_PreviewBatchedThenZeroed(t *testing.T) {
	h := startTuner(t, Options{
		FeedbackInterval: time.Hour,
		PreviewInterval:  20 * time.Millisecond,
		PreviewHold:      100 * time.Millisecond,
	}, nil)
	waitFor[ParametersLoaded](t, h.events)

	for _, v := range []int8{10, 20, 30} {
		if err := h.tuner.PreviewPropeller("front_left", v); err != nil {
			t.Fatalf("PreviewPropeller: %v", err)
		}
	}

	time.Sleep(400 * time.Millisecond)

	var values []map[string]int8
	for _, c := range h.srv.Calls() {
		if c.Method != rpc.MethodSetPropellerValues {
			continue
		}
		var m map[string]int8
		if err := json.Unmarshal(c.Params, &m); err != nil {
			t.Fatalf("decode params: %v", err)
		}
		values = append(values, m)
	}

	if len(values) != 2 {
		t.Fatalf("got %d set_propeller_values calls, want 2 (preview, zero)", len(values))
	}
	if len(values[0]) != 1 || values[0]["front_left"] != 30 {
		t.Errorf("preview call = %v, want front_left=30 only", values[0])
	}
	if len(values[1]) != len(DefaultPropellers) {
		t.Errorf("zero call = %v, want all propellers", values[1])
	}
	for name, v := range values[1] {
		if v != 0 {
			t.Errorf("zero call %s = %d", name, v)
		}
	}
}

func TestTuner_UploadSaves(t *testing.T) {
	h := startTuner(t, Options{FeedbackInterval: time.Hour}, nil)
	waitFor[ParametersLoaded](t, h.events)

	if err := h.tuner.Upload(DefaultParameters()); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	waitFor[ParametersSaved](t, h.events)

	batches := h.srv.Batches()
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Fatalf("batches = %v", batches)
	}
	want := []string{rpc.MethodSetPropellerPWMFreqCalibration, rpc.MethodSetPropellerParameters, rpc.MethodSetControlLoopParameters}
	for i, m := range want {
		if batches[0][i].Method != m {
			t.Errorf("batch[%d] = %s, want %s", i, batches[0][i].Method, m)
		}
	}
	if h.srv.Count(rpc.MethodSaveParameters) != 1 {
		t.Error("save_parameters not called")
	}
}

func TestTuner_FeedbackErrorStops(t *testing.T) {
	h := startTuner(t, Options{FeedbackInterval: 20 * time.Millisecond, HistoryLimit: 2}, func(srv *rpctest.Server) {
		calls := 0
		srv.Handle(rpc.MethodGetFeedbacks, func(json.RawMessage) (any, error) {
			calls++
			if calls > 3 {
				return nil, errors.New("imu offline")
			}
			return Feedback{ControlLoops: map[string]float32{"depth_lock": float32(calls)}}, nil
		})
	})

	stopped := waitFor[Stopped](t, h.events)
	if stopped.Err == nil || !rpc.IsRemote(stopped.Err) {
		t.Fatalf("Stopped.Err = %v, want remote error", stopped.Err)
	}
	if err := <-h.done; err == nil {
		t.Fatal("Run should return the feedback error")
	}

	hist := h.tuner.History("depth_lock")
	if len(hist) != 2 || hist[0] != 2 || hist[1] != 3 {
		t.Errorf("history = %v, want [2 3]", hist)
	}
	if err := h.tuner.Upload(DefaultParameters()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Upload after stop = %v, want ErrNotRunning", err)
	}
}

func TestPropeller_DeadzoneBounds(t *testing.T) {
	p := DefaultPropeller()
	p.SetDeadzoneLower(10)
	if p.DeadzoneUpper != 10 {
		t.Errorf("upper = %d, want 10", p.DeadzoneUpper)
	}
	p.SetDeadzoneUpper(-4)
	if p.DeadzoneLower != -4 {
		t.Errorf("lower = %d, want -4", p.DeadzoneLower)
	}
}
