package future

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(cancel)
	return loop
}

func await[T any](t *testing.T, f *Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("future did not resolve in time")
	}
	return v, err
}

func TestPromise_SecondSuccessRejected(t *testing.T) {
	loop := startLoop(t)
	p, f := NewPromise[int](loop)

	if err := p.Success(1); err != nil {
		t.Fatalf("first Success: %v", err)
	}
	if err := p.Success(2); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second Success = %v, want ErrAlreadyResolved", err)
	}
	if err := p.Failure(errors.New("late")); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("Failure after Success = %v, want ErrAlreadyResolved", err)
	}

	v, err := await(t, f)
	if err != nil || v != 1 {
		t.Fatalf("Await = (%d, %v), want (1, nil)", v, err)
	}
}

func TestFuture_LateForEachSeesValue(t *testing.T) {
	loop := startLoop(t)
	p, f := NewPromise[string](loop)
	_ = p.Success("ready")
	await(t, f)

	var got string
	f.ForEach(func(v string) { got = v })
	if got != "ready" {
		t.Fatalf("late ForEach got %q, want %q", got, "ready")
	}
}

func TestFuture_ResolutionRunsOnLoop(t *testing.T) {
	loop := startLoop(t)
	p, f := NewPromise[int](loop)

	var fired atomic.Bool
	f.ForEach(func(int) { fired.Store(true) })

	// Occupy the loop so a dispatched resolution cannot run yet.
	release := make(chan struct{})
	if err := loop.Post(func() { <-release }); err != nil {
		t.Fatalf("Post: %v", err)
	}

	_ = p.Success(7)
	time.Sleep(50 * time.Millisecond)
	if fired.Load() {
		t.Fatal("callback ran on the resolving goroutine instead of the loop")
	}

	close(release)
	await(t, f)
	deadline := time.Now().Add(time.Second)
	for !fired.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !fired.Load() {
		t.Fatal("callback never ran")
	}
}

func TestMap_AndFlatMap(t *testing.T) {
	loop := startLoop(t)
	p, f := NewPromise[int](loop)

	doubled := Map(f, func(v int) int { return v * 2 })
	text := FlatMap(doubled, func(v int) *Future[string] {
		return Spawn(loop, func() (string, error) { return strconv.Itoa(v), nil })
	})

	_ = p.Success(21)

	got, err := await(t, text)
	if err != nil || got != "42" {
		t.Fatalf("chain = (%q, %v), want (\"42\", nil)", got, err)
	}
}

func TestMap_PropagatesFailure(t *testing.T) {
	loop := startLoop(t)
	boom := errors.New("boom")

	called := false
	out := Map(Failed[int](loop, boom), func(v int) int {
		called = true
		return v
	})

	if _, err := await(t, out); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if called {
		t.Fatal("map function must not run on failure")
	}
}

func TestSequence_SubmissionOrder(t *testing.T) {
	loop := startLoop(t)
	p1, f1 := NewPromise[string](loop)
	p2, f2 := NewPromise[string](loop)
	p3, f3 := NewPromise[string](loop)

	all := Sequence(loop, []*Future[string]{f1, f2, f3})

	// f2 resolves last.
	_ = p1.Success("r1")
	_ = p3.Success("r3")
	time.Sleep(20 * time.Millisecond)
	_ = p2.Success("r2")

	got, err := await(t, all)
	if err != nil {
		t.Fatalf("Sequence: %v", err)
	}
	want := []string{"r1", "r2", "r3"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSequence_Empty(t *testing.T) {
	loop := startLoop(t)
	got, err := await(t, Sequence[int](loop, nil))
	if err != nil || len(got) != 0 {
		t.Fatalf("empty Sequence = (%v, %v)", got, err)
	}
}

func TestLoop_PostAfterClose(t *testing.T) {
	loop := NewLoop()
	loop.Close()
	loop.Close()

	if err := loop.Post(func() {}); !errors.Is(err, ErrLoopClosed) {
		t.Fatalf("Post after Close = %v, want ErrLoopClosed", err)
	}

	// Await still returns for promises completed on a closed loop.
	p, f := NewPromise[int](loop)
	_ = p.Success(3)
	v, err := await(t, f)
	if err != nil || v != 3 {
		t.Fatalf("Await = (%d, %v)", v, err)
	}
}

func TestLoop_CloseReleasesQueuedResolution(t *testing.T) {
	loop := startLoop(t)

	// Hold the loop so the resolution stays queued.
	running := make(chan struct{})
	release := make(chan struct{})
	if err := loop.Post(func() {
		close(running)
		<-release
	}); err != nil {
		t.Fatal(err)
	}
	<-running

	p, f := NewPromise[int](loop)
	var callbacks atomic.Int32
	f.OnComplete(func(int, error) { callbacks.Add(1) })
	if err := p.Success(7); err != nil {
		t.Fatal(err)
	}
	loop.Close()
	close(release)

	v, err := await(t, f)
	if err != nil || v != 7 {
		t.Fatalf("Await = (%d, %v), want (7, nil)", v, err)
	}
	if n := callbacks.Load(); n != 0 {
		t.Errorf("callbacks ran %d times after Close, want 0", n)
	}
}
