package future

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrAlreadyResolved is returned when a Promise is completed a second time.
var ErrAlreadyResolved = errors.New("future: promise already resolved")

// Future is the read side of a single-assignment result.
//
// Callbacks registered before resolution run on the loop goroutine when the
// result arrives. Callbacks registered after resolution run immediately on
// the caller's goroutine with the cached result.
type Future[T any] struct {
	loop *Loop

	mu      sync.Mutex
	settled bool
	value   T
	err     error
	waiters []func(T, error)

	done chan struct{}
}

// Promise is the write side of a Future.
type Promise[T any] struct {
	future *Future[T]
	set    atomic.Bool
}

// NewPromise returns a Promise and the Future it resolves. Resolution is
// dispatched onto loop.
func NewPromise[T any](loop *Loop) (*Promise[T], *Future[T]) {
	f := &Future[T]{loop: loop, done: make(chan struct{})}
	return &Promise[T]{future: f}, f
}

// Future returns the paired Future.
func (p *Promise[T]) Future() *Future[T] {
	return p.future
}

// Success resolves the future with v.
func (p *Promise[T]) Success(v T) error {
	return p.complete(v, nil)
}

// Failure resolves the future with err.
func (p *Promise[T]) Failure(err error) error {
	var zero T
	return p.complete(zero, err)
}

// Complete resolves the future with whichever of v or err applies.
func (p *Promise[T]) Complete(v T, err error) error {
	return p.complete(v, err)
}

func (p *Promise[T]) complete(v T, err error) error {
	if !p.set.CompareAndSwap(false, true) {
		return ErrAlreadyResolved
	}
	f := p.future
	postErr := f.loop.post(task{
		fn:      func() { f.resolve(v, err) },
		dropped: func() { f.abandon(v, err) },
	})
	if postErr != nil {
		f.abandon(v, err)
	}
	return nil
}

// abandon records the result without running callbacks. It is used when no
// loop is left to run them; Await callers are still released.
func (f *Future[T]) abandon(v T, err error) {
	slog.Debug("future: resolved after loop closed", "error", err)
	f.mu.Lock()
	f.settle(v, err)
	f.waiters = nil
	f.mu.Unlock()
}

// settle records the result. Caller holds f.mu.
func (f *Future[T]) settle(v T, err error) {
	f.settled = true
	f.value = v
	f.err = err
	close(f.done)
}

func (f *Future[T]) resolve(v T, err error) {
	f.mu.Lock()
	f.settle(v, err)
	waiters := f.waiters
	f.waiters = nil
	f.mu.Unlock()

	for _, w := range waiters {
		w(v, err)
	}
}

// OnComplete registers fn to receive the result.
func (f *Future[T]) OnComplete(fn func(T, error)) {
	f.mu.Lock()
	if f.settled {
		v, err := f.value, f.err
		f.mu.Unlock()
		fn(v, err)
		return
	}
	f.waiters = append(f.waiters, fn)
	f.mu.Unlock()
}

// ForEach registers fn to receive the value on success. Failures are not
// delivered to fn.
func (f *Future[T]) ForEach(fn func(T)) {
	f.OnComplete(func(v T, err error) {
		if err == nil {
			fn(v)
		}
	})
}

// Await blocks until the future resolves or ctx ends. It must not be called
// from the loop goroutine while the result is still pending.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed once the result is recorded.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Loop returns the loop results are dispatched on.
func (f *Future[T]) Loop() *Loop {
	return f.loop
}

// Resolved returns a future already completed with v.
func Resolved[T any](loop *Loop, v T) *Future[T] {
	p, f := NewPromise[T](loop)
	_ = p.Success(v)
	return f
}

// Failed returns a future already completed with err.
func Failed[T any](loop *Loop, err error) *Future[T] {
	p, f := NewPromise[T](loop)
	_ = p.Failure(err)
	return f
}

// Spawn runs fn on a new goroutine and resolves the returned future with its
// result on loop.
func Spawn[T any](loop *Loop, fn func() (T, error)) *Future[T] {
	p, f := NewPromise[T](loop)
	go func() {
		v, err := fn()
		_ = p.Complete(v, err)
	}()
	return f
}

// Map derives a future holding fn applied to f's value. Errors pass through.
func Map[T, U any](f *Future[T], fn func(T) U) *Future[U] {
	p, out := NewPromise[U](f.loop)
	f.OnComplete(func(v T, err error) {
		if err != nil {
			_ = p.Failure(err)
			return
		}
		_ = p.Success(fn(v))
	})
	return out
}

// FlatMap chains a dependent asynchronous step after f.
func FlatMap[T, U any](f *Future[T], fn func(T) *Future[U]) *Future[U] {
	p, out := NewPromise[U](f.loop)
	f.OnComplete(func(v T, err error) {
		if err != nil {
			_ = p.Failure(err)
			return
		}
		fn(v).OnComplete(func(u U, err error) {
			_ = p.Complete(u, err)
		})
	})
	return out
}

// Sequence folds futures into one future of their values in slice order.
// Element i+1 is consumed only after element i has resolved; the first
// failure short-circuits the rest.
func Sequence[T any](loop *Loop, futures []*Future[T]) *Future[[]T] {
	acc := Resolved(loop, make([]T, 0, len(futures)))
	for _, f := range futures {
		f := f
		acc = FlatMap(acc, func(results []T) *Future[[]T] {
			return Map(f, func(v T) []T {
				return append(results, v)
			})
		})
	}
	return acc
}
