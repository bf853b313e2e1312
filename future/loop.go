package future

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrLoopClosed is returned by Post once the loop has stopped.
var ErrLoopClosed = errors.New("future: loop closed")

// Loop is a single-goroutine event loop. Every function posted to it runs on
// the goroutine that called Run, one at a time, in posting order.
//
// Post never blocks: the queue is unbounded so tasks running on the loop can
// post follow-up work without deadlocking.
type Loop struct {
	mu     sync.Mutex
	queue  []task
	closed bool

	wake chan struct{}
	done chan struct{}
}

// task is a queued function. dropped, when set, is called instead of fn if
// the loop closes before fn runs.
type task struct {
	fn      func()
	dropped func()
}

// NewLoop returns a loop that is not yet running.
func NewLoop() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues fn for execution on the loop goroutine.
func (l *Loop) Post(fn func()) error {
	return l.post(task{fn: fn})
}

func (l *Loop) post(t task) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.queue = append(l.queue, t)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run executes posted tasks until ctx is cancelled or Close is called.
// Tasks still queued at that point are dropped; pending promise resolutions
// are still recorded so Await returns.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return
		case <-l.done:
			return
		case <-l.wake:
			l.drain()
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		if closed || len(batch) == 0 {
			return
		}
		for _, t := range batch {
			l.run(t.fn)
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("future: loop task panicked", "panic", r)
		}
	}()
	fn()
}

// Close stops the loop. It is idempotent.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	pending := l.queue
	l.queue = nil
	close(l.done)
	l.mu.Unlock()

	for _, t := range pending {
		if t.dropped != nil {
			t.dropped()
		}
	}
}

// Done is closed when the loop stops.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
