// Package record manages recording branches hung off a running pipeline's
// tee.
//
// Detaching follows the order GStreamer needs for a playable file: the
// branch is unlinked from the tee and its request pad released, EOS is sent
// into the branch, the manager waits until EOS reaches the last element, and
// only then are the elements torn down. If EOS never arrives within the drain
// timeout the branch is torn down anyway and the result reports Forced.
package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/rov-host/future"
)

// DefaultDrainTimeout bounds the wait for EOS on detach.
const DefaultDrainTimeout = 5 * time.Second

var (
	// ErrRecording is returned by Attach while a branch is active or draining.
	ErrRecording = errors.New("record: already recording")
	// ErrNotRecording is returned by Detach when no branch is active.
	ErrNotRecording = errors.New("record: not recording")
	// ErrDrainTimeout marks a detach whose EOS never reached the sink.
	ErrDrainTimeout = errors.New("record: timed out waiting for end of stream")
)

// Branch is one attached recording sub-graph.
type Branch interface {
	// Unlink detaches the branch from the tee and releases the request pad.
	Unlink() error
	// OnEOS installs a one-shot callback fired when EOS reaches the last
	// element. It may run on a streaming thread.
	OnEOS(fn func())
	// SendEOS pushes EOS into the head of the branch.
	SendEOS() error
	// Teardown sets the elements to NULL and removes them from the pipeline.
	Teardown() error
}

// Result describes a finished recording.
type Result struct {
	ID       string
	Path     string
	Started  time.Time
	Duration time.Duration
	// Forced is set when the branch was torn down without a clean EOS.
	Forced bool
}

type tap struct {
	id      string
	path    string
	branch  Branch
	started time.Time
	done    chan struct{}
	result  Result
	err     error
}

// Manager keeps at most one branch attached.
type Manager struct {
	loop    *future.Loop
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	active   *tap
	draining *tap
}

// NewManager returns a manager resolving detach futures on loop.
func NewManager(loop *future.Loop, drainTimeout time.Duration, logger *slog.Logger) *Manager {
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{loop: loop, timeout: drainTimeout, logger: logger}
}

// Attach adopts a linked branch writing to path and returns its id.
// build runs with the manager locked so two concurrent attaches cannot both
// link a branch.
func (m *Manager) Attach(path string, build func() (Branch, error)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil || m.draining != nil {
		return "", ErrRecording
	}

	branch, err := build()
	if err != nil {
		return "", err
	}

	t := &tap{
		id:      uuid.NewString(),
		path:    path,
		branch:  branch,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	m.active = t
	m.logger.Info("video: recording started", "id", t.id, "path", path)
	return t.id, nil
}

// Recording reports whether a branch is attached.
func (m *Manager) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// Path returns the file of the active recording.
func (m *Manager) Path() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return "", false
	}
	return m.active.path, true
}

// Detach starts draining the active branch. Unlink failures are returned
// synchronously and leave the branch attached. The future resolves on the
// loop once teardown has finished; a forced teardown fails it with
// ErrDrainTimeout.
func (m *Manager) Detach() (*future.Future[Result], error) {
	t, err := m.beginDetach()
	if err != nil {
		return nil, err
	}

	p, f := future.NewPromise[Result](m.loop)
	go func() {
		<-t.done
		if t.err != nil {
			_ = p.Complete(t.result, t.err)
			return
		}
		_ = p.Success(t.result)
	}()
	return f, nil
}

// DetachAndWait detaches and blocks until teardown finishes or ctx ends.
// It does not depend on the loop running, so it is safe during shutdown.
func (m *Manager) DetachAndWait(ctx context.Context) (Result, error) {
	t, err := m.beginDetach()
	if err != nil {
		return Result{}, err
	}
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Abort tears the active branch down immediately. Used when the pipeline
// itself has failed and EOS cannot flow.
func (m *Manager) Abort() (Result, bool) {
	m.mu.Lock()
	t := m.active
	m.active = nil
	m.mu.Unlock()
	if t == nil {
		return Result{}, false
	}

	_ = t.branch.Unlink()
	if err := t.branch.Teardown(); err != nil {
		m.logger.Warn("video: record teardown failed", "id", t.id, "error", err)
	}
	res := t.finish(true)
	m.logger.Warn("video: recording aborted", "id", t.id, "path", t.path)
	return res, true
}

func (m *Manager) beginDetach() (*tap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.active
	if t == nil {
		return nil, ErrNotRecording
	}

	eos := make(chan struct{})
	var once sync.Once
	t.branch.OnEOS(func() { once.Do(func() { close(eos) }) })

	if err := t.branch.Unlink(); err != nil {
		return nil, fmt.Errorf("record: unlink branch: %w", err)
	}

	m.active = nil
	m.draining = t

	var wait <-chan struct{} = eos
	if err := t.branch.SendEOS(); err != nil {
		m.logger.Warn("video: failed to send EOS into record branch", "id", t.id, "error", err)
		wait = nil
	}

	go m.drain(t, wait)
	return t, nil
}

// drain waits for eos then tears the branch down. A nil eos means EOS was
// never sent and teardown is forced at once.
func (m *Manager) drain(t *tap, eos <-chan struct{}) {
	forced := eos == nil
	if !forced {
		timer := time.NewTimer(m.timeout)
		select {
		case <-eos:
			timer.Stop()
		case <-timer.C:
			forced = true
			m.logger.Warn("video: record branch did not drain, forcing teardown",
				"id", t.id, "timeout", m.timeout)
		}
	}

	teardownErr := t.branch.Teardown()

	m.mu.Lock()
	m.draining = nil
	m.mu.Unlock()

	t.result = Result{ID: t.id, Path: t.path, Started: t.started, Duration: time.Since(t.started), Forced: forced}
	switch {
	case teardownErr != nil:
		t.err = fmt.Errorf("record: teardown: %w", teardownErr)
	case forced:
		t.err = ErrDrainTimeout
	}
	close(t.done)

	m.logger.Info("video: recording finished",
		"id", t.id,
		"path", t.path,
		"duration", t.result.Duration,
		"forced", forced,
	)
}

func (t *tap) finish(forced bool) Result {
	t.result = Result{ID: t.id, Path: t.path, Started: t.started, Duration: time.Since(t.started), Forced: forced}
	close(t.done)
	return t.result
}

// Wait blocks until an in-progress detach has torn its branch down.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	t := m.draining
	m.mu.Unlock()
	if t == nil {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
