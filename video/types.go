package video

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/e7canasta/rov-host/transform"
	"github.com/e7canasta/rov-host/video/internal/pipeline"
	"github.com/e7canasta/rov-host/video/internal/record"
)

var (
	// ErrNotPlaying is returned by Stop and the record operations when the
	// pipeline is not Playing.
	ErrNotPlaying = errors.New("video: pipeline is not playing")
	// ErrNotStopped is returned by Start unless the pipeline is Stopped.
	ErrNotStopped = errors.New("video: pipeline is not stopped")
	// ErrNoFrame is returned by Screenshot before the first frame.
	ErrNoFrame = errors.New("video: no frame received yet")

	ErrRecording    = record.ErrRecording
	ErrNotRecording = record.ErrNotRecording
	ErrDrainTimeout = record.ErrDrainTimeout
	ErrLink         = record.ErrLink
)

// CapabilityError names a GStreamer element that is not installed.
type CapabilityError = pipeline.CapabilityError

// RecordResult describes a finished recording.
type RecordResult = record.Result

// State is the pipeline lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StatePlaying
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StatePlaying:
		return "playing"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Frame is one decoded RGB24 frame. Data is owned by the receiver.
type Frame struct {
	Vehicle   string
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
	TraceID   string
}

// Image copies the frame into an NRGBA image.
func (f Frame) Image() *image.NRGBA {
	return transform.ToNRGBA(f.Data, f.Width, f.Height)
}

// Event is delivered to the controller owner's mailbox.
type Event interface {
	VehicleName() string
}

// StateChanged reports a lifecycle transition.
type StateChanged struct {
	Vehicle string
	State   State
}

// PipelineError reports the bus error that aborted playback.
type PipelineError struct {
	Vehicle  string
	Category string
	Err      error
}

// RecordingChanged reports a record branch attached or detached.
type RecordingChanged struct {
	Vehicle   string
	Recording bool
	Path      string
	Forced    bool
	Err       error
}

func (e StateChanged) VehicleName() string     { return e.Vehicle }
func (e PipelineError) VehicleName() string    { return e.Vehicle }
func (e RecordingChanged) VehicleName() string { return e.Vehicle }
