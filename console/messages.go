package console

import (
	"errors"
	"log/slog"
	"time"

	"github.com/e7canasta/rov-host/session"
	"github.com/e7canasta/rov-host/tuner"
	"github.com/e7canasta/rov-host/video"
)

// Message is anything the console reports to its owner. Session, video and
// tuner events are forwarded as is; the types below are the console's own.
type Message interface {
	VehicleName() string
}

// PollingChanged reports that a vehicle's video started or stopped.
type PollingChanged struct {
	Vehicle string
	Polling bool
}

// Toast is a user-facing notification.
type Toast struct {
	Vehicle string
	Level   slog.Level
	Text    string
}

// ConfigUpdated is sent after a new configuration has been applied.
type ConfigUpdated struct {
	Vehicles []string
}

// FirmwareProgress reports upload progress in whole percent steps.
type FirmwareProgress struct {
	Vehicle string
	Sent    int64
	Total   int64
}

// FirmwareFinished ends an upload. Err is nil on success.
type FirmwareFinished struct {
	Vehicle string
	Err     error
}

func (m PollingChanged) VehicleName() string   { return m.Vehicle }
func (m Toast) VehicleName() string            { return m.Vehicle }
func (m ConfigUpdated) VehicleName() string    { return "" }
func (m FirmwareProgress) VehicleName() string { return m.Vehicle }
func (m FirmwareFinished) VehicleName() string { return m.Vehicle }

// Publisher forwards console messages off-host. The MQTT bridge implements
// it.
type Publisher interface {
	PublishTelemetry(vehicle string, info []session.KV, at time.Time) error
	PublishEvent(vehicle, typ string, data any) error
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// eventPayload names a message and flattens it for serialization. ok is
// false for messages that are not published.
func eventPayload(m Message) (typ string, data map[string]any, ok bool) {
	switch m := m.(type) {
	case session.ConnectionChanged:
		return "connection_changed", map[string]any{"connected": m.Connected}, true
	case session.ConnectionLost:
		return "connection_lost", map[string]any{"error": errString(m.Err)}, true
	case video.StateChanged:
		return "video_state", map[string]any{"state": m.State.String()}, true
	case video.PipelineError:
		return "video_error", map[string]any{"category": m.Category, "error": errString(m.Err)}, true
	case video.RecordingChanged:
		return "recording_changed", map[string]any{
			"recording": m.Recording,
			"path":      m.Path,
			"forced":    m.Forced,
			"error":     errString(m.Err),
		}, true
	case PollingChanged:
		return "polling_changed", map[string]any{"polling": m.Polling}, true
	case Toast:
		return "toast", map[string]any{"level": m.Level.String(), "text": m.Text}, true
	case ConfigUpdated:
		return "config_updated", map[string]any{"vehicles": m.Vehicles}, true
	case FirmwareProgress:
		return "firmware_progress", map[string]any{"sent": m.Sent, "total": m.Total}, true
	case FirmwareFinished:
		return "firmware_finished", map[string]any{"error": errString(m.Err)}, true
	case tuner.ParametersLoaded:
		return "tuner_parameters", map[string]any{"parameters": m.Parameters}, true
	case tuner.ParametersSaved:
		return "tuner_saved", nil, true
	case tuner.FeedbackReceived:
		return "tuner_feedback", map[string]any{"control_loops": m.Feedback.ControlLoops}, true
	case tuner.Stopped:
		return "tuner_stopped", map[string]any{"error": errString(m.Err)}, true
	}
	return "", nil, false
}

// Console errors.
var (
	ErrUnknownVehicle   = errors.New("console: unknown vehicle")
	ErrNotConnected     = errors.New("console: vehicle not connected")
	ErrAlreadyConnected = errors.New("console: vehicle already connected")
	ErrVideoRunning     = errors.New("console: video already running")
	ErrVideoStopped     = errors.New("console: video not running")
	ErrTunerRunning     = errors.New("console: tuner already running")
	ErrTunerStopped     = errors.New("console: tuner not running")
	ErrFirmwareRunning  = errors.New("console: firmware upload in progress")
	ErrRunning          = errors.New("console: already running")
)
