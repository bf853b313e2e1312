package bridge

import (
	"fmt"
	"time"

	"github.com/e7canasta/rov-host/control"
	"github.com/e7canasta/rov-host/session"
	"github.com/e7canasta/rov-host/tuner"
)

// Command names accepted on the commands topic.
const (
	CmdStatus      = "status"
	CmdConnect     = "connect"
	CmdDisconnect  = "disconnect"
	CmdStartVideo  = "start_video"
	CmdStopVideo   = "stop_video"
	CmdStartRecord = "start_record"
	CmdStopRecord  = "stop_record"
	CmdScreenshot  = "screenshot"
	CmdInput       = "input"
	CmdSetStatus   = "set_status"
	CmdFirmware    = "firmware"
	CmdTuner       = "tuner"
)

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Command is one control-plane request. Vehicle may be omitted when the
// topic names it.
type Command struct {
	ID      string `json:"id,omitempty" msgpack:"id,omitempty"`
	Command string `json:"command" msgpack:"command"`
	Vehicle string `json:"vehicle,omitempty" msgpack:"vehicle,omitempty"`
	Params  Params `json:"params,omitempty" msgpack:"params,omitempty"`
}

// Params carries the arguments of every command; each command reads the
// fields it needs.
type Params struct {
	Path        string `json:"path,omitempty" msgpack:"path,omitempty"`
	Compression string `json:"compression,omitempty" msgpack:"compression,omitempty"`

	// input
	Kind  string `json:"kind,omitempty" msgpack:"kind,omitempty"` // axis, button_down, button_up
	Index int    `json:"index,omitempty" msgpack:"index,omitempty"`

	// set_status and input
	Class string `json:"class,omitempty" msgpack:"class,omitempty"`
	Value *int   `json:"value,omitempty" msgpack:"value,omitempty"`

	// tuner
	Action     string             `json:"action,omitempty" msgpack:"action,omitempty"`
	Propeller  string             `json:"propeller,omitempty" msgpack:"propeller,omitempty"`
	Loop       string             `json:"loop,omitempty" msgpack:"loop,omitempty"`
	Gains      *tuner.ControlLoop `json:"gains,omitempty" msgpack:"gains,omitempty"`
	Enabled    *bool              `json:"enabled,omitempty" msgpack:"enabled,omitempty"`
	Parameters *tuner.Parameters  `json:"parameters,omitempty" msgpack:"parameters,omitempty"`
}

// Response acknowledges a Command on the vehicle's events topic.
type Response struct {
	CommandAck string `json:"command_ack" msgpack:"command_ack"`
	ID         string `json:"id" msgpack:"id"`
	Vehicle    string `json:"vehicle,omitempty" msgpack:"vehicle,omitempty"`
	Status     string `json:"status" msgpack:"status"`
	Data       any    `json:"data,omitempty" msgpack:"data,omitempty"`
	Error      string `json:"error,omitempty" msgpack:"error,omitempty"`
	Timestamp  string `json:"timestamp" msgpack:"timestamp"`
}

// Telemetry is published on the vehicle's telemetry topic for every poll.
type Telemetry struct {
	Vehicle   string       `json:"vehicle" msgpack:"vehicle"`
	Timestamp string       `json:"timestamp" msgpack:"timestamp"`
	Info      []session.KV `json:"info" msgpack:"info"`
}

// Event is a state change published on the vehicle's events topic.
type Event struct {
	Type      string `json:"type" msgpack:"type"`
	Vehicle   string `json:"vehicle" msgpack:"vehicle"`
	Timestamp string `json:"timestamp" msgpack:"timestamp"`
	Data      any    `json:"data,omitempty" msgpack:"data,omitempty"`
}

// Tuner actions.
const (
	TunerStart              = "start"
	TunerStop               = "stop"
	TunerPreviewPropeller   = "preview_propeller"
	TunerPreviewControlLoop = "preview_control_loop"
	TunerUpload             = "upload"
	TunerReload             = "reload"
	TunerDebug              = "debug"
)

// TunerRequest is the decoded form of a tuner command.
type TunerRequest struct {
	Action     string
	Propeller  string
	Value      int8
	Loop       string
	Gains      tuner.ControlLoop
	Enabled    bool
	Parameters tuner.Parameters
}

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func (p Params) value() (int, error) {
	if p.Value == nil {
		return 0, fmt.Errorf("missing 'value' parameter")
	}
	return *p.Value, nil
}

func (p Params) int16Value() (int16, error) {
	v, err := p.value()
	if err != nil {
		return 0, err
	}
	if v < -32768 || v > 32767 {
		return 0, fmt.Errorf("'value' %d out of int16 range", v)
	}
	return int16(v), nil
}

func (p Params) inputEvent() (control.InputEvent, error) {
	ev := control.InputEvent{Index: p.Index}
	switch p.Kind {
	case "axis":
		ev.Kind = control.InputAxis
		v, err := p.int16Value()
		if err != nil {
			return ev, err
		}
		ev.Value = v
	case "button_down":
		ev.Kind = control.InputButtonDown
	case "button_up":
		ev.Kind = control.InputButtonUp
	default:
		return ev, fmt.Errorf("unknown input kind %q (expected axis, button_down or button_up)", p.Kind)
	}
	return ev, nil
}

func (p Params) tunerRequest() (TunerRequest, error) {
	req := TunerRequest{Action: p.Action}
	switch p.Action {
	case TunerStart, TunerStop, TunerReload:
	case TunerPreviewPropeller:
		if p.Propeller == "" {
			return req, fmt.Errorf("missing 'propeller' parameter")
		}
		v, err := p.value()
		if err != nil {
			return req, err
		}
		if v < -128 || v > 127 {
			return req, fmt.Errorf("'value' %d out of int8 range", v)
		}
		req.Propeller, req.Value = p.Propeller, int8(v)
	case TunerPreviewControlLoop:
		if p.Loop == "" || p.Gains == nil {
			return req, fmt.Errorf("'loop' and 'gains' parameters are required")
		}
		req.Loop, req.Gains = p.Loop, *p.Gains
	case TunerUpload:
		if p.Parameters == nil {
			return req, fmt.Errorf("missing 'parameters' parameter")
		}
		req.Parameters = *p.Parameters
	case TunerDebug:
		if p.Enabled == nil {
			return req, fmt.Errorf("missing 'enabled' parameter")
		}
		req.Enabled = *p.Enabled
	default:
		return req, fmt.Errorf("unknown tuner action %q", p.Action)
	}
	return req, nil
}
