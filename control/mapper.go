package control

import (
	"fmt"
	"log/slog"
)

// InputKind distinguishes gamepad event types.
type InputKind int

const (
	InputAxis InputKind = iota
	InputButtonDown
	InputButtonUp
)

// InputEvent is one event from a gamepad or a remote input publisher.
type InputEvent struct {
	Kind  InputKind `json:"kind" msgpack:"kind"`
	Index int       `json:"index" msgpack:"index"`
	Value int16     `json:"value" msgpack:"value"`
}

// ButtonMode decides how a button writes its class.
type ButtonMode int

const (
	// ButtonToggle flips a lock flag on each press.
	ButtonToggle ButtonMode = iota
	// ButtonHold writes 1 while pressed and 0 when released.
	ButtonHold
)

// AxisBinding routes an axis to a class. Inverted axes are negated with
// saturation so MinInt16 becomes MaxInt16.
type AxisBinding struct {
	Class    StatusClass
	Inverted bool
}

// ButtonBinding routes a button to a class.
type ButtonBinding struct {
	Class StatusClass
	Mode  ButtonMode
}

// Mapping is the device layout used by Mapper.
type Mapping struct {
	Axes     map[int]AxisBinding
	Buttons  map[int]ButtonBinding
	Deadzone int16
}

// DefaultMapping is the layout of a standard dual-stick gamepad: left stick
// drives planar motion, right stick drives rotation and depth. Vertical
// axes report down as positive, hence the inversion.
func DefaultMapping() Mapping {
	return Mapping{
		Axes: map[int]AxisBinding{
			0: {Class: MotionX},
			1: {Class: MotionY, Inverted: true},
			2: {Class: MotionRotate},
			3: {Class: MotionZ, Inverted: true},
		},
		Buttons: map[int]ButtonBinding{
			4: {Class: RoboticArmOpen, Mode: ButtonHold},
			5: {Class: RoboticArmClose, Mode: ButtonHold},
			7: {Class: DepthLocked, Mode: ButtonToggle},
			8: {Class: DirectionLocked, Mode: ButtonToggle},
		},
	}
}

// Mapper applies input events to a StatusMap.
//
// A Mapper is constructed once per input device and handed to whoever
// consumes that device's events.
type Mapper struct {
	mapping Mapping
	status  *StatusMap
	logger  *slog.Logger
}

// NewMapper binds mapping to status.
func NewMapper(mapping Mapping, status *StatusMap) (*Mapper, error) {
	if status == nil {
		return nil, fmt.Errorf("control: status map is required")
	}
	if mapping.Deadzone < 0 {
		return nil, fmt.Errorf("control: deadzone must be >= 0, got %d", mapping.Deadzone)
	}
	return &Mapper{
		mapping: mapping,
		status:  status,
		logger:  slog.Default().With("component", "control.mapper"),
	}, nil
}

// Apply updates the status map from ev. It returns the affected class and
// its new value; ok is false when the event is not bound.
func (m *Mapper) Apply(ev InputEvent) (class StatusClass, value int16, ok bool) {
	switch ev.Kind {
	case InputAxis:
		b, bound := m.mapping.Axes[ev.Index]
		if !bound {
			return 0, 0, false
		}
		v := ev.Value
		if b.Inverted {
			v = negateSaturating(v)
		}
		if m.mapping.Deadzone > 0 && v > -m.mapping.Deadzone && v < m.mapping.Deadzone {
			v = 0
		}
		m.status.Set(b.Class, v)
		return b.Class, v, true

	case InputButtonDown, InputButtonUp:
		b, bound := m.mapping.Buttons[ev.Index]
		if !bound {
			return 0, 0, false
		}
		pressed := ev.Kind == InputButtonDown
		switch b.Mode {
		case ButtonToggle:
			if !pressed {
				return b.Class, m.status.Get(b.Class), true
			}
			v := m.status.Toggle(b.Class)
			m.logger.Debug("control: lock toggled", "class", b.Class, "value", v)
			return b.Class, v, true
		default:
			var v int16
			if pressed {
				v = 1
			}
			m.status.Set(b.Class, v)
			return b.Class, v, true
		}
	}
	return 0, 0, false
}
