package control

import "math"

// Motion is the normalized motion vector sent with the "move" call.
type Motion struct {
	X   float32 `json:"x" msgpack:"x"`
	Y   float32 `json:"y" msgpack:"y"`
	Z   float32 `json:"z" msgpack:"z"`
	Rot float32 `json:"rot" msgpack:"rot"`
}

// ControlPacket is one outgoing command built from a StatusMap snapshot.
// Values are created fresh per command and never mutated afterwards.
type ControlPacket struct {
	Motion          Motion  `json:"motion" msgpack:"motion"`
	Catch           float32 `json:"catch" msgpack:"catch"`
	DepthLocked     bool    `json:"depth_locked" msgpack:"depth_locked"`
	DirectionLocked bool    `json:"direction_locked" msgpack:"direction_locked"`
}

// Encode converts a snapshot into a ControlPacket.
//
// Motion channels map the int16 range onto [-1, 1] with 0 mapping to 0
// exactly. The arm channels combine additively into catch = open - close.
func Encode(s Snapshot) ControlPacket {
	return ControlPacket{
		Motion: Motion{
			X:   Normalize(s.Get(MotionX)),
			Y:   Normalize(s.Get(MotionY)),
			Z:   Normalize(s.Get(MotionZ)),
			Rot: Normalize(s.Get(MotionRotate)),
		},
		Catch:           float32(int32(s.Get(RoboticArmOpen)) - int32(s.Get(RoboticArmClose))),
		DepthLocked:     s.Get(DepthLocked) != 0,
		DirectionLocked: s.Get(DirectionLocked) != 0,
	}
}

// Normalize maps v onto [-1, 1]. Positive values divide by MaxInt16 and
// negative values by -MinInt16, so MinInt16 maps to -1.
func Normalize(v int16) float32 {
	switch {
	case v > 0:
		return float32(v) / math.MaxInt16
	case v < 0:
		return -float32(v) / math.MinInt16
	default:
		return 0
	}
}
