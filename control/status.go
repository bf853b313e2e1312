package control

import (
	"fmt"
	"math"
	"sync"
)

// StatusClass identifies one discrete control channel of the vehicle.
type StatusClass int

const (
	MotionX StatusClass = iota
	MotionY
	MotionZ
	MotionRotate
	RoboticArmOpen
	RoboticArmClose
	DepthLocked
	DirectionLocked
)

// AllClasses lists every StatusClass in declaration order.
var AllClasses = []StatusClass{
	MotionX, MotionY, MotionZ, MotionRotate,
	RoboticArmOpen, RoboticArmClose,
	DepthLocked, DirectionLocked,
}

var classNames = map[StatusClass]string{
	MotionX:         "motion_x",
	MotionY:         "motion_y",
	MotionZ:         "motion_z",
	MotionRotate:    "motion_rotate",
	RoboticArmOpen:  "robotic_arm_open",
	RoboticArmClose: "robotic_arm_close",
	DepthLocked:     "depth_locked",
	DirectionLocked: "direction_locked",
}

func (c StatusClass) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("status_class(%d)", int(c))
}

// ParseStatusClass maps a wire name (as produced by String) back to a class.
func ParseStatusClass(name string) (StatusClass, error) {
	for class, n := range classNames {
		if n == name {
			return class, nil
		}
	}
	return 0, fmt.Errorf("control: unknown status class %q", name)
}

// IsLock reports whether the class is a boolean-coded lock flag.
func (c StatusClass) IsLock() bool {
	return c == DepthLocked || c == DirectionLocked
}

// Snapshot is an immutable copy of a StatusMap taken at one instant.
type Snapshot map[StatusClass]int16

// Get returns the value for class, 0 if absent.
func (s Snapshot) Get(class StatusClass) int16 {
	return s[class]
}

// StatusMap holds one signed intensity per StatusClass.
//
// It is written by the input path and UI toggles and read when encoding a
// ControlPacket. Lock scope is limited to a single read or write.
type StatusMap struct {
	mu     sync.Mutex
	values map[StatusClass]int16
}

// NewStatusMap returns an empty map where every class reads as 0.
func NewStatusMap() *StatusMap {
	return &StatusMap{values: make(map[StatusClass]int16, len(AllClasses))}
}

// Set overwrites the value of class.
func (m *StatusMap) Set(class StatusClass, value int16) {
	m.mu.Lock()
	m.values[class] = value
	m.mu.Unlock()
}

// Get returns the value of class, 0 if it was never set.
func (m *StatusMap) Get(class StatusClass) int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[class]
}

// Toggle flips a lock flag between 0 and 1 and returns the new value.
func (m *StatusMap) Toggle(class StatusClass) int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := int16(1)
	if m.values[class] != 0 {
		next = 0
	}
	m.values[class] = next
	return next
}

// Snapshot copies the current values.
func (m *StatusMap) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(Snapshot, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// Reset zeroes every channel.
func (m *StatusMap) Reset() {
	m.mu.Lock()
	clear(m.values)
	m.mu.Unlock()
}

// negateSaturating flips the sign of v; math.MinInt16 saturates to MaxInt16.
func negateSaturating(v int16) int16 {
	if v == math.MinInt16 {
		return math.MaxInt16
	}
	return -v
}
