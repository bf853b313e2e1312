package control

import (
	"math"
	"testing"
)

func newTestMapper(t *testing.T) (*Mapper, *StatusMap) {
	t.Helper()
	status := NewStatusMap()
	m, err := NewMapper(DefaultMapping(), status)
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}
	return m, status
}

func TestMapper_AxisInversion(t *testing.T) {
	m, status := newTestMapper(t)

	tests := []struct {
		index int
		in    int16
		class StatusClass
		want  int16
	}{
		{0, 1000, MotionX, 1000},
		{1, 1000, MotionY, -1000},
		{1, math.MinInt16, MotionY, math.MaxInt16},
		{2, -200, MotionRotate, -200},
		{3, math.MaxInt16, MotionZ, -math.MaxInt16},
	}

	for _, tt := range tests {
		class, v, ok := m.Apply(InputEvent{Kind: InputAxis, Index: tt.index, Value: tt.in})
		if !ok {
			t.Fatalf("axis %d not bound", tt.index)
		}
		if class != tt.class || v != tt.want {
			t.Errorf("axis %d: got (%v, %d), want (%v, %d)", tt.index, class, v, tt.class, tt.want)
		}
		if status.Get(tt.class) != tt.want {
			t.Errorf("status %v = %d, want %d", tt.class, status.Get(tt.class), tt.want)
		}
	}
}

func TestMapper_LockToggle(t *testing.T) {
	m, status := newTestMapper(t)

	m.Apply(InputEvent{Kind: InputButtonDown, Index: 7})
	m.Apply(InputEvent{Kind: InputButtonUp, Index: 7})
	if status.Get(DepthLocked) != 1 {
		t.Fatalf("depth lock should be on after first press")
	}

	m.Apply(InputEvent{Kind: InputButtonDown, Index: 7})
	if status.Get(DepthLocked) != 0 {
		t.Fatalf("depth lock should be off after second press")
	}
}

func TestMapper_ArmHold(t *testing.T) {
	m, status := newTestMapper(t)

	m.Apply(InputEvent{Kind: InputButtonDown, Index: 4})
	if got := Encode(status.Snapshot()).Catch; got != 1 {
		t.Errorf("catch while open held = %v, want 1", got)
	}
	m.Apply(InputEvent{Kind: InputButtonUp, Index: 4})
	m.Apply(InputEvent{Kind: InputButtonDown, Index: 5})
	if got := Encode(status.Snapshot()).Catch; got != -1 {
		t.Errorf("catch while close held = %v, want -1", got)
	}
}

func TestMapper_UnboundAndDeadzone(t *testing.T) {
	status := NewStatusMap()
	mapping := DefaultMapping()
	mapping.Deadzone = 500
	m, err := NewMapper(mapping, status)
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}

	if _, _, ok := m.Apply(InputEvent{Kind: InputAxis, Index: 9, Value: 10}); ok {
		t.Error("axis 9 should be unbound")
	}
	if _, v, _ := m.Apply(InputEvent{Kind: InputAxis, Index: 0, Value: 499}); v != 0 {
		t.Errorf("value inside deadzone = %d, want 0", v)
	}
	if _, v, _ := m.Apply(InputEvent{Kind: InputAxis, Index: 0, Value: 500}); v != 500 {
		t.Errorf("value at deadzone edge = %d, want 500", v)
	}
}

func TestNewMapper_Validation(t *testing.T) {
	if _, err := NewMapper(DefaultMapping(), nil); err == nil {
		t.Error("expected error for nil status map")
	}
	bad := DefaultMapping()
	bad.Deadzone = -1
	if _, err := NewMapper(bad, NewStatusMap()); err == nil {
		t.Error("expected error for negative deadzone")
	}
}
