package joystick

import (
	"math"
	"testing"
)

func TestMoveRight(t *testing.T) {
	m := New(100)
	m.Move(100, 0)

	s := m.State()
	if s.Angle != 90 {
		t.Errorf("expected angle 90, got %d", s.Angle)
	}
	if s.Distance != 100 {
		t.Errorf("expected distance 100, got %d", s.Distance)
	}
	if s.X != 1.0 || s.Y != 0 {
		t.Errorf("expected x=1 y=0, got x=%v y=%v", s.X, s.Y)
	}
}

func TestMoveForward(t *testing.T) {
	m := New(100)
	m.Move(0, -50)

	s := m.State()
	if s.Angle != 0 {
		t.Errorf("expected angle 0, got %d", s.Angle)
	}
	if s.Distance != 50 {
		t.Errorf("expected distance 50, got %d", s.Distance)
	}
	if s.X != 0 || s.Y != -0.5 {
		t.Errorf("expected x=0 y=-0.5, got x=%v y=%v", s.X, s.Y)
	}
}

func TestReleaseKeepsMode(t *testing.T) {
	m := New(100)
	m.CycleMode()
	m.Move(100, 0)
	m.Release()

	s := m.State()
	if s.Angle != 0 || s.Distance != 0 || s.X != 0 || s.Y != 0 {
		t.Errorf("expected rest state, got %+v", s)
	}
	if s.Mode != 2 {
		t.Errorf("expected mode 2 to survive release, got %d", s.Mode)
	}
	if !s.Idle() {
		t.Error("expected idle after release")
	}
}

func TestReleaseAfterAnyMoves(t *testing.T) {
	moves := [][2]float64{{3, 4}, {-250, 17}, {0.2, -0.9}, {-60, -60}, {1e6, -1e6}}
	m := New(100)
	for _, mv := range moves {
		m.Move(mv[0], mv[1])
	}
	m.Release()

	s := m.State()
	if s.Angle != 0 || s.Distance != 0 || s.X != 0 || s.Y != 0 {
		t.Errorf("expected rest state, got %+v", s)
	}
}

func TestDistanceClampsAtRadius(t *testing.T) {
	tests := []struct {
		dx, dy float64
	}{
		{101, 0},
		{0, -300},
		{80, 80},
		{-1e4, 1e4},
		{70.8, 70.8},
	}

	for _, tt := range tests {
		m := New(100)
		m.Move(tt.dx, tt.dy)
		if d := m.State().Distance; d != 100 {
			t.Errorf("move(%v,%v): expected distance 100, got %d", tt.dx, tt.dy, d)
		}
	}
}

func TestCartesianUnclampedByDefault(t *testing.T) {
	m := New(100)
	m.Move(250, -40)

	s := m.State()
	if s.X != 2.5 {
		t.Errorf("expected raw x 2.5, got %v", s.X)
	}
	if s.Y != -0.4 {
		t.Errorf("expected y -0.4, got %v", s.Y)
	}
	if s.Distance != 100 {
		t.Errorf("expected clamped distance, got %d", s.Distance)
	}
}

func TestCartesianClampOption(t *testing.T) {
	m := New(100, WithCartesianClamp(true))
	m.Move(250, -400)

	s := m.State()
	if s.X != 1 || s.Y != -1 {
		t.Errorf("expected x=1 y=-1, got x=%v y=%v", s.X, s.Y)
	}
}

func TestAngleAlwaysInRange(t *testing.T) {
	for dx := -120.0; dx <= 120; dx += 7.5 {
		for dy := -120.0; dy <= 120; dy += 7.5 {
			m := New(100)
			m.Move(dx, dy)
			a := m.State().Angle
			if a < 0 || a >= 360 {
				t.Fatalf("move(%v,%v): angle %d out of range", dx, dy, a)
			}
		}
	}
}

func TestAngleOrigin(t *testing.T) {
	m := New(100)
	m.Move(0, 0)

	s := m.State()
	if s.Angle != 0 || s.Distance != 0 {
		t.Errorf("expected zero heading at origin, got %+v", s)
	}
}

func TestAngleNearNorthFoldsToZero(t *testing.T) {
	// Heading just west of north rounds up to 360, which must read as 0.
	m := New(100)
	m.Move(-0.3, -50)

	if a := m.State().Angle; a != 0 {
		t.Errorf("expected angle 0, got %d", a)
	}
}

func TestCompassDirections(t *testing.T) {
	tests := []struct {
		name   string
		dx, dy float64
		angle  int
	}{
		{"up", 0, -10, 0},
		{"right", 10, 0, 90},
		{"down", 0, 10, 180},
		{"left", -10, 0, 270},
		{"up-right", 10, -10, 45},
		{"down-left", -10, 10, 225},
	}

	for _, tt := range tests {
		m := New(100)
		m.Move(tt.dx, tt.dy)
		if a := m.State().Angle; a != tt.angle {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.angle, a)
		}
	}
}

func TestCartesianRounding(t *testing.T) {
	m := New(100)
	m.Move(12.3456, -0.00004)

	s := m.State()
	if s.X != 0.123 {
		t.Errorf("expected x 0.123, got %v", s.X)
	}
	if s.Y != 0 || math.Signbit(s.Y) {
		t.Errorf("expected positive zero y, got %v", s.Y)
	}
}

func TestCycleMode(t *testing.T) {
	m := New(100)
	want := []int{2, 3, 1, 2}
	for i, w := range want {
		if got := m.CycleMode(); got != w {
			t.Errorf("cycle %d: expected %d, got %d", i, w, got)
		}
	}
}

func TestSetMode(t *testing.T) {
	m := New(100)
	if !m.SetMode(3) {
		t.Fatal("expected mode 3 to be accepted")
	}
	if m.SetMode(4) || m.SetMode(0) {
		t.Error("expected out-of-range modes to be rejected")
	}
	if m.State().Mode != 3 {
		t.Errorf("expected mode 3, got %d", m.State().Mode)
	}
}

func TestRedrawHook(t *testing.T) {
	var knobs []Knob
	m := New(100, WithRedraw(func(k Knob) { knobs = append(knobs, k) }))

	m.Move(300, 0)
	m.Release()

	if len(knobs) != 2 {
		t.Fatalf("expected 2 redraws, got %d", len(knobs))
	}
	if math.Abs(knobs[0].X-100) > 1e-9 || math.Abs(knobs[0].Y) > 1e-9 {
		t.Errorf("expected knob clamped at (100,0), got %+v", knobs[0])
	}
	if knobs[1] != (Knob{}) {
		t.Errorf("expected knob centered after release, got %+v", knobs[1])
	}
}

func TestNonFiniteMoveIgnored(t *testing.T) {
	redraws := 0
	m := New(100, WithRedraw(func(Knob) { redraws++ }))
	m.Move(30, -40)
	want := m.State()

	inputs := [][2]float64{
		{math.NaN(), 0},
		{0, math.NaN()},
		{math.Inf(1), 0},
		{0, math.Inf(-1)},
		{math.Inf(1), math.Inf(1)},
	}
	for _, in := range inputs {
		m.Move(in[0], in[1])
		if got := m.State(); got != want {
			t.Errorf("Move(%v, %v) changed state to %+v", in[0], in[1], got)
		}
	}
	if redraws != 1 {
		t.Errorf("expected 1 redraw, got %d", redraws)
	}
}
