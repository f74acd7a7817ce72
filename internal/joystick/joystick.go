// Package joystick turns a continuous pointer drag into the command record
// the robot understands: a polar heading/magnitude pair, a normalized
// Cartesian vector, and the gear selected by the operator.
//
// Angles follow a compass convention. 0 points "up" on screen (negative Y),
// and values grow clockwise, so pushing the knob forward yields heading 0.
package joystick

import "math"

// Mode bounds for the gear selector.
const (
	MinMode = 1
	MaxMode = 3
)

// CommandType is the wire tag carried by every command record.
const CommandType = "command"

// CommandState is the mutable command record shared by the mapper and the
// transmission scheduler. At rest all motion fields are zero.
type CommandState struct {
	Type     string  `json:"type"`
	Angle    int     `json:"angle"`
	Distance int     `json:"distance"`
	Mode     int     `json:"mode"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// Idle reports whether the polar fields are both zero.
func (s CommandState) Idle() bool {
	return s.Angle == 0 && s.Distance == 0
}

// Knob is the clamped on-screen offset of the joystick knob from its center,
// in the same units as the gesture deltas.
type Knob struct {
	X, Y float64
}

// Option customizes a Mapper.
type Option func(*Mapper)

// WithCartesianClamp limits x and y to [-1, 1]. By default they are left
// unclamped so a drag past the rim keeps its raw direction vector.
func WithCartesianClamp(on bool) Option {
	return func(m *Mapper) { m.clampXY = on }
}

// WithRedraw registers a hook invoked after every state mutation with the
// knob position to draw.
func WithRedraw(fn func(Knob)) Option {
	return func(m *Mapper) { m.redraw = fn }
}

// Mapper converts gesture deltas into a CommandState. It is not safe for
// concurrent use; the session serializes all calls.
type Mapper struct {
	maxRadius float64
	clampXY   bool
	redraw    func(Knob)

	state CommandState
}

// New returns a Mapper at rest in mode 1. maxRadius must be positive.
func New(maxRadius int, opts ...Option) *Mapper {
	m := &Mapper{
		maxRadius: float64(maxRadius),
		state: CommandState{
			Type: CommandType,
			Mode: MinMode,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns a copy of the current command record.
func (m *Mapper) State() CommandState {
	return m.state
}

// MaxRadius returns the gesture radius at which distance saturates.
func (m *Mapper) MaxRadius() int {
	return int(m.maxRadius)
}

// Move maps a drag offset from the gesture origin onto the command record.
// Offsets that are NaN or infinite are ignored and leave the record as is.
func (m *Mapper) Move(dx, dy float64) {
	if !finite(dx) || !finite(dy) {
		return
	}
	distance := math.Min(math.Hypot(dx, dy), m.maxRadius)
	angle := Heading(dx, dy)

	m.state.Angle = int(math.Round(angle)) % 360
	m.state.Distance = int(math.Round(distance))

	x, y := dx/m.maxRadius, dy/m.maxRadius
	if m.clampXY {
		x, y = clampUnit(x), clampUnit(y)
	}
	m.state.X = round3(x)
	m.state.Y = round3(y)

	// Knob sits on the heading ray at the clamped distance.
	rad := (angle - 90) * math.Pi / 180
	m.notify(Knob{X: distance * math.Cos(rad), Y: distance * math.Sin(rad)})
}

// Release returns the record to rest. The gear is kept.
func (m *Mapper) Release() {
	m.state.Angle = 0
	m.state.Distance = 0
	m.state.X = 0
	m.state.Y = 0
	m.notify(Knob{})
}

// CycleMode advances the gear 1 -> 2 -> 3 -> 1 and returns the new value.
func (m *Mapper) CycleMode() int {
	if m.state.Mode < MaxMode {
		m.state.Mode++
	} else {
		m.state.Mode = MinMode
	}
	return m.state.Mode
}

// SetMode selects a gear directly. Values outside [MinMode, MaxMode] are
// ignored and reported with false.
func (m *Mapper) SetMode(mode int) bool {
	if mode < MinMode || mode > MaxMode {
		return false
	}
	m.state.Mode = mode
	return true
}

func (m *Mapper) notify(k Knob) {
	if m.redraw != nil {
		m.redraw(k)
	}
}

// Heading returns the compass angle of (dx, dy) in [0, 360). A zero vector
// has heading 0.
func Heading(dx, dy float64) float64 {
	// atan2(±0, -0) is π; pin the origin to 0 instead.
	if dx == 0 && dy == 0 {
		return 0
	}
	deg := math.Atan2(dx, -dy) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// round3 rounds half away from zero to three decimals and folds -0 into 0.
func round3(v float64) float64 {
	r := math.Round(v*1000) / 1000
	if r == 0 {
		return 0
	}
	return r
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
