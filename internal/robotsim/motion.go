package robotsim

import (
	"math"

	"github.com/large-farva/robotpi-teleop/internal/joystick"
)

// Speed ceilings per gear.
var gearSpeed = map[int]float64{1: 100, 2: 300, 3: 400}

// calibrate scales v by the gear's ceiling. Unknown gears drive like the
// fastest one.
func calibrate(v float64, mode int) float64 {
	g, ok := gearSpeed[mode]
	if !ok {
		g = gearSpeed[joystick.MaxMode]
	}
	return g * v
}

// differential turns a command into a speed and an arcade-style wheel split:
// pushing up drives both wheels forward, pushing sideways spins in place.
func differential(s joystick.CommandState) Drive {
	d := Drive{Speed: calibrate(float64(s.Distance), s.Mode)}
	if s.Idle() {
		return d
	}
	fwd, turn := -s.Y, s.X
	d.Left = calibrate(clamp(fwd+turn), s.Mode)
	d.Right = calibrate(clamp(fwd-turn), s.Mode)
	return d
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
