package protocol

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ParseInitPos reads a starting pose typed by the operator. Two forms are
// accepted:
//
//   - a JSON object with numeric "x" and "y", forwarded as given (theta is
//     only sent if present);
//   - a comma-separated "x,y[,theta]". Blank fields read as 0 and an
//     unreadable theta becomes 0, so "1," is {x:1, y:0, theta:0}.
//
// Anything else, or a non-finite coordinate, reports false and the caller
// should leave init_pos out of the request.
func ParseInitPos(text string) (InitPos, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return InitPos{}, false
	}

	if strings.HasPrefix(text, "{") {
		var raw struct {
			X     *float64 `json:"x"`
			Y     *float64 `json:"y"`
			Theta *float64 `json:"theta"`
		}
		if err := json.Unmarshal([]byte(text), &raw); err == nil && raw.X != nil && raw.Y != nil {
			return InitPos{X: *raw.X, Y: *raw.Y, Theta: raw.Theta}, true
		}
	}

	parts := strings.Split(text, ",")
	if len(parts) < 2 {
		return InitPos{}, false
	}
	x, okX := field(parts[0])
	y, okY := field(parts[1])
	if !okX || !okY {
		return InitPos{}, false
	}
	var theta float64
	if len(parts) >= 3 {
		if v, ok := field(parts[2]); ok {
			theta = v
		}
	}
	return NewInitPos(x, y, theta), true
}

// field parses one comma-separated number. A blank field is 0.
func field(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
