// Package scheduler decides, once per fixed interval, whether the current
// joystick command should go out on the wire. It sends on change, and after a
// release it sends the rest state exactly once before settling quietly until
// the operator moves again.
package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/large-farva/robotpi-teleop/internal/joystick"
	"github.com/large-farva/robotpi-teleop/internal/logging"
)

// DefaultInterval is the tick period used when Options.Interval is zero.
const DefaultInterval = 50 * time.Millisecond

// settleAfter is the idle streak length at which idle ticks stop being
// considered for transmission.
const settleAfter = 2

// Transport is the send side of the robot link. Send must not block and
// reports failures out of band.
type Transport interface {
	Ready() bool
	Send(msg []byte)
}

// StateSource exposes the command record to compare against.
type StateSource interface {
	State() joystick.CommandState
}

// Outcome describes what a single tick did.
type Outcome int

const (
	NotReady Outcome = iota
	Suppressed
	Unchanged
	Sent
)

func (o Outcome) String() string {
	switch o {
	case NotReady:
		return "not_ready"
	case Suppressed:
		return "suppressed"
	case Unchanged:
		return "unchanged"
	case Sent:
		return "sent"
	default:
		return "unknown"
	}
}

// Snapshot holds the comparable fields of the last transmitted command.
// Mode is not compared.
type Snapshot struct {
	Angle    int
	Distance int
	X        float64
	Y        float64
}

func snapshotOf(s joystick.CommandState) Snapshot {
	return Snapshot{Angle: s.Angle, Distance: s.Distance, X: s.X, Y: s.Y}
}

// Stats counts tick outcomes since the scheduler was created.
type Stats struct {
	Ticks      uint64 `json:"ticks"`
	Sent       uint64 `json:"sent"`
	Suppressed uint64 `json:"suppressed"`
	Unchanged  uint64 `json:"unchanged"`
	NotReady   uint64 `json:"not_ready"`
}

// Options configures a Scheduler.
type Options struct {
	Interval time.Duration

	// IdleIncludesCartesian makes a tick count as idle only when x and y are
	// also zero. Off by default: idleness looks at angle and distance only.
	IdleIncludesCartesian bool

	Log logrus.FieldLogger
}

// Scheduler owns the last-sent snapshot and the idle streak. Tick and Run
// must not be called concurrently; Stop and Stats may be called from any
// goroutine.
type Scheduler struct {
	src      StateSource
	tr       Transport
	interval time.Duration
	idleXY   bool
	log      logrus.FieldLogger

	last       Snapshot
	hasLast    bool
	idleStreak int

	mu    sync.Mutex
	stats Stats

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a scheduler reading from src and sending through tr.
func New(src StateSource, tr Transport, opts Options) *Scheduler {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}
	return &Scheduler{
		src:      src,
		tr:       tr,
		interval: interval,
		idleXY:   opts.IdleIncludesCartesian,
		log:      log,
		stop:     make(chan struct{}),
	}
}

// Interval returns the tick period.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Tick evaluates the current command once and transmits it if warranted.
func (s *Scheduler) Tick() Outcome {
	out := s.tick()
	s.mu.Lock()
	s.stats.Ticks++
	switch out {
	case NotReady:
		s.stats.NotReady++
	case Suppressed:
		s.stats.Suppressed++
	case Unchanged:
		s.stats.Unchanged++
	case Sent:
		s.stats.Sent++
	}
	s.mu.Unlock()
	return out
}

func (s *Scheduler) tick() Outcome {
	if !s.tr.Ready() {
		return NotReady
	}

	cur := s.src.State()
	if s.isIdle(cur) {
		s.idleStreak++
		if s.idleStreak >= settleAfter {
			return Suppressed
		}
	} else {
		s.idleStreak = 0
	}

	snap := snapshotOf(cur)
	if s.hasLast && snap == s.last {
		return Unchanged
	}

	b, err := json.Marshal(cur)
	if err != nil {
		s.log.WithError(err).Error("encode command")
		return Unchanged
	}
	s.tr.Send(b)
	s.last, s.hasLast = snap, true

	s.log.WithFields(logrus.Fields{
		"angle":    cur.Angle,
		"distance": cur.Distance,
		"x":        cur.X,
		"y":        cur.Y,
		"mode":     cur.Mode,
	}).Debug("command sent")
	return Sent
}

func (s *Scheduler) isIdle(c joystick.CommandState) bool {
	if !c.Idle() {
		return false
	}
	if s.idleXY {
		return c.X == 0 && c.Y == 0
	}
	return true
}

// Last returns the last transmitted snapshot and whether one exists.
func (s *Scheduler) Last() (Snapshot, bool) {
	return s.last, s.hasLast
}

// IdleStreak returns the number of consecutive idle ticks seen.
func (s *Scheduler) IdleStreak() int {
	return s.idleStreak
}

// Stats returns a copy of the outcome counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run ticks on the configured interval and executes work items queued on
// work, all on the calling goroutine, so state mutations and ticks never
// overlap. It returns when ctx is cancelled, Stop is called, or work is
// closed.
func (s *Scheduler) Run(ctx context.Context, work <-chan func()) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case fn, ok := <-work:
			if !ok {
				return
			}
			fn()
		case <-t.C:
			s.Tick()
		}
	}
}

// Stop ends Run. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}
