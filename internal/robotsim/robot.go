// Package robotsim is a stand-in for the robot's WebSocket endpoint so the
// teleop client can be exercised end-to-end without hardware. It gates
// clients on a shared key, acknowledges drive commands with a calibrated
// speed, stops the motors when commands dry up, and streams battery and
// camera telemetry.
package robotsim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/large-farva/robotpi-teleop/internal/config"
	"github.com/large-farva/robotpi-teleop/internal/joystick"
	"github.com/large-farva/robotpi-teleop/internal/logging"
	"github.com/large-farva/robotpi-teleop/internal/protocol"
	"github.com/large-farva/robotpi-teleop/internal/ws"
)

// Rejection texts sent back in error messages.
const (
	errKeyRequired = "key required"
	errWrongKey    = "wrong key"
	errAutoActive  = "auto mode active, commands disabled"
	errAutoAgain   = "auto mode already active"
)

// Options configures a Robot.
type Options struct {
	Key             string
	BatteryInterval time.Duration
	BatteryDrain    float64 // percent lost per battery tick
	CameraInterval  time.Duration
	StopAfter       time.Duration // watchdog: halt when no command arrives for this long
	Log             logrus.FieldLogger
}

// OptionsFromConfig maps the [sim] section onto Options.
func OptionsFromConfig(c config.SimConfig) Options {
	return Options{
		Key:             c.Key,
		BatteryInterval: time.Duration(c.BatteryIntervalMS) * time.Millisecond,
		BatteryDrain:    c.BatteryDrain,
		CameraInterval:  time.Duration(c.CameraIntervalMS) * time.Millisecond,
		StopAfter:       time.Duration(c.StopAfterSeconds) * time.Second,
	}
}

// Drive is the last motor order derived from a command.
type Drive struct {
	Speed float64 `json:"speed"`
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
}

// Status is a point-in-time view of the simulated robot.
type Status struct {
	Clients  int     `json:"clients"`
	Battery  float64 `json:"battery"`
	Auto     bool    `json:"auto"`
	Moving   bool    `json:"moving"`
	Drive    Drive   `json:"drive"`
	Commands int64   `json:"commands"`
	Frames   int64   `json:"frames"`
}

// Robot is the simulated robot endpoint.
type Robot struct {
	hub  *ws.Hub
	opts Options
	log  logrus.FieldLogger

	mu       sync.Mutex
	auto     bool
	moving   bool
	drive    Drive
	battery  float64
	watchdog *time.Timer

	commands atomic.Int64
	frames   atomic.Int64

	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a robot with its own hub. Serve Hub().Handler() and call Run.
func New(opts Options) *Robot {
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}
	if opts.StopAfter <= 0 {
		opts.StopAfter = 5 * time.Second
	}
	r := &Robot{
		opts:    opts,
		log:     opts.Log,
		battery: 100,
		stopped: make(chan struct{}),
	}
	r.hub = ws.NewHub(r.HandleMessage, opts.Log.WithField("component", "hub"))
	return r
}

// Hub returns the robot's WebSocket hub.
func (r *Robot) Hub() *ws.Hub { return r.hub }

// Stopped is closed once a client asks the server to stop.
func (r *Robot) Stopped() <-chan struct{} { return r.stopped }

// Status reports the current simulated state.
func (r *Robot) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Clients:  r.hub.Clients(),
		Battery:  r.battery,
		Auto:     r.auto,
		Moving:   r.moving,
		Drive:    r.drive,
		Commands: r.commands.Load(),
		Frames:   r.frames.Load(),
	}
}

// HandleMessage processes one inbound frame from c. Until c presents the
// right key every other request is refused.
func (r *Robot) HandleMessage(c *ws.Client, raw []byte) {
	msg, err := protocol.DecodeRequest(raw)
	if err != nil {
		r.log.WithError(err).WithField("client", c.RemoteAddr()).Warn("bad request")
		c.SendJSON(protocol.NewError(err.Error()))
		return
	}

	if !c.Authenticated() {
		r.authenticate(c, msg)
		return
	}

	switch m := msg.(type) {
	case protocol.Key:
		c.SendJSON(protocol.NewNotice(protocol.TypeConnexion, "already connected"))
	case protocol.Command:
		r.handleCommand(c, m.CommandState)
	case protocol.StartAuto:
		r.handleStartAuto(c, m)
	case protocol.StopServer:
		r.log.WithField("client", c.RemoteAddr()).Warn("stop requested by client")
		c.SendJSON(protocol.NewNotice(protocol.TypeServerStopped, "server stopped"))
		c.Finish()
		r.halt("server stopped")
		r.stopOnce.Do(func() { close(r.stopped) })
	default:
		c.SendJSON(protocol.NewError("unknown message type: " + string(msg.MessageType())))
	}
}

func (r *Robot) authenticate(c *ws.Client, msg protocol.Message) {
	k, ok := msg.(protocol.Key)
	switch {
	case !ok:
		r.log.WithField("client", c.RemoteAddr()).Warn("request before key")
		c.SendJSON(protocol.NewError(errKeyRequired))
	case k.Value != r.opts.Key:
		r.log.WithField("client", c.RemoteAddr()).Warn("authentication failed")
		c.SendJSON(protocol.NewError(errWrongKey))
	default:
		c.SetAuthenticated(true)
		r.log.WithField("client", c.RemoteAddr()).Info("authenticated")
		c.SendJSON(protocol.NewNotice(protocol.TypeConnexion, "key accepted, connected"))

		r.mu.Lock()
		level := r.battery
		r.mu.Unlock()
		c.SendJSON(protocol.NewBattery(level))
	}
}

func (r *Robot) handleCommand(c *ws.Client, s joystick.CommandState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.auto {
		c.SendJSON(protocol.NewError(errAutoActive))
		return
	}
	r.commands.Add(1)

	d := differential(s)
	r.drive = d
	r.moving = !s.Idle()
	if !r.moving {
		r.log.Debug("neutral command, stopping")
	}

	if r.watchdog != nil {
		r.watchdog.Stop()
	}
	r.watchdog = time.AfterFunc(r.opts.StopAfter, func() { r.halt("no command received") })

	c.SendJSON(protocol.NewCommandAck(d.Speed))
}

func (r *Robot) handleStartAuto(c *ws.Client, m protocol.StartAuto) {
	r.mu.Lock()
	if r.auto {
		r.mu.Unlock()
		c.SendJSON(protocol.NewError(errAutoAgain))
		return
	}
	r.auto = true
	r.mu.Unlock()

	entry := r.log.WithField("client", c.RemoteAddr())
	if m.InitPos != nil {
		entry = entry.WithFields(logrus.Fields{"x": m.InitPos.X, "y": m.InitPos.Y, "theta": m.InitPos.Heading()})
	}
	entry.Info("auto mode started")
	r.hub.BroadcastJSON(protocol.NewNotice(protocol.TypeAutoStarted, "auto mode started"))
}

// halt stops the motors.
func (r *Robot) halt(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.moving {
		r.log.WithField("reason", reason).Info("robot stopped")
	}
	r.moving = false
	r.drive = Drive{}
}

// Run drives the battery and camera loops until ctx is cancelled or a
// client stops the server. The hub's own loop runs alongside.
func (r *Robot) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stopped:
			cancel()
		case <-ctx.Done():
		}
	}()

	go r.hub.Run(ctx)
	go r.batteryLoop(ctx)
	r.cameraLoop(ctx)

	r.mu.Lock()
	if r.watchdog != nil {
		r.watchdog.Stop()
	}
	r.mu.Unlock()
}
