// Package ui is the operator's terminal dashboard. Dragging with the mouse
// inside the terminal drives the joystick; the screen shows link status,
// battery history, camera feed status, and a console of robot messages.
package ui

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/large-farva/robotpi-teleop/internal/joystick"
	"github.com/large-farva/robotpi-teleop/internal/protocol"
	"github.com/large-farva/robotpi-teleop/internal/scheduler"
)

const (
	consoleLines   = 8
	batteryHistory = 60
	statsRefresh   = 250 * time.Millisecond
)

// Controller is what the dashboard drives; session.Session satisfies it.
type Controller interface {
	Move(dx, dy float64)
	Release()
	CycleMode()
	Send(protocol.Message) error
	Stats() scheduler.Stats
}

// Options configures the dashboard.
type Options struct {
	URL            string
	Key            string
	InitPos        string // raw operator text for start_auto
	MaxRadius      int
	CellWidth      int
	CellHeight     int
	FallbackImages []string
}

// Messages posted into the program from outside the event loop.
type (
	// InboundMsg carries a decoded robot message.
	InboundMsg struct{ Message protocol.Message }
	// KnobMsg moves the drawn knob.
	KnobMsg joystick.Knob
	// StateMsg reports the latest command record.
	StateMsg joystick.CommandState
	// LinkMsg reports a connection change. A nil Err with Up false means a
	// clean close.
	LinkMsg struct {
		Up  bool
		Err error
	}
)

type statsTickMsg time.Time

// Model is the bubbletea model for the dashboard.
type Model struct {
	ctrl Controller
	opts Options

	status  string
	linkErr error

	dragging       bool
	originX        int
	originY        int
	kbdX, kbdY     int
	knobPos        joystick.Knob
	state          joystick.CommandState
	stats          scheduler.Stats
	battery        float64
	hasBattery     bool
	batteryHistory []float64

	frames       int
	frameBytes   int
	fallback     string
	autoActive   bool
	fullscreen   bool
	console      []string
	width        int
	height       int
	now          func() time.Time
	pickFallback func([]string) string
}

// New returns a dashboard bound to ctrl.
func New(ctrl Controller, opts Options) Model {
	if opts.MaxRadius <= 0 {
		opts.MaxRadius = 100
	}
	if opts.CellWidth <= 0 {
		opts.CellWidth = 10
	}
	if opts.CellHeight <= 0 {
		opts.CellHeight = 20
	}
	return Model{
		ctrl:         ctrl,
		opts:         opts,
		status:       "connecting",
		state:        joystick.CommandState{Type: joystick.CommandType, Mode: joystick.MinMode},
		now:          time.Now,
		pickFallback: randomFallback,
	}
}

func randomFallback(images []string) string {
	if len(images) == 0 {
		return ""
	}
	return images[rand.Intn(len(images))]
}

func statsTick() tea.Cmd {
	return tea.Tick(statsRefresh, func(t time.Time) tea.Msg { return statsTickMsg(t) })
}

func (m Model) Init() tea.Cmd { return statsTick() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.MouseMsg:
		return m.handleMouse(msg), nil
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case InboundMsg:
		m = m.handleInbound(msg.Message)
	case KnobMsg:
		m.knobPos = joystick.Knob(msg)
	case StateMsg:
		m.state = joystick.CommandState(msg)
	case LinkMsg:
		switch {
		case msg.Up:
			m.status, m.linkErr = "connected", nil
			m = m.logf("connection established")
		case msg.Err != nil:
			m.status, m.linkErr = "error", msg.Err
			m = m.logf("websocket error: %v", msg.Err)
		default:
			m.status = "disconnected"
			m = m.logf("connection closed")
		}
	case statsTickMsg:
		m.stats = m.ctrl.Stats()
		return m, statsTick()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.ctrl.Release()
		return m, tea.Quit
	case "g":
		m.ctrl.CycleMode()
	case "s":
		m = m.send(protocol.NewStopServer())
	case "a":
		var pos *protocol.InitPos
		if p, ok := protocol.ParseInitPos(m.opts.InitPos); ok {
			pos = &p
		} else if strings.TrimSpace(m.opts.InitPos) != "" {
			m = m.logf("invalid init position %q, sending without it", m.opts.InitPos)
		}
		m = m.send(protocol.NewStartAuto(pos))
	case "k":
		m = m.send(protocol.NewKey(m.opts.Key))
	case "f":
		m.fullscreen = !m.fullscreen
	case "up", "down", "left", "right":
		m = m.nudge(msg.String())
	case " ":
		m.kbdX, m.kbdY = 0, 0
		m.ctrl.Release()
	}
	return m, nil
}

// nudge drives the joystick from the keyboard one cell at a time, for
// terminals without mouse reporting.
func (m Model) nudge(key string) Model {
	switch key {
	case "up":
		m.kbdY--
	case "down":
		m.kbdY++
	case "left":
		m.kbdX--
	case "right":
		m.kbdX++
	}
	if m.kbdX == 0 && m.kbdY == 0 {
		m.ctrl.Release()
		return m
	}
	m.ctrl.Move(float64(m.kbdX*m.opts.CellWidth), float64(m.kbdY*m.opts.CellHeight))
	return m
}

func (m Model) handleMouse(msg tea.MouseMsg) Model {
	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button != tea.MouseButtonLeft {
			return m
		}
		m.dragging = true
		m.originX, m.originY = msg.X, msg.Y
	case tea.MouseActionMotion:
		if !m.dragging {
			return m
		}
		dx := float64((msg.X - m.originX) * m.opts.CellWidth)
		dy := float64((msg.Y - m.originY) * m.opts.CellHeight)
		m.ctrl.Move(dx, dy)
	case tea.MouseActionRelease:
		if !m.dragging {
			return m
		}
		m.dragging = false
		m.ctrl.Release()
	}
	return m
}

func (m Model) handleInbound(msg protocol.Message) Model {
	switch v := msg.(type) {
	case protocol.CameraFrame:
		m.frames++
		if v.HasFrame() {
			if b, err := v.JPEG(); err == nil {
				m.frameBytes, m.fallback = len(b), ""
				return m
			}
		}
		m.frameBytes = 0
		m.fallback = m.pickFallback(m.opts.FallbackImages)
		return m
	case protocol.Battery:
		if pct, ok := v.Percent(); ok {
			m.battery, m.hasBattery = pct, true
			m.batteryHistory = append(m.batteryHistory, pct)
			if len(m.batteryHistory) > batteryHistory {
				m.batteryHistory = m.batteryHistory[len(m.batteryHistory)-batteryHistory:]
			}
		}
	case protocol.Notice:
		if v.Type == protocol.TypeAutoStarted {
			m.autoActive, m.fullscreen = true, true
		}
		m = m.logf("recv %s: %s", v.Type, v.Text())
		return m
	case protocol.Error:
		m = m.logf("recv error: %s", v.Text())
		return m
	case protocol.CommandAck:
		// Acks arrive for every command; keep them off the console.
		return m
	}
	return m.logf("recv %s", msg.MessageType())
}

func (m Model) send(msg protocol.Message) Model {
	if err := m.ctrl.Send(msg); err != nil {
		return m.logf("send %s failed: %v", msg.MessageType(), err)
	}
	return m.logf("sent %s", msg.MessageType())
}

func (m Model) logf(format string, args ...any) Model {
	line := fmt.Sprintf("[%s] %s", m.now().Format("15:04:05"), fmt.Sprintf(format, args...))
	console := append(append([]string(nil), m.console...), line)
	if len(console) > consoleLines {
		console = console[len(console)-consoleLines:]
	}
	m.console = console
	return m
}
