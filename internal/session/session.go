// Package session ties one robot connection to the joystick mapper and the
// transmission scheduler. A Session lives exactly as long as its transport:
// it is created right after the link opens and Run returns when the link
// goes down or the caller cancels.
//
// All command-state mutations and scheduler ticks run on the goroutine that
// calls Run, so CommandState needs no locking.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/large-farva/robotpi-teleop/internal/joystick"
	"github.com/large-farva/robotpi-teleop/internal/logging"
	"github.com/large-farva/robotpi-teleop/internal/protocol"
	"github.com/large-farva/robotpi-teleop/internal/scheduler"
)

// ErrDisconnected is returned by Run when the transport closes underneath
// the session.
var ErrDisconnected = errors.New("robot link closed")

// Transport is the robot link as seen by a session.
type Transport interface {
	scheduler.Transport
	Inbound() <-chan []byte
	Done() <-chan struct{}
}

// Hooks receive session events. Any of them may be nil. OnMessage runs on the
// inbound pump. OnKnob and OnState run on a separate forwarder that only ever
// delivers the newest value, so a slow or blocking hook skips intermediate
// states but never stalls ticks or queued gestures.
type Hooks struct {
	OnMessage func(protocol.Message)
	OnKnob    func(joystick.Knob)
	OnState   func(joystick.CommandState)
}

// Options configures a Session.
type Options struct {
	MaxRadius             int
	ClampCartesian        bool
	Interval              time.Duration
	IdleIncludesCartesian bool
	Log                   logrus.FieldLogger
	Hooks                 Hooks
}

// Session owns the command record for one connection.
type Session struct {
	tr     Transport
	log    logrus.FieldLogger
	hooks  Hooks
	mapper *joystick.Mapper
	sched  *scheduler.Scheduler

	work      chan func()
	closeOnce sync.Once
	closed    chan struct{}

	// Latest values waiting for the forwarder.
	viewMu   sync.Mutex
	knob     joystick.Knob
	newKnob  bool
	state    joystick.CommandState
	newState bool
	notify   chan struct{}
}

// New builds a session over tr. Call Run to start it.
func New(tr Transport, opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}
	if opts.MaxRadius <= 0 {
		opts.MaxRadius = 100
	}

	s := &Session{
		tr:     tr,
		log:    log,
		hooks:  opts.Hooks,
		work:   make(chan func(), 64),
		closed: make(chan struct{}),
		notify: make(chan struct{}, 1),
	}
	s.mapper = joystick.New(opts.MaxRadius,
		joystick.WithCartesianClamp(opts.ClampCartesian),
		joystick.WithRedraw(func(k joystick.Knob) {
			s.viewMu.Lock()
			s.knob, s.newKnob = k, true
			s.viewMu.Unlock()
			s.poke()
		}),
	)
	s.sched = scheduler.New(s.mapper, tr, scheduler.Options{
		Interval:              opts.Interval,
		IdleIncludesCartesian: opts.IdleIncludesCartesian,
		Log:                   log.WithField("component", "scheduler"),
	})
	return s
}

// Run drives the session until ctx is cancelled, Close is called, or the
// transport goes down. Only the last case is reported as an error. On a
// local shutdown the joystick is released and the rest command goes out
// before Run returns.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pump(ctx)
	}()

	fwdDone := make(chan struct{})
	defer close(fwdDone)
	go s.forward(fwdDone)

	go func() {
		select {
		case <-s.tr.Done():
			cancel()
		case <-s.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.publish()
	s.sched.Run(ctx, s.work)
	s.sched.Stop()
	s.Close()
	s.settle()
	wg.Wait()

	select {
	case <-s.tr.Done():
		return ErrDisconnected
	default:
		return nil
	}
}

// settle runs gestures still queued, releases the joystick and gives the
// scheduler one last tick so the robot is left at rest. Nothing is sent if
// the transport is already gone.
func (s *Session) settle() {
	select {
	case <-s.tr.Done():
		return
	default:
	}
	for len(s.work) > 0 {
		(<-s.work)()
	}
	s.mapper.Release()
	s.publish()
	if out := s.sched.Tick(); out == scheduler.Sent {
		s.log.Info("rest command sent on shutdown")
	}
}

// forward delivers the newest knob and state to the hooks until done is
// closed.
func (s *Session) forward(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-s.notify:
		}

		s.viewMu.Lock()
		knob, hasKnob := s.knob, s.newKnob
		state, hasState := s.state, s.newState
		s.newKnob, s.newState = false, false
		s.viewMu.Unlock()

		if hasKnob && s.hooks.OnKnob != nil {
			s.hooks.OnKnob(knob)
		}
		if hasState && s.hooks.OnState != nil {
			s.hooks.OnState(state)
		}
	}
}

func (s *Session) poke() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump decodes inbound frames and hands them to OnMessage. Malformed frames
// are logged and dropped.
func (s *Session) pump(ctx context.Context) {
	in := s.tr.Inbound()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-in:
			if !ok {
				return
			}
			msg, err := protocol.DecodeInbound(raw)
			if err != nil {
				s.log.WithError(err).Warn("discarding inbound frame")
				continue
			}
			if s.hooks.OnMessage != nil {
				s.hooks.OnMessage(msg)
			}
		}
	}
}

// Move applies a gesture offset from its origin.
func (s *Session) Move(dx, dy float64) {
	s.do(func() { s.mapper.Move(dx, dy) })
}

// Release ends the current gesture and returns the command to rest.
func (s *Session) Release() {
	s.do(s.mapper.Release)
}

// CycleMode advances the gear selector.
func (s *Session) CycleMode() {
	s.do(func() {
		mode := s.mapper.CycleMode()
		s.log.WithField("mode", mode).Info("gear changed")
	})
}

// Send encodes m and hands it to the transport right away. Used for the
// operator's one-off requests (stop_server, start_auto, key).
func (s *Session) Send(m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if !s.tr.Ready() {
		s.log.WithField("type", m.MessageType()).Warn("link not ready, request dropped")
		return nil
	}
	s.tr.Send(b)
	s.log.WithField("type", m.MessageType()).Info("request sent")
	return nil
}

// Stats returns the scheduler's tick counters.
func (s *Session) Stats() scheduler.Stats {
	return s.sched.Stats()
}

// Close stops Run. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.sched.Stop()
	})
}

func (s *Session) do(fn func()) {
	select {
	case <-s.closed:
	case s.work <- func() { fn(); s.publish() }:
	}
}

func (s *Session) publish() {
	s.viewMu.Lock()
	s.state, s.newState = s.mapper.State(), true
	s.viewMu.Unlock()
	s.poke()
}
