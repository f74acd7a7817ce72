package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/large-farva/robotpi-teleop/internal/joystick"
	"github.com/large-farva/robotpi-teleop/internal/protocol"
)

type fakeTransport struct {
	mu      sync.Mutex
	ready   bool
	sent    [][]byte
	inbound chan []byte
	done    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		ready:   true,
		inbound: make(chan []byte, 8),
		done:    make(chan struct{}),
	}
}

func (f *fakeTransport) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeTransport) Send(msg []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
}

func (f *fakeTransport) Inbound() <-chan []byte { return f.inbound }
func (f *fakeTransport) Done() <-chan struct{}  { return f.done }

func (f *fakeTransport) commands(t *testing.T) []joystick.CommandState {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []joystick.CommandState
	for _, b := range f.sent {
		var c joystick.CommandState
		if err := json.Unmarshal(b, &c); err != nil {
			t.Fatalf("decode sent frame: %v", err)
		}
		if c.Type == joystick.CommandType {
			out = append(out, c)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestGestureStreamsCommandsThenSingleStop(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, Options{MaxRadius: 100, Interval: 2 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	// Initial rest state goes out once.
	waitFor(t, func() bool { return len(tr.commands(t)) == 1 })

	s.Move(100, 0)
	waitFor(t, func() bool { return len(tr.commands(t)) == 2 })

	s.Release()
	waitFor(t, func() bool { return len(tr.commands(t)) == 3 })

	// Let several idle ticks pass; nothing more should be sent.
	waitFor(t, func() bool { return s.Stats().Suppressed >= 3 })
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}

	cmds := tr.commands(t)
	if len(cmds) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(cmds))
	}
	if cmds[1].Angle != 90 || cmds[1].Distance != 100 || cmds[1].X != 1 {
		t.Errorf("unexpected move command %+v", cmds[1])
	}
	if !cmds[2].Idle() {
		t.Errorf("expected stop command, got %+v", cmds[2])
	}
}

func TestHooks(t *testing.T) {
	tr := newFakeTransport()

	var mu sync.Mutex
	var (
		msgs   []protocol.Message
		knobs  []joystick.Knob
		states []joystick.CommandState
	)
	s := New(tr, Options{
		Interval: time.Hour,
		Hooks: Hooks{
			OnMessage: func(m protocol.Message) { mu.Lock(); msgs = append(msgs, m); mu.Unlock() },
			OnKnob:    func(k joystick.Knob) { mu.Lock(); knobs = append(knobs, k); mu.Unlock() },
			OnState:   func(c joystick.CommandState) { mu.Lock(); states = append(states, c); mu.Unlock() },
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	tr.inbound <- []byte(`not json`)
	tr.inbound <- []byte(`{"type":"battery","level":55}`)
	s.CycleMode()
	s.Move(0, -10)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(msgs) == 1 && len(knobs) == 1 && len(states) >= 3
	})

	mu.Lock()
	defer mu.Unlock()
	if b, ok := msgs[0].(protocol.Battery); !ok {
		t.Errorf("expected battery message, got %T", msgs[0])
	} else if pct, _ := b.Percent(); pct != 55 {
		t.Errorf("expected 55%%, got %v", pct)
	}
	last := states[len(states)-1]
	if last.Mode != 2 || last.Distance != 10 {
		t.Errorf("unexpected final state %+v", last)
	}
}

func TestRunReturnsOnDisconnect(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, Options{Interval: time.Hour})

	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()

	close(tr.done)
	select {
	case err := <-errc:
		if !errors.Is(err, ErrDisconnected) {
			t.Errorf("expected ErrDisconnected, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after disconnect")
	}

	// Calls after teardown must not block.
	s.Move(1, 1)
	s.Release()
}

func TestCloseStopsRun(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, Options{Interval: time.Hour})

	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()

	s.Close()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("expected nil after Close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestSendRequest(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, Options{})

	if err := s.Send(protocol.NewStopServer()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	tr.mu.Lock()
	tr.ready = false
	tr.mu.Unlock()
	if err := s.Send(protocol.NewKey("1234")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.sent) != 1 || string(tr.sent[0]) != `{"type":"stop_server"}` {
		t.Errorf("unexpected frames %q", tr.sent)
	}
}

// A UI loop that forwards every hook event through an unbuffered channel and
// drives gestures from the same goroutine must never wedge the session.
func TestBlockingHooksDoNotStallSession(t *testing.T) {
	tr := newFakeTransport()
	events := make(chan any)
	stopReader := make(chan struct{})
	defer close(stopReader)
	post := func(v any) {
		select {
		case events <- v:
		case <-stopReader:
		}
	}
	s := New(tr, Options{
		MaxRadius: 100,
		Interval:  time.Millisecond,
		Hooks: Hooks{
			OnKnob:  func(k joystick.Knob) { post(k) },
			OnState: func(c joystick.CommandState) { post(c) },
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	uiDone := make(chan struct{})
	go func() {
		defer close(uiDone)
		for i := 0; i < 500; i++ {
			select {
			case <-events:
			default:
			}
			s.Move(float64(i%100), -float64(i%50))
		}
		s.Move(0, -80)
	}()

	// The UI only reads events when it gets around to it.
	go func() {
		for {
			select {
			case <-events:
				time.Sleep(time.Millisecond)
			case <-stopReader:
				return
			}
		}
	}()

	select {
	case <-uiDone:
	case <-time.After(5 * time.Second):
		t.Fatal("gesture queue wedged behind blocking hooks")
	}

	waitFor(t, func() bool {
		cmds := tr.commands(t)
		return len(cmds) > 0 && cmds[len(cmds)-1].Distance == 80 && cmds[len(cmds)-1].X == 0
	})
	before := s.Stats().Ticks
	waitFor(t, func() bool { return s.Stats().Ticks > before+5 })

	cancel()
	select {
	case <-errc:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestCloseMidGestureSendsRest(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, Options{MaxRadius: 100, Interval: 2 * time.Millisecond})

	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()

	s.Move(0, -80)
	waitFor(t, func() bool {
		cmds := tr.commands(t)
		return len(cmds) > 0 && cmds[len(cmds)-1].Distance == 80
	})

	s.Release()
	s.Close()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}

	cmds := tr.commands(t)
	if last := cmds[len(cmds)-1]; !last.Idle() || last.X != 0 || last.Y != 0 {
		t.Errorf("expected rest command last, got %+v", last)
	}
}

func TestCloseWithoutReleaseSendsRest(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, Options{MaxRadius: 100, Interval: time.Hour})

	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()

	s.Move(30, 0)
	s.Close()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}

	cmds := tr.commands(t)
	if len(cmds) == 0 || !cmds[len(cmds)-1].Idle() {
		t.Errorf("expected rest command last, got %+v", cmds)
	}
}

func TestNoRestAfterDisconnect(t *testing.T) {
	tr := newFakeTransport()
	s := New(tr, Options{MaxRadius: 100, Interval: time.Hour})

	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()

	close(tr.done)
	<-errc
	if n := len(tr.commands(t)); n != 0 {
		t.Errorf("expected nothing sent after disconnect, got %d frames", n)
	}
}
