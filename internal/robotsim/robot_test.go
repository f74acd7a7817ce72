package robotsim

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/large-farva/robotpi-teleop/internal/joystick"
	"github.com/large-farva/robotpi-teleop/internal/protocol"
)

func startRobot(t *testing.T, opts Options) (*Robot, string) {
	t.Helper()
	if opts.Key == "" {
		opts.Key = "1234"
	}
	if opts.BatteryInterval == 0 {
		opts.BatteryInterval = time.Hour
	}
	if opts.CameraInterval == 0 {
		opts.CameraInterval = time.Hour
	}
	r := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	srv := httptest.NewServer(r.Hub().Handler())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return r, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, m protocol.Message) {
	t.Helper()
	b, err := protocol.Encode(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// next reads frames until one of type want arrives.
func next(t *testing.T, conn *websocket.Conn, want protocol.Type) protocol.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		m, err := protocol.DecodeInbound(raw)
		if err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if m.MessageType() == want {
			return m
		}
	}
}

func login(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn := dial(t, url)
	send(t, conn, protocol.NewKey("1234"))
	next(t, conn, protocol.TypeConnexion)
	return conn
}

func TestKeyGate(t *testing.T) {
	_, url := startRobot(t, Options{})
	conn := dial(t, url)

	send(t, conn, protocol.NewStopServer())
	if e := next(t, conn, protocol.TypeError).(protocol.Error); e.Text() != errKeyRequired {
		t.Errorf("expected %q, got %q", errKeyRequired, e.Text())
	}

	send(t, conn, protocol.NewKey("0000"))
	if e := next(t, conn, protocol.TypeError).(protocol.Error); e.Text() != errWrongKey {
		t.Errorf("expected %q, got %q", errWrongKey, e.Text())
	}

	send(t, conn, protocol.NewKey("1234"))
	n := next(t, conn, protocol.TypeConnexion).(protocol.Notice)
	if n.Body == "" {
		t.Error("expected connexion body")
	}
	b := next(t, conn, protocol.TypeBattery).(protocol.Battery)
	if pct, ok := b.Percent(); !ok || pct != 100 {
		t.Errorf("expected initial battery 100, got %v", pct)
	}
}

func TestCommandAckSpeed(t *testing.T) {
	r, url := startRobot(t, Options{})
	conn := login(t, url)

	cases := []struct {
		distance, mode int
		want           float64
	}{
		{50, 1, 5000},
		{50, 2, 15000},
		{100, 3, 40000},
		{0, 1, 0},
	}
	for _, tc := range cases {
		send(t, conn, protocol.Command{CommandState: joystick.CommandState{
			Type: joystick.CommandType, Angle: 90, Distance: tc.distance, Mode: tc.mode, X: 0, Y: -1,
		}})
		ack := next(t, conn, protocol.TypeCommand).(protocol.CommandAck)
		if ack.Status != "command received" || ack.Speed != tc.want {
			t.Errorf("distance %d mode %d: got %+v, want speed %v", tc.distance, tc.mode, ack, tc.want)
		}
	}
	if got := r.Status().Commands; got != int64(len(cases)) {
		t.Errorf("expected %d commands, got %d", len(cases), got)
	}
}

func TestWatchdogStopsRobot(t *testing.T) {
	r, url := startRobot(t, Options{StopAfter: 50 * time.Millisecond})
	conn := login(t, url)

	send(t, conn, protocol.Command{CommandState: joystick.CommandState{
		Type: joystick.CommandType, Angle: 0, Distance: 100, Mode: 1, X: 1,
	}})
	next(t, conn, protocol.TypeCommand)
	if !r.Status().Moving {
		t.Fatal("expected robot moving after command")
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.Status().Moving {
		if time.Now().After(deadline) {
			t.Fatal("watchdog never stopped the robot")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAutoModeRejectsCommands(t *testing.T) {
	_, url := startRobot(t, Options{})
	conn := login(t, url)

	send(t, conn, protocol.NewStartAuto(&protocol.InitPos{X: 1, Y: 2}))
	next(t, conn, protocol.TypeAutoStarted)

	send(t, conn, protocol.Command{CommandState: joystick.CommandState{Type: joystick.CommandType, Mode: 1}})
	if e := next(t, conn, protocol.TypeError).(protocol.Error); e.Text() != errAutoActive {
		t.Errorf("expected %q, got %q", errAutoActive, e.Text())
	}

	send(t, conn, protocol.NewStartAuto(nil))
	if e := next(t, conn, protocol.TypeError).(protocol.Error); e.Text() != errAutoAgain {
		t.Errorf("expected %q, got %q", errAutoAgain, e.Text())
	}
}

func TestUnknownType(t *testing.T) {
	_, url := startRobot(t, Options{})
	conn := login(t, url)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)); err != nil {
		t.Fatal(err)
	}
	e := next(t, conn, protocol.TypeError).(protocol.Error)
	if !strings.Contains(e.Text(), "dance") {
		t.Errorf("expected unknown type in error, got %q", e.Text())
	}
}

func TestStopServer(t *testing.T) {
	r, url := startRobot(t, Options{})
	conn := login(t, url)

	send(t, conn, protocol.NewStopServer())
	next(t, conn, protocol.TypeServerStopped)

	select {
	case <-r.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("expected Stopped to close")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to close after server_stopped")
	}
}

func TestTelemetryBroadcast(t *testing.T) {
	_, url := startRobot(t, Options{
		BatteryInterval: 5 * time.Millisecond,
		BatteryDrain:    0.5,
		CameraInterval:  5 * time.Millisecond,
	})
	conn := login(t, url)

	// The first battery frame is the snapshot sent on login.
	next(t, conn, protocol.TypeBattery)
	b := next(t, conn, protocol.TypeBattery).(protocol.Battery)
	if pct, _ := b.Percent(); pct >= 100 {
		t.Errorf("expected battery to drain, got %v", pct)
	}

	f := next(t, conn, protocol.TypeCameraFrame).(protocol.CameraFrame)
	if f.HasFrame() {
		jpg, err := f.JPEG()
		if err != nil || len(jpg) < 2 || jpg[0] != 0xFF || jpg[1] != 0xD8 {
			t.Errorf("expected JPEG payload, err=%v", err)
		}
	}
}

func TestUnauthenticatedGetsNoBroadcast(t *testing.T) {
	_, url := startRobot(t, Options{CameraInterval: 5 * time.Millisecond})
	conn := dial(t, url)

	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, raw, err := conn.ReadMessage(); err == nil {
		var env protocol.Envelope
		_ = json.Unmarshal(raw, &env)
		t.Errorf("unauthenticated client received %s", env.Type)
	}
}

func TestDifferential(t *testing.T) {
	cases := []struct {
		name        string
		s           joystick.CommandState
		left, right float64
	}{
		{"idle", joystick.CommandState{Mode: 1}, 0, 0},
		{"ahead", joystick.CommandState{Angle: 0, Distance: 100, Mode: 1, X: 0, Y: -1}, 100, 100},
		{"spin right", joystick.CommandState{Angle: 90, Distance: 100, Mode: 2, X: 1, Y: 0}, 300, -300},
		{"reverse", joystick.CommandState{Angle: 180, Distance: 100, Mode: 1, X: 0, Y: 1}, -100, -100},
		{"veer right", joystick.CommandState{Angle: 45, Distance: 100, Mode: 1, X: 0.5, Y: -0.5}, 100, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := differential(tc.s)
			if d.Left != tc.left || d.Right != tc.right {
				t.Errorf("got left=%v right=%v, want %v/%v", d.Left, d.Right, tc.left, tc.right)
			}
		})
	}
}
