// Package protocol defines the JSON messages exchanged between the teleop
// client and the robot over the WebSocket link. Every message is a flat JSON
// object tagged by its "type" field.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/large-farva/robotpi-teleop/internal/joystick"
)

// Type identifies the kind of message.
type Type string

// Client -> robot.
const (
	TypeCommand    Type = joystick.CommandType
	TypeStopServer Type = "stop_server"
	TypeStartAuto  Type = "start_auto"
	TypeKey        Type = "key"
)

// Robot -> client.
const (
	TypeBattery       Type = "battery"
	TypeCameraFrame   Type = "camera_frame"
	TypeAutoStarted   Type = "auto_started"
	TypeConnexion     Type = "connexion"
	TypeServerStopped Type = "server_stopped"
	TypeError         Type = "error"
)

// ErrMalformed is returned for frames that are not a JSON object with a
// string "type".
var ErrMalformed = errors.New("malformed message")

// Message is any decoded frame.
type Message interface {
	MessageType() Type
}

// Envelope is the part shared by every message.
type Envelope struct {
	Type Type `json:"type"`
}

func (e Envelope) MessageType() Type { return e.Type }

// StopServer asks the robot-side server to shut down.
type StopServer struct {
	Envelope
}

// NewStopServer returns a stop_server request.
func NewStopServer() StopServer {
	return StopServer{Envelope{TypeStopServer}}
}

// InitPos is the optional starting pose handed to autonomous mode. Theta is
// left out of the wire form when the operator did not give one.
type InitPos struct {
	X     float64  `json:"x"`
	Y     float64  `json:"y"`
	Theta *float64 `json:"theta,omitempty"`
}

// NewInitPos returns a pose with every field set.
func NewInitPos(x, y, theta float64) InitPos {
	return InitPos{X: x, Y: y, Theta: &theta}
}

// Heading returns theta, or 0 when it was not given.
func (p InitPos) Heading() float64 {
	if p.Theta == nil {
		return 0
	}
	return *p.Theta
}

// StartAuto switches the robot to autonomous mode.
type StartAuto struct {
	Envelope
	InitPos *InitPos `json:"init_pos,omitempty"`
}

// NewStartAuto returns a start_auto request. A nil pos omits init_pos.
func NewStartAuto(pos *InitPos) StartAuto {
	return StartAuto{Envelope: Envelope{TypeStartAuto}, InitPos: pos}
}

// Key submits the access key to the robot.
type Key struct {
	Envelope
	Value string `json:"value"`
}

// NewKey returns a key submission.
func NewKey(value string) Key {
	return Key{Envelope: Envelope{TypeKey}, Value: value}
}

// Command wraps a joystick command record so it satisfies Message.
type Command struct {
	joystick.CommandState
}

func (Command) MessageType() Type { return TypeCommand }

// Battery reports the robot's charge. Robots in the field send the reading
// as either "level" or "value".
type Battery struct {
	Envelope
	Level *float64 `json:"level,omitempty"`
	Value *float64 `json:"value,omitempty"`
}

// NewBattery returns a battery report carrying the reading in "level".
func NewBattery(pct float64) Battery {
	return Battery{Envelope: Envelope{TypeBattery}, Level: &pct}
}

// Percent returns the reported charge, preferring "level".
func (b Battery) Percent() (float64, bool) {
	switch {
	case b.Level != nil:
		return *b.Level, true
	case b.Value != nil:
		return *b.Value, true
	default:
		return 0, false
	}
}

// CameraFrame carries one base64 JPEG frame. An empty Frame means the
// camera produced nothing and the client should show a fallback image.
type CameraFrame struct {
	Envelope
	Frame string `json:"frame,omitempty"`
}

// NewCameraFrame encodes jpeg into a camera_frame message.
func NewCameraFrame(jpeg []byte) CameraFrame {
	f := CameraFrame{Envelope: Envelope{TypeCameraFrame}}
	if len(jpeg) > 0 {
		f.Frame = base64.StdEncoding.EncodeToString(jpeg)
	}
	return f
}

// HasFrame reports whether the message carries image data.
func (c CameraFrame) HasFrame() bool {
	return c.Frame != ""
}

// JPEG decodes the frame payload.
func (c CameraFrame) JPEG() ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.Frame)
}

// Notice covers the robot's short acknowledgement messages (auto_started,
// server_stopped, connexion).
type Notice struct {
	Envelope
	Msg  string `json:"msg,omitempty"`
	Body string `json:"body,omitempty"`
}

// NewNotice returns a notice of type t with text msg.
func NewNotice(t Type, msg string) Notice {
	n := Notice{Envelope: Envelope{t}}
	if t == TypeConnexion {
		n.Body = msg
	} else {
		n.Msg = msg
	}
	return n
}

// Text returns whichever text field is populated.
func (n Notice) Text() string {
	if n.Msg != "" {
		return n.Msg
	}
	return n.Body
}

// Error is a rejection from the robot.
type Error struct {
	Envelope
	Err string `json:"error,omitempty"`
	Msg string `json:"msg,omitempty"`
}

// NewError returns an error message.
func NewError(text string) Error {
	return Error{Envelope: Envelope{TypeError}, Err: text}
}

// Text returns whichever text field is populated.
func (e Error) Text() string {
	if e.Err != "" {
		return e.Err
	}
	return e.Msg
}

// CommandAck is the robot's reply to a command.
type CommandAck struct {
	Envelope
	Status string  `json:"status"`
	Speed  float64 `json:"speed"`
}

// NewCommandAck returns an acknowledgement for a command.
func NewCommandAck(speed float64) CommandAck {
	return CommandAck{Envelope: Envelope{TypeCommand}, Status: "command received", Speed: speed}
}

// Unknown is any well-formed frame whose type is not recognized.
type Unknown struct {
	Envelope
	Raw json.RawMessage `json:"-"`
}

// Encode marshals a message for the wire.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	return b, nil
}

// DecodeInbound parses a frame sent by the robot.
func DecodeInbound(raw []byte) (Message, error) {
	env, err := peek(raw)
	if err != nil {
		return nil, err
	}

	var m Message
	switch env.Type {
	case TypeBattery:
		m, err = decodeAs[Battery](raw)
	case TypeCameraFrame:
		m, err = decodeAs[CameraFrame](raw)
	case TypeAutoStarted, TypeServerStopped, TypeConnexion:
		m, err = decodeAs[Notice](raw)
	case TypeError:
		m, err = decodeAs[Error](raw)
	case TypeCommand:
		m, err = decodeAs[CommandAck](raw)
	default:
		return Unknown{Envelope: env, Raw: raw}, nil
	}
	return m, err
}

// DecodeRequest parses a frame sent by the client.
func DecodeRequest(raw []byte) (Message, error) {
	env, err := peek(raw)
	if err != nil {
		return nil, err
	}

	var m Message
	switch env.Type {
	case TypeCommand:
		m, err = decodeAs[Command](raw)
	case TypeStopServer:
		m, err = decodeAs[StopServer](raw)
	case TypeStartAuto:
		m, err = decodeAs[StartAuto](raw)
	case TypeKey:
		m, err = decodeAs[Key](raw)
	default:
		return Unknown{Envelope: env, Raw: raw}, nil
	}
	return m, err
}

func peek(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

func decodeAs[T Message](raw []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}
