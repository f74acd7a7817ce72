package ctl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/large-farva/robotpi-teleop/internal/link"
	"github.com/large-farva/robotpi-teleop/internal/protocol"
)

// ErrNoReply is returned when the robot does not answer a request in time.
var ErrNoReply = errors.New("no reply from robot")

// RobotOptions addresses the robot's WebSocket endpoint.
type RobotOptions struct {
	URL     string
	Key     string // sent before anything else when set
	Timeout time.Duration
	JSON    bool
	Log     logrus.FieldLogger
}

func (o RobotOptions) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 5 * time.Second
	}
	return o.Timeout
}

// connect dials the robot and presents the key. The robot answers a key
// with connexion or error; nothing else is accepted before that.
func connect(ctx context.Context, opts RobotOptions) (*link.Link, protocol.Message, error) {
	l, err := link.Dial(ctx, opts.URL, link.Options{DialTimeout: opts.timeout(), Log: opts.Log})
	if err != nil {
		return nil, nil, err
	}
	if opts.Key == "" {
		return l, nil, nil
	}

	if err := send(l, protocol.NewKey(opts.Key)); err != nil {
		l.Close()
		return nil, nil, err
	}
	reply, err := awaitReply(ctx, l, opts.timeout())
	if err != nil {
		l.Close()
		return nil, nil, err
	}
	if e, ok := reply.(protocol.Error); ok {
		l.Close()
		return nil, reply, fmt.Errorf("robot rejected key: %s", e.Text())
	}
	return l, reply, nil
}

func send(l *link.Link, m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	l.Send(b)
	return nil
}

// awaitReply returns the next notice or error from the robot, skipping
// telemetry and command acks.
func awaitReply(ctx context.Context, l *link.Link, timeout time.Duration) (protocol.Message, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
			return nil, ErrNoReply
		case raw, ok := <-l.Inbound():
			if !ok {
				if err := l.Err(); err != nil {
					return nil, err
				}
				return nil, ErrNoReply
			}
			m, err := protocol.DecodeInbound(raw)
			if err != nil {
				continue
			}
			switch m.(type) {
			case protocol.Notice, protocol.Error:
				return m, nil
			}
		}
	}
}
