package ctl

import (
	"context"
	"fmt"
	"io"

	"github.com/large-farva/robotpi-teleop/internal/protocol"
)

// Key authenticates against the robot and reports the outcome.
func Key(ctx context.Context, out io.Writer, opts RobotOptions) error {
	if opts.Key == "" {
		return fmt.Errorf("no key configured")
	}
	l, reply, err := connect(ctx, opts)
	if err != nil {
		if reply != nil {
			_ = printReply(out, reply, opts.JSON)
		}
		return err
	}
	defer l.Close()
	return printReply(out, reply, opts.JSON)
}

// Stop asks the robot-side server to shut down.
func Stop(ctx context.Context, out io.Writer, opts RobotOptions) error {
	return request(ctx, out, opts, protocol.NewStopServer())
}

// Auto switches the robot to autonomous mode. pos is optional.
func Auto(ctx context.Context, out io.Writer, opts RobotOptions, pos *protocol.InitPos) error {
	return request(ctx, out, opts, protocol.NewStartAuto(pos))
}

// request sends one message and prints the robot's reply.
func request(ctx context.Context, out io.Writer, opts RobotOptions, m protocol.Message) error {
	l, _, err := connect(ctx, opts)
	if err != nil {
		return err
	}
	defer l.Close()

	if err := send(l, m); err != nil {
		return err
	}
	reply, err := awaitReply(ctx, l, opts.timeout())
	if err != nil {
		return fmt.Errorf("%s: %w", m.MessageType(), err)
	}
	if err := printReply(out, reply, opts.JSON); err != nil {
		return err
	}
	if e, ok := reply.(protocol.Error); ok {
		return fmt.Errorf("robot refused %s: %s", m.MessageType(), e.Text())
	}
	return nil
}

func printReply(out io.Writer, m protocol.Message, jsonOutput bool) error {
	if jsonOutput {
		return printJSON(out, m)
	}
	switch v := m.(type) {
	case protocol.Notice:
		fmt.Fprintf(out, "  %s  %s\n", colorize(green, string(v.Type)), v.Text())
	case protocol.Error:
		fmt.Fprintf(out, "  %s  %s\n", colorize(red, "error"), v.Text())
	default:
		fmt.Fprintf(out, "  %s\n", m.MessageType())
	}
	return nil
}
