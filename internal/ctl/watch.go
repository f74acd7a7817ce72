package ctl

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/large-farva/robotpi-teleop/internal/protocol"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	RobotOptions
	Filter []string // message types to show (empty = all)
}

// Watch connects to the robot and streams its messages to out in a
// human-readable format until ctx is cancelled or the robot hangs up.
func Watch(ctx context.Context, out io.Writer, opts WatchOptions) error {
	l, _, err := connect(ctx, opts.RobotOptions)
	if err != nil {
		return err
	}
	defer l.Close()

	if !opts.JSON {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  %s %s\n", colorize(green, "connected"), colorize(dim, opts.URL))
		if len(opts.Filter) > 0 {
			fmt.Fprintf(out, "  %s %s\n", colorize(dim, "filter:"), colorize(dim, strings.Join(opts.Filter, ", ")))
		}
		fmt.Fprintln(out, colorize(dim, "  "+strings.Repeat("─", 50)))
		fmt.Fprintln(out)
	}

	// Build a filter set for O(1) lookup.
	filterSet := make(map[protocol.Type]bool, len(opts.Filter))
	for _, f := range opts.Filter {
		filterSet[protocol.Type(f)] = true
	}

	for {
		select {
		case <-ctx.Done():
			if !opts.JSON {
				fmt.Fprintln(out)
				fmt.Fprintln(out, colorize(dim, "  disconnecting..."))
			}
			return nil

		case raw, ok := <-l.Inbound():
			if !ok {
				return l.Err()
			}
			m, err := protocol.DecodeInbound(raw)
			if err != nil {
				fmt.Fprintf(out, "  %s\n", string(raw))
				continue
			}
			if len(filterSet) > 0 && !filterSet[m.MessageType()] {
				continue
			}
			if opts.JSON {
				fmt.Fprintln(out, string(raw))
			} else {
				renderMessage(out, time.Now(), m)
			}
		}
	}
}

// renderMessage prints one decoded robot message on a single line.
func renderMessage(out io.Writer, at time.Time, m protocol.Message) {
	ts := colorize(dim, at.Format("15:04:05"))

	switch v := m.(type) {
	case protocol.Battery:
		pct, ok := v.Percent()
		if !ok {
			fmt.Fprintf(out, "  %s %s  %s\n", ts, colorize(cyan, "battery   "), colorize(dim, "no reading"))
			return
		}
		fmt.Fprintf(out, "  %s %s  [%s] %3.0f%%\n", ts, colorize(cyan, "battery   "), levelBar(pct, 20), pct)

	case protocol.CameraFrame:
		detail := colorize(dim, "no frame")
		if v.HasFrame() {
			if b, err := v.JPEG(); err == nil {
				detail = "jpeg " + formatBytes(len(b))
			} else {
				detail = colorize(red, "bad frame: "+err.Error())
			}
		}
		fmt.Fprintf(out, "  %s %s  %s\n", ts, colorize(blue, "camera    "), detail)

	case protocol.CommandAck:
		fmt.Fprintf(out, "  %s %s  %s speed %.0f\n", ts, colorize(dim, "ack       "), v.Status, v.Speed)

	case protocol.Notice:
		fmt.Fprintf(out, "  %s %s  %s\n", ts, colorize(bold, fmt.Sprintf("%-10s", v.Type)), v.Text())

	case protocol.Error:
		fmt.Fprintf(out, "  %s %s  %s\n", ts, colorize(red, "ERROR     "), v.Text())

	case protocol.Unknown:
		fmt.Fprintf(out, "  %s %s  %s\n", ts, colorize(yellow, fmt.Sprintf("%-10s", v.Type)), string(v.Raw))

	default:
		fmt.Fprintf(out, "  %s %s\n", ts, m.MessageType())
	}
}
