package ctl

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// Status fetches the simulator status and prints a formatted summary.
func Status(ctx context.Context, out io.Writer, c *SimClient, jsonOutput bool) error {
	s, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(out, s)
	}

	r := s.Robot
	uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  ROBOT STATUS"))
	fmt.Fprintln(out, colorize(dim, "  "+strings.Repeat("─", 38)))
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Daemon:"), s.Name)
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "State:"), colorize(stateColor(s.State), s.State))
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Uptime:"), uptime)
	fmt.Fprintf(out, "  %-12s [%s] %.0f%%\n", colorize(dim, "Battery:"), levelBar(r.Battery, 20), r.Battery)
	fmt.Fprintf(out, "  %-12s speed %.0f  left %.0f  right %.0f\n", colorize(dim, "Drive:"), r.Drive.Speed, r.Drive.Left, r.Drive.Right)
	fmt.Fprintf(out, "  %-12s %d\n", colorize(dim, "Clients:"), r.Clients)
	fmt.Fprintf(out, "  %-12s %d commands, %d frames\n", colorize(dim, "Traffic:"), r.Commands, r.Frames)
	fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Host:"), c.URL())
	fmt.Fprintln(out)

	return nil
}
