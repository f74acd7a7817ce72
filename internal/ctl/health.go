package ctl

import (
	"context"
	"fmt"
	"io"
	"time"
)

// lowBattery is the charge below which health output carries a warning.
const lowBattery = 20

// HealthReport is the JSON form of the health command.
type HealthReport struct {
	Healthy   bool     `json:"healthy"`
	URL       string   `json:"url"`
	LatencyMS float64  `json:"latency_ms,omitempty"`
	State     string   `json:"state,omitempty"`
	Battery   *float64 `json:"battery,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func checkHealth(ctx context.Context, c *SimClient) HealthReport {
	r := HealthReport{URL: c.URL()}
	rtt, err := c.Alive(ctx)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.Healthy = true
	r.LatencyMS = float64(rtt.Microseconds()) / 1000

	// Liveness is what counts; the status details are best effort.
	if s, err := c.Status(ctx); err == nil {
		r.State = s.State
		r.Battery = &s.Robot.Battery
	}
	return r
}

// Health checks that robotsimd answers and summarises what it is doing.
// An unreachable simulator is reported, not returned as an error, when
// jsonOutput is set.
func Health(ctx context.Context, out io.Writer, c *SimClient, jsonOutput bool) error {
	r := checkHealth(ctx, c)
	if jsonOutput {
		return printJSON(out, r)
	}

	fmt.Fprintln(out)
	if !r.Healthy {
		fmt.Fprintf(out, "  %s  %s\n", colorize(red, "UNHEALTHY"), colorize(dim, r.URL))
		fmt.Fprintf(out, "  %s\n\n", r.Error)
		return fmt.Errorf("robotsimd unhealthy")
	}

	rtt := time.Duration(r.LatencyMS * float64(time.Millisecond)).Round(100 * time.Microsecond)
	fmt.Fprintf(out, "  %s  %s in %s\n", colorize(green, "HEALTHY"), colorize(dim, r.URL), rtt)
	if r.State != "" {
		fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "State:"), colorize(stateColor(r.State), r.State))
	}
	if r.Battery != nil {
		line := fmt.Sprintf("%.0f%%", *r.Battery)
		if *r.Battery < lowBattery {
			line += "  " + colorize(red, "LOW")
		}
		fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "Battery:"), line)
	}
	fmt.Fprintln(out)
	return nil
}
