package ctl

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
)

// Set via -ldflags.
var (
	Version   = "dev"
	GoVersion = runtime.Version()
)

// VersionReport pairs this CLI's build with the simulator's.
type VersionReport struct {
	CLI         BuildInfo  `json:"cli"`
	Sim         *BuildInfo `json:"robotsimd,omitempty"`
	SimError    string     `json:"robotsimd_error,omitempty"`
	SameRelease bool       `json:"same_release"`
}

// VersionInfo prints the CLI version and, when robotsimd answers, its
// version too. A simulator from another release is flagged since the two
// share the wire protocol.
func VersionInfo(ctx context.Context, out io.Writer, c *SimClient, jsonOutput bool) error {
	r := VersionReport{CLI: BuildInfo{Version: Version, GoVersion: GoVersion}}
	if sim, err := c.Version(ctx); err != nil {
		r.SimError = err.Error()
	} else {
		r.Sim = &sim
		r.SameRelease = sim.Version == Version
	}

	if jsonOutput {
		return printJSON(out, r)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, header("  TELEOP VERSION"))
	fmt.Fprintln(out, colorize(dim, "  "+strings.Repeat("─", 38)))
	fmt.Fprintf(out, "  %-12s %s (%s)\n", colorize(dim, "teleopctl:"), r.CLI.Version, r.CLI.GoVersion)
	switch {
	case r.Sim == nil:
		fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "robotsimd:"), colorize(red, "unreachable: "+r.SimError))
	default:
		fmt.Fprintf(out, "  %-12s %s (%s)\n", colorize(dim, "robotsimd:"), r.Sim.Version, r.Sim.GoVersion)
		if r.Sim.BuiltAt != "" {
			fmt.Fprintf(out, "  %-12s %s\n", colorize(dim, "built:"), r.Sim.BuiltAt)
		}
		if !r.SameRelease {
			fmt.Fprintf(out, "  %s\n", colorize(yellow, "client and simulator come from different releases"))
		}
	}
	fmt.Fprintln(out)
	return nil
}
