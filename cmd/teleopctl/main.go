// Teleopctl is the operator client for the robot. "drive" opens the
// terminal dashboard with a mouse-driven joystick; the other commands are
// one-shot requests against the robot's WebSocket endpoint or robotsimd's
// HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/large-farva/robotpi-teleop/internal/config"
	"github.com/large-farva/robotpi-teleop/internal/ctl"
	"github.com/large-farva/robotpi-teleop/internal/joystick"
	"github.com/large-farva/robotpi-teleop/internal/link"
	"github.com/large-farva/robotpi-teleop/internal/logging"
	"github.com/large-farva/robotpi-teleop/internal/protocol"
	"github.com/large-farva/robotpi-teleop/internal/session"
	"github.com/large-farva/robotpi-teleop/internal/ui"
)

var (
	configPath string
	robotURL   string
	robotKey   string
	statusURL  string
	jsonOut    bool
	verbose    bool
	timeout    time.Duration
	initPos    string
	filter     []string

	cfg config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "teleopctl",
		Short:         "drive and inspect the robot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd.Flags())
		},
	}
	bindGlobalFlags(rootCmd.PersistentFlags())

	driveCmd := &cobra.Command{
		Use:   "drive",
		Short: "open the teleop dashboard",
		RunE:  drive,
	}
	driveCmd.Flags().StringVar(&initPos, "init-pos", "", `start_auto position, "x,y[,theta]" or JSON`)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "stream robot messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSignals(func(ctx context.Context) error {
				return ctl.Watch(ctx, os.Stdout, ctl.WatchOptions{RobotOptions: robotOptions(), Filter: filter})
			})
		},
	}
	watchCmd.Flags().StringSliceVar(&filter, "filter", nil, "message types to show (e.g. --filter battery,error)")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "ask the robot server to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSignals(func(ctx context.Context) error {
				return ctl.Stop(ctx, os.Stdout, robotOptions())
			})
		},
	}

	autoCmd := &cobra.Command{
		Use:   "auto [x,y[,theta]]",
		Short: "switch the robot to autonomous mode",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pos *protocol.InitPos
			if len(args) == 1 {
				p, ok := protocol.ParseInitPos(args[0])
				if !ok {
					return fmt.Errorf("invalid init position %q", args[0])
				}
				pos = &p
			}
			return withSignals(func(ctx context.Context) error {
				return ctl.Auto(ctx, os.Stdout, robotOptions(), pos)
			})
		},
	}

	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "check the access key against the robot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSignals(func(ctx context.Context) error {
				return ctl.Key(ctx, os.Stdout, robotOptions())
			})
		},
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "check robotsimd liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSignals(func(ctx context.Context) error {
				return ctl.Health(ctx, os.Stdout, simClient(), jsonOut)
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "show robotsimd status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSignals(func(ctx context.Context) error {
				return ctl.Status(ctx, os.Stdout, simClient(), jsonOut)
			})
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "show client and robotsimd versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSignals(func(ctx context.Context) error {
				return ctl.VersionInfo(ctx, os.Stdout, simClient(), jsonOut)
			})
		},
	}

	rootCmd.AddCommand(driveCmd, watchCmd, stopCmd, autoCmd, keyCmd, healthCmd, statusCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func bindGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configPath, "config", "c", "", "config file (.toml, .yaml or .yml)")
	fs.StringVarP(&robotURL, "url", "u", "", "robot WebSocket URL (overrides robot.url)")
	fs.StringVarP(&robotKey, "key", "k", "", "robot access key (overrides robot.key)")
	fs.StringVarP(&statusURL, "host", "H", "", "robotsimd HTTP URL (overrides robot.status_url)")
	fs.BoolVar(&jsonOut, "json", false, "output raw JSON instead of formatted text")
	fs.BoolVarP(&verbose, "verbose", "v", false, "log link activity to stderr")
	fs.DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for the robot")
}

// loadConfig reads the config file and layers explicitly set flags on top.
func loadConfig(fs *pflag.FlagSet) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if fs.Changed("url") {
		cfg.Robot.URL = robotURL
	}
	if fs.Changed("key") {
		cfg.Robot.Key = robotKey
	}
	if fs.Changed("host") {
		cfg.Robot.StatusURL = statusURL
	}
	return nil
}

func robotOptions() ctl.RobotOptions {
	level := "warn"
	if verbose {
		level = cfg.Logging.Level
	}
	log, _, err := logging.New(logging.Options{Level: level, Console: true})
	if err != nil {
		log = logging.Discard()
	}
	return ctl.RobotOptions{
		URL:     cfg.Robot.URL,
		Key:     cfg.Robot.Key,
		Timeout: timeout,
		JSON:    jsonOut,
		Log:     log.WithField("component", "ctl"),
	}
}

func simClient() *ctl.SimClient {
	return ctl.NewSimClient(cfg.Robot.StatusURL, timeout)
}

func withSignals(fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx)
}

// drive runs the dashboard. The session owns the joystick and the 50 ms
// transmit loop; the dashboard only feeds it gestures and draws what it
// reports back.
func drive(cmd *cobra.Command, args []string) error {
	log, closer, err := logging.New(logging.Options{
		Level: cfg.Logging.Level,
		Dir:   cfg.Logging.Dir,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := link.Dial(ctx, cfg.Robot.URL, link.Options{
		DialTimeout: timeout,
		Log:         log.WithField("component", "link"),
	})
	if err != nil {
		return err
	}
	defer l.Close()

	var p *tea.Program
	post := func(msg tea.Msg) {
		if p != nil {
			p.Send(msg)
		}
	}

	sess := session.New(l, session.Options{
		MaxRadius:             cfg.Joystick.MaxRadius,
		ClampCartesian:        cfg.Joystick.ClampCartesian,
		Interval:              cfg.Interval(),
		IdleIncludesCartesian: cfg.Transmit.IdleIncludesCartesian,
		Log:                   log.WithField("component", "session"),
		Hooks: session.Hooks{
			OnMessage: func(m protocol.Message) { post(ui.InboundMsg{Message: m}) },
			OnKnob:    func(k joystick.Knob) { post(ui.KnobMsg(k)) },
			OnState:   func(s joystick.CommandState) { post(ui.StateMsg(s)) },
		},
	})

	model := ui.New(sess, ui.Options{
		URL:            cfg.Robot.URL,
		Key:            cfg.Robot.Key,
		InitPos:        initPos,
		MaxRadius:      cfg.Joystick.MaxRadius,
		CellWidth:      cfg.Joystick.CellWidth,
		CellHeight:     cfg.Joystick.CellHeight,
		FallbackImages: cfg.Camera.FallbackImages,
	})
	p = tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))

	if cfg.Robot.Key != "" {
		if err := sess.Send(protocol.NewKey(cfg.Robot.Key)); err != nil {
			log.WithError(err).Warn("key not sent")
		}
	}

	done := make(chan error, 1)
	go func() {
		post(ui.LinkMsg{Up: true})
		err := sess.Run(ctx)
		if errors.Is(err, session.ErrDisconnected) {
			post(ui.LinkMsg{Err: l.Err()})
		}
		done <- err
	}()

	_, runErr := p.Run()
	sess.Close()
	if err := <-done; err != nil && !errors.Is(err, session.ErrDisconnected) {
		return err
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return runErr
	}
	logSummary(log, sess, l)
	return nil
}

func logSummary(log logrus.FieldLogger, sess *session.Session, l *link.Link) {
	st := sess.Stats()
	log.WithFields(logrus.Fields{
		"sent":       st.Sent,
		"suppressed": st.Suppressed,
		"not_ready":  st.NotReady,
		"dropped":    l.Dropped(),
	}).Info("session ended")
}
