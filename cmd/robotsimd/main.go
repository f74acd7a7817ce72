// Robotsimd simulates the robot's WebSocket endpoint so the teleop client
// can be driven end-to-end on a workstation.
//
// It loads configuration, serves the robot protocol plus a small HTTP status
// API, and exits on SIGINT, SIGTERM, or a stop_server request.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/large-farva/robotpi-teleop/internal/app"
	"github.com/large-farva/robotpi-teleop/internal/config"
	"github.com/large-farva/robotpi-teleop/internal/logging"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "Path to config file (.toml, .yaml or .yml)")
		bind       = pflag.String("bind", "", "HTTP/WebSocket bind address (overrides sim.bind)")
		key        = pflag.String("key", "", "Access key clients must present (overrides sim.key)")
		level      = pflag.String("log-level", "", "Log level (overrides logging.level)")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("config load failed: %v", err)
	}
	if *key != "" {
		cfg.Sim.Key = *key
	}
	if *level != "" {
		cfg.Logging.Level = *level
	}

	logger, closer, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Dir:     cfg.Logging.Dir,
		File:    "robotsimd.log",
		Console: true,
	})
	if err != nil {
		logrus.Fatalf("logging setup failed: %v", err)
	}
	defer closer.Close()

	a := app.New(app.Options{
		Logger: logger.WithField("component", "robotsimd"),
		Cfg:    cfg,
		Bind:   *bind,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Fatalf("robotsimd failed: %v", err)
	}

	// Brief pause so in-flight close frames and log writes can flush.
	time.Sleep(50 * time.Millisecond)
}
