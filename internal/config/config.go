// Package config handles loading, defaulting, and validation of the teleop
// configuration file. The same file drives the operator client and the
// robot simulator; each reads the sections it cares about.
//
// Files ending in .yaml or .yml are parsed as YAML, everything else as TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration, mirroring the file sections.
type Config struct {
	Robot    RobotConfig    `toml:"robot"    yaml:"robot"    json:"robot"`
	Joystick JoystickConfig `toml:"joystick" yaml:"joystick" json:"joystick"`
	Transmit TransmitConfig `toml:"transmit" yaml:"transmit" json:"transmit"`
	Camera   CameraConfig   `toml:"camera"   yaml:"camera"   json:"camera"`
	Logging  LoggingConfig  `toml:"logging"  yaml:"logging"  json:"logging"`
	Sim      SimConfig      `toml:"sim"      yaml:"sim"      json:"sim"`
}

type RobotConfig struct {
	URL       string `toml:"url"        yaml:"url"        json:"url"`
	Key       string `toml:"key"        yaml:"key"        json:"-"`
	StatusURL string `toml:"status_url" yaml:"status_url" json:"status_url"`
}

type JoystickConfig struct {
	MaxRadius      int  `toml:"max_radius"      yaml:"max_radius"      json:"max_radius"`
	ClampCartesian bool `toml:"clamp_cartesian" yaml:"clamp_cartesian" json:"clamp_cartesian"`
	// Size of one terminal cell in gesture units.
	CellWidth  int `toml:"cell_width"  yaml:"cell_width"  json:"cell_width"`
	CellHeight int `toml:"cell_height" yaml:"cell_height" json:"cell_height"`
}

type TransmitConfig struct {
	IntervalMS            int  `toml:"interval_ms"             yaml:"interval_ms"             json:"interval_ms"`
	IdleIncludesCartesian bool `toml:"idle_includes_cartesian" yaml:"idle_includes_cartesian" json:"idle_includes_cartesian"`
}

type CameraConfig struct {
	FallbackImages []string `toml:"fallback_images" yaml:"fallback_images" json:"fallback_images"`
}

type LoggingConfig struct {
	Level string `toml:"level" yaml:"level" json:"level"`
	Dir   string `toml:"dir"   yaml:"dir"   json:"dir"`
}

type SimConfig struct {
	Bind              string  `toml:"bind"                yaml:"bind"                json:"bind"`
	Key               string  `toml:"key"                 yaml:"key"                 json:"-"`
	BatteryIntervalMS int     `toml:"battery_interval_ms" yaml:"battery_interval_ms" json:"battery_interval_ms"`
	BatteryDrain      float64 `toml:"battery_drain"       yaml:"battery_drain"       json:"battery_drain"`
	CameraIntervalMS  int     `toml:"camera_interval_ms"  yaml:"camera_interval_ms"  json:"camera_interval_ms"`
	StopAfterSeconds  int     `toml:"stop_after_seconds"  yaml:"stop_after_seconds"  json:"stop_after_seconds"`
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the file omits a field.
func Default() Config {
	return Config{
		Robot: RobotConfig{
			URL:       "ws://127.0.0.1:8765",
			StatusURL: "http://127.0.0.1:8765",
		},
		Joystick: JoystickConfig{
			MaxRadius:  100,
			CellWidth:  10,
			CellHeight: 20,
		},
		Transmit: TransmitConfig{
			IntervalMS: 50,
		},
		Camera: CameraConfig{
			FallbackImages: []string{"image/fallback1.jpg"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Sim: SimConfig{
			Bind:              "0.0.0.0:8765",
			Key:               "1234",
			BatteryIntervalMS: 100,
			BatteryDrain:      0.05,
			CameraIntervalMS:  200,
			StopAfterSeconds:  5,
		},
	}
}

// Interval returns the transmission tick period.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Transmit.IntervalMS) * time.Millisecond
}

// Load reads the file at path, layers it on top of the defaults, and
// validates the result. An empty path yields the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, validate(cfg)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	default:
		err = toml.Unmarshal(b, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Robot.URL == "" {
		return errors.New("robot.url must not be empty")
	}
	if !strings.HasPrefix(cfg.Robot.URL, "ws://") && !strings.HasPrefix(cfg.Robot.URL, "wss://") {
		return errors.New("robot.url must use ws:// or wss://")
	}
	if cfg.Joystick.MaxRadius <= 0 {
		return errors.New("joystick.max_radius must be > 0")
	}
	if cfg.Joystick.CellWidth <= 0 || cfg.Joystick.CellHeight <= 0 {
		return errors.New("joystick.cell_width and joystick.cell_height must be > 0")
	}
	if cfg.Transmit.IntervalMS <= 0 {
		return errors.New("transmit.interval_ms must be > 0")
	}
	if cfg.Sim.BatteryIntervalMS <= 0 || cfg.Sim.CameraIntervalMS <= 0 {
		return errors.New("sim intervals must be > 0")
	}
	if cfg.Sim.BatteryDrain < 0 {
		return errors.New("sim.battery_drain must be >= 0")
	}
	if cfg.Sim.StopAfterSeconds < 1 {
		return errors.New("sim.stop_after_seconds must be >= 1")
	}
	return nil
}
