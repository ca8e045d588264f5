// Package config loads the sampledump YAML configuration and sets up
// logging.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/james-see/sampledump/pkg/transfer"
)

// DeviceConfig selects the MIDI ports and the device profile.
type DeviceConfig struct {
	Profile  string  `yaml:"profile"`
	Channel  int     `yaml:"channel"`
	In       string  `yaml:"in"`
	Out      string  `yaml:"out"`
	Mode     string  `yaml:"mode"`
	Turbo    float64 `yaml:"turbo"`
	MaxTurbo float64 `yaml:"maxTurbo"`
	// StayAwake inhibits host sleep while transferring.
	StayAwake bool `yaml:"stayAwake"`
}

// LogConfig controls the log level and the rotating log file.
type LogConfig struct {
	Level      string `yaml:"level"`
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

// ServerConfig is the REST API listener.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Config is the whole configuration file.
type Config struct {
	Device   DeviceConfig    `yaml:"device"`
	Transfer transfer.Config `yaml:"transfer"`
	Logs     LogConfig       `yaml:"logs"`
	Server   ServerConfig    `yaml:"server"`
	// Library is where WAV exports go by default.
	Library string `yaml:"library"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// Load reads path and fills in defaults. An empty path returns Default.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	baseDir := filepath.Dir(path)
	resolve := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Clean(filepath.Join(baseDir, p))
	}
	cfg.Logs.Directory = resolve(cfg.Logs.Directory)
	cfg.Library = resolve(cfg.Library)

	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

func (c *Config) applyDefaults() {
	if c.Device.Profile == "" {
		c.Device.Profile = "machinedrum"
	}
	if c.Device.Mode == "" {
		c.Device.Mode = "auto"
	}
	if c.Device.Turbo <= 0 {
		c.Device.Turbo = 1
	}
	if c.Device.MaxTurbo <= 0 {
		c.Device.MaxTurbo = 10
	}
	c.Transfer = mergeTransfer(c.Transfer)
	if c.Logs.Level == "" {
		c.Logs.Level = "info"
	}
	if c.Logs.MaxSizeMB <= 0 {
		c.Logs.MaxSizeMB = 25
	}
	if c.Logs.MaxAgeDays <= 0 {
		c.Logs.MaxAgeDays = 7
	}
	if c.Logs.MaxBackups <= 0 {
		c.Logs.MaxBackups = 5
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Library == "" {
		c.Library = "."
	}
}

// mergeTransfer fills unset timings from transfer.DefaultConfig. A file
// cannot tell zero from unset, so every field gets its default.
func mergeTransfer(t transfer.Config) transfer.Config {
	d := transfer.DefaultConfig()
	if t.MinPacing <= 0 {
		t.MinPacing = d.MinPacing
	}
	if t.NameSettle <= 0 {
		t.NameSettle = d.NameSettle
	}
	if t.SettleDelay <= 0 {
		t.SettleDelay = d.SettleDelay
	}
	if t.KeepAliveInterval <= 0 {
		t.KeepAliveInterval = d.KeepAliveInterval
	}
	return t.WithDefaults()
}

// Validate checks values that have no sensible default.
func (c Config) Validate() error {
	if c.Device.Channel < 0 || c.Device.Channel > 0x7F {
		return fmt.Errorf("device channel %d out of range 0-127", c.Device.Channel)
	}
	if c.Device.Turbo > c.Device.MaxTurbo {
		return fmt.Errorf("turbo %.1f above maxTurbo %.1f", c.Device.Turbo, c.Device.MaxTurbo)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if _, err := transfer.ParseMode(c.Device.Mode); err != nil {
		return err
	}
	if _, err := ParseLevel(c.Logs.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("log level %q: %w", s, err)
	}
	return l, nil
}

// SetupLogging builds the process logger. Records go to console and, when
// a log directory is configured, to a rotating file as well. The returned
// closer flushes and closes the file.
func SetupLogging(cfg LogConfig, console io.Writer, name string) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	var w io.Writer = console
	var closer io.Closer = nopCloser{}
	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Directory, name+".log"),
			MaxSize:    cfg.MaxSizeMB,
			MaxAge:     cfg.MaxAgeDays,
			MaxBackups: cfg.MaxBackups,
			Compress:   cfg.Compress,
		}
		w = io.MultiWriter(console, rotator)
		closer = rotator
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
