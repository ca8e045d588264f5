package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/james-see/sampledump/pkg/transfer"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sampledump.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeFile(t, `
device:
  profile: generic
  channel: 3
  in: "MIDI In"
transfer:
  headerTimeout: 5s
  nakRetries: 2
logs:
  directory: logs
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := transfer.DefaultConfig()

	if cfg.Device.Profile != "generic" || cfg.Device.Channel != 3 || cfg.Device.In != "MIDI In" {
		t.Errorf("device = %+v", cfg.Device)
	}
	if cfg.Device.Mode != "auto" || cfg.Device.Turbo != 1 {
		t.Errorf("device defaults = %+v", cfg.Device)
	}
	if cfg.Transfer.HeaderTimeout != 5*time.Second || cfg.Transfer.NakRetries != 2 {
		t.Errorf("transfer overrides lost: %+v", cfg.Transfer)
	}
	if cfg.Transfer.PacketTimeout != def.PacketTimeout || cfg.Transfer.SettleDelay != def.SettleDelay {
		t.Errorf("transfer defaults missing: %+v", cfg.Transfer)
	}
	if want := filepath.Join(filepath.Dir(path), "logs"); cfg.Logs.Directory != want {
		t.Errorf("log dir = %q, want %q", cfg.Logs.Directory, want)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.Profile != "machinedrum" {
		t.Errorf("profile = %q", cfg.Device.Profile)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown field", "device:\n  colour: red\n"},
		{"channel", "device:\n  channel: 200\n"},
		{"mode", "device:\n  mode: sideways\n"},
		{"turbo", "device:\n  turbo: 12\n  maxTurbo: 10\n"},
		{"level", "logs:\n  level: loud\n"},
		{"duration", "transfer:\n  headerTimeout: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, tt.body)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestSetupLogging(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	logger, closer, err := SetupLogging(LogConfig{Level: "debug", Directory: dir, MaxSizeMB: 1}, &console, "test")
	if err != nil {
		t.Fatalf("SetupLogging: %v", err)
	}
	logger.Debug("transfer: hello", "slot", 3)
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(console.String(), "transfer: hello") {
		t.Errorf("console = %q", console.String())
	}
	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	if err != nil {
		t.Fatalf("log file: %v", err)
	}
	if !strings.Contains(string(data), "slot=3") {
		t.Errorf("log file = %q", data)
	}
}

func TestSetupLoggingConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	logger, closer, err := SetupLogging(LogConfig{Level: "warn"}, &console, "test")
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(console.String(), "hidden") || !strings.Contains(console.String(), "shown") {
		t.Errorf("console = %q", console.String())
	}
}
