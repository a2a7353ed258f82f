package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dougsko/rdsmpx/pkg/audio"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rdsmpx.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("Valid Config", func(t *testing.T) {
		path := writeConfig(t, `
station:
  pi: "0xC0DE"
  ps: "KXYZ FM"
  rt: "Now playing"
  pty: 10

mpx:
  sample_rate: 228000
  pilot_level: 0.09
  rds_level: 0.04
  rds2_level: 0.02
  enable_rds2: true
  level_mpx_db: -3
  logo: "/etc/rdsmpx/logo.png"

audio:
  backend: "null"
  output_device: "USB"
  input_file: "/srv/program.wav"

web:
  port: 9090

logging:
  level: "debug"
  console: true
`)
		config, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if config.Station.PI != "0xC0DE" {
			t.Errorf("Expected pi 0xC0DE, got %s", config.Station.PI)
		}
		if config.MPX.SampleRate != 228000 {
			t.Errorf("Expected sample rate 228000, got %d", config.MPX.SampleRate)
		}
		if !config.MPX.EnableRDS2 || config.MPX.RDS2Level != 0.02 {
			t.Errorf("Expected RDS2 enabled at 0.02, got %t %v", config.MPX.EnableRDS2, config.MPX.RDS2Level)
		}
		if config.Audio.Source != "file" {
			t.Errorf("Expected file source inferred from input_file, got %s", config.Audio.Source)
		}
		if config.Web.Port != 9090 {
			t.Errorf("Expected web port 9090, got %d", config.Web.Port)
		}
		if config.Logging.Level != "debug" || !config.Logging.Console {
			t.Errorf("Unexpected logging section %+v", config.Logging)
		}
		if err := config.Validate(); err != nil {
			t.Errorf("Expected valid config, got %v", err)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		config, err := LoadConfig(writeConfig(t, "station:\n  ps: \"TEST\"\n"))
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if config.MPX.SampleRate != 192000 {
			t.Errorf("Expected default sample rate 192000, got %d", config.MPX.SampleRate)
		}
		if config.MPX.PilotLevel != 0.08 || config.MPX.RDSLevel != 0.03 || config.MPX.RDS2Level != 0.01 {
			t.Errorf("Unexpected default levels %+v", config.MPX)
		}
		if config.Audio.Source != "tone" || config.Audio.ToneHz != 1000 || config.Audio.ToneLevelDB != -12 {
			t.Errorf("Unexpected default source %+v", config.Audio)
		}
		if config.Audio.Backend != "auto" || config.Audio.OutputDevice != "default" {
			t.Errorf("Unexpected default device %+v", config.Audio)
		}
		if config.Web.Port != 8080 || config.API.UnixSocket == "" || config.Storage.DatabasePath == "" {
			t.Error("Expected default web, api and storage settings")
		}
		if config.Station.PI != "1234" {
			t.Errorf("Expected default pi 1234, got %s", config.Station.PI)
		}
	})

	t.Run("Explicit Zero Pilot Kept", func(t *testing.T) {
		config, err := LoadConfig(writeConfig(t, "mpx:\n  pilot_level: 0\n  rds_level: 0.05\n"))
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if config.MPX.PilotLevel != 0 || config.MPX.RDSLevel != 0.05 {
			t.Errorf("Expected levels 0 and 0.05, got %v and %v", config.MPX.PilotLevel, config.MPX.RDSLevel)
		}
	})

	t.Run("Missing File", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
			t.Errorf("Expected read error, got %v", err)
		}
	})

	t.Run("Invalid YAML", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "station: [unclosed"))
		if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
			t.Errorf("Expected parse error, got %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"Bad PI", func(c *Config) { c.Station.PI = "XYZ" }, "station pi"},
		{"PI Too Large", func(c *Config) { c.Station.PI = "12345" }, "station pi"},
		{"PTY", func(c *Config) { c.Station.PTY = 40 }, "pty"},
		{"Sample Rate", func(c *Config) { c.MPX.SampleRate = -1 }, "sample_rate"},
		{"Negative Level", func(c *Config) { c.MPX.RDSLevel = -0.1 }, "levels"},
		{"Source", func(c *Config) { c.Audio.Source = "line-in" }, "tone, file or capture"},
		{"File Source Without Path", func(c *Config) { c.Audio.Source = "file" }, "input_file"},
		{"Backend", func(c *Config) { c.Audio.Backend = "jack" }, "backend"},
		{"Port", func(c *Config) { c.Web.Port = 70000 }, "port"},
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config should validate, got %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got %v", tt.errMsg, err)
			}
		})
	}
}

func TestStreamConfig(t *testing.T) {
	c := Default()
	c.Station.PI = "0xBEEF"
	c.Station.PS = "A VERY LONG NAME"
	c.Station.PTY = 5
	c.Station.TP = true
	c.MPX.LevelMPXDB = -6
	c.MPX.EnableRDS2 = true
	c.Audio.LowpassHz = 15000

	sc, err := c.StreamConfig()
	if err != nil {
		t.Fatalf("StreamConfig failed: %v", err)
	}
	if sc.Identity.PI != 0xBEEF || sc.Identity.PS != "A VERY L" || len(sc.Identity.RT) != 64 {
		t.Errorf("Unexpected identity %+v", sc.Identity)
	}
	if sc.Identity.PTY != 5 || !sc.Identity.TP {
		t.Errorf("Expected PTY 5 and TP, got %+v", sc.Identity)
	}
	if sc.SampleRate != 192000 || sc.GainDB != -6 || !sc.EnableRDS2 {
		t.Errorf("Unexpected MPX settings %+v", sc)
	}
	if sc.Source.Kind != audio.SourceTone || sc.Source.LowpassHz != 15000 || sc.Source.Duration != 30 {
		t.Errorf("Unexpected source %+v", sc.Source)
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("Expected valid stream config, got %v", err)
	}

	c.Audio.Source = "capture"
	c.Audio.CaptureDevice = "Monitor of Speakers"
	if err := c.Validate(); err != nil {
		t.Fatalf("Capture source should validate, got %v", err)
	}
	sc, err = c.StreamConfig()
	if err != nil || sc.Source.Kind != audio.SourceCapture || sc.Source.Device != "Monitor of Speakers" {
		t.Errorf("Unexpected capture source %+v (%v)", sc.Source, err)
	}

	c.Station.PI = "bad"
	if _, err := c.StreamConfig(); err == nil {
		t.Error("Expected error for bad PI")
	}
}
