package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/dougsko/rdsmpx/pkg/audio"
	"github.com/dougsko/rdsmpx/pkg/logging"
	"github.com/dougsko/rdsmpx/pkg/rds"
	"github.com/dougsko/rdsmpx/pkg/stream"
)

// Config represents the rdsmpx configuration
type Config struct {
	Station struct {
		PI  string `yaml:"pi"` // hex, e.g. "1234" or "0x1234"
		PS  string `yaml:"ps"`
		RT  string `yaml:"rt"`
		PTY int    `yaml:"pty"`
		TP  bool   `yaml:"tp"`
	} `yaml:"station"`

	MPX struct {
		SampleRate int     `yaml:"sample_rate"`
		PilotLevel float64 `yaml:"pilot_level"`
		RDSLevel   float64 `yaml:"rds_level"`
		RDS2Level  float64 `yaml:"rds2_level"`
		EnableRDS2 bool    `yaml:"enable_rds2"`
		LevelMPXDB float64 `yaml:"level_mpx_db"`
		Logo       string  `yaml:"logo"`
	} `yaml:"mpx"`

	Audio struct {
		Backend       string  `yaml:"backend"` // auto, null or portaudio
		OutputDevice  string  `yaml:"output_device"`
		Source        string  `yaml:"source"` // tone, file or capture
		ToneHz        float64 `yaml:"tone_hz"`
		ToneLevelDB   float64 `yaml:"tone_level_db"`
		Duration      float64 `yaml:"duration"`
		InputFile     string  `yaml:"input_file"`
		CaptureDevice string  `yaml:"capture_device"`
		LowpassHz     float64 `yaml:"lowpass_hz"`
		ChunkSize     int     `yaml:"chunk_size"`
		BufferSeconds float64 `yaml:"buffer_seconds"`
		MonitorFFT    int     `yaml:"monitor_fft"`
	} `yaml:"audio"`

	Web struct {
		Port        int    `yaml:"port"`
		BindAddress string `yaml:"bind_address"`
	} `yaml:"web"`

	API struct {
		UnixSocket string `yaml:"unix_socket"`
	} `yaml:"api"`

	Storage struct {
		DatabasePath string `yaml:"database_path"`
		MaxSessions  int    `yaml:"max_sessions"`
		UploadDir    string `yaml:"upload_dir"`
	} `yaml:"storage"`

	Logging logging.Config `yaml:"logging"`

	Hardware struct {
		EnableGPIO bool   `yaml:"enable_gpio"`
		OnAirPin   string `yaml:"on_air_pin"`
	} `yaml:"hardware"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Station.PI == "" {
		c.Station.PI = "1234"
	}
	if c.Station.PS == "" {
		c.Station.PS = "RADIO"
	}
	if c.Station.RT == "" {
		c.Station.RT = "Welcome to RADIO"
	}
	if c.MPX.SampleRate == 0 {
		c.MPX.SampleRate = 192000
	}
	// Zero injection is legitimate, so only the all-zero (unset) case is
	// defaulted
	if c.MPX.PilotLevel == 0 && c.MPX.RDSLevel == 0 && c.MPX.RDS2Level == 0 {
		c.MPX.PilotLevel = 0.08
		c.MPX.RDSLevel = 0.03
		c.MPX.RDS2Level = 0.01
	}
	if c.Audio.Backend == "" {
		c.Audio.Backend = "auto"
	}
	if c.Audio.OutputDevice == "" {
		c.Audio.OutputDevice = "default"
	}
	if c.Audio.Source == "" {
		if c.Audio.InputFile != "" {
			c.Audio.Source = string(audio.SourceFile)
		} else {
			c.Audio.Source = string(audio.SourceTone)
		}
	}
	if c.Audio.ToneHz == 0 {
		c.Audio.ToneHz = 1000
	}
	if c.Audio.ToneLevelDB == 0 {
		c.Audio.ToneLevelDB = -12
	}
	if c.Audio.Duration == 0 {
		c.Audio.Duration = 30
	}
	if c.Audio.ChunkSize == 0 {
		c.Audio.ChunkSize = stream.DefaultChunkSize
	}
	if c.Audio.BufferSeconds == 0 {
		c.Audio.BufferSeconds = stream.DefaultBufferSeconds
	}
	if c.Audio.MonitorFFT == 0 {
		c.Audio.MonitorFFT = 8192
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = "0.0.0.0"
	}
	if c.API.UnixSocket == "" {
		c.API.UnixSocket = "/tmp/rdsmpx.sock"
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./rdsmpx.db"
	}
	if c.Storage.MaxSessions == 0 {
		c.Storage.MaxSessions = 1000
	}
	if c.Storage.UploadDir == "" {
		c.Storage.UploadDir = "./uploads"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 28
	}
	if c.Hardware.OnAirPin == "" {
		c.Hardware.OnAirPin = "GPIO17"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, err := rds.ParsePI(c.Station.PI); err != nil {
		return fmt.Errorf("station pi: %w", err)
	}
	if c.Station.PTY < 0 || c.Station.PTY > 31 {
		return fmt.Errorf("station pty must be 0-31, got %d", c.Station.PTY)
	}
	if c.MPX.SampleRate <= 0 {
		return fmt.Errorf("mpx sample_rate must be positive")
	}
	if c.MPX.PilotLevel < 0 || c.MPX.RDSLevel < 0 || c.MPX.RDS2Level < 0 {
		return fmt.Errorf("mpx levels must not be negative")
	}
	switch audio.SourceKind(c.Audio.Source) {
	case audio.SourceTone:
	case audio.SourceFile:
		if c.Audio.InputFile == "" {
			return fmt.Errorf("audio input_file is required for a file source")
		}
	case audio.SourceCapture:
	default:
		return fmt.Errorf("audio source must be tone, file or capture, got %q", c.Audio.Source)
	}
	switch c.Audio.Backend {
	case "auto", "null", "portaudio":
	default:
		return fmt.Errorf("audio backend must be auto, null or portaudio, got %q", c.Audio.Backend)
	}
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web port %d out of range", c.Web.Port)
	}
	return nil
}

// StreamConfig builds the session configuration described by the file
func (c *Config) StreamConfig() (stream.Config, error) {
	pi, err := rds.ParsePI(c.Station.PI)
	if err != nil {
		return stream.Config{}, fmt.Errorf("station pi: %w", err)
	}

	id := rds.NewIdentity(pi, c.Station.PS, c.Station.RT)
	id.PTY = uint8(c.Station.PTY)
	id.TP = c.Station.TP

	return stream.Config{
		SampleRate: c.MPX.SampleRate,
		Device:     c.Audio.OutputDevice,
		Source: audio.SourceConfig{
			Kind:      audio.SourceKind(c.Audio.Source),
			ToneHz:    c.Audio.ToneHz,
			LevelDB:   c.Audio.ToneLevelDB,
			Duration:  c.Audio.Duration,
			Path:      c.Audio.InputFile,
			Device:    c.Audio.CaptureDevice,
			LowpassHz: c.Audio.LowpassHz,
		},
		Identity:      id,
		PilotLevel:    c.MPX.PilotLevel,
		RDSLevel:      c.MPX.RDSLevel,
		RDS2Level:     c.MPX.RDS2Level,
		EnableRDS2:    c.MPX.EnableRDS2,
		GainDB:        c.MPX.LevelMPXDB,
		LogoPath:      c.MPX.Logo,
		ChunkSize:     c.Audio.ChunkSize,
		BufferSeconds: c.Audio.BufferSeconds,
	}, nil
}
