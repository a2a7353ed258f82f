package stream

import (
	"fmt"
	"time"

	"github.com/dougsko/rdsmpx/pkg/audio"
	"github.com/dougsko/rdsmpx/pkg/dsp"
	"github.com/dougsko/rdsmpx/pkg/rds"
)

const (
	// DefaultChunkSize is the most samples the producer generates per
	// iteration.
	DefaultChunkSize = 1024
	// DefaultBufferSeconds sizes the ring relative to the device rate.
	DefaultBufferSeconds = 2.0
	// IdleSleep is how long the producer waits when the ring is full.
	IdleSleep = 5 * time.Millisecond
)

// ErrEmptySource is returned when the program audio has no samples.
var ErrEmptySource = audio.ErrEmptySource

// Config is the immutable description of one session
type Config struct {
	SampleRate int                `json:"sample_rate"`
	Device     string             `json:"device"`
	Source     audio.SourceConfig `json:"source"`
	Identity   rds.Identity       `json:"identity"`

	PilotLevel float64 `json:"pilot_level"`
	RDSLevel   float64 `json:"rds_level"`
	RDS2Level  float64 `json:"rds2_level"`
	EnableRDS2 bool    `json:"enable_rds2"`
	GainDB     float64 `json:"gain_db"`

	// Logo is a framed logo bitstream; LogoPath is loaded when Logo is
	// empty.
	Logo     []byte `json:"-"`
	LogoPath string `json:"logo_path,omitempty"`

	ChunkSize     int     `json:"chunk_size"`
	BufferSeconds float64 `json:"buffer_seconds"`
}

// DefaultConfig returns a looping 30 s 1 kHz test tone at 192 kHz
func DefaultConfig() Config {
	p := dsp.DefaultMPXParams(192000)
	return Config{
		SampleRate: p.SampleRate,
		Device:     "default",
		Source: audio.SourceConfig{
			Kind:     audio.SourceTone,
			ToneHz:   1000,
			LevelDB:  -12,
			Duration: 30,
		},
		Identity:      rds.NewIdentity(0x1234, "RADIO", "Welcome to RADIO"),
		PilotLevel:    p.PilotLevel,
		RDSLevel:      p.RDSLevel,
		RDS2Level:     p.RDS2Level,
		ChunkSize:     DefaultChunkSize,
		BufferSeconds: DefaultBufferSeconds,
	}
}

// MPXParams returns the composer parameters at sample rate fs
func (c Config) MPXParams(fs int) dsp.MPXParams {
	return dsp.MPXParams{
		SampleRate: fs,
		PilotLevel: c.PilotLevel,
		RDSLevel:   c.RDSLevel,
		RDS2Level:  c.RDS2Level,
		EnableRDS2: c.EnableRDS2,
		GainDB:     c.GainDB,
	}
}

// Validate checks the parts of the configuration that do not need a
// device
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	}
	if c.PilotLevel < 0 || c.RDSLevel < 0 || c.RDS2Level < 0 {
		return fmt.Errorf("injection levels must not be negative")
	}
	if c.Identity.PTY > 31 {
		return fmt.Errorf("PTY %d out of range 0-31", c.Identity.PTY)
	}
	switch c.Source.Kind {
	case audio.SourceTone:
		if c.Source.Duration <= 0 {
			return fmt.Errorf("tone duration must be positive")
		}
	case audio.SourceFile:
		if c.Source.Path == "" {
			return fmt.Errorf("file source requires a path")
		}
	case audio.SourceCapture:
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.BufferSeconds <= 0 {
		c.BufferSeconds = DefaultBufferSeconds
	}
	c.Identity.PS = rds.NormalizePS(c.Identity.PS)
	c.Identity.RT = rds.NormalizeRT(c.Identity.RT)
	return c
}

// logoBits returns the framed logo, loading LogoPath if needed. The logo
// rides on the RDS2 streams only; with RDS2 off there is none.
func (c Config) logoBits() ([]byte, error) {
	if !c.EnableRDS2 {
		return nil, nil
	}
	if len(c.Logo) > 0 || c.LogoPath == "" {
		return c.Logo, nil
	}
	bits, err := rds.LoadLogo(c.LogoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load logo: %w", err)
	}
	return bits, nil
}
