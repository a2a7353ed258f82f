package stream

import (
	"fmt"
	"math"

	"github.com/dougsko/rdsmpx/pkg/audio"
	"github.com/dougsko/rdsmpx/pkg/dsp"
	"github.com/dougsko/rdsmpx/pkg/rds"
)

// offlineBitSlack over-generates bits so the data subcarrier outlasts the
// audio
const offlineBitSlack = 1.1

// Render composes the whole program described by cfg at cfg.SampleRate
// without a device
func Render(cfg Config) ([]float32, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream config: %w", err)
	}
	cfg = cfg.withDefaults()

	src, err := audio.Load(cfg.Source, cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare source: %w", err)
	}
	logo, err := cfg.logoBits()
	if err != nil {
		return nil, err
	}

	seconds := float64(src.Len()) / float64(cfg.SampleRate)
	bits := rds.NewSequencer(cfg.Identity, logo).Generate(int(math.Ceil(seconds * dsp.RDSBitRate * offlineBitSlack)))
	return dsp.ComposeMPX(src.Left, src.Right, cfg.MPXParams(cfg.SampleRate), bits)
}

// RenderToFile renders cfg and writes it as 16-bit mono WAV. It returns
// the number of samples written.
func RenderToFile(cfg Config, path string) (int, error) {
	mpx, err := Render(cfg)
	if err != nil {
		return 0, err
	}
	if err := audio.WriteWAV16(path, mpx, cfg.SampleRate); err != nil {
		return 0, err
	}
	return len(mpx), nil
}
