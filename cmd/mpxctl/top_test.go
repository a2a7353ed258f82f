package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dougsko/rdsmpx/pkg/audio"
	"github.com/dougsko/rdsmpx/pkg/protocol"
	"github.com/dougsko/rdsmpx/pkg/stream"
)

func TestStatusLines(t *testing.T) {
	t.Run("Idle", func(t *testing.T) {
		lines := statusLines(&protocol.StatusReport{Stream: stream.Status{Backend: "null"}, Version: "1.0", Uptime: 61})
		assert.Len(t, lines, 2)
		assert.Contains(t, lines[0], "1m1s")
		assert.Contains(t, lines[1], "idle")
	})

	t.Run("Running", func(t *testing.T) {
		cfg := stream.DefaultConfig()
		report := &protocol.StatusReport{
			Stream: stream.Status{
				Running: true, SessionID: 7, Backend: "null", Device: "default",
				SampleRate: 192000, Format: "float32", Channels: 1, Config: &cfg,
			},
			Monitor: &audio.Snapshot{Levels: audio.LevelData{RMSLevel: -20, PeakLevel: -3, Limiting: true}},
		}
		text := strings.Join(statusLines(report), "\n")
		assert.Contains(t, text, "session 7")
		assert.Contains(t, text, "PI 1234")
		assert.Contains(t, text, "LIMIT")
		assert.NotContains(t, text, "capture")

		report.Stream.CaptureDevice = "Monitor of Speakers"
		report.Stream.CaptureRate = 44100
		report.Stream.CaptureStarved = 12
		text = strings.Join(statusLines(report), "\n")
		assert.Contains(t, text, "capture Monitor of Speakers  44100 Hz  dropped 0  starved 12")
	})
}

func TestSpectrumRows(t *testing.T) {
	spec := []float32{0, -50, -100, -200}
	rows := spectrumRows(spec, 4, 4)

	assert.Len(t, rows, 4)
	assert.Equal(t, "|   ", rows[0])
	assert.Equal(t, "||  ", rows[2])
	assert.Equal(t, "||  ", rows[3])

	empty := spectrumRows(nil, 3, 2)
	assert.Equal(t, []string{"   ", "   "}, empty)
}

func TestBandLinesAndAxis(t *testing.T) {
	lines := bandLines(audio.BandLevels{Mono: 0, RDS: -100}, 32)
	assert.Len(t, lines, 5)
	assert.True(t, strings.HasSuffix(lines[0], strings.Repeat("#", 20)))
	assert.False(t, strings.Contains(lines[3], "#"))

	axis := frequencyAxis(audio.SpectrumData{Spectrum: make([]float32, 100), FreqStep: 1000}, 100)
	assert.Len(t, axis, 100)
	assert.Equal(t, "19k", axis[19:22])
	assert.Equal(t, "57k", axis[57:60])
}
