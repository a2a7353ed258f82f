package audio

import (
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const writeChunkFrames = 1 << 16

// WriteWAV16 writes mono samples as 16-bit PCM. Samples are clamped to
// [-1, 1] and scaled by 32767.
func WriteWAV16(path string, samples []float32, fs int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, fs, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: fs},
		SourceBitDepth: 16,
	}
	for off := 0; off < len(samples); off += writeChunkFrames {
		end := off + writeChunkFrames
		if end > len(samples) {
			end = len(samples)
		}
		buf.Data = buf.Data[:0]
		for _, s := range samples[off:end] {
			buf.Data = append(buf.Data, PCM16(s))
		}
		if err := enc.Write(buf); err != nil {
			return fmt.Errorf("failed to write samples: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}

// PCM16 converts a sample to the nearest 16-bit integer value, halves
// rounding away from zero.
func PCM16(s float32) int {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int(math.Round(float64(s) * 32767))
}
