// Package audio prepares program audio for the multiplex (tones, WAV files,
// resampling, lowpass), writes rendered output and monitors the result.
package audio

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/wav"
	"gonum.org/v1/gonum/interp"

	"github.com/dougsko/rdsmpx/pkg/dsp"
)

var (
	// ErrUnsupportedFormat is returned for input files that are not PCM WAV
	// with one or two channels.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrEmptySource is returned when a source yields no samples.
	ErrEmptySource = errors.New("audio source is empty")
)

// SourceKind selects where program audio comes from
type SourceKind string

const (
	SourceTone SourceKind = "tone"
	SourceFile SourceKind = "file"
	// SourceCapture records a live input device, usually the host's
	// loopback monitor. It has no fixed length and cannot be loaded.
	SourceCapture SourceKind = "capture"
)

// ErrLiveSource is returned by Load for sources that only exist in real time.
var ErrLiveSource = errors.New("live source cannot be loaded")

// LowpassTaps is the length of the optional program lowpass filter.
const LowpassTaps = 513

// SourceConfig describes the program audio of a session
type SourceConfig struct {
	Kind      SourceKind `json:"kind"`
	ToneHz    float64    `json:"tone_hz"`
	LevelDB   float64    `json:"level_db"`
	Duration  float64    `json:"duration"` // seconds, tone only
	Path      string     `json:"path,omitempty"`
	Device    string     `json:"capture_device,omitempty"` // capture only
	LowpassHz float64    `json:"lowpass_hz"` // 0 disables
}

// Stereo holds two equal-length channels of samples in [-1, 1]
type Stereo struct {
	Left  []float32
	Right []float32
}

// Len returns the number of frames
func (s Stereo) Len() int { return len(s.Left) }

// Tone returns a sine at freq Hz on both channels, amplitude 10^(levelDB/20)
func Tone(freq, duration, levelDB float64, fs int) Stereo {
	n := int(math.Round(duration * float64(fs)))
	if n < 0 {
		n = 0
	}
	amp := dsp.DBToLinear(levelDB)
	left := make([]float32, n)
	w := 2 * math.Pi * freq / float64(fs)
	for i := range left {
		left[i] = float32(amp * math.Sin(w*float64(i)))
	}
	right := make([]float32, n)
	copy(right, left)
	return Stereo{Left: left, Right: right}
}

// ReadWAV decodes a PCM WAV file. Mono input is duplicated to both channels.
func ReadWAV(path string) (Stereo, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stereo{}, 0, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return Stereo{}, 0, fmt.Errorf("%w: %s is not a WAV file", ErrUnsupportedFormat, path)
	}
	if d.WavAudioFormat != 1 {
		return Stereo{}, 0, fmt.Errorf("%w: WAV encoding %d, only PCM is supported", ErrUnsupportedFormat, d.WavAudioFormat)
	}
	channels := int(d.NumChans)
	if channels < 1 || channels > 2 {
		return Stereo{}, 0, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, channels)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Stereo{}, 0, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	bits := buf.SourceBitDepth
	scale := 1 / math.Pow(2, float64(bits-1))
	offset := 0
	if bits == 8 {
		offset = 128 // 8-bit WAV is unsigned
	}

	frames := len(buf.Data) / channels
	st := Stereo{Left: make([]float32, frames), Right: make([]float32, frames)}
	for i := 0; i < frames; i++ {
		l := float64(buf.Data[i*channels]-offset) * scale
		r := l
		if channels == 2 {
			r = float64(buf.Data[i*channels+1]-offset) * scale
		}
		st.Left[i] = float32(l)
		st.Right[i] = float32(r)
	}
	return st, int(d.SampleRate), nil
}

// resampleBlock bounds the number of input points fitted at once.
const resampleBlock = 1 << 16

// Resample converts st from one rate to another by linear interpolation.
// The first and last samples stay aligned.
func Resample(st Stereo, from, to int) Stereo {
	if from == to || st.Len() < 2 {
		return st
	}
	n := st.Len()
	m := int(math.Round(float64(n) * float64(to) / float64(from)))
	if m < 2 {
		m = 2
	}
	return Stereo{
		Left:  resampleLinear(st.Left, m),
		Right: resampleLinear(st.Right, m),
	}
}

func resampleLinear(in []float32, m int) []float32 {
	n := len(in)
	out := make([]float32, m)
	step := float64(n-1) / float64(m-1)

	var pl interp.PiecewiseLinear
	xs := make([]float64, 0, resampleBlock+1)
	ys := make([]float64, 0, resampleBlock+1)
	start, end := -1, -1

	for j := range out {
		x := float64(j) * step
		if x > float64(n-1) {
			x = float64(n - 1)
		}
		if start < 0 || x > float64(end) {
			start = int(x)
			if start > n-2 {
				start = n - 2
			}
			end = start + resampleBlock
			if end > n-1 {
				end = n - 1
			}
			xs, ys = xs[:0], ys[:0]
			for i := start; i <= end; i++ {
				xs = append(xs, float64(i))
				ys = append(ys, float64(in[i]))
			}
			if err := pl.Fit(xs, ys); err != nil {
				panic(fmt.Sprintf("audio: linear fit over %d points: %v", len(xs), err))
			}
		}
		out[j] = float32(pl.Predict(x))
	}
	return out
}

// Lowpass filters both channels with a windowed-sinc FIR at cutoff Hz.
func Lowpass(st Stereo, fs int, cutoff float64) Stereo {
	taps := dsp.LowpassFIR(LowpassTaps, cutoff, float64(fs))
	return Stereo{
		Left:  filterChannel(st.Left, taps),
		Right: filterChannel(st.Right, taps),
	}
}

func filterChannel(x []float32, taps []float64) []float32 {
	in := make([]float64, len(x))
	for i, v := range x {
		in[i] = float64(v)
	}
	y := dsp.ConvolveSame(in, taps)
	out := make([]float32, len(y))
	for i, v := range y {
		out[i] = float32(v)
	}
	return out
}

// Load produces the program audio for cfg at sample rate fs.
func Load(cfg SourceConfig, fs int) (Stereo, error) {
	var st Stereo
	switch cfg.Kind {
	case SourceTone:
		if cfg.Duration <= 0 {
			return Stereo{}, fmt.Errorf("tone duration must be positive, got %g", cfg.Duration)
		}
		st = Tone(cfg.ToneHz, cfg.Duration, cfg.LevelDB, fs)
	case SourceFile:
		if cfg.Path == "" {
			return Stereo{}, fmt.Errorf("file source requires a path")
		}
		in, rate, err := ReadWAV(cfg.Path)
		if err != nil {
			return Stereo{}, err
		}
		st = Resample(in, rate, fs)
	case SourceCapture:
		return Stereo{}, fmt.Errorf("%w: %s", ErrLiveSource, cfg.Kind)
	default:
		return Stereo{}, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}

	if st.Len() == 0 {
		return Stereo{}, ErrEmptySource
	}
	if cfg.LowpassHz > 0 && cfg.LowpassHz < float64(fs)/2 {
		st = Lowpass(st, fs, cfg.LowpassHz)
	}
	return st, nil
}
