// Package dsp implements the signal path: differential BPSK with
// raised-cosine shaping for the RDS subcarriers and the stereo MPX
// composition around it.
package dsp

import (
	"errors"
	"fmt"
	"math"
)

const (
	// RollOff is the raised-cosine excess bandwidth.
	RollOff = 0.5
	// MinTaps is the shortest pulse-shaping filter used.
	MinTaps = 41
	// MinSamplesPerSymbol is the lowest oversampling that still leaves
	// room for the shaped pulse.
	MinSamplesPerSymbol = 4
)

// ErrInsufficientOversampling is returned when the sample rate is too low
// for the RDS bit rate.
var ErrInsufficientOversampling = errors.New("sample rate too low for RDS subcarrier")

// DifferentialEncode maps bits to +-1 symbols. The phase starts at +1 and
// inverts on every 1 bit.
func DifferentialEncode(bits []byte) []float64 {
	out := make([]float64, len(bits))
	phase := 1.0
	for i, b := range bits {
		if b != 0 {
			phase = -phase
		}
		out[i] = phase
	}
	return out
}

// SamplesPerSymbol returns the rounded oversampling factor.
func SamplesPerSymbol(fs, bitRate float64) (int, error) {
	sps := fs / bitRate
	if sps < MinSamplesPerSymbol {
		return 0, fmt.Errorf("%w: %.0f Hz gives %.2f samples per symbol, need %d",
			ErrInsufficientOversampling, fs, sps, MinSamplesPerSymbol)
	}
	return int(math.Round(sps)), nil
}

// NumTaps is the pulse-shaping filter length for sps: six symbols wide,
// odd, and never shorter than MinTaps.
func NumTaps(sps int) int {
	n := (6 * sps) | 1
	if n < MinTaps {
		return MinTaps
	}
	return n
}

// Upsample places each symbol at the start of its sps-sample period and
// fills the rest with zeros.
func Upsample(symbols []float64, sps int) []float64 {
	out := make([]float64, len(symbols)*sps)
	for k, s := range symbols {
		out[k*sps] = s
	}
	return out
}

// Baseband returns the shaped symbol stream for bits, limited to n
// samples (n < 0 means the full length).
func Baseband(bits []byte, fs, bitRate float64, n int) ([]float64, error) {
	sps, err := SamplesPerSymbol(fs, bitRate)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		n = len(bits) * sps
	}
	taps := RaisedCosine(NumTaps(sps), RollOff, sps)
	return ShapeSymbols(DifferentialEncode(bits), sps, taps, n), nil
}

// Mix multiplies baseband by cos(2*pi*freq*t) in place, t = i/fs.
func Mix(baseband []float64, fs, freq float64) []float64 {
	w := 2 * math.Pi * freq / fs
	for i := range baseband {
		baseband[i] *= math.Cos(w * float64(i))
	}
	return baseband
}

// BPSKSubcarrier modulates bits onto a carrier at carrierHz.
func BPSKSubcarrier(bits []byte, fs, carrierHz, bitRate float64) ([]float64, error) {
	bb, err := Baseband(bits, fs, bitRate, -1)
	if err != nil {
		return nil, err
	}
	return Mix(bb, fs, carrierHz), nil
}
