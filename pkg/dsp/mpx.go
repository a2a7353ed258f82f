package dsp

import (
	"errors"
	"fmt"
	"math"
)

// Subcarrier frequencies in Hz.
const (
	PilotHz  = 19000.0
	StereoHz = 38000.0
	RDSHz    = 57000.0

	// RDSBitRate is the RDS data rate in bits per second.
	RDSBitRate = 1187.5

	// ClampLevel bounds every output sample.
	ClampLevel = 0.999
)

// RDS2Carriers are the additional RDS2 subcarriers, all fed the same bits.
var RDS2Carriers = [3]float64{66500, 76000, 85500}

// ErrChannelMismatch is returned when left and right differ in length.
var ErrChannelMismatch = errors.New("left and right channel lengths differ")

// MPXParams controls the composition. Levels are linear amplitudes.
type MPXParams struct {
	SampleRate int
	PilotLevel float64
	RDSLevel   float64
	RDS2Level  float64
	EnableRDS2 bool
	GainDB     float64
}

// DefaultMPXParams returns the stock levels at fs.
func DefaultMPXParams(fs int) MPXParams {
	return MPXParams{
		SampleRate: fs,
		PilotLevel: 0.08,
		RDSLevel:   0.03,
		RDS2Level:  0.01,
	}
}

// DBToLinear converts a level in dB to an amplitude factor.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// Clamp limits x to +-limit.
func Clamp(x, limit float64) float64 {
	if x > limit {
		return limit
	}
	if x < -limit {
		return -limit
	}
	return x
}

// ComposeMPX builds the multiplex from a stereo pair and an RDS bit
// sequence. bits may be empty, in which case no data subcarrier is added.
// A subcarrier shorter than the audio contributes nothing past its end.
func ComposeMPX(left, right []float32, p MPXParams, bits []byte) ([]float32, error) {
	if len(left) != len(right) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrChannelMismatch, len(left), len(right))
	}
	fs := float64(p.SampleRate)
	n := len(left)

	var bb []float64
	if len(bits) > 0 {
		var err error
		bb, err = Baseband(bits, fs, RDSBitRate, n)
		if err != nil {
			return nil, err
		}
	}

	gain := DBToLinear(p.GainDB)
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		t := float64(i) / fs
		var sub float64
		if i < len(bb) {
			sub = dataSubcarriers(bb[i], t, p)
		}
		out[i] = float32(Clamp(gain*(stereo(left[i], right[i], t, p.PilotLevel)+sub), ClampLevel))
	}
	return out, nil
}

func stereo(l, r float32, t, pilotLevel float64) float64 {
	mid := 0.5 * (float64(l) + float64(r))
	side := float64(l) - float64(r)
	pilot := pilotLevel * math.Sin(2*math.Pi*PilotHz*t)
	return mid + pilot + side*math.Cos(2*math.Pi*StereoHz*t)
}

func dataSubcarriers(bb, t float64, p MPXParams) float64 {
	if bb == 0 {
		return 0
	}
	v := p.RDSLevel * bb * math.Cos(2*math.Pi*RDSHz*t)
	if p.EnableRDS2 {
		for _, f := range RDS2Carriers {
			v += p.RDS2Level * bb * math.Cos(2*math.Pi*f*t)
		}
	}
	return v
}
