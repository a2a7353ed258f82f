package dsp

import (
	"fmt"
	"math"
)

// BitSource supplies RDS bits to a Generator. Take must return exactly n
// bits.
type BitSource interface {
	Take(n int) []byte
}

// BitsForSamples is the number of RDS bits spanned by n samples at fs.
func BitsForSamples(n, fs int) int {
	return int(math.Ceil(float64(n) / float64(fs) * RDSBitRate))
}

// Generator composes the multiplex chunk by chunk. Carrier phase, symbol
// timing and differential phase carry over between calls, so consecutive
// chunks join without discontinuities. It is used by one goroutine.
type Generator struct {
	p    MPXParams
	bits BitSource
	gain float64

	sps  int
	half int
	taps []float64

	pos     int64     // absolute index of the next output sample
	phase   float64   // differential phase of the newest symbol
	symBase int64     // absolute index of symbols[0]
	symbols []float64 // symbols still inside the filter span
	bb      []float64
}

// NewGenerator returns a streaming generator. bits may be nil to omit the
// data subcarriers.
func NewGenerator(p MPXParams, bits BitSource) (*Generator, error) {
	if p.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", p.SampleRate)
	}
	g := &Generator{p: p, bits: bits, gain: DBToLinear(p.GainDB), phase: 1}
	if bits != nil {
		sps, err := SamplesPerSymbol(float64(p.SampleRate), RDSBitRate)
		if err != nil {
			return nil, err
		}
		g.sps = sps
		g.taps = RaisedCosine(NumTaps(sps), RollOff, sps)
		g.half = len(g.taps) / 2
	}
	return g, nil
}

// Position returns the number of samples generated so far.
func (g *Generator) Position() int64 { return g.pos }

// SamplesPerSymbol returns the oversampling in use, 0 without RDS.
func (g *Generator) SamplesPerSymbol() int { return g.sps }

// Generate writes len(left) multiplex samples into out.
func (g *Generator) Generate(left, right, out []float32) error {
	n := len(left)
	if len(right) != n {
		return fmt.Errorf("%w: %d vs %d", ErrChannelMismatch, n, len(right))
	}
	if len(out) < n {
		return fmt.Errorf("output buffer holds %d samples, need %d", len(out), n)
	}
	if n == 0 {
		return nil
	}

	if g.bits != nil {
		g.shape(n)
	}

	fs := int64(g.p.SampleRate)
	for i := 0; i < n; i++ {
		t := float64((g.pos+int64(i))%fs) / float64(fs)
		v := stereo(left[i], right[i], t, g.p.PilotLevel)
		if g.bits != nil {
			v += dataSubcarriers(g.bb[i], t, g.p)
		}
		out[i] = float32(Clamp(g.gain*v, ClampLevel))
	}
	g.pos += int64(n)
	return nil
}

// shape fills g.bb with the baseband for the next n samples, pulling new
// symbols as their pulses enter the filter span.
func (g *Generator) shape(n int) {
	sps, half := int64(g.sps), int64(g.half)
	end := g.pos + int64(n) - 1

	need := (end+half)/sps + 1 - (g.symBase + int64(len(g.symbols)))
	if need > 0 {
		for _, b := range g.bits.Take(int(need)) {
			if b != 0 {
				g.phase = -g.phase
			}
			g.symbols = append(g.symbols, g.phase)
		}
	}

	if cap(g.bb) < n {
		g.bb = make([]float64, n)
	}
	g.bb = g.bb[:n]
	for i := range g.bb {
		abs := g.pos + int64(i)
		kmin := ceilDiv64(abs-half, sps)
		if kmin < g.symBase {
			kmin = g.symBase
		}
		kmax := (abs + half) / sps
		var acc float64
		for k := kmin; k <= kmax; k++ {
			acc += g.symbols[k-g.symBase] * g.taps[abs-k*sps+half]
		}
		g.bb[i] = acc
	}

	// Keep only symbols that still reach the next chunk.
	keep := ceilDiv64(end+1-half, sps)
	if drop := keep - g.symBase; drop > 0 {
		if drop > int64(len(g.symbols)) {
			drop = int64(len(g.symbols))
		}
		g.symbols = append(g.symbols[:0], g.symbols[drop:]...)
		g.symBase += drop
	}
}

func ceilDiv64(a, b int64) int64 {
	if a >= 0 {
		return (a + b - 1) / b
	}
	return -((-a) / b)
}
