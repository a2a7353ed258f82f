package dsp

import (
	"math"

	"github.com/tphakala/simd/f64"
)

// RaisedCosine returns a numTaps-long raised-cosine pulse with roll-off
// beta for sps samples per symbol, normalized to unit sum.
func RaisedCosine(numTaps int, beta float64, sps int) []float64 {
	h := make([]float64, numTaps)
	center := float64(numTaps-1) / 2
	for i := range h {
		t := (float64(i) - center) / float64(sps)
		denom := 1 - (2*beta*t)*(2*beta*t)
		if math.Abs(denom) < 1e-8 {
			h[i] = math.Pi / 4 * sinc(1/(2*beta))
			continue
		}
		h[i] = sinc(t) * math.Cos(math.Pi*beta*t) / denom
	}
	normalize(h)
	return h
}

// LowpassFIR designs a Hamming-windowed sinc lowpass with unit DC gain.
func LowpassFIR(numTaps int, cutoff, fs float64) []float64 {
	h := make([]float64, numTaps)
	fc := 2 * cutoff / fs
	center := float64(numTaps-1) / 2
	for i := range h {
		n := float64(i) - center
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(numTaps-1))
		h[i] = fc * sinc(fc*n) * w
	}
	normalize(h)
	return h
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

func normalize(h []float64) {
	if s := f64.Sum(h); s != 0 {
		f64.Scale(h, h, 1/s)
	}
}

// ConvolveSame convolves signal with an odd-length kernel and returns an
// output of the same length, centered on the kernel midpoint:
// out[n] = sum kernel[j] * signal[n+half-j]. Samples outside the signal
// are treated as zero.
func ConvolveSame(signal, kernel []float64) []float64 {
	out := make([]float64, len(signal))
	half := len(kernel) / 2
	rev := make([]float64, len(kernel))
	for j, v := range kernel {
		rev[len(kernel)-1-j] = v
	}
	last := len(signal) - 1
	for n := range out {
		lo := n - half
		if lo < 0 {
			lo = 0
		}
		hi := n + half
		if hi > last {
			hi = last
		}
		if hi < lo {
			continue
		}
		k := lo - n + half
		out[n] = f64.DotProduct(signal[lo:hi+1], rev[k:k+hi-lo+1])
	}
	return out
}

// ShapeSymbols evaluates ConvolveSame(Upsample(symbols, sps), taps) for the
// first n output samples, visiting only the nonzero impulses.
func ShapeSymbols(symbols []float64, sps int, taps []float64, n int) []float64 {
	total := len(symbols) * sps
	if n > total {
		n = total
	}
	out := make([]float64, n)
	half := len(taps) / 2
	for i := range out {
		kmin := ceilDiv(i-half, sps)
		if kmin < 0 {
			kmin = 0
		}
		kmax := (i + half) / sps
		if kmax > len(symbols)-1 {
			kmax = len(symbols) - 1
		}
		var acc float64
		for k := kmin; k <= kmax; k++ {
			acc += symbols[k] * taps[i-k*sps+half]
		}
		out[i] = acc
	}
	return out
}

func ceilDiv(a, b int) int {
	if a >= 0 {
		return (a + b - 1) / b
	}
	return -((-a) / b)
}
