package dsp

import (
	"math"
	"math/cmplx"
	"math/rand"

	"gonum.org/v1/gonum/dsp/fourier"
)

func randomBits(n int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(rng.Intn(2))
	}
	return out
}

func toneAt(freq float64, fs, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(i) / float64(fs))
	}
	return out
}

func rms(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v * v
	}
	return math.Sqrt(s / float64(len(x)))
}

func toFloat64(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}

// bandPower sums the squared FFT magnitudes within width Hz of center.
func bandPower(x []float64, fs int, center, width float64) float64 {
	fft := fourier.NewFFT(len(x))
	coeffs := fft.Coefficients(nil, x)
	binHz := float64(fs) / float64(len(x))
	var p float64
	for k, c := range coeffs {
		f := float64(k) * binHz
		if math.Abs(f-center) <= width {
			a := cmplx.Abs(c)
			p += a * a
		}
	}
	return p
}
