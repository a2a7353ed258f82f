package audio

// StreamResampler converts a continuous stream between rates by linear
// interpolation. Unlike Resample it keeps the last input frame between
// calls, so block boundaries leave no seams.
type StreamResampler struct {
	step float64 // input frames per output frame
	pos  float64 // next output position, relative to the current block
	prev [2]float32
	seen bool
}

// NewStreamResampler returns a resampler from one rate to another
func NewStreamResampler(from, to int) *StreamResampler {
	return &StreamResampler{step: float64(from) / float64(to)}
}

// Ratio returns output frames per input frame
func (r *StreamResampler) Ratio() float64 { return 1 / r.step }

// MaxOut bounds the output frames produced for n input frames
func (r *StreamResampler) MaxOut(n int) int {
	return int(float64(n)/r.step) + 2
}

// Process appends to outL and outR the frames that fall inside the block
// left/right. The block may be any length, including zero.
func (r *StreamResampler) Process(left, right, outL, outR []float32) ([]float32, []float32) {
	n := len(left)
	if n == 0 {
		return outL, outR
	}
	if r.step == 1 {
		return append(outL, left...), append(outR, right...)
	}
	if !r.seen {
		// The first frame has no predecessor; start on it.
		r.prev = [2]float32{left[0], right[0]}
		r.seen = true
	}

	// Position -1 is the previous block's last frame.
	at := func(ch []float32, c, i int) float32 {
		if i < 0 {
			return r.prev[c]
		}
		return ch[i]
	}
	for r.pos < float64(n-1) {
		i := int(r.pos+1) - 1 // floor for pos >= -1
		frac := float32(r.pos - float64(i))
		l0, l1 := at(left, 0, i), left[i+1]
		r0, r1 := at(right, 1, i), right[i+1]
		outL = append(outL, l0+(l1-l0)*frac)
		outR = append(outR, r0+(r1-r0)*frac)
		r.pos += r.step
	}

	r.prev = [2]float32{left[n-1], right[n-1]}
	r.pos -= float64(n)
	return outL, outR
}
