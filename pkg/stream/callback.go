package stream

import (
	"sync/atomic"

	"github.com/dougsko/rdsmpx/pkg/hardware"
)

// Callback drains the ring into device buffers. Each mono sample is
// written to every channel of its frame; an empty ring yields silence.
type Callback struct {
	ring      *Ring
	frames    atomic.Int64
	underruns atomic.Int64
}

// NewCallback returns a device callback reading from ring
func NewCallback(ring *Ring) *Callback {
	return &Callback{ring: ring}
}

// Frames returns the number of frames delivered, silence included
func (c *Callback) Frames() int64 { return c.frames.Load() }

// Underruns returns the number of frames filled with silence
func (c *Callback) Underruns() int64 { return c.underruns.Load() }

func (c *Callback) next() float32 {
	v, ok := c.ring.Pop()
	if !ok {
		c.underruns.Add(1)
	}
	return v
}

func (c *Callback) RenderFloat32(out []float32, channels int) {
	if channels < 1 {
		return
	}
	frames := len(out) / channels
	for f := 0; f < frames; f++ {
		v := c.next()
		for ch := 0; ch < channels; ch++ {
			out[f*channels+ch] = v
		}
	}
	c.frames.Add(int64(frames))
}

func (c *Callback) RenderInt32(out []int32, channels int) {
	if channels < 1 {
		return
	}
	frames := len(out) / channels
	for f := 0; f < frames; f++ {
		v := hardware.Int32Sample(c.next())
		for ch := 0; ch < channels; ch++ {
			out[f*channels+ch] = v
		}
	}
	c.frames.Add(int64(frames))
}

func (c *Callback) RenderInt16(out []int16, channels int) {
	if channels < 1 {
		return
	}
	frames := len(out) / channels
	for f := 0; f < frames; f++ {
		v := hardware.Int16Sample(c.next())
		for ch := 0; ch < channels; ch++ {
			out[f*channels+ch] = v
		}
	}
	c.frames.Add(int64(frames))
}
