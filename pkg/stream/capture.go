package stream

import (
	"fmt"
	"sync/atomic"

	"github.com/dougsko/rdsmpx/pkg/audio"
	"github.com/dougsko/rdsmpx/pkg/hardware"
)

const (
	// captureBlock bounds the frames converted per step on the input thread.
	captureBlock = 1024
	// CaptureBufferSeconds sizes the queue between input device and producer.
	CaptureBufferSeconds = 0.5
)

// captureFeed carries live program audio from an input callback to the
// producer. Frames are resampled to the output rate and queued as L/R
// pairs; a full queue drops input and an empty one reads as silence.
type captureFeed struct {
	ring *Ring
	to   int
	rs   *audio.StreamResampler

	inL, inR   []float32
	outL, outR []float32
	pairs      []float32
	read       []float32

	overruns atomic.Int64
	starved  atomic.Int64
}

func newCaptureFeed(to, chunk int) *captureFeed {
	frames := int(CaptureBufferSeconds * float64(to))
	if frames < 2*chunk {
		frames = 2 * chunk
	}
	return &captureFeed{
		ring: NewRing(2 * frames),
		to:   to,
		inL:  make([]float32, captureBlock),
		inR:  make([]float32, captureBlock),
		read: make([]float32, 2*chunk),
	}
}

// setInputRate prepares conversion from the opened input rate. It must be
// called before the input stream starts.
func (f *captureFeed) setInputRate(from int) {
	f.rs = audio.NewStreamResampler(from, f.to)
	most := f.rs.MaxOut(captureBlock)
	f.outL = make([]float32, 0, most)
	f.outR = make([]float32, 0, most)
	f.pairs = make([]float32, 2*most)
}

// Capture runs on the input thread. Mono is duplicated to both channels
// and channels past the second are ignored.
func (f *captureFeed) Capture(in []float32, channels int) {
	if channels < 1 || f.rs == nil {
		return
	}
	frames := len(in) / channels
	for off := 0; off < frames; off += captureBlock {
		n := min(captureBlock, frames-off)
		for i := 0; i < n; i++ {
			j := (off + i) * channels
			f.inL[i] = in[j]
			if channels > 1 {
				f.inR[i] = in[j+1]
			} else {
				f.inR[i] = in[j]
			}
		}

		f.outL, f.outR = f.rs.Process(f.inL[:n], f.inR[:n], f.outL[:0], f.outR[:0])
		m := len(f.outL)
		for i := 0; i < m; i++ {
			f.pairs[2*i] = f.outL[i]
			f.pairs[2*i+1] = f.outR[i]
		}
		if w := f.ring.Push(f.pairs[:2*m]); w < 2*m {
			f.overruns.Add(int64(2*m-w) / 2)
		}
	}
}

// Available returns the queued frames
func (f *captureFeed) Available() int { return f.ring.Len() / 2 }

// Read fills left and right, at most one chunk, padding with silence
func (f *captureFeed) Read(left, right []float32) {
	n := len(left)
	got := f.ring.PopInto(f.read[:2*n]) / 2
	for i := 0; i < got; i++ {
		left[i] = f.read[2*i]
		right[i] = f.read[2*i+1]
	}
	for i := got; i < n; i++ {
		left[i], right[i] = 0, 0
	}
	if got < n {
		f.starved.Add(int64(n - got))
	}
}

// Overruns returns the input frames dropped because the queue was full
func (f *captureFeed) Overruns() int64 { return f.overruns.Load() }

// Starved returns the output frames padded because no input was queued
func (f *captureFeed) Starved() int64 { return f.starved.Load() }

// openCapture resolves and opens the session's input device on b. The
// stream is opened but not started.
func (s *Session) openCapture(b hardware.CaptureBackend) error {
	dev, err := hardware.FindInputDevice(b, s.Config.Source.Device)
	if err != nil {
		return err
	}
	feed := newCaptureFeed(s.Format.SampleRate, s.Config.ChunkSize)
	stream, err := b.OpenCapture(dev, s.Format.SampleRate, feed, s.deviceError)
	if err != nil {
		return fmt.Errorf("failed to open capture %s: %w", dev.Name, err)
	}
	format := stream.Format()
	if format.SampleRate <= 0 || format.Channels < 1 {
		stream.Close()
		return fmt.Errorf("capture %s opened with invalid format %+v", dev.Name, format)
	}
	feed.setInputRate(format.SampleRate)
	if format.SampleRate != s.Format.SampleRate {
		s.log.Infof("stream", "Capturing %s at %d Hz x%d, resampling to %d Hz",
			dev.Name, format.SampleRate, format.Channels, s.Format.SampleRate)
	}

	s.CaptureDevice = dev
	s.captureFormat = format
	s.capture = stream
	s.feed = feed
	return nil
}
