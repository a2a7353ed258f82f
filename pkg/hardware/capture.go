package hardware

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNoCapture is returned when a backend cannot record
var ErrNoCapture = errors.New("backend does not support capture")

// CaptureSink receives interleaved float32 input frames. Called on the
// device's real-time thread.
type CaptureSink interface {
	Capture(in []float32, channels int)
}

// CaptureFormat is the shape an input stream was opened with
type CaptureFormat struct {
	Channels   int `json:"channels"`
	SampleRate int `json:"sample_rate"`
}

// CaptureStream is an open input stream
type CaptureStream interface {
	Start() error
	Close() error
	Format() CaptureFormat
}

// CaptureBackend is implemented by backends that can record. OpenCapture
// tries rate first and falls back to the device default; the stream's
// Format reports what was opened.
type CaptureBackend interface {
	InputDevices() ([]DeviceInfo, error)
	OpenCapture(dev DeviceInfo, rate int, sink CaptureSink, onError ErrorFunc) (CaptureStream, error)
}

// FindInputDevice resolves an input device the way FindDevice does.
// Loopback capture uses the host's monitor devices, e.g. "Monitor of".
func FindInputDevice(b CaptureBackend, name string) (DeviceInfo, error) {
	devices, err := b.InputDevices()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to enumerate input devices: %w", err)
	}
	if len(devices) == 0 {
		return DeviceInfo{}, fmt.Errorf("%w: no input devices", ErrNoDevice)
	}
	return matchDevice(devices, name)
}

// InputDevices lists the virtual input
func (b *NullBackend) InputDevices() ([]DeviceInfo, error) {
	return []DeviceInfo{{Index: 0, Name: "null-input", MaxInputChannels: 2, DefaultSampleRate: 48000, Default: true}}, nil
}

// SetCaptureSignal sets the tone the null input produces. A zero level
// gives silence; rate, when positive, overrides the requested capture rate.
func (b *NullBackend) SetCaptureSignal(toneHz, level float64, rate int) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.captureHz, b.captureLevel, b.captureRate = toneHz, level, rate
}

// OpenCapture creates a stereo input clocked like NullStream
func (b *NullBackend) OpenCapture(dev DeviceInfo, rate int, sink CaptureSink, onError ErrorFunc) (CaptureStream, error) {
	if dev.Index != 0 {
		return nil, fmt.Errorf("%w: input index %d", ErrNoDevice, dev.Index)
	}
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if b.captureRate > 0 {
		rate = b.captureRate
	}
	if rate <= 0 {
		return nil, fmt.Errorf("invalid capture rate %d", rate)
	}
	return &NullCapture{
		format:  CaptureFormat{Channels: 2, SampleRate: rate},
		sink:    sink,
		toneHz:  b.captureHz,
		level:   b.captureLevel,
		period:  b.period,
		onError: onError,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// NullCapture delivers a generated tone to its sink in real time
type NullCapture struct {
	format  CaptureFormat
	sink    CaptureSink
	toneHz  float64
	level   float64
	period  time.Duration
	onError ErrorFunc

	frames atomic.Int64

	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

// Format returns the opened format
func (c *NullCapture) Format() CaptureFormat { return c.format }

// Frames returns the number of frames delivered
func (c *NullCapture) Frames() int64 { return c.frames.Load() }

// Start begins delivering frames
func (c *NullCapture) Start() error {
	c.startOnce.Do(func() {
		c.started.Store(true)
		go c.run()
	})
	return nil
}

func (c *NullCapture) run() {
	defer close(c.done)

	rate := int64(c.format.SampleRate)
	ch := c.format.Channels
	maxFrames := int(rate * int64(4*c.period) / int64(time.Second))
	if maxFrames < 1 {
		maxFrames = 1
	}
	buf := make([]float32, maxFrames*ch)
	step := 2 * math.Pi * c.toneHz / float64(rate)

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	start := time.Now()
	var delivered int64

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}

		n := int(framesDue(time.Since(start), rate) - delivered)
		if n > maxFrames {
			n = maxFrames
		}
		if n <= 0 {
			continue
		}
		for i := 0; i < n; i++ {
			v := float32(c.level * math.Sin(step*float64(delivered+int64(i))))
			for k := 0; k < ch; k++ {
				buf[i*ch+k] = v
			}
		}
		c.sink.Capture(buf[:n*ch], ch)
		delivered += int64(n)
		c.frames.Add(int64(n))
	}
}

// Close stops delivery and waits for the last callback to return
func (c *NullCapture) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		if c.started.Load() {
			<-c.done
		}
	})
	return nil
}

var _ CaptureBackend = (*NullBackend)(nil)
