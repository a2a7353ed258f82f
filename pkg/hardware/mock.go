package hardware

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dougsko/rdsmpx/pkg/logging"
)

// NullBackend is a virtual output device that consumes samples in real
// time and discards them. It is always available and backs the daemon
// when no sound hardware is compiled in.
type NullBackend struct {
	mutex   sync.RWMutex
	devices []DeviceInfo
	configs []OutputConfig
	period  time.Duration

	captureHz    float64
	captureLevel float64
	captureRate  int
}

// NewNullBackend creates a null backend with one stereo device accepting
// 8 kHz to 384 kHz in every sample format
func NewNullBackend() *NullBackend {
	return &NullBackend{
		devices: []DeviceInfo{{Index: 0, Name: "null", MaxOutputChannels: 2, DefaultSampleRate: 192000, Default: true}},
		configs: []OutputConfig{
			{Channels: 2, MinRate: 8000, MaxRate: 384000, Format: FormatFloat32},
			{Channels: 2, MinRate: 8000, MaxRate: 384000, Format: FormatInt32},
			{Channels: 2, MinRate: 8000, MaxRate: 384000, Format: FormatInt16},
		},
		period: 10 * time.Millisecond,
	}
}

// SetConfigs replaces the advertised configurations
func (b *NullBackend) SetConfigs(configs []OutputConfig) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.configs = configs
}

// SetPeriod sets the callback interval
func (b *NullBackend) SetPeriod(d time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.period = d
}

// Name returns the backend name
func (b *NullBackend) Name() string { return "null" }

// Devices lists the virtual device
func (b *NullBackend) Devices() ([]DeviceInfo, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return append([]DeviceInfo(nil), b.devices...), nil
}

// Configs lists the advertised configurations
func (b *NullBackend) Configs(dev DeviceInfo) ([]OutputConfig, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if dev.Index != 0 {
		return nil, fmt.Errorf("%w: index %d", ErrNoDevice, dev.Index)
	}
	return append([]OutputConfig(nil), b.configs...), nil
}

// Open creates a stream; rendering begins on Start
func (b *NullBackend) Open(dev DeviceInfo, format StreamFormat, r Renderer, onError ErrorFunc) (OutputStream, error) {
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("invalid stream format %+v", format)
	}
	b.mutex.RLock()
	period := b.period
	b.mutex.RUnlock()

	return &NullStream{
		format:  format,
		r:       r,
		onError: onError,
		period:  period,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Close releases the backend
func (b *NullBackend) Close() error { return nil }

// NullStream pulls samples at the negotiated rate on its own goroutine
type NullStream struct {
	format  StreamFormat
	r       Renderer
	onError ErrorFunc
	period  time.Duration

	frames    atomic.Int64
	callbacks atomic.Int64

	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

// Start begins pulling samples
func (s *NullStream) Start() error {
	s.startOnce.Do(func() {
		s.started.Store(true)
		go s.run()
	})
	return nil
}

func (s *NullStream) run() {
	defer close(s.done)

	rate := int64(s.format.SampleRate)
	ch := s.format.Channels
	maxFrames := int(rate * int64(4*s.period) / int64(time.Second))
	if maxFrames < 1 {
		maxFrames = 1
	}

	var f32 []float32
	var i32 []int32
	var i16 []int16
	switch s.format.Format {
	case FormatFloat32:
		f32 = make([]float32, maxFrames*ch)
	case FormatInt32:
		i32 = make([]int32, maxFrames*ch)
	default:
		i16 = make([]int16, maxFrames*ch)
	}

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	start := time.Now()
	var rendered int64

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		due := framesDue(time.Since(start), rate)
		n := int(due - rendered)
		if n > maxFrames {
			n = maxFrames
		}
		if n <= 0 {
			continue
		}

		switch s.format.Format {
		case FormatFloat32:
			s.r.RenderFloat32(f32[:n*ch], ch)
		case FormatInt32:
			s.r.RenderInt32(i32[:n*ch], ch)
		default:
			s.r.RenderInt16(i16[:n*ch], ch)
		}
		rendered += int64(n)
		s.frames.Add(int64(n))
		s.callbacks.Add(1)
	}
}

// framesDue returns how many frames a clock at rate has produced after
// elapsed, splitting whole seconds off so long runs do not overflow
func framesDue(elapsed time.Duration, rate int64) int64 {
	secs := int64(elapsed / time.Second)
	frac := int64(elapsed % time.Second)
	return secs*rate + frac*rate/int64(time.Second)
}

// Close stops the stream and waits for the last callback to return
func (s *NullStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		if s.started.Load() {
			<-s.done
		}
	})
	return nil
}

// Frames returns the number of frames consumed
func (s *NullStream) Frames() int64 { return s.frames.Load() }

// Callbacks returns the number of render calls made
func (s *NullStream) Callbacks() int64 { return s.callbacks.Load() }

// InjectError reports err as if the device had failed
func (s *NullStream) InjectError(err error) {
	logging.Debugf("hardware", "NullStream: injected error %v", err)
	if s.onError != nil {
		s.onError(err)
	}
}
