//go:build portaudio

package hardware

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/dougsko/rdsmpx/pkg/logging"
)

// SelectBackend opens the named output backend. "auto" prefers PortAudio.
func SelectBackend(name string) (OutputBackend, error) {
	switch name {
	case "", "auto", "portaudio":
		b, err := NewPortAudioBackend()
		if err != nil && name != "portaudio" {
			logging.Warnf("hardware", "PortAudio unavailable, falling back to null output: %v", err)
			return NewNullBackend(), nil
		}
		return b, err
	case "null":
		return NewNullBackend(), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", name)
	}
}

// AvailableBackends lists the backends compiled into this binary
func AvailableBackends() []string {
	return []string{"portaudio", "null"}
}

// probeRates are the rates checked when listing a device's configurations.
var probeRates = []int{8000, 11025, 16000, 22050, 32000, 44100, 48000, 88200, 96000, 176400, 192000, 352800, 384000}

// PortAudioBackend outputs through the system audio stack via PortAudio
type PortAudioBackend struct {
	mutex  sync.Mutex
	closed bool
}

// NewPortAudioBackend initializes PortAudio
func NewPortAudioBackend() (*PortAudioBackend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	logging.Infof("hardware", "PortAudio %s", portaudio.VersionText())
	return &PortAudioBackend{}, nil
}

// Name returns the backend name
func (b *PortAudioBackend) Name() string { return "portaudio" }

func (b *PortAudioBackend) outputDevices() ([]*portaudio.DeviceInfo, error) {
	all, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	var out []*portaudio.DeviceInfo
	for _, d := range all {
		if d.MaxOutputChannels > 0 {
			out = append(out, d)
		}
	}
	return out, nil
}

// Devices lists devices with output channels
func (b *PortAudioBackend) Devices() ([]DeviceInfo, error) {
	devs, err := b.outputDevices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	def, _ := portaudio.DefaultOutputDevice()

	infos := make([]DeviceInfo, 0, len(devs))
	for i, d := range devs {
		infos = append(infos, DeviceInfo{
			Index:             i,
			Name:              d.Name,
			MaxOutputChannels: d.MaxOutputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           def != nil && d.Name == def.Name && d.HostApi == def.HostApi,
		})
	}
	return infos, nil
}

func (b *PortAudioBackend) lookup(dev DeviceInfo) (*portaudio.DeviceInfo, error) {
	devs, err := b.outputDevices()
	if err != nil {
		return nil, err
	}
	if dev.Index < 0 || dev.Index >= len(devs) {
		return nil, fmt.Errorf("%w: index %d", ErrNoDevice, dev.Index)
	}
	return devs[dev.Index], nil
}

func streamParams(d *portaudio.DeviceInfo, channels, rate int) portaudio.StreamParameters {
	p := portaudio.LowLatencyParameters(nil, d)
	p.Output.Channels = channels
	p.SampleRate = float64(rate)
	p.FramesPerBuffer = portaudio.FramesPerBufferUnspecified
	return p
}

// Configs probes the standard rates for each sample format. Every
// supported rate is reported as a single-rate range.
func (b *PortAudioBackend) Configs(dev DeviceInfo) ([]OutputConfig, error) {
	d, err := b.lookup(dev)
	if err != nil {
		return nil, err
	}
	channels := d.MaxOutputChannels
	if channels > 2 {
		channels = 2
	}

	probes := []struct {
		format SampleFormat
		cb     interface{}
	}{
		{FormatFloat32, func(out []float32) {}},
		{FormatInt32, func(out []int32) {}},
		{FormatInt16, func(out []int16) {}},
	}

	var configs []OutputConfig
	for _, p := range probes {
		for _, rate := range probeRates {
			if portaudio.IsFormatSupported(streamParams(d, channels, rate), p.cb) == nil {
				configs = append(configs, OutputConfig{Channels: channels, MinRate: rate, MaxRate: rate, Format: p.format})
			}
		}
	}
	if len(configs) == 0 {
		// Some host APIs reject probing; fall back to the default rate.
		rate := int(d.DefaultSampleRate)
		configs = append(configs, OutputConfig{Channels: channels, MinRate: rate, MaxRate: rate, Format: FormatFloat32})
	}
	return configs, nil
}

// Open creates a callback stream in the negotiated format
func (b *PortAudioBackend) Open(dev DeviceInfo, format StreamFormat, r Renderer, onError ErrorFunc) (OutputStream, error) {
	d, err := b.lookup(dev)
	if err != nil {
		return nil, err
	}
	ch := format.Channels
	params := streamParams(d, ch, format.SampleRate)

	s := &portAudioStream{onError: onError}
	var cb interface{}
	switch format.Format {
	case FormatFloat32:
		cb = func(out []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			s.noteFlags(flags)
			r.RenderFloat32(out, ch)
		}
	case FormatInt32:
		cb = func(out []int32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			s.noteFlags(flags)
			r.RenderInt32(out, ch)
		}
	default:
		cb = func(out []int16, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			s.noteFlags(flags)
			r.RenderInt16(out, ch)
		}
	}

	stream, err := portaudio.OpenStream(params, cb)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s at %d Hz: %w", d.Name, format.SampleRate, err)
	}
	s.stream = stream
	return s, nil
}

// Close terminates PortAudio
func (b *PortAudioBackend) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return portaudio.Terminate()
}

type portAudioStream struct {
	stream    *portaudio.Stream
	onError   ErrorFunc
	closeOnce sync.Once
	closeErr  error
	underflow bool
}

// noteFlags runs on the audio thread; the first output underflow is
// reported once.
func (s *portAudioStream) noteFlags(flags portaudio.StreamCallbackFlags) {
	if flags&portaudio.OutputUnderflow != 0 && !s.underflow {
		s.underflow = true
		if s.onError != nil {
			go s.onError(fmt.Errorf("device output underflow"))
		}
	}
}

func (s *portAudioStream) Start() error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	return nil
}

func (s *portAudioStream) Close() error {
	s.closeOnce.Do(func() {
		if err := s.stream.Stop(); err != nil {
			logging.Warnf("hardware", "PortAudio stop: %v", err)
		}
		s.closeErr = s.stream.Close()
	})
	return s.closeErr
}

func (b *PortAudioBackend) inputDevices() ([]*portaudio.DeviceInfo, error) {
	all, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	var in []*portaudio.DeviceInfo
	for _, d := range all {
		if d.MaxInputChannels > 0 {
			in = append(in, d)
		}
	}
	return in, nil
}

// InputDevices lists devices with input channels, including the host's
// loopback monitors
func (b *PortAudioBackend) InputDevices() ([]DeviceInfo, error) {
	devs, err := b.inputDevices()
	if err != nil {
		return nil, fmt.Errorf("failed to list input devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	infos := make([]DeviceInfo, 0, len(devs))
	for i, d := range devs {
		infos = append(infos, DeviceInfo{
			Index:             i,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           def != nil && d.Name == def.Name && d.HostApi == def.HostApi,
		})
	}
	return infos, nil
}

// OpenCapture opens a float32 input stream. Stereo at rate is tried
// first, then mono, then the device's default rate.
func (b *PortAudioBackend) OpenCapture(dev DeviceInfo, rate int, sink CaptureSink, onError ErrorFunc) (CaptureStream, error) {
	devs, err := b.inputDevices()
	if err != nil {
		return nil, err
	}
	if dev.Index < 0 || dev.Index >= len(devs) {
		return nil, fmt.Errorf("%w: input index %d", ErrNoDevice, dev.Index)
	}
	d := devs[dev.Index]

	rates := []int{rate}
	if def := int(d.DefaultSampleRate); def > 0 && def != rate {
		rates = append(rates, def)
	}
	var lastErr error
	for _, sr := range rates {
		for _, ch := range []int{2, 1} {
			if ch > d.MaxInputChannels {
				continue
			}
			s, err := openCapture(d, ch, sr, sink, onError)
			if err == nil {
				return s, nil
			}
			lastErr = err
		}
	}
	return nil, fmt.Errorf("failed to open %s for capture: %w", d.Name, lastErr)
}

func openCapture(d *portaudio.DeviceInfo, ch, rate int, sink CaptureSink, onError ErrorFunc) (*portAudioCapture, error) {
	p := portaudio.LowLatencyParameters(d, nil)
	p.Input.Channels = ch
	p.SampleRate = float64(rate)
	p.FramesPerBuffer = portaudio.FramesPerBufferUnspecified

	c := &portAudioCapture{format: CaptureFormat{Channels: ch, SampleRate: rate}}
	c.onError = onError
	stream, err := portaudio.OpenStream(p, func(in []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
		if flags&portaudio.InputOverflow != 0 && !c.overflow {
			c.overflow = true
			if c.onError != nil {
				go c.onError(fmt.Errorf("device input overflow"))
			}
		}
		sink.Capture(in, ch)
	})
	if err != nil {
		return nil, err
	}
	c.stream = stream
	return c, nil
}

type portAudioCapture struct {
	portAudioStream
	format   CaptureFormat
	overflow bool
}

func (c *portAudioCapture) Format() CaptureFormat { return c.format }

var _ CaptureBackend = (*PortAudioBackend)(nil)
