package hardware

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/dougsko/rdsmpx/pkg/logging"
)

var (
	// ErrNoDevice is returned when no output device matches the request.
	ErrNoDevice = errors.New("no matching output device")
	// ErrNoSupportedConfig is returned when a device reports no usable
	// output configuration.
	ErrNoSupportedConfig = errors.New("device has no supported output configuration")
)

// SampleFormat is the sample type a device consumes
type SampleFormat int

const (
	FormatInt16 SampleFormat = iota
	FormatInt32
	FormatFloat32
)

func (f SampleFormat) String() string {
	switch f {
	case FormatInt16:
		return "int16"
	case FormatInt32:
		return "int32"
	case FormatFloat32:
		return "float32"
	default:
		return "unknown"
	}
}

// MarshalText encodes the format by name
func (f SampleFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText
func (f *SampleFormat) UnmarshalText(text []byte) error {
	switch string(text) {
	case "int16":
		*f = FormatInt16
	case "int32":
		*f = FormatInt32
	case "float32":
		*f = FormatFloat32
	default:
		return fmt.Errorf("unknown sample format %q", text)
	}
	return nil
}

// DeviceInfo describes an output or input device
type DeviceInfo struct {
	Index             int     `json:"index"`
	Name              string  `json:"name"`
	MaxOutputChannels int     `json:"max_output_channels"`
	MaxInputChannels  int     `json:"max_input_channels,omitempty"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
	Default           bool    `json:"default"`
}

// OutputConfig is a range of rates a device accepts for one channel count
// and sample format
type OutputConfig struct {
	Channels int          `json:"channels"`
	MinRate  int          `json:"min_rate"`
	MaxRate  int          `json:"max_rate"`
	Format   SampleFormat `json:"format"`
}

// StreamFormat is the negotiated stream shape
type StreamFormat struct {
	Channels   int          `json:"channels"`
	SampleRate int          `json:"sample_rate"`
	Format     SampleFormat `json:"format"`
}

// Renderer fills interleaved device buffers. Called on the device's
// real-time thread; implementations must not block or allocate.
type Renderer interface {
	RenderFloat32(out []float32, channels int)
	RenderInt32(out []int32, channels int)
	RenderInt16(out []int16, channels int)
}

// ErrorFunc receives asynchronous stream errors
type ErrorFunc func(error)

// OutputStream is an open device stream
type OutputStream interface {
	Start() error
	Close() error
}

// OutputBackend enumerates devices and opens output streams
type OutputBackend interface {
	Name() string
	Devices() ([]DeviceInfo, error)
	Configs(dev DeviceInfo) ([]OutputConfig, error)
	Open(dev DeviceInfo, format StreamFormat, r Renderer, onError ErrorFunc) (OutputStream, error)
	Close() error
}

// FindDevice resolves a device by index, exact or partial name. An empty
// name or "default" selects the backend's default device.
func FindDevice(b OutputBackend, name string) (DeviceInfo, error) {
	devices, err := b.Devices()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	if len(devices) == 0 {
		return DeviceInfo{}, fmt.Errorf("%w: backend %s has no output devices", ErrNoDevice, b.Name())
	}
	return matchDevice(devices, name)
}

func matchDevice(devices []DeviceInfo, name string) (DeviceInfo, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "default") {
		for _, d := range devices {
			if d.Default {
				return d, nil
			}
		}
		return devices[0], nil
	}
	if idx, err := strconv.Atoi(name); err == nil {
		for _, d := range devices {
			if d.Index == idx {
				return d, nil
			}
		}
	}
	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}
	lower := strings.ToLower(name)
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), lower) {
			return d, nil
		}
	}
	return DeviceInfo{}, fmt.Errorf("%w: %q", ErrNoDevice, name)
}

// Negotiate picks the configuration closest to the requested rate. A
// range containing the rate wins; otherwise the nearest range bound does.
// Ties prefer float32, then int32, then int16.
func Negotiate(configs []OutputConfig, rate int) (StreamFormat, error) {
	if len(configs) == 0 {
		return StreamFormat{}, ErrNoSupportedConfig
	}

	best := -1
	bestDist := 0
	for i, c := range configs {
		d := rateDistance(c, rate)
		if best < 0 || d < bestDist || (d == bestDist && c.Format > configs[best].Format) {
			best, bestDist = i, d
		}
	}

	c := configs[best]
	sr := rate
	if sr < c.MinRate {
		sr = c.MinRate
	}
	if sr > c.MaxRate {
		sr = c.MaxRate
	}
	return StreamFormat{Channels: c.Channels, SampleRate: sr, Format: c.Format}, nil
}

func rateDistance(c OutputConfig, rate int) int {
	switch {
	case rate < c.MinRate:
		return c.MinRate - rate
	case rate > c.MaxRate:
		return rate - c.MaxRate
	default:
		return 0
	}
}

// Int16Sample converts a float sample to full-scale int16
func Int16Sample(x float32) int16 {
	return int16(math.Round(clampUnit(x) * 32767))
}

// Int32Sample converts a float sample to full-scale int32
func Int32Sample(x float32) int32 {
	return int32(math.Round(clampUnit(x) * 2147483647))
}

func clampUnit(x float32) float64 {
	v := float64(x)
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return v
}

// HardwareConfig represents hardware configuration
type HardwareConfig struct {
	Backend    string // auto, null or portaudio
	EnableGPIO bool
	OnAirPin   string
}

// HardwareManager owns the output backend and the on-air indicator
type HardwareManager struct {
	config HardwareConfig
	mutex  sync.RWMutex

	backend OutputBackend
	onAir   OnAirIndicator
	lit     bool

	initialized bool
}

// NewHardwareManager creates a new hardware manager
func NewHardwareManager(config HardwareConfig) *HardwareManager {
	return &HardwareManager{config: config}
}

// Initialize opens the configured backend and indicator
func (h *HardwareManager) Initialize() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.initialized {
		return nil
	}

	backend, err := SelectBackend(h.config.Backend)
	if err != nil {
		return fmt.Errorf("failed to open audio backend: %w", err)
	}
	h.backend = backend
	logging.Infof("hardware", "Using %s output backend", backend.Name())

	if h.config.EnableGPIO {
		if ind, err := NewGPIOIndicator(h.config.OnAirPin); err == nil {
			h.onAir = ind
		} else {
			logging.Warnf("hardware", "On-air GPIO unavailable, using mock: %v", err)
			h.onAir = NewMockIndicator()
		}
	} else {
		h.onAir = NewMockIndicator()
	}

	h.initialized = true
	return nil
}

// Close releases the backend and turns the indicator off
func (h *HardwareManager) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.initialized {
		return nil
	}

	var errs []error
	if h.onAir != nil {
		if err := h.onAir.Close(); err != nil {
			errs = append(errs, err)
		}
		h.lit = false
	}
	if h.backend != nil {
		if err := h.backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	h.initialized = false
	return errors.Join(errs...)
}

// Backend returns the active output backend
func (h *HardwareManager) Backend() OutputBackend {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.backend
}

// SetOnAir switches the on-air indicator
func (h *HardwareManager) SetOnAir(active bool) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.onAir == nil {
		return fmt.Errorf("hardware not initialized")
	}
	if err := h.onAir.Set(active); err != nil {
		return err
	}
	h.lit = active
	return nil
}

// OnAir reports the indicator state
func (h *HardwareManager) OnAir() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.lit
}

// IsInitialized returns whether Initialize has succeeded
func (h *HardwareManager) IsInitialized() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.initialized
}
