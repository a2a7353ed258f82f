// Package stream plays the multiplex in real time: a producer goroutine
// generates chunks into a lock-free ring that the device callback drains.
package stream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dougsko/rdsmpx/pkg/audio"
	"github.com/dougsko/rdsmpx/pkg/dsp"
	"github.com/dougsko/rdsmpx/pkg/hardware"
	"github.com/dougsko/rdsmpx/pkg/logging"
	"github.com/dougsko/rdsmpx/pkg/rds"
)

// EventKind names a session lifecycle transition
type EventKind string

const (
	EventStarted  EventKind = "started"
	EventStopped  EventKind = "stopped"
	EventDegraded EventKind = "degraded"
)

// Event is delivered to the engine's event handler
type Event struct {
	Kind    EventKind
	Session *Session
	Err     error
}

// Status is a snapshot of the engine
type Status struct {
	Running        bool      `json:"running"`
	SessionID      int64     `json:"session_id,omitempty"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	Uptime         float64   `json:"uptime_seconds"`
	Backend        string    `json:"backend"`
	Device         string    `json:"device,omitempty"`
	SampleRate     int       `json:"sample_rate,omitempty"`
	Channels       int       `json:"channels,omitempty"`
	Format         string    `json:"format,omitempty"`
	Buffered       int       `json:"buffered"`
	BufferCapacity int       `json:"buffer_capacity"`
	Produced       int64     `json:"produced"`
	Played         int64     `json:"played"`
	Underruns      int64     `json:"underruns"`
	MonitorDropped int64     `json:"monitor_dropped"`
	CaptureDevice  string    `json:"capture_device,omitempty"`
	CaptureRate    int       `json:"capture_rate,omitempty"`
	CaptureDropped int64     `json:"capture_dropped,omitempty"`
	CaptureStarved int64     `json:"capture_starved,omitempty"`
	Degraded       bool      `json:"degraded"`
	LastError      string    `json:"last_error,omitempty"`
	Config         *Config   `json:"config,omitempty"`
}

// Engine owns at most one running session. Start and Stop are serialized.
type Engine struct {
	backend hardware.OutputBackend
	monitor *audio.Monitor
	pool    *hardware.SampleBufferPool

	mutex   sync.Mutex
	session *Session
	nextID  int64

	handlerMutex sync.RWMutex
	handler      func(Event)

	producers atomic.Int32
}

// NewEngine creates an engine playing through backend. monitor may be nil.
func NewEngine(backend hardware.OutputBackend, monitor *audio.Monitor) *Engine {
	return &Engine{
		backend: backend,
		monitor: monitor,
		pool:    hardware.NewSampleBufferPool(16384),
	}
}

// SetEventHandler installs a function called on session transitions.
// Degraded events arrive on backend goroutines.
func (e *Engine) SetEventHandler(fn func(Event)) {
	e.handlerMutex.Lock()
	defer e.handlerMutex.Unlock()
	e.handler = fn
}

func (e *Engine) emit(ev Event) {
	e.handlerMutex.RLock()
	fn := e.handler
	e.handlerMutex.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// Backend returns the output backend
func (e *Engine) Backend() hardware.OutputBackend { return e.backend }

// Devices lists the backend's output devices
func (e *Engine) Devices() ([]hardware.DeviceInfo, error) {
	return e.backend.Devices()
}

// InputDevices lists the devices a capture source can record. Backends
// without capture return ErrNoCapture.
func (e *Engine) InputDevices() ([]hardware.DeviceInfo, error) {
	b, ok := e.backend.(hardware.CaptureBackend)
	if !ok {
		return nil, hardware.ErrNoCapture
	}
	return b.InputDevices()
}

// ActiveProducers returns the number of producer goroutines running
func (e *Engine) ActiveProducers() int { return int(e.producers.Load()) }

// Start stops any running session and starts a new one from cfg. On
// error no session is running. ctx bounds the preparation only.
func (e *Engine) Start(ctx context.Context, cfg Config) (*Session, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.stopLocked()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream config: %w", err)
	}
	cfg = cfg.withDefaults()

	dev, err := hardware.FindDevice(e.backend, cfg.Device)
	if err != nil {
		return nil, err
	}
	configs, err := e.backend.Configs(dev)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", dev.Name, err)
	}
	format, err := hardware.Negotiate(configs, cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dev.Name, err)
	}
	if format.SampleRate != cfg.SampleRate {
		logging.Warnf("stream", "%s does not support %d Hz, generating at %d Hz", dev.Name, cfg.SampleRate, format.SampleRate)
	}
	fs := format.SampleRate

	if _, err := dsp.SamplesPerSymbol(float64(fs), dsp.RDSBitRate); err != nil {
		return nil, fmt.Errorf("%d Hz: %w", fs, err)
	}

	var src audio.Stereo
	var capture hardware.CaptureBackend
	if cfg.Source.Kind == audio.SourceCapture {
		b, ok := e.backend.(hardware.CaptureBackend)
		if !ok {
			return nil, fmt.Errorf("%s: %w", e.backend.Name(), hardware.ErrNoCapture)
		}
		capture = b
		if cfg.Source.LowpassHz > 0 {
			logging.Warnf("stream", "Lowpass is not applied to live capture")
		}
	} else {
		src, err = audio.Load(cfg.Source, fs)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare source: %w", err)
		}
	}
	logo, err := cfg.logoBits()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bits := NewBitQueue(rds.NewSequencer(cfg.Identity, logo))
	gen, err := dsp.NewGenerator(cfg.MPXParams(fs), bits)
	if err != nil {
		return nil, err
	}

	capacity := int(cfg.BufferSeconds * float64(fs))
	e.nextID++
	s := &Session{
		ID:        e.nextID,
		Config:    cfg,
		Device:    dev,
		Format:    format,
		StartedAt: time.Now(),
		src:       src,
		gen:       gen,
		bits:      bits,
		ring:      NewRing(capacity),
		pool:      e.pool,
		done:      make(chan struct{}),
		onError: func(s *Session, err error) {
			e.emit(Event{Kind: EventDegraded, Session: s, Err: err})
		},
	}
	s.log = logging.GetGlobalLogger().WithFields(map[string]interface{}{"session": s.ID})
	s.cb = NewCallback(s.ring)

	if capture != nil {
		if err := s.openCapture(capture); err != nil {
			return nil, err
		}
	}

	s.stream, err = e.backend.Open(dev, format, s.cb, s.deviceError)
	if err != nil {
		if s.capture != nil {
			s.capture.Close()
		}
		return nil, fmt.Errorf("failed to open %s: %w", dev.Name, err)
	}
	if s.capture != nil {
		if err := s.capture.Start(); err != nil {
			s.capture.Close()
			s.stream.Close()
			return nil, fmt.Errorf("failed to start capture %s: %w", s.CaptureDevice.Name, err)
		}
	}

	if e.monitor != nil {
		e.monitor.Reset(fs)
		s.monitor = e.monitor
		s.monCh = make(chan *hardware.SampleBuffer, monitorQueue)
		s.monDone = make(chan struct{})
		go s.runMonitor()
	}
	e.producers.Add(1)
	go s.produce(&e.producers)

	if err := s.stream.Start(); err != nil {
		s.halt()
		return nil, fmt.Errorf("failed to start %s: %w", dev.Name, err)
	}

	e.session = s
	s.log.Infof("stream", "Started on %s: %d Hz %s x%d, PI %04X, PS %q, logo %t",
		dev.Name, fs, format.Format, format.Channels, cfg.Identity.PI, cfg.Identity.PS, len(logo) > 0)
	e.emit(Event{Kind: EventStarted, Session: s})
	return s, nil
}

// Stop ends the running session. Stopping with no session is a no-op.
func (e *Engine) Stop() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.stopLocked()
}

func (e *Engine) stopLocked() error {
	s := e.session
	if s == nil {
		return nil
	}
	e.session = nil

	err := s.halt()
	if err != nil {
		s.log.Warnf("stream", "Device close: %v", err)
	}
	s.log.Infof("stream", "Stopped after %.1fs, %d samples, %d underruns",
		time.Since(s.StartedAt).Seconds(), s.Produced(), s.cb.Underruns())
	e.emit(Event{Kind: EventStopped, Session: s, Err: err})
	return nil
}

// Session returns the running session or nil
func (e *Engine) Session() *Session {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.session
}

// Status returns a snapshot of the engine
func (e *Engine) Status() Status {
	e.mutex.Lock()
	s := e.session
	e.mutex.Unlock()

	st := Status{Backend: e.backend.Name()}
	if s == nil {
		return st
	}

	cfg := s.Config
	st.Running = true
	st.SessionID = s.ID
	st.StartedAt = s.StartedAt
	st.Uptime = time.Since(s.StartedAt).Seconds()
	st.Device = s.Device.Name
	st.SampleRate = s.Format.SampleRate
	st.Channels = s.Format.Channels
	st.Format = s.Format.Format.String()
	st.Buffered = s.ring.Len()
	st.BufferCapacity = s.ring.Cap()
	st.Produced = s.Produced()
	st.Played = s.cb.Frames()
	st.Underruns = s.cb.Underruns()
	st.MonitorDropped = s.dropped.Load()
	if s.feed != nil {
		st.CaptureDevice = s.CaptureDevice.Name
		st.CaptureRate = s.captureFormat.SampleRate
		st.CaptureDropped = s.CaptureOverruns()
		st.CaptureStarved = s.CaptureStarved()
	}
	st.Degraded = s.Degraded()
	st.LastError = s.LastError()
	st.Config = &cfg
	return st
}
