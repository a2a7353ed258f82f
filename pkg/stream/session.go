package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dougsko/rdsmpx/pkg/audio"
	"github.com/dougsko/rdsmpx/pkg/dsp"
	"github.com/dougsko/rdsmpx/pkg/hardware"
	"github.com/dougsko/rdsmpx/pkg/logging"
)

// monitorQueue is the number of chunks the monitor may lag behind before
// chunks are dropped
const monitorQueue = 16

// Session is one running stream. The producer goroutine owns the
// generator, bit queue and source cursor; the device callback owns the
// consumer side of the ring.
type Session struct {
	ID        int64
	Config    Config
	Device    hardware.DeviceInfo
	Format    hardware.StreamFormat
	StartedAt time.Time

	// CaptureDevice is set for live sources
	CaptureDevice hardware.DeviceInfo

	src    audio.Stereo
	srcPos int
	gen    *dsp.Generator
	bits   *BitQueue
	ring   *Ring
	cb     *Callback
	stream hardware.OutputStream

	capture       hardware.CaptureStream
	captureFormat hardware.CaptureFormat
	feed          *captureFeed

	pool    *hardware.SampleBufferPool
	monitor *audio.Monitor
	monCh   chan *hardware.SampleBuffer
	monDone chan struct{}

	stop     atomic.Bool
	done     chan struct{}
	produced atomic.Int64
	dropped  atomic.Int64

	degraded  atomic.Bool
	errMutex  sync.Mutex
	lastError string
	onError   func(*Session, error)

	log *logging.FieldLogger
}

// produce runs until the stop flag is set. It sleeps when the ring is
// full or a live source has nothing queued. The caller counts the
// producer in active before starting it; the count drops before done is
// closed.
func (s *Session) produce(active *atomic.Int32) {
	defer close(s.done)
	defer active.Add(-1)
	if s.monCh != nil {
		defer close(s.monCh)
	}

	chunk := s.Config.ChunkSize
	left := make([]float32, chunk)
	right := make([]float32, chunk)
	out := make([]float32, chunk)
	fs := s.Format.SampleRate

	for !s.stop.Load() {
		free := s.ring.Free()
		if free == 0 {
			time.Sleep(IdleSleep)
			continue
		}
		n := chunk
		if free < n {
			n = free
		}
		// A live source paces the producer once a chunk is queued for
		// the device; below that, missing input is played as silence.
		if s.feed != nil && s.feed.Available() < n && s.ring.Len() >= chunk {
			time.Sleep(IdleSleep)
			continue
		}

		s.fillSource(left[:n], right[:n])
		s.bits.Ensure(dsp.BitsForSamples(n, fs) + BitMargin)
		if err := s.gen.Generate(left[:n], right[:n], out[:n]); err != nil {
			s.fail(err)
			return
		}

		s.ring.Push(out[:n])
		s.produced.Add(int64(n))
		s.feedMonitor(out[:n])
	}
}

// fillSource copies the next frames of program audio, wrapping to the
// start when the source is exhausted
func (s *Session) fillSource(left, right []float32) {
	if s.feed != nil {
		s.feed.Read(left, right)
		return
	}
	size := s.src.Len()
	for i := 0; i < len(left); {
		k := copy(left[i:], s.src.Left[s.srcPos:])
		copy(right[i:i+k], s.src.Right[s.srcPos:])
		i += k
		s.srcPos += k
		if s.srcPos >= size {
			s.srcPos = 0
		}
	}
}

func (s *Session) feedMonitor(samples []float32) {
	if s.monCh == nil {
		return
	}
	buf := s.pool.Copy(samples)
	select {
	case s.monCh <- buf:
	default:
		buf.Release()
		s.dropped.Add(1)
	}
}

func (s *Session) runMonitor() {
	defer close(s.monDone)
	for buf := range s.monCh {
		s.monitor.ProcessSamples(buf.Data)
		buf.Release()
	}
}

// deviceError is called by the backend from its own goroutine
func (s *Session) deviceError(err error) {
	s.fail(err)
}

func (s *Session) fail(err error) {
	s.errMutex.Lock()
	s.lastError = err.Error()
	s.errMutex.Unlock()

	if !s.degraded.Swap(true) {
		s.log.Warnf("stream", "Session degraded: %v", err)
		if s.onError != nil {
			s.onError(s, err)
		}
	}
}

// halt stops the session: set the flag, close the device streams, then
// wait for the producer and monitor to exit
func (s *Session) halt() error {
	s.stop.Store(true)
	var err error
	if s.stream != nil {
		err = s.stream.Close()
	}
	if s.capture != nil {
		if cerr := s.capture.Close(); err == nil {
			err = cerr
		}
	}
	<-s.done
	if s.monDone != nil {
		<-s.monDone
	}
	return err
}

// Degraded reports whether a device or generation error occurred
func (s *Session) Degraded() bool { return s.degraded.Load() }

// LastError returns the most recent error message, if any
func (s *Session) LastError() string {
	s.errMutex.Lock()
	defer s.errMutex.Unlock()
	return s.lastError
}

// Produced returns the number of samples pushed into the ring
func (s *Session) Produced() int64 { return s.produced.Load() }

// CaptureOverruns returns the input frames dropped by a live source
func (s *Session) CaptureOverruns() int64 {
	if s.feed == nil {
		return 0
	}
	return s.feed.Overruns()
}

// CaptureStarved returns the frames a live source padded with silence
func (s *Session) CaptureStarved() int64 {
	if s.feed == nil {
		return 0
	}
	return s.feed.Starved()
}

// Underruns returns the number of samples the device asked for while the
// ring was empty
func (s *Session) Underruns() int64 { return s.cb.Underruns() }
