package hardware

import (
	"sync"
	"sync/atomic"

	"github.com/dougsko/rdsmpx/pkg/logging"
)

// SampleBuffer is a reusable block of MPX samples
type SampleBuffer struct {
	Data []float32
	pool *SampleBufferPool
}

// Release returns the buffer to its pool for reuse
func (sb *SampleBuffer) Release() {
	if sb.pool != nil {
		sb.pool.Put(sb)
	}
}

// SampleBufferPool hands out float32 buffers in three size classes so the
// producer can pass copies of its chunks to slower consumers without
// allocating per chunk.
type SampleBufferPool struct {
	smallPool  *sync.Pool // <= 1024 samples
	mediumPool *sync.Pool // <= 4096 samples
	largePool  *sync.Pool // <= 16384 samples

	requests atomic.Int64
	misses   atomic.Int64

	maxBufferSize int
}

// NewSampleBufferPool creates a pool; requests above maxBufferSize are
// allocated directly and never pooled
func NewSampleBufferPool(maxBufferSize int) *SampleBufferPool {
	p := &SampleBufferPool{maxBufferSize: maxBufferSize}
	p.smallPool = p.newClass(1024)
	p.mediumPool = p.newClass(4096)
	p.largePool = p.newClass(16384)
	return p
}

func (p *SampleBufferPool) newClass(size int) *sync.Pool {
	return &sync.Pool{
		New: func() interface{} {
			p.misses.Add(1)
			return &SampleBuffer{Data: make([]float32, size), pool: p}
		},
	}
}

// Get returns a buffer of exactly size samples. Contents are undefined.
func (p *SampleBufferPool) Get(size int) *SampleBuffer {
	if size <= 0 {
		return &SampleBuffer{pool: p}
	}
	if size > p.maxBufferSize || size > 16384 {
		logging.Debugf("hardware", "SampleBufferPool: direct allocation of %d samples", size)
		return &SampleBuffer{Data: make([]float32, size), pool: p}
	}

	var buf *SampleBuffer
	switch {
	case size <= 1024:
		buf = p.smallPool.Get().(*SampleBuffer)
	case size <= 4096:
		buf = p.mediumPool.Get().(*SampleBuffer)
	default:
		buf = p.largePool.Get().(*SampleBuffer)
	}
	p.requests.Add(1)

	buf.Data = buf.Data[:size]
	return buf
}

// Copy returns a pooled buffer holding a copy of src
func (p *SampleBufferPool) Copy(src []float32) *SampleBuffer {
	buf := p.Get(len(src))
	copy(buf.Data, src)
	return buf
}

// Put returns a buffer to the class matching its capacity
func (p *SampleBufferPool) Put(buf *SampleBuffer) {
	if buf == nil || buf.Data == nil {
		return
	}
	switch c := cap(buf.Data); {
	case c == 1024:
		p.smallPool.Put(buf)
	case c == 4096:
		p.mediumPool.Put(buf)
	case c == 16384:
		p.largePool.Put(buf)
	}
}

// GetStatistics returns pool utilization counters. A miss is a request
// that had to allocate a new pooled buffer.
func (p *SampleBufferPool) GetStatistics() map[string]int64 {
	return map[string]int64{
		"requests": p.requests.Load(),
		"misses":   p.misses.Load(),
	}
}
