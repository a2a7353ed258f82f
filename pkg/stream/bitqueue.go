package stream

import "github.com/dougsko/rdsmpx/pkg/rds"

// BitMargin is the number of bits kept queued beyond what a chunk needs,
// two groups' worth.
const BitMargin = 2 * rds.GroupBits

// BitQueue buffers sequencer output for the generator. Only the producer
// goroutine touches it.
type BitQueue struct {
	seq   *rds.Sequencer
	buf   []byte
	out   []byte
	taken int64
}

// NewBitQueue wraps seq
func NewBitQueue(seq *rds.Sequencer) *BitQueue {
	return &BitQueue{seq: seq}
}

// Len returns the number of queued bits
func (q *BitQueue) Len() int { return len(q.buf) }

// Taken returns the number of bits consumed so far
func (q *BitQueue) Taken() int64 { return q.taken }

// Ensure tops the queue up from the sequencer until it holds at least n
// bits
func (q *BitQueue) Ensure(n int) {
	if len(q.buf) < n {
		q.buf = q.seq.Fill(q.buf, n)
	}
}

// Take removes and returns the next n bits. The returned slice is reused
// by the next call.
func (q *BitQueue) Take(n int) []byte {
	q.Ensure(n)
	if cap(q.out) < n {
		q.out = make([]byte, n)
	}
	q.out = q.out[:n]
	copy(q.out, q.buf[:n])
	q.buf = append(q.buf[:0], q.buf[n:]...)
	q.taken += int64(n)
	return q.out
}
