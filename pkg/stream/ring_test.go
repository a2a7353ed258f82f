package stream

import (
	"runtime"
	"testing"

	"github.com/dougsko/rdsmpx/pkg/rds"
)

func TestRing(t *testing.T) {
	t.Run("Push Pop Wrap", func(t *testing.T) {
		r := NewRing(4)
		if n := r.Push([]float32{1, 2, 3}); n != 3 {
			t.Fatalf("Expected 3 pushed, got %d", n)
		}
		if v, ok := r.Pop(); !ok || v != 1 {
			t.Fatalf("Expected 1, got %v %v", v, ok)
		}
		if n := r.Push([]float32{4, 5, 6}); n != 2 {
			t.Fatalf("Expected 2 pushed into remaining space, got %d", n)
		}
		if r.Free() != 0 || r.Len() != 4 {
			t.Errorf("Expected full ring, len %d free %d", r.Len(), r.Free())
		}

		dst := make([]float32, 8)
		n := r.PopInto(dst)
		want := []float32{2, 3, 4, 5}
		if n != len(want) {
			t.Fatalf("Expected %d popped, got %d", len(want), n)
		}
		for i, w := range want {
			if dst[i] != w {
				t.Errorf("Index %d: expected %v, got %v", i, w, dst[i])
			}
		}
		if _, ok := r.Pop(); ok {
			t.Error("Expected empty ring")
		}
	})

	t.Run("Minimum Capacity", func(t *testing.T) {
		r := NewRing(0)
		if r.Cap() != 1 {
			t.Errorf("Expected capacity 1, got %d", r.Cap())
		}
	})

	t.Run("Empty PopInto", func(t *testing.T) {
		r := NewRing(8)
		if n := r.PopInto(make([]float32, 4)); n != 0 {
			t.Errorf("Expected 0, got %d", n)
		}
	})
}

func TestRingConcurrentOrder(t *testing.T) {
	const total = 200000
	r := NewRing(1000)

	go func() {
		chunk := make([]float32, 97)
		next := 0
		for next < total {
			n := len(chunk)
			if total-next < n {
				n = total - next
			}
			for i := 0; i < n; i++ {
				chunk[i] = float32(next + i)
			}
			pushed := r.Push(chunk[:n])
			next += pushed
			if pushed == 0 {
				runtime.Gosched()
			}
		}
	}()

	dst := make([]float32, 61)
	expect := 0
	for expect < total {
		var n int
		if expect%2 == 0 {
			n = r.PopInto(dst)
		} else if v, ok := r.Pop(); ok {
			dst[0] = v
			n = 1
		}
		if n == 0 {
			runtime.Gosched()
			continue
		}
		for i := 0; i < n; i++ {
			if dst[i] != float32(expect) {
				t.Fatalf("Expected %d, got %v", expect, dst[i])
			}
			expect++
		}
	}
}

func TestBitQueue(t *testing.T) {
	id := rds.NewIdentity(0x1234, "RADIO", "Welcome to RADIO")
	want := rds.NewSequencer(id, nil).Generate(1000)

	q := NewBitQueue(rds.NewSequencer(id, nil))
	q.Ensure(10)
	if q.Len() < 10 || q.Len()%rds.GroupBits != 0 {
		t.Errorf("Expected whole groups queued, got %d bits", q.Len())
	}

	var got []byte
	for _, n := range []int{1, 103, 250, 0, 646} {
		got = append(got, q.Take(n)...)
	}
	if len(got) != 1000 {
		t.Fatalf("Expected 1000 bits, got %d", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Bit %d differs from sequencer output", i)
		}
	}
	if q.Taken() != 1000 {
		t.Errorf("Expected 1000 taken, got %d", q.Taken())
	}

	q.Ensure(q.Len() + BitMargin)
	if q.Len() < BitMargin {
		t.Errorf("Expected at least %d queued, got %d", BitMargin, q.Len())
	}
}

func TestCallback(t *testing.T) {
	t.Run("Float32 Broadcast", func(t *testing.T) {
		r := NewRing(8)
		r.Push([]float32{0.5, -0.25})
		cb := NewCallback(r)

		out := make([]float32, 6)
		cb.RenderFloat32(out, 2)
		want := []float32{0.5, 0.5, -0.25, -0.25, 0, 0}
		for i := range want {
			if out[i] != want[i] {
				t.Errorf("Index %d: expected %v, got %v", i, want[i], out[i])
			}
		}
		if cb.Frames() != 3 || cb.Underruns() != 1 {
			t.Errorf("Expected 3 frames and 1 underrun, got %d and %d", cb.Frames(), cb.Underruns())
		}
	})

	t.Run("Int16", func(t *testing.T) {
		r := NewRing(8)
		r.Push([]float32{1, -1, 0.5})
		cb := NewCallback(r)

		out := make([]int16, 3)
		cb.RenderInt16(out, 1)
		want := []int16{32767, -32767, 16384}
		for i := range want {
			if out[i] != want[i] {
				t.Errorf("Index %d: expected %d, got %d", i, want[i], out[i])
			}
		}
	})

	t.Run("Int32 Underrun", func(t *testing.T) {
		cb := NewCallback(NewRing(8))
		out := []int32{7, 7, 7, 7}
		cb.RenderInt32(out, 4)
		for i, v := range out {
			if v != 0 {
				t.Errorf("Index %d: expected silence, got %d", i, v)
			}
		}
		if cb.Underruns() != 1 {
			t.Errorf("Expected 1 underrun, got %d", cb.Underruns())
		}
	})
}
