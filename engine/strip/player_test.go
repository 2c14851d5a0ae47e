package strip

import (
	"math"
	"testing"

	"github.com/uxdesk/uxdesk/engine/sched"
)

func seqChunk(start float64, frames int) sched.Chunk {
	left := make([]float64, frames)
	right := make([]float64, frames)
	for i := range frames {
		left[i] = start + float64(i)
		right[i] = -(start + float64(i))
	}
	return sched.Chunk{Left: left, Right: right}
}

func pull(p *Player, now float64, frames int) (left, right []float64) {
	left = make([]float64, frames)
	right = make([]float64, frames)
	// Dirty the buffers to prove pullInto clears them.
	for i := range left {
		left[i] = math.NaN()
		right[i] = math.NaN()
	}
	p.pullInto(now, left, right)
	return left, right
}

func TestPullSilentWhenEmpty(t *testing.T) {
	p := NewPlayer(1, 48000)
	left, right := pull(p, 0, 64)
	for i := range left {
		if left[i] != 0 || right[i] != 0 {
			t.Fatalf("frame %d = %v/%v, want silence", i, left[i], right[i])
		}
	}
}

func TestDueChunkPlaysFromBlockStart(t *testing.T) {
	p := NewPlayer(1, 48000)
	p.Enqueue(seqChunk(1, 64), 0)
	left, right := pull(p, 0, 128)
	for i := range 64 {
		if left[i] != 1+float64(i) {
			t.Fatalf("left[%d] = %v, want %v", i, left[i], 1+float64(i))
		}
		if right[i] != -(1 + float64(i)) {
			t.Fatalf("right[%d] = %v, want %v", i, right[i], -(1 + float64(i)))
		}
	}
	for i := 64; i < 128; i++ {
		if left[i] != 0 {
			t.Fatalf("left[%d] = %v after chunk end, want 0", i, left[i])
		}
	}
}

func TestFutureChunkWaits(t *testing.T) {
	p := NewPlayer(1, 48000)
	p.Enqueue(seqChunk(1, 64), 1.0)

	left, _ := pull(p, 0, 128)
	for i := range left {
		if left[i] != 0 {
			t.Fatalf("left[%d] = %v before due time, want 0", i, left[i])
		}
	}

	left, _ = pull(p, 1.0, 128)
	if left[0] != 1 || left[63] != 64 {
		t.Errorf("chunk did not play at due time: %v %v", left[0], left[63])
	}
}

func TestChunkStartsMidBlock(t *testing.T) {
	const rate = 48000.0
	p := NewPlayer(1, rate)
	p.Enqueue(seqChunk(1, 100), 64/rate)

	left, _ := pull(p, 0, 128)
	for i := range 64 {
		if left[i] != 0 {
			t.Fatalf("left[%d] = %v before start frame, want 0", i, left[i])
		}
	}
	for i := 64; i < 128; i++ {
		if want := 1 + float64(i-64); left[i] != want {
			t.Fatalf("left[%d] = %v, want %v", i, left[i], want)
		}
	}

	// The rest of the chunk continues in the next block.
	left, _ = pull(p, 128/rate, 128)
	for i := range 36 {
		if want := 65 + float64(i); left[i] != want {
			t.Fatalf("continuation left[%d] = %v, want %v", i, left[i], want)
		}
	}
	if left[36] != 0 {
		t.Errorf("left[36] = %v after chunk drained, want 0", left[36])
	}
}

func TestLateChunkPlaysImmediately(t *testing.T) {
	p := NewPlayer(1, 48000)
	p.Enqueue(seqChunk(5, 32), 1.0)
	left, _ := pull(p, 2.0, 32)
	if left[0] != 5 {
		t.Errorf("late chunk start = %v, want played at once", left[0])
	}
}

func TestFlushDropsQueuedAndPartial(t *testing.T) {
	p := NewPlayer(1, 48000)
	p.Enqueue(seqChunk(1, 100), 0)
	p.Enqueue(seqChunk(200, 100), 100/48000.0)

	left, _ := pull(p, 0, 50)
	if left[49] != 50 {
		t.Fatalf("left[49] = %v, want 50", left[49])
	}

	p.Flush()
	left, _ = pull(p, 50/48000.0, 64)
	for i := range left {
		if left[i] != 0 {
			t.Fatalf("left[%d] = %v after flush, want 0", i, left[i])
		}
	}
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	p := NewPlayer(1, 48000)
	for i := range maxQueuedChunks + 1 {
		p.Enqueue(seqChunk(float64(i+1)*1000, 4), 0)
	}
	if got := p.Dropped(); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
	left, _ := pull(p, 0, 4)
	if left[0] != 2000 {
		t.Errorf("first sample = %v, want the second chunk after the oldest dropped", left[0])
	}
}
