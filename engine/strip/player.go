package strip

import (
	"math"
	"sync"

	"github.com/uxdesk/uxdesk/engine/sched"
)

// maxQueuedChunks bounds the per-output chunk queue. The scheduler's
// overrun reset keeps the queue shallow in practice; the bound only
// protects against a stalled render callback.
const maxQueuedChunks = 64

type pendingChunk struct {
	chunk   sched.Chunk
	startAt float64
}

// Player receives timed chunks from the scheduler and plays them out when
// the render clock reaches their start time. Enqueue and Flush run on the
// scheduler tick, pull on the render callback; the queue mutex is held
// only for pointer work.
type Player struct {
	outputID int
	rate     float64

	mu      sync.Mutex
	queue   []pendingChunk
	head    *pendingChunk
	offset  int
	dropped uint64
}

// NewPlayer builds a player for one output at the engine sample rate.
func NewPlayer(outputID int, rate float64) *Player {
	return &Player{outputID: outputID, rate: rate}
}

// OutputID identifies the output this queue feeds.
func (p *Player) OutputID() int { return p.outputID }

// Enqueue appends a scheduled chunk. When the queue is full the oldest
// queued chunk is dropped to keep latency bounded.
func (p *Player) Enqueue(chunk sched.Chunk, startAt float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) >= maxQueuedChunks {
		p.queue = p.queue[1:]
		p.dropped++
	}
	p.queue = append(p.queue, pendingChunk{chunk: chunk, startAt: startAt})
}

// Flush discards everything queued, including a partially played chunk.
func (p *Player) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = nil
	p.head = nil
	p.offset = 0
}

// Dropped returns how many chunks were discarded by queue overflow.
func (p *Player) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// pullInto fills left and right with the stream audio due in the block
// starting at now. Frames with nothing due stay silent. A chunk whose
// start time has already passed plays immediately rather than being
// skipped; the scheduler corrects persistent drift.
func (p *Player) pullInto(now float64, left, right []float64) {
	frames := len(left)
	clear(left)
	clear(right)

	p.mu.Lock()
	defer p.mu.Unlock()

	pos := 0
	for pos < frames {
		if p.head == nil {
			if len(p.queue) == 0 {
				return
			}
			next := p.queue[0]
			startFrame := int(math.Round((next.startAt - now) * p.rate))
			if startFrame >= frames {
				return
			}
			if startFrame > pos {
				pos = startFrame
			}
			p.queue = p.queue[1:]
			p.head = &next
			p.offset = 0
		}
		n := min(frames-pos, p.head.chunk.Frames()-p.offset)
		copy(left[pos:pos+n], p.head.chunk.Left[p.offset:p.offset+n])
		copy(right[pos:pos+n], p.head.chunk.Right[p.offset:p.offset+n])
		pos += n
		p.offset += n
		if p.offset >= p.head.chunk.Frames() {
			p.head = nil
			p.offset = 0
		}
	}
}
