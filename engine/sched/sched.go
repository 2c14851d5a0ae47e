// Package sched turns the inbound jitter ring into timed playback chunks.
// Each attached output keeps a schedule cursor (the start time of its next
// chunk); the scheduler corrects the cursor when playback drifts out of the
// buffering window instead of resampling.
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/uxdesk/uxdesk/engine/jitter"
)

const (
	// DefaultTickInterval is how often the ring is drained.
	DefaultTickInterval = 20 * time.Millisecond

	// DefaultChunkFrames is the dispatch granularity in frames.
	DefaultChunkFrames = 1024

	// DefaultTargetBufferSeconds is the scheduling lead the cursor aims
	// for: chunks are timed to play this far after they are dispatched.
	DefaultTargetBufferSeconds = 0.1

	// MinTargetBufferSeconds floors live target adjustments.
	MinTargetBufferSeconds = 0.05

	// DefaultSafetyMarginSeconds is added on top of the target when a
	// cursor is re-primed after an underrun.
	DefaultSafetyMarginSeconds = 0.05

	// DefaultResetThresholdFactor and DefaultResetThresholdBias define how
	// far ahead of real time a cursor may run before the output is flushed
	// and re-primed: threshold = factor*target + bias.
	DefaultResetThresholdFactor = 3
	DefaultResetThresholdBias   = 0.2
)

// Clock supplies monotonic time in seconds. The engine time base starts at
// zero; tests substitute a fake.
type Clock interface {
	Now() float64
}

type monotonicClock struct {
	start time.Time
}

// NewClock returns the production clock, measuring seconds from now.
func NewClock() Clock {
	return &monotonicClock{start: time.Now()}
}

func (c *monotonicClock) Now() float64 {
	return time.Since(c.start).Seconds()
}

// Chunk is one scheduled block of channel-separated audio. The slices are
// shared by every output the chunk was dispatched to and must be treated as
// read-only.
type Chunk struct {
	Left  []float64
	Right []float64
}

// Frames returns the chunk length in frames.
func (c Chunk) Frames() int { return len(c.Left) }

// Queue receives dispatched chunks for one output. Enqueue hands over a
// chunk with its scheduled start time; Flush discards everything still
// queued after an overrun reset. Both are called with the scheduler lock
// held and must not block.
type Queue interface {
	OutputID() int
	Enqueue(chunk Chunk, startAt float64)
	Flush()
}

// Counters is per-output drift telemetry.
type Counters struct {
	Underruns uint64
	Overruns  uint64
}

// Config carries the scheduler tuning knobs. Zero fields take the package
// defaults.
type Config struct {
	TickInterval         time.Duration
	ChunkFrames          int
	TargetBufferSeconds  float64
	SafetyMarginSeconds  float64
	ResetThresholdFactor float64
	ResetThresholdBias   float64
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.ChunkFrames <= 0 {
		c.ChunkFrames = DefaultChunkFrames
	}
	if c.TargetBufferSeconds == 0 {
		c.TargetBufferSeconds = DefaultTargetBufferSeconds
	}
	if c.TargetBufferSeconds < MinTargetBufferSeconds {
		c.TargetBufferSeconds = MinTargetBufferSeconds
	}
	if c.SafetyMarginSeconds == 0 {
		c.SafetyMarginSeconds = DefaultSafetyMarginSeconds
	}
	if c.ResetThresholdFactor == 0 {
		c.ResetThresholdFactor = DefaultResetThresholdFactor
	}
	if c.ResetThresholdBias == 0 {
		c.ResetThresholdBias = DefaultResetThresholdBias
	}
	return c
}

// Scheduler drains the stream ring and dispatches timed chunks to every
// attached output queue. It is the ring's only consumer.
type Scheduler struct {
	cfg   Config
	clock Clock
	ring  *jitter.Ring

	mu       sync.Mutex
	rate     float64
	target   float64
	queues   map[int]Queue
	cursors  map[int]float64
	counters map[int]*Counters

	scratch [][]float32
}

// New creates a scheduler draining ring with the given clock.
func New(ring *jitter.Ring, clock Clock, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	scratch := make([][]float32, ring.Channels())
	for i := range scratch {
		scratch[i] = make([]float32, cfg.ChunkFrames)
	}
	return &Scheduler{
		cfg:      cfg,
		clock:    clock,
		ring:     ring,
		rate:     48000,
		target:   cfg.TargetBufferSeconds,
		queues:   make(map[int]Queue),
		cursors:  make(map[int]float64),
		counters: make(map[int]*Counters),
		scratch:  scratch,
	}
}

// Attach registers an output queue. Its first chunk is primed at
// now + target + margin without counting as an underrun.
func (s *Scheduler) Attach(q Queue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := q.OutputID()
	s.queues[id] = q
	s.counters[id] = &Counters{}
	delete(s.cursors, id)
}

// Detach removes an output queue together with its cursor and counters.
func (s *Scheduler) Detach(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queues, id)
	delete(s.cursors, id)
	delete(s.counters, id)
}

// SetRate installs the sample rate published by the stream handshake.
func (s *Scheduler) SetRate(rate uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rate > 0 {
		s.rate = float64(rate)
	}
}

// SetTargetBuffer adjusts the scheduling lead, floored at
// MinTargetBufferSeconds. Takes effect on the next dispatch.
func (s *Scheduler) SetTargetBuffer(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seconds < MinTargetBufferSeconds {
		seconds = MinTargetBufferSeconds
	}
	s.target = seconds
}

// TargetBuffer returns the current scheduling lead in seconds.
func (s *Scheduler) TargetBuffer() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Stats returns the drift counters of one output.
func (s *Scheduler) Stats(id int) (Counters, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[id]
	if !ok {
		return Counters{}, false
	}
	return *c, true
}

// Run ticks the scheduler until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick drains every whole chunk currently buffered and dispatches each to
// all attached outputs. The ring keeps draining with no outputs attached so
// a later output starts on fresh audio.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := s.cfg.ChunkFrames
	now := s.clock.Now()
	dur := float64(frames) / s.rate
	threshold := s.cfg.ResetThresholdFactor*s.target + s.cfg.ResetThresholdBias

	for s.ring.Available() >= frames {
		if !s.ring.Pop(s.scratch, frames) {
			break
		}
		if len(s.queues) == 0 {
			continue
		}

		chunk := s.convert(frames)
		for id, q := range s.queues {
			next, seen := s.cursors[id]
			switch {
			case !seen:
				next = now + s.target + s.cfg.SafetyMarginSeconds
			case next < now:
				next = now + s.target + s.cfg.SafetyMarginSeconds
				s.counters[id].Underruns++
			case next > now+threshold:
				next = now + s.target
				q.Flush()
				s.counters[id].Overruns++
			}
			q.Enqueue(chunk, next)
			s.cursors[id] = next + dur
		}
	}
}

func (s *Scheduler) convert(frames int) Chunk {
	chunk := Chunk{
		Left:  make([]float64, frames),
		Right: make([]float64, frames),
	}
	for i := range frames {
		chunk.Left[i] = float64(s.scratch[0][i])
		chunk.Right[i] = float64(s.scratch[1][i])
	}
	return chunk
}
