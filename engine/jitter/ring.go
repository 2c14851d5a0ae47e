// Package jitter provides a fixed-capacity ring buffer that decouples bursty
// audio producers from fixed-size consumers. It backs the network ingestion
// path and the per-tap capture fan-out buffers.
package jitter

import "sync"

// Ring stores audio frames in per-channel arrays between a single producer
// and a single consumer. When full, each new frame overwrites the oldest one,
// so the producer never blocks; bounded staleness is preferred over unbounded
// growth.
type Ring struct {
	mu    sync.Mutex
	chans [][]float32

	// Frame cursors. availableFrames stays within [0, capacity] and is kept
	// consistent with cursor arithmetic modulo capacity.
	write int
	read  int
	avail int
}

// New creates a ring holding capacityFrames frames of channels channels.
// Non-positive arguments are clamped to 1.
func New(capacityFrames, channels int) *Ring {
	if capacityFrames < 1 {
		capacityFrames = 1
	}
	if channels < 1 {
		channels = 1
	}
	chans := make([][]float32, channels)
	for c := range chans {
		chans[c] = make([]float32, capacityFrames)
	}
	return &Ring{chans: chans}
}

// Capacity returns the fixed frame capacity.
func (r *Ring) Capacity() int { return len(r.chans[0]) }

// Channels returns the channel count fixed at construction.
func (r *Ring) Channels() int { return len(r.chans) }

// Available returns the number of frames ready to pop.
func (r *Ring) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.avail
}

// Push deinterleaves samples (channels samples per frame) into the ring,
// frame by frame, advancing the write cursor with wraparound. When the ring
// is full each pushed frame also advances the read cursor, dropping the
// oldest frame. A trailing partial frame in samples is ignored. Channels
// beyond the ring's channel count are dropped; missing ones write silence.
func (r *Ring) Push(samples []float32, channels int) {
	if channels <= 0 {
		return
	}
	frames := len(samples) / channels

	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.chans[0])
	for f := range frames {
		for c := range r.chans {
			var s float32
			if c < channels {
				s = samples[f*channels+c]
			}
			r.chans[c][r.write] = s
		}
		r.write++
		if r.write == capacity {
			r.write = 0
		}
		if r.avail == capacity {
			// Overwrite-oldest: the frame just written consumed the slot the
			// read cursor pointed at.
			r.read++
			if r.read == capacity {
				r.read = 0
			}
		} else {
			r.avail++
		}
	}
}

// Pop copies frames frames per channel into dst and advances the read cursor.
// It is all-or-nothing: if fewer than frames frames are available it returns
// false and copies nothing. dst must hold one slice of at least frames
// samples per ring channel.
func (r *Ring) Pop(dst [][]float32, frames int) bool {
	if frames <= 0 {
		return frames == 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.avail < frames {
		return false
	}

	capacity := len(r.chans[0])
	head := min(frames, capacity-r.read)
	for c := range r.chans {
		copy(dst[c][:head], r.chans[c][r.read:r.read+head])
		if head < frames {
			copy(dst[c][head:frames], r.chans[c][:frames-head])
		}
	}

	r.read = (r.read + frames) % capacity
	r.avail -= frames
	return true
}

// Clear resets both cursors and drops all buffered frames. Used when a new
// network connection replaces the previous stream.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.write = 0
	r.read = 0
	r.avail = 0
}
