// Package record bounces an output's rendered audio to a 16-bit PCM WAV
// file. Blocks arrive on the render callback and are handed to a writer
// goroutine through a buffered channel; when the writer falls behind, the
// recorder drops blocks and counts them instead of stalling the callback.
package record

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth  = 16
	pcmFormat = 1
	peak16    = 32767

	// queueDepth holds a few seconds of typical render blocks, enough to
	// ride out a slow disk flush.
	queueDepth = 256
)

type block struct {
	left  []float64
	right []float64
}

// Recorder captures stereo float64 blocks into a WAV file. It implements
// the strip block sink.
type Recorder struct {
	path string
	file *os.File
	enc  *wav.Encoder

	blocks  chan block
	done    chan struct{}
	dropped atomic.Uint64
	frames  atomic.Uint64

	mu       sync.Mutex
	stopped  bool
	writeErr error
}

// Start creates the file at path and begins accepting blocks at the given
// sample rate. The file is not a valid WAV until Stop finalizes it.
func Start(path string, sampleRate int) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("record: create %q: %w", path, err)
	}
	r := &Recorder{
		path:   path,
		file:   f,
		enc:    wav.NewEncoder(f, sampleRate, bitDepth, 2, pcmFormat),
		blocks: make(chan block, queueDepth),
		done:   make(chan struct{}),
	}
	go r.writeLoop(sampleRate)
	return r, nil
}

// Path returns the file being written.
func (r *Recorder) Path() string { return r.path }

// Dropped returns how many blocks were discarded because the writer fell
// behind.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Frames returns how many frames the writer has committed to the encoder.
func (r *Recorder) Frames() uint64 { return r.frames.Load() }

// WriteBlock copies one rendered block into the writer queue. It never
// blocks; a full queue drops the block. Safe against a concurrent Stop.
func (r *Recorder) WriteBlock(left, right []float64) {
	b := block{
		left:  append([]float64(nil), left...),
		right: append([]float64(nil), right...),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	select {
	case r.blocks <- b:
	default:
		r.dropped.Add(1)
	}
}

// Stop drains the queue, finalizes the WAV header, and closes the file.
// Subsequent WriteBlock calls are ignored; a second Stop returns nil.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.blocks)
	<-r.done

	encErr := r.enc.Close()
	syncErr := r.file.Sync()
	closeErr := r.file.Close()

	r.mu.Lock()
	writeErr := r.writeErr
	r.mu.Unlock()

	switch {
	case writeErr != nil:
		return writeErr
	case encErr != nil:
		return fmt.Errorf("record: finalize %q: %w", r.path, encErr)
	case syncErr != nil:
		return fmt.Errorf("record: sync %q: %w", r.path, syncErr)
	case closeErr != nil:
		return fmt.Errorf("record: close %q: %w", r.path, closeErr)
	}
	return nil
}

func (r *Recorder) writeLoop(sampleRate int) {
	defer close(r.done)
	format := &goaudio.Format{NumChannels: 2, SampleRate: sampleRate}
	for b := range r.blocks {
		if r.failed() {
			continue
		}
		buf := &goaudio.IntBuffer{
			Format:         format,
			SourceBitDepth: bitDepth,
			Data:           make([]int, len(b.left)*2),
		}
		for i := range b.left {
			buf.Data[i*2] = pcm16(b.left[i])
			buf.Data[i*2+1] = pcm16(b.right[i])
		}
		if err := r.enc.Write(buf); err != nil {
			r.fail(fmt.Errorf("record: write %q: %w", r.path, err))
			continue
		}
		r.frames.Add(uint64(len(b.left)))
	}
}

func (r *Recorder) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr == nil {
		r.writeErr = err
	}
}

func (r *Recorder) failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeErr != nil
}

// pcm16 clamps to full scale and quantizes to a signed 16-bit value.
func pcm16(v float64) int {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int(v * peak16)
}
