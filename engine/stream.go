package engine

import (
	"github.com/uxdesk/uxdesk/engine/jitter"
	"github.com/uxdesk/uxdesk/engine/sched"
)

// streamSink adapts the engine to the wire listener's event interface. It
// holds its own ring and scheduler references: a connection goroutine can
// outlive a Stop and must land its last events on the instances it started
// with, not chase the engine's current ones.
type streamSink struct {
	e     *Engine
	ring  *jitter.Ring
	sched *sched.Scheduler
}

// StreamStarted opens a sender session. The scheduler adopts the sender's
// rate and stale frames from the previous session are dropped.
func (s *streamSink) StreamStarted(sampleRate uint32) {
	s.ring.Clear()
	s.sched.SetRate(sampleRate)
	s.e.streamRate.Store(sampleRate)
	s.e.streamConnected.Store(true)
	s.e.log.Info("stream connected", "rate", sampleRate)
}

// StreamFrames lands decoded frames in the ring and meters them. Runs on
// the connection goroutine and must not block.
func (s *streamSink) StreamFrames(samples []float32) {
	s.ring.Push(samples, stereoChannels)
	s.e.directLevels.MeasureInterleaved(samples, stereoChannels)
	s.e.streamFrames.Add(uint64(len(samples) / stereoChannels))
}

// StreamEnded closes the session. The listener goes back to accepting; the
// engine reads as disconnected until the next handshake.
func (s *streamSink) StreamEnded(err error) {
	s.e.streamConnected.Store(false)
	s.e.directLevels.Reset()
	if err != nil {
		s.e.log.Warn("stream ended", "err", err)
		return
	}
	s.e.log.Info("stream ended")
}
