package engine

import (
	"github.com/uxdesk/uxdesk/engine/matrix"
	"github.com/uxdesk/uxdesk/engine/record"
	"github.com/uxdesk/uxdesk/engine/sched"
)

// mutate runs a matrix mutation under the engine lock and, when it
// succeeds, persists the snapshot and runs the automation pass.
func (e *Engine) mutate(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	e.persistLocked()
	e.automateLocked(false)
	return nil
}

// AddInput creates a hardware input. On a running engine it also opens the
// capture device and gives every live strip a tap for it; a device that
// cannot be opened leaves the input configured but silent.
func (e *Engine) AddInput(deviceRef string) matrix.Input {
	e.mu.Lock()
	defer e.mu.Unlock()
	in := e.mat.AddInput(deviceRef)
	if e.running {
		for _, ch := range e.chains {
			ch.st.EnsureTap(in.ID)
		}
		e.buildFeedLocked(in.ID, deviceRef)
	}
	e.persistLocked()
	e.automateLocked(false)
	return in
}

// RemoveInput deletes an input, its capture feed, and its tap on every
// strip. Routes referencing it die with it.
func (e *Engine) RemoveInput(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.mat.RemoveInput(id); err != nil {
		return err
	}
	if f, ok := e.feeds[id]; ok {
		e.tearFeedLocked(f)
	}
	for _, ch := range e.chains {
		ch.st.DropTap(id)
	}
	e.persistLocked()
	e.automateLocked(false)
	return nil
}

// AddOutput creates an output strip. On a running engine its full chain
// comes up immediately, silent until something routes to it.
func (e *Engine) AddOutput(sinkRef string) matrix.Output {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.mat.AddOutput(sinkRef)
	if e.running {
		e.buildChainLocked(out)
	}
	e.persistLocked()
	e.automateLocked(false)
	return out
}

// RemoveOutput deletes an output and tears down its chain. Every route
// pointing at it, from inputs and from the direct path, cascades away.
func (e *Engine) RemoveOutput(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.mat.RemoveOutput(id); err != nil {
		return err
	}
	if ch, ok := e.chains[id]; ok {
		e.tearChainLocked(ch)
	}
	e.persistLocked()
	e.automateLocked(false)
	return nil
}

// SetInputDevice rebinds an input to a new capture device with a full
// stop/start of its feed.
func (e *Engine) SetInputDevice(id int, deviceRef string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.mat.SetInputDevice(id, deviceRef); err != nil {
		return err
	}
	if e.running {
		if f, ok := e.feeds[id]; ok {
			e.tearFeedLocked(f)
		}
		e.buildFeedLocked(id, deviceRef)
	}
	e.persistLocked()
	e.automateLocked(false)
	return nil
}

// SetOutputSink rebinds an output to a new playback device. Only the device
// side is rebuilt; the strip keeps its state, so parameter values survive
// the move.
func (e *Engine) SetOutputSink(id int, sinkRef string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.mat.SetOutputSink(id, sinkRef); err != nil {
		return err
	}
	if ch, ok := e.chains[id]; ok {
		e.unbindPlaybackLocked(ch)
		ch.ref = sinkRef
		e.bindPlaybackLocked(ch)
	}
	e.persistLocked()
	e.automateLocked(false)
	return nil
}

// SetInputVolume sets an input's pre-route gain.
func (e *Engine) SetInputVolume(id int, v float64) error {
	return e.mutate(func() error { return e.mat.SetInputVolume(id, v) })
}

// SetInputMuted mutes or unmutes an input everywhere it is routed.
func (e *Engine) SetInputMuted(id int, muted bool) error {
	return e.mutate(func() error { return e.mat.SetInputMuted(id, muted) })
}

// SetOutputVolume sets an output's master gain.
func (e *Engine) SetOutputVolume(id int, v float64) error {
	return e.mutate(func() error { return e.mat.SetOutputVolume(id, v) })
}

// SetOutputMuted mutes or unmutes an output's master stage.
func (e *Engine) SetOutputMuted(id int, muted bool) error {
	return e.mutate(func() error { return e.mat.SetOutputMuted(id, muted) })
}

// SetEQGain moves one equalizer band on an output.
func (e *Engine) SetEQGain(id, band int, gainDB float64) error {
	return e.mutate(func() error { return e.mat.SetEQGain(id, band, gainDB) })
}

// SetCompressor replaces an output's dynamics settings.
func (e *Engine) SetCompressor(id int, c matrix.Compressor) error {
	return e.mutate(func() error { return e.mat.SetCompressor(id, c) })
}

// SetDelayMS sets an output's delay line length.
func (e *Engine) SetDelayMS(id int, ms float64) error {
	return e.mutate(func() error { return e.mat.SetDelayMS(id, ms) })
}

// SetDirectVolume sets the stream pseudo-input's gain.
func (e *Engine) SetDirectVolume(v float64) {
	e.mutate(func() error { e.mat.SetDirectVolume(v); return nil })
}

// SetDirectMuted mutes or unmutes the stream pseudo-input.
func (e *Engine) SetDirectMuted(muted bool) {
	e.mutate(func() error { e.mat.SetDirectMuted(muted); return nil })
}

// SetRoute makes or breaks one source-to-output edge.
func (e *Engine) SetRoute(src matrix.Source, outputID int, on bool) error {
	return e.mutate(func() error { return e.mat.SetRoute(src, outputID, on) })
}

// ToggleRoute flips one source-to-output edge and reports the new state.
func (e *Engine) ToggleRoute(src matrix.Source, outputID int) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	on, err := e.mat.ToggleRoute(src, outputID)
	if err != nil {
		return false, err
	}
	e.persistLocked()
	e.automateLocked(false)
	return on, nil
}

// SetTargetBuffer moves the scheduler latency target and persists it. The
// value is floored the same way live and stopped.
func (e *Engine) SetTargetBuffer(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		e.sched.SetTargetBuffer(seconds)
		e.targetBuffer = e.sched.TargetBuffer()
	} else {
		e.targetBuffer = max(seconds, sched.MinTargetBufferSeconds)
	}
	e.persistLocked()
}

// RebindInput stops and restarts an input's capture feed, for recovering a
// device that went away and came back. The open error, if any, is returned;
// the input stays configured either way.
func (e *Engine) RebindInput(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	in, err := e.mat.Input(id)
	if err != nil {
		return err
	}
	if !e.running {
		return nil
	}
	if f, ok := e.feeds[id]; ok {
		e.tearFeedLocked(f)
	}
	return e.buildFeedLocked(id, in.DeviceRef)
}

// RebindOutput stops and restarts an output's playback stream.
func (e *Engine) RebindOutput(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.mat.Output(id); err != nil {
		return err
	}
	ch, ok := e.chains[id]
	if !ok {
		return nil
	}
	e.unbindPlaybackLocked(ch)
	return e.bindPlaybackLocked(ch)
}

// StartRecording bounces an output's post-chain audio to a 16-bit WAV at
// path until StopRecording.
func (e *Engine) StartRecording(outputID int, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return ErrNotRunning
	}
	ch, ok := e.chains[outputID]
	if !ok {
		return matrix.ErrUnknownID
	}
	if ch.rec != nil {
		return ErrRecording
	}
	rec, err := record.Start(path, int(e.cfg.SampleRate))
	if err != nil {
		return err
	}
	ch.rec = rec
	ch.st.SetSink(rec)
	e.log.Info("recording", "output", outputID, "path", path)
	return nil
}

// StopRecording finalizes an output's recorder and reports its write error.
func (e *Engine) StopRecording(outputID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return ErrNotRunning
	}
	ch, ok := e.chains[outputID]
	if !ok {
		return matrix.ErrUnknownID
	}
	if ch.rec == nil {
		return ErrNotRecording
	}
	ch.st.SetSink(nil)
	err := ch.rec.Stop()
	e.log.Info("recording stopped",
		"output", outputID,
		"path", ch.rec.Path(),
		"frames", ch.rec.Frames(),
		"dropped", ch.rec.Dropped())
	ch.rec = nil
	return err
}
