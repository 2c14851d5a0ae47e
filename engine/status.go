package engine

import (
	"github.com/uxdesk/uxdesk/engine/device"
	"github.com/uxdesk/uxdesk/engine/matrix"
	"github.com/uxdesk/uxdesk/engine/meter"
)

// Status is the engine's liveness summary.
type Status struct {
	Running             bool
	StreamConnected     bool
	StreamRate          uint32
	StreamFrames        uint64
	TargetBufferSeconds float64
	Inputs              int
	Outputs             int
}

// Status reports liveness, stream negotiation, and entity counts.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Running:             e.running,
		StreamConnected:     e.streamConnected.Load(),
		StreamRate:          e.streamRate.Load(),
		StreamFrames:        e.streamFrames.Load(),
		TargetBufferSeconds: e.targetBuffer,
		Inputs:              len(e.mat.Inputs()),
		Outputs:             len(e.mat.Outputs()),
	}
}

// Snapshot returns the matrix as it would be persisted.
func (e *Engine) Snapshot() matrix.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mat.Settings(e.targetBuffer)
}

// EntityLevels pairs an entity id with its meter reading.
type EntityLevels struct {
	ID     int
	Levels meter.LevelSnapshot
}

// LevelsReport is one poll of every meter: pre-route for hardware inputs
// and the direct stream, post-chain for outputs. Entities without a live
// feed or chain read as silence.
type LevelsReport struct {
	Inputs  []EntityLevels
	Direct  meter.LevelSnapshot
	Outputs []EntityLevels
}

// Levels reads every meter, sorted by id.
func (e *Engine) Levels() LevelsReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	rep := LevelsReport{Direct: e.directLevels.Read()}
	for _, in := range e.mat.Inputs() {
		var lv meter.LevelSnapshot
		if f, ok := e.feeds[in.ID]; ok {
			lv = f.levels.Read()
		}
		rep.Inputs = append(rep.Inputs, EntityLevels{ID: in.ID, Levels: lv})
	}
	for _, out := range e.mat.Outputs() {
		var lv meter.LevelSnapshot
		if ch, ok := e.chains[out.ID]; ok {
			lv = ch.st.Levels()
		}
		rep.Outputs = append(rep.Outputs, EntityLevels{ID: out.ID, Levels: lv})
	}
	return rep
}

// OutputCounters is one live output's telemetry: scheduler corrections,
// player queue drops, recorder state.
type OutputCounters struct {
	ID            int
	Underruns     uint64
	Overruns      uint64
	DroppedChunks uint64
	Recording     bool
	RecordPath    string
	RecorderDrops uint64
}

// Counters reports telemetry for every live chain, sorted by id.
func (e *Engine) Counters() []OutputCounters {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]OutputCounters, 0, len(e.chains))
	for _, o := range e.mat.Outputs() {
		ch, ok := e.chains[o.ID]
		if !ok {
			continue
		}
		c := OutputCounters{ID: o.ID, DroppedChunks: ch.st.Player().Dropped()}
		if stats, ok := e.sched.Stats(o.ID); ok {
			c.Underruns = stats.Underruns
			c.Overruns = stats.Overruns
		}
		if ch.rec != nil {
			c.Recording = true
			c.RecordPath = ch.rec.Path()
			c.RecorderDrops = ch.rec.Dropped()
		}
		out = append(out, c)
	}
	return out
}

// Spectrum is one output's magnitude spectrum in dBFS, one bin per entry
// from DC to nyquist.
type Spectrum struct {
	Frequencies []float64
	Bins        []float64
}

// Spectrum reads an output's analyzer.
func (e *Engine) Spectrum(outputID int) (Spectrum, error) {
	e.mu.Lock()
	ch, ok := e.chains[outputID]
	e.mu.Unlock()
	if !ok || ch.analyzer == nil {
		return Spectrum{}, matrix.ErrUnknownID
	}
	return Spectrum{
		Frequencies: ch.analyzer.Frequencies(),
		Bins:        ch.analyzer.Bins(),
	}, nil
}

// CaptureDevices lists the capture hardware the device layer sees.
func (e *Engine) CaptureDevices() ([]device.Info, error) {
	return e.devices.CaptureDevices()
}

// PlaybackDevices lists the playback hardware the device layer sees.
func (e *Engine) PlaybackDevices() ([]device.Info, error) {
	return e.devices.PlaybackDevices()
}
