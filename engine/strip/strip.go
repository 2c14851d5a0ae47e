// Package strip renders output strips. A strip owns the mix bus for one
// playback device: it pulls captured audio from per-input taps and timed
// stream chunks from its player, applies the per-output processing chain,
// and hands interleaved float32 blocks to the hardware callback.
//
// Routing never tears a strip down. An unrouted or muted source keeps its
// tap and simply contributes at gain zero, so toggling a route is a gain
// ramp, not a rebuild.
package strip

import (
	"sync"

	"github.com/cwbudde/algo-vecmath"

	"github.com/uxdesk/uxdesk/engine/dsp"
	"github.com/uxdesk/uxdesk/engine/jitter"
	"github.com/uxdesk/uxdesk/engine/meter"
	"github.com/uxdesk/uxdesk/engine/sched"
)

const (
	// tapRingFrames buffers roughly 250ms of capture audio per tap at
	// 48kHz, enough to ride out callback scheduling jitter between the
	// capture and render threads.
	tapRingFrames = 12288

	// gainRampSeconds is the smoothing time constant for gain changes:
	// source gains, the direct gain, the master fader. Short enough that
	// a route or mute toggle lands as soon as it is heard.
	gainRampSeconds = 0.02

	// paramRampSeconds is the slower time constant for processing
	// parameters: EQ band gains and compressor settings.
	paramRampSeconds = 0.05

	// delayFadeSeconds is the crossfade length when the delay time moves.
	delayFadeSeconds = 0.05

	stereoChannels = 2
)

// BlockSink receives rendered blocks, post master fader. Implementations
// must not block; the render callback drops nothing on their behalf.
type BlockSink interface {
	WriteBlock(left, right []float64)
}

type tap struct {
	ring *jitter.Ring
	gain dsp.Smoother
}

// Strip is one output's render path. All mutating calls are safe against
// a concurrent Render.
type Strip struct {
	id   int
	rate float64

	clock  sched.Clock
	player *Player

	mu          sync.Mutex
	taps        map[int]*tap
	directGain  dsp.Smoother
	master      dsp.Smoother
	eq          *dsp.Equalizer
	comp        *dsp.Compressor
	compEnabled bool
	delayLeft   *dsp.Delay
	delayRight  *dsp.Delay
	analyzer    *meter.Analyzer
	sink        BlockSink

	levels meter.Levels

	// Render scratch, sized on demand. Owned by the render callback but
	// allocated under mu so a concurrent param change cannot observe a
	// half-grown buffer.
	busLeft   []float64
	busRight  []float64
	srcLeft   []float64
	srcRight  []float64
	mixTmp    []float64
	popBuf    [][]float32
	railLeft  []float64
	railRight []float64
}

// New builds an idle strip for output id rendering at rate. Every gain
// starts at zero so a freshly built strip is silent until the automation
// pass seeds it.
func New(id int, rate float64, clock sched.Clock) *Strip {
	maxDelay := int(rate) // one second
	s := &Strip{
		id:         id,
		rate:       rate,
		clock:      clock,
		player:     NewPlayer(id, rate),
		taps:       make(map[int]*tap),
		directGain: dsp.NewSmoother(0, gainRampSeconds, rate),
		master:     dsp.NewSmoother(0, gainRampSeconds, rate),
		eq:         dsp.NewEqualizer(rate, paramRampSeconds),
		comp:       dsp.NewCompressor(rate, paramRampSeconds),
		delayLeft:  dsp.NewDelay(maxDelay),
		delayRight: dsp.NewDelay(maxDelay),
		popBuf:     make([][]float32, stereoChannels),
	}
	return s
}

// ID returns the output id this strip renders.
func (s *Strip) ID() int { return s.id }

// Player returns the scheduler queue feeding this strip.
func (s *Strip) Player() *Player { return s.player }

// Levels returns the post-fader meter reading.
func (s *Strip) Levels() meter.LevelSnapshot { return s.levels.Read() }

// EnsureTap creates the capture tap for an input if it does not exist.
// New taps start at gain zero.
func (s *Strip) EnsureTap(inputID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.taps[inputID]; ok {
		return
	}
	s.taps[inputID] = &tap{
		ring: jitter.New(tapRingFrames, stereoChannels),
		gain: dsp.NewSmoother(0, gainRampSeconds, s.rate),
	}
}

// DropTap removes an input's tap entirely. Used when the input itself is
// removed, not when it is unrouted.
func (s *Strip) DropTap(inputID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.taps, inputID)
}

// FeedInput pushes captured samples into an input's tap. Inputs without a
// tap on this strip are ignored. Safe to call from the capture callback.
func (s *Strip) FeedInput(inputID int, samples []float32, channels int) {
	s.mu.Lock()
	tp, ok := s.taps[inputID]
	s.mu.Unlock()
	if !ok {
		return
	}
	tp.ring.Push(samples, channels)
}

// SetSourceGain ramps an input's contribution to this strip.
func (s *Strip) SetSourceGain(inputID int, gain float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tp, ok := s.taps[inputID]; ok {
		tp.gain.SetTarget(gain)
	}
}

// SnapSourceGain sets an input's contribution without a ramp.
func (s *Strip) SnapSourceGain(inputID int, gain float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tp, ok := s.taps[inputID]; ok {
		tp.gain.Snap(gain)
	}
}

// SetDirectGain ramps the stream contribution to this strip.
func (s *Strip) SetDirectGain(gain float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directGain.SetTarget(gain)
}

// SnapDirectGain sets the stream contribution without a ramp.
func (s *Strip) SnapDirectGain(gain float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.directGain.Snap(gain)
}

// SetMaster ramps the output fader. Mute folds in as a zero target so an
// unmute ramps back to the set volume.
func (s *Strip) SetMaster(volume float64, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.master.SetTarget(masterTarget(volume, muted))
}

// SnapMaster sets the output fader without a ramp.
func (s *Strip) SnapMaster(volume float64, muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.master.Snap(masterTarget(volume, muted))
}

func masterTarget(volume float64, muted bool) float64 {
	if muted {
		return 0
	}
	return volume
}

// ApplyEQ ramps all ten band gains to gainsDB.
func (s *Strip) ApplyEQ(gainsDB [dsp.EQBands]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for band, g := range gainsDB {
		s.eq.SetGain(band, g)
	}
}

// SnapEQ sets all band gains without a ramp.
func (s *Strip) SnapEQ(gainsDB [dsp.EQBands]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eq.SnapGains(gainsDB)
}

// ApplyCompressor reconfigures the dynamics stage. Threshold and ratio
// ramp; attack and release switch immediately. Turning the stage on after
// it was bypassed clears stale follower state.
func (s *Strip) ApplyCompressor(enabled bool, thresholdDB, ratio, attackSec, releaseSec float64, snap bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if enabled && !s.compEnabled {
		s.comp.Reset()
	}
	s.compEnabled = enabled
	if snap {
		s.comp.SnapThreshold(thresholdDB)
		s.comp.SnapRatio(ratio)
	} else {
		s.comp.SetThreshold(thresholdDB)
		s.comp.SetRatio(ratio)
	}
	s.comp.SetAttack(attackSec)
	s.comp.SetRelease(releaseSec)
}

// SetDelayMS moves the delay line, crossfading between the old and new
// tap positions.
func (s *Strip) SetDelayMS(ms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	samples := int(ms*s.rate/1000 + 0.5)
	fade := int(delayFadeSeconds * s.rate)
	s.delayLeft.SetDelay(samples, fade)
	s.delayRight.SetDelay(samples, fade)
}

// SnapDelayMS moves the delay line without a crossfade.
func (s *Strip) SnapDelayMS(ms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	samples := int(ms*s.rate/1000 + 0.5)
	s.delayLeft.SetDelay(samples, 0)
	s.delayRight.SetDelay(samples, 0)
}

// SetAnalyzer attaches a spectrum analyzer to this strip's post-fader
// signal, or detaches it when nil.
func (s *Strip) SetAnalyzer(a *meter.Analyzer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzer = a
}

// SetSink attaches a rendered-block consumer, or detaches it when nil.
func (s *Strip) SetSink(sink BlockSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Render fills out with interleaved stereo float32 for the hardware
// callback. It never blocks on sources: starved taps and absent chunks
// contribute silence.
func (s *Strip) Render(out []float32) {
	frames := len(out) / stereoChannels
	if frames == 0 {
		return
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureScratch(frames)
	busL := s.busLeft[:frames]
	busR := s.busRight[:frames]
	clear(busL)
	clear(busR)

	for _, tp := range s.taps {
		s.mixTap(tp, busL, busR, frames)
	}

	s.player.pullInto(now, s.railLeft[:frames], s.railRight[:frames])
	mixStereo(busL, busR, s.railLeft[:frames], s.railRight[:frames], &s.directGain, s.mixTmp)

	s.eq.ProcessStereo(busL, busR)
	if s.compEnabled {
		s.comp.ProcessStereo(busL, busR)
	}
	s.delayLeft.ProcessBlock(busL)
	s.delayRight.ProcessBlock(busR)

	applyGain(busL, busR, &s.master)

	s.levels.Measure(busL, busR)
	if s.analyzer != nil {
		s.analyzer.Push(busL, busR)
	}
	if s.sink != nil {
		s.sink.WriteBlock(busL, busR)
	}

	for i := range frames {
		out[i*stereoChannels] = float32(busL[i])
		out[i*stereoChannels+1] = float32(busR[i])
	}
}

// mixTap pops whatever the tap has buffered, up to a full block, and
// accumulates it through the tap gain. The gain ramp advances across the
// whole block even when the tap is starved, so ramps finish on time.
func (s *Strip) mixTap(tp *tap, busL, busR []float64, frames int) {
	n := min(tp.ring.Available(), frames)
	if n > 0 && tp.ring.Pop(s.popBuf, n) {
		for i := range n {
			s.srcLeft[i] = float64(s.popBuf[0][i])
			s.srcRight[i] = float64(s.popBuf[1][i])
		}
		mixStereo(busL[:n], busR[:n], s.srcLeft[:n], s.srcRight[:n], &tp.gain, s.mixTmp)
	} else {
		n = 0
	}
	if n < frames {
		tp.gain.Advance(frames - n)
	}
}

// mixStereo accumulates src into dst through a shared gain smoother. A
// settled gain takes the vectorized path; a ramping one steps per frame.
func mixStereo(dstL, dstR, srcL, srcR []float64, gain *dsp.Smoother, tmp []float64) {
	n := len(srcL)
	if gain.Done() {
		v := gain.Value()
		if v == 0 {
			return
		}
		vecmath.ScaleBlock(tmp[:n], srcL, v)
		vecmath.AddBlockInPlace(dstL, tmp[:n])
		vecmath.ScaleBlock(tmp[:n], srcR, v)
		vecmath.AddBlockInPlace(dstR, tmp[:n])
		return
	}
	for i := range n {
		v := gain.Next()
		dstL[i] += srcL[i] * v
		dstR[i] += srcR[i] * v
	}
}

// applyGain scales both channels in place through a smoother.
func applyGain(left, right []float64, gain *dsp.Smoother) {
	if gain.Done() {
		v := gain.Value()
		if v == 1 {
			return
		}
		vecmath.ScaleBlock(left, left, v)
		vecmath.ScaleBlock(right, right, v)
		return
	}
	for i := range left {
		v := gain.Next()
		left[i] *= v
		right[i] *= v
	}
}

func (s *Strip) ensureScratch(frames int) {
	if len(s.busLeft) >= frames {
		return
	}
	s.busLeft = make([]float64, frames)
	s.busRight = make([]float64, frames)
	s.srcLeft = make([]float64, frames)
	s.srcRight = make([]float64, frames)
	s.mixTmp = make([]float64, frames)
	s.railLeft = make([]float64, frames)
	s.railRight = make([]float64, frames)
	s.popBuf[0] = make([]float32, frames)
	s.popBuf[1] = make([]float32, frames)
}
