// Package engine assembles the routing matrix, the stream ingestion path,
// the scheduler, and the per-output signal chains into one runnable mixing
// engine. Control-plane operations are serialized by the engine mutex; the
// audio paths (capture callbacks, render callbacks, the stream connection)
// never take it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/uxdesk/uxdesk/engine/device"
	"github.com/uxdesk/uxdesk/engine/jitter"
	"github.com/uxdesk/uxdesk/engine/matrix"
	"github.com/uxdesk/uxdesk/engine/meter"
	"github.com/uxdesk/uxdesk/engine/record"
	"github.com/uxdesk/uxdesk/engine/sched"
	"github.com/uxdesk/uxdesk/engine/strip"
	"github.com/uxdesk/uxdesk/engine/wire"
)

const (
	// stereoChannels is the frame width everywhere past capture.
	stereoChannels = 2

	// streamRingFrames sizes the ingestion ring: two seconds at 192 kHz,
	// enough headroom for any realistic sender rate.
	streamRingFrames = 2 * 192000

	// spectrumFFTSize and spectrumSmoothing configure each output's
	// analyzer.
	spectrumFFTSize   = 2048
	spectrumSmoothing = 0.6
)

var (
	// ErrNotRunning reports an operation that needs live chains on a
	// stopped engine.
	ErrNotRunning = errors.New("engine: not running")

	// ErrRecording reports StartRecording on an output that already has an
	// active recorder.
	ErrRecording = errors.New("engine: already recording")

	// ErrNotRecording reports StopRecording on an output without one.
	ErrNotRecording = errors.New("engine: not recording")
)

// deviceStream is the slice of device.Stream the engine drives. Tests
// substitute fakes through the open hooks.
type deviceStream interface {
	Start() error
	Stop()
	Close()
}

type (
	openCaptureFunc  func(ref string, rate uint32, channels int, onBlock func([]float32)) (deviceStream, error)
	openPlaybackFunc func(ref string, rate uint32, channels int, render func([]float32)) (deviceStream, error)
)

// feed is one hardware input's live capture side.
type feed struct {
	id     int
	ref    string
	stream deviceStream
	levels meter.Levels
	bound  bool
}

// chain is one output's live render side: the strip, its playback stream,
// and the attached analysis consumers.
type chain struct {
	id       int
	ref      string
	st       *strip.Strip
	stream   deviceStream
	analyzer *meter.Analyzer
	rec      *record.Recorder
	bound    bool
}

// fanout is the capture-callback view of the live strips. It is replaced
// whole on topology changes so the capture path reads it without the engine
// mutex.
type fanout struct {
	strips []*strip.Strip
}

// Engine is the mixing engine. One instance per process; all exported
// methods are safe for concurrent use.
type Engine struct {
	cfg     Config
	log     *slog.Logger
	devices *device.Manager

	mu           sync.Mutex
	running      bool
	mat          *matrix.Matrix
	targetBuffer float64
	feeds        map[int]*feed
	chains       map[int]*chain

	ring     *jitter.Ring
	clock    sched.Clock
	sched    *sched.Scheduler
	listener *wire.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	fan atomic.Pointer[fanout]

	streamConnected atomic.Bool
	streamRate      atomic.Uint32
	streamFrames    atomic.Uint64
	directLevels    meter.Levels

	openCapture  openCaptureFunc
	openPlayback openPlaybackFunc
}

// New builds an engine over the state in snap. Nothing touches the
// hardware until Start.
func New(cfg Config, snap matrix.Snapshot) *Engine {
	cfg = cfg.withDefaults()
	target := snap.TargetBufferSeconds
	if target <= 0 {
		target = cfg.TargetBufferSeconds
	}
	devices := device.NewManager()
	e := &Engine{
		cfg:          cfg,
		log:          cfg.Logger,
		devices:      devices,
		mat:          snap.Restore(),
		targetBuffer: target,
		feeds:        make(map[int]*feed),
		chains:       make(map[int]*chain),
	}
	e.openCapture = func(ref string, rate uint32, channels int, onBlock func([]float32)) (deviceStream, error) {
		return devices.OpenCapture(ref, rate, channels, onBlock)
	}
	e.openPlayback = func(ref string, rate uint32, channels int, render func([]float32)) (deviceStream, error) {
		return devices.OpenPlayback(ref, rate, channels, render)
	}
	return e
}

// Start brings up the scheduler, the stream listener, and a feed or chain
// for every configured entity. Devices that cannot be opened leave their
// entity configured but silent. Starting a running engine is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startLocked()
}

func (e *Engine) startLocked() error {
	if e.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.clock = sched.NewClock()
	e.ring = jitter.New(streamRingFrames, stereoChannels)
	e.sched = sched.New(e.ring, e.clock, sched.Config{
		TickInterval:        e.cfg.TickInterval,
		ChunkFrames:         e.cfg.ChunkFrames,
		TargetBufferSeconds: e.targetBuffer,
	})
	e.targetBuffer = e.sched.TargetBuffer()
	e.listener = wire.NewListener(e.cfg.StreamSocket, &streamSink{
		e:     e,
		ring:  e.ring,
		sched: e.sched,
	}, e.log)
	e.streamConnected.Store(false)
	e.streamRate.Store(0)

	for _, out := range e.mat.Outputs() {
		e.buildChainLocked(out)
	}
	for _, in := range e.mat.Inputs() {
		e.buildFeedLocked(in.ID, in.DeviceRef)
	}
	e.running = true

	listener, scheduler := e.listener, e.sched
	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		scheduler.Run(ctx)
	}()
	go func() {
		defer e.wg.Done()
		if err := listener.Serve(ctx); err != nil {
			e.log.Error("stream listener", "err", err)
		}
	}()

	e.log.Info("engine started",
		"rate", e.cfg.SampleRate,
		"socket", e.cfg.StreamSocket,
		"inputs", len(e.feeds),
		"outputs", len(e.chains))
	return nil
}

// Stop tears down every live feed and chain and stops the scheduler and
// listener goroutines. The matrix survives: Start brings the engine back
// with the same state. Stopping a stopped engine is a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked()
}

func (e *Engine) stopLocked() error {
	if !e.running {
		return nil
	}
	e.running = false

	for _, f := range e.feeds {
		if f.stream != nil {
			f.stream.Close()
		}
	}
	e.feeds = make(map[int]*feed)

	var err error
	for _, ch := range e.chains {
		e.sched.Detach(ch.id)
		e.unbindPlaybackLocked(ch)
		if ch.rec != nil {
			ch.st.SetSink(nil)
			if rerr := ch.rec.Stop(); rerr != nil && err == nil {
				err = fmt.Errorf("engine: stop recorder: %w", rerr)
			}
			ch.rec = nil
		}
	}
	e.chains = make(map[int]*chain)
	e.fan.Store(&fanout{})

	e.cancel()
	e.listener.Close()
	e.wg.Wait()
	e.cancel = nil
	e.listener = nil
	e.sched = nil
	e.ring = nil
	e.clock = nil
	e.streamConnected.Store(false)
	e.streamRate.Store(0)
	e.directLevels.Reset()

	e.log.Info("engine stopped")
	return err
}

// Restart replaces the runtime configuration with a stop-the-world pass.
// It is the only way the socket path, working rate, or scheduler geometry
// change. A stopped engine stays stopped with the new configuration.
func (e *Engine) Restart(cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	wasRunning := e.running
	if err := e.stopLocked(); err != nil {
		e.log.Error("restart teardown", "err", err)
	}
	e.cfg = cfg.withDefaults()
	e.log = e.cfg.Logger
	if !wasRunning {
		return nil
	}
	return e.startLocked()
}

// Close stops the engine and releases the shared device context.
func (e *Engine) Close() error {
	err := e.Stop()
	e.devices.Close()
	return err
}

// buildChainLocked creates one output's live side from its matrix snapshot
// and attaches it to the scheduler. Parameters are snapped, not ramped: a
// fresh chain has no audible history to glide from.
func (e *Engine) buildChainLocked(out matrix.Output) {
	rate := float64(e.cfg.SampleRate)
	st := strip.New(out.ID, rate, e.clock)
	for _, in := range e.mat.Inputs() {
		st.EnsureTap(in.ID)
		st.SnapSourceGain(in.ID, e.mat.TargetGain(matrix.InputSource(in.ID), out.ID))
	}
	st.SnapDirectGain(e.mat.TargetGain(matrix.DirectSource(), out.ID))
	st.SnapMaster(out.Volume, out.Muted)
	st.SnapEQ(out.EQGains)
	c := out.Compressor
	st.ApplyCompressor(c.Enabled, c.ThresholdDB, c.Ratio, c.AttackSec, c.ReleaseSec, true)
	st.SnapDelayMS(out.DelayMS)

	ch := &chain{id: out.ID, ref: out.SinkRef, st: st}
	if analyzer, err := meter.NewAnalyzer(rate, spectrumFFTSize, spectrumSmoothing); err != nil {
		e.log.Error("spectrum analyzer", "output", out.ID, "err", err)
	} else {
		ch.analyzer = analyzer
		st.SetAnalyzer(analyzer)
	}
	e.chains[out.ID] = ch
	e.sched.Attach(st.Player())
	e.bindPlaybackLocked(ch)
	e.storeFanoutLocked()
}

// tearChainLocked detaches a chain from the scheduler and releases its
// device and recorder. The strip goes with it; no cursor or tap survives.
func (e *Engine) tearChainLocked(ch *chain) {
	e.sched.Detach(ch.id)
	e.unbindPlaybackLocked(ch)
	if ch.rec != nil {
		ch.st.SetSink(nil)
		if err := ch.rec.Stop(); err != nil {
			e.log.Error("stop recorder", "output", ch.id, "err", err)
		}
		ch.rec = nil
	}
	delete(e.chains, ch.id)
	e.storeFanoutLocked()
}

// bindPlaybackLocked opens a chain's sink device. Open failure leaves the
// output configured but silent.
func (e *Engine) bindPlaybackLocked(ch *chain) error {
	stream, err := e.openPlayback(ch.ref, e.cfg.SampleRate, stereoChannels, ch.st.Render)
	if err != nil {
		e.log.Warn("sink unavailable", "output", ch.id, "sink", ch.ref, "err", err)
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		e.log.Warn("sink failed to start", "output", ch.id, "sink", ch.ref, "err", err)
		return err
	}
	ch.stream = stream
	ch.bound = true
	return nil
}

func (e *Engine) unbindPlaybackLocked(ch *chain) {
	if ch.stream != nil {
		ch.stream.Close()
		ch.stream = nil
	}
	ch.bound = false
}

// buildFeedLocked opens one input's capture device. Open failure leaves the
// input configured but silent.
func (e *Engine) buildFeedLocked(id int, ref string) error {
	f := &feed{id: id, ref: ref}
	e.feeds[id] = f
	stream, err := e.openCapture(ref, e.cfg.SampleRate, stereoChannels, e.captureFunc(id, f))
	if err != nil {
		e.log.Warn("capture unavailable", "input", id, "device", ref, "err", err)
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		e.log.Warn("capture failed to start", "input", id, "device", ref, "err", err)
		return err
	}
	f.stream = stream
	f.bound = true
	return nil
}

func (e *Engine) tearFeedLocked(f *feed) {
	if f.stream != nil {
		f.stream.Close()
		f.stream = nil
	}
	f.bound = false
	delete(e.feeds, f.id)
}

// captureFunc returns the callback fanning one input's captured blocks out
// to every live strip. It reads the fanout pointer, never the engine mutex,
// so a capture interrupt cannot contend with the control plane.
func (e *Engine) captureFunc(id int, f *feed) func([]float32) {
	return func(samples []float32) {
		f.levels.MeasureInterleaved(samples, stereoChannels)
		fan := e.fan.Load()
		if fan == nil {
			return
		}
		for _, st := range fan.strips {
			st.FeedInput(id, samples, stereoChannels)
		}
	}
}

func (e *Engine) storeFanoutLocked() {
	strips := make([]*strip.Strip, 0, len(e.chains))
	for _, ch := range e.chains {
		strips = append(strips, ch.st)
	}
	e.fan.Store(&fanout{strips: strips})
}

// persistLocked hands the settings callback the current snapshot. Failure
// is logged, not propagated: the in-memory mutation already happened and
// the next successful save catches up.
func (e *Engine) persistLocked() {
	if e.cfg.Persist == nil {
		return
	}
	if err := e.cfg.Persist(e.mat.Settings(e.targetBuffer)); err != nil {
		e.log.Error("persist settings", "err", err)
	}
}
