package engine

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/uxdesk/uxdesk/engine/matrix"
	"github.com/uxdesk/uxdesk/engine/sched"
)

// settleBlocks is how many 1024-frame blocks a 50 ms gain ramp needs to
// snap to its target, with margin.
const settleBlocks = 36

var errNoDevice = errors.New("no such device")

type fakeStream struct {
	started bool
	closed  bool
}

func (s *fakeStream) Start() error { s.started = true; return nil }
func (s *fakeStream) Stop()        { s.started = false }
func (s *fakeStream) Close()       { s.closed = true; s.started = false }

// harness is an engine with the device layer replaced by captured
// callbacks, keyed by device ref.
type harness struct {
	e *Engine

	captures  map[string]func([]float32)
	renders   map[string]func([]float32)
	capStream map[string]*fakeStream
	rndStream map[string]*fakeStream

	failCapture  map[string]error
	failPlayback map[string]error

	persisted int
}

func newHarness(t *testing.T, snap matrix.Snapshot) *harness {
	t.Helper()
	h := &harness{
		captures:     make(map[string]func([]float32)),
		renders:      make(map[string]func([]float32)),
		capStream:    make(map[string]*fakeStream),
		rndStream:    make(map[string]*fakeStream),
		failCapture:  make(map[string]error),
		failPlayback: make(map[string]error),
	}
	cfg := Config{
		StreamSocket: filepath.Join(t.TempDir(), "stream.sock"),
		Persist: func(matrix.Snapshot) error {
			h.persisted++
			return nil
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	e := New(cfg, snap)
	e.openCapture = func(ref string, rate uint32, channels int, onBlock func([]float32)) (deviceStream, error) {
		if err := h.failCapture[ref]; err != nil {
			return nil, err
		}
		st := &fakeStream{}
		h.captures[ref] = onBlock
		h.capStream[ref] = st
		return st, nil
	}
	e.openPlayback = func(ref string, rate uint32, channels int, render func([]float32)) (deviceStream, error) {
		if err := h.failPlayback[ref]; err != nil {
			return nil, err
		}
		st := &fakeStream{}
		h.renders[ref] = render
		h.rndStream[ref] = st
		return st, nil
	}
	h.e = e
	t.Cleanup(func() { e.Close() })
	return h
}

// feedRender pushes value through a capture callback and renders the sink,
// block by block, returning the last rendered block.
func (h *harness) feedRender(capRef, sinkRef string, value float32, blocks int) []float32 {
	const frames = 1024
	in := make([]float32, frames*stereoChannels)
	for i := range in {
		in[i] = value
	}
	out := make([]float32, frames*stereoChannels)
	for range blocks {
		if cb := h.captures[capRef]; cb != nil {
			cb(in)
		}
		h.renders[sinkRef](out)
	}
	return out
}

func TestStartBuildsConfiguredEntities(t *testing.T) {
	snap := matrix.Snapshot{
		Inputs: []matrix.Input{
			{ID: 1, DeviceRef: "mic-1", Volume: 1, Routes: []int{1}},
		},
		Outputs: []matrix.Output{
			{ID: 1, SinkRef: "spk-1", Volume: 1, Compressor: matrix.DefaultCompressor()},
			{ID: 2, SinkRef: "spk-2", Volume: 1, Compressor: matrix.DefaultCompressor()},
		},
		Direct:              matrix.Direct{Volume: 1},
		TargetBufferSeconds: 0.1,
	}
	h := newHarness(t, snap)
	if err := h.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, ok := h.captures["mic-1"]; !ok {
		t.Error("input feed not bound")
	}
	for _, ref := range []string{"spk-1", "spk-2"} {
		if _, ok := h.renders[ref]; !ok {
			t.Errorf("sink %q not bound", ref)
		}
	}
	st := h.e.Status()
	if !st.Running || st.Inputs != 1 || st.Outputs != 2 {
		t.Errorf("status = %+v", st)
	}
	if got := len(h.e.Counters()); got != 2 {
		t.Errorf("counters for %d outputs, want 2", got)
	}

	// The restored route was snapped at build, so the very first block
	// plays at full gain.
	last := h.feedRender("mic-1", "spk-1", 0.5, 1)
	if last[0] != 0.5 || last[1] != 0.5 {
		t.Errorf("first block = %v/%v, want 0.5", last[0], last[1])
	}
}

func TestRoutedInputPlaysToOutput(t *testing.T) {
	h := newHarness(t, matrix.DefaultSnapshot())
	if err := h.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	in := h.e.AddInput("mic-1")
	out := h.e.AddOutput("spk-1")
	if err := h.e.SetRoute(matrix.InputSource(in.ID), out.ID, true); err != nil {
		t.Fatalf("SetRoute: %v", err)
	}
	last := h.feedRender("mic-1", "spk-1", 0.5, settleBlocks)
	n := len(last)
	if last[n-2] != 0.5 || last[n-1] != 0.5 {
		t.Errorf("settled block ends %v/%v, want 0.5", last[n-2], last[n-1])
	}
}

func TestUnroutedInputStaysSilent(t *testing.T) {
	h := newHarness(t, matrix.DefaultSnapshot())
	if err := h.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.e.AddInput("mic-1")
	h.e.AddOutput("spk-1")
	last := h.feedRender("mic-1", "spk-1", 0.5, settleBlocks)
	for i, v := range last {
		if v != 0 {
			t.Fatalf("sample %d = %v, want silence", i, v)
		}
	}
}

func TestMuteSilencesRoutedInput(t *testing.T) {
	h := newHarness(t, matrix.DefaultSnapshot())
	if err := h.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	in := h.e.AddInput("mic-1")
	out := h.e.AddOutput("spk-1")
	if err := h.e.SetRoute(matrix.InputSource(in.ID), out.ID, true); err != nil {
		t.Fatalf("SetRoute: %v", err)
	}
	h.feedRender("mic-1", "spk-1", 0.5, settleBlocks)

	if err := h.e.SetInputMuted(in.ID, true); err != nil {
		t.Fatalf("SetInputMuted: %v", err)
	}
	last := h.feedRender("mic-1", "spk-1", 0.5, settleBlocks)
	n := len(last)
	if last[n-2] != 0 || last[n-1] != 0 {
		t.Errorf("muted block ends %v/%v, want 0", last[n-2], last[n-1])
	}
}

func TestRemoveOutputCascadesRoutes(t *testing.T) {
	h := newHarness(t, matrix.DefaultSnapshot())
	if err := h.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	in := h.e.AddInput("mic-1")
	h.e.AddOutput("spk-1")
	o2 := h.e.AddOutput("spk-2")
	if err := h.e.SetRoute(matrix.InputSource(in.ID), o2.ID, true); err != nil {
		t.Fatalf("SetRoute: %v", err)
	}
	if _, err := h.e.ToggleRoute(matrix.DirectSource(), o2.ID); err != nil {
		t.Fatalf("ToggleRoute: %v", err)
	}

	prev := h.rndStream["spk-2"]
	if err := h.e.RemoveOutput(o2.ID); err != nil {
		t.Fatalf("RemoveOutput: %v", err)
	}
	if !prev.closed {
		t.Error("removed output's stream still open")
	}
	snap := h.e.Snapshot()
	if len(snap.Inputs[0].Routes) != 0 {
		t.Errorf("input routes = %v, want cascade to empty", snap.Inputs[0].Routes)
	}
	if len(snap.Direct.Routes) != 0 {
		t.Errorf("direct routes = %v, want cascade to empty", snap.Direct.Routes)
	}
	if got := len(h.e.Counters()); got != 1 {
		t.Errorf("counters for %d outputs, want 1", got)
	}

	// Gap-filling id allocation hands the freed id to the next output.
	if reused := h.e.AddOutput("spk-3"); reused.ID != o2.ID {
		t.Errorf("new output id = %d, want reused %d", reused.ID, o2.ID)
	}
}

func TestCaptureFailureSilentSkip(t *testing.T) {
	h := newHarness(t, matrix.DefaultSnapshot())
	h.failCapture["dead"] = errNoDevice
	if err := h.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	in := h.e.AddInput("dead")
	if _, ok := h.captures["dead"]; ok {
		t.Fatal("failed device got a callback")
	}
	if st := h.e.Status(); st.Inputs != 1 {
		t.Errorf("inputs = %d, want the silent input to stay configured", st.Inputs)
	}

	if err := h.e.RebindInput(in.ID); !errors.Is(err, errNoDevice) {
		t.Fatalf("RebindInput = %v, want the open error", err)
	}

	delete(h.failCapture, "dead")
	if err := h.e.RebindInput(in.ID); err != nil {
		t.Fatalf("RebindInput after recovery: %v", err)
	}
	if _, ok := h.captures["dead"]; !ok {
		t.Error("recovered device not bound")
	}
}

func TestPersistRunsOnEveryMutation(t *testing.T) {
	h := newHarness(t, matrix.DefaultSnapshot())
	if err := h.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	in := h.e.AddInput("mic-1")
	out := h.e.AddOutput("spk-1")
	h.e.SetRoute(matrix.InputSource(in.ID), out.ID, true)
	h.e.SetInputVolume(in.ID, 0.7)
	h.e.ToggleRoute(matrix.DirectSource(), out.ID)
	h.e.SetTargetBuffer(0.2)
	h.e.SetEQGain(out.ID, 3, -2)
	h.e.RemoveInput(in.ID)
	if h.persisted != 8 {
		t.Errorf("persisted %d times, want 8", h.persisted)
	}

	// Failed operations must not persist.
	if err := h.e.SetInputVolume(99, 1); err == nil {
		t.Fatal("expected unknown id error")
	}
	if h.persisted != 8 {
		t.Errorf("persisted %d times after failed op, want 8", h.persisted)
	}
}

func TestUnknownIDsAreNoOps(t *testing.T) {
	h := newHarness(t, matrix.DefaultSnapshot())
	if err := h.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.e.RemoveInput(9); !errors.Is(err, matrix.ErrUnknownID) {
		t.Errorf("RemoveInput = %v", err)
	}
	if err := h.e.SetOutputVolume(9, 1); !errors.Is(err, matrix.ErrUnknownID) {
		t.Errorf("SetOutputVolume = %v", err)
	}
	if err := h.e.SetEQGain(9, 0, 1); !errors.Is(err, matrix.ErrUnknownID) {
		t.Errorf("SetEQGain = %v", err)
	}
	if _, err := h.e.ToggleRoute(matrix.InputSource(9), 1); !errors.Is(err, matrix.ErrUnknownID) {
		t.Errorf("ToggleRoute = %v", err)
	}
	if err := h.e.StartRecording(9, "x.wav"); !errors.Is(err, matrix.ErrUnknownID) {
		t.Errorf("StartRecording = %v", err)
	}
	if err := h.e.StopRecording(9); !errors.Is(err, matrix.ErrUnknownID) {
		t.Errorf("StopRecording = %v", err)
	}
}

func TestStreamSessionStatus(t *testing.T) {
	h := newHarness(t, matrix.DefaultSnapshot())
	if err := h.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.e.mu.Lock()
	sink := &streamSink{e: h.e, ring: h.e.ring, sched: h.e.sched}
	h.e.mu.Unlock()

	sink.StreamStarted(44100)
	st := h.e.Status()
	if !st.StreamConnected || st.StreamRate != 44100 {
		t.Errorf("after handshake status = %+v", st)
	}

	block := make([]float32, 256)
	for i := range block {
		block[i] = 0.5
	}
	sink.StreamFrames(block)
	if got := h.e.Status().StreamFrames; got != 128 {
		t.Errorf("stream frames = %d, want 128", got)
	}
	if lv := h.e.Levels(); lv.Direct.LeftPeak != 0.5 {
		t.Errorf("direct peak = %v, want 0.5", lv.Direct.LeftPeak)
	}

	sink.StreamEnded(nil)
	if h.e.Status().StreamConnected {
		t.Error("still connected after StreamEnded")
	}
	if lv := h.e.Levels(); lv.Direct.LeftPeak != 0 {
		t.Error("direct meter not reset after disconnect")
	}
}

func TestStopClosesStreamsAndIdles(t *testing.T) {
	h := newHarness(t, matrix.DefaultSnapshot())
	if err := h.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.e.AddInput("mic-1")
	h.e.AddOutput("spk-1")
	capSt := h.capStream["mic-1"]
	rndSt := h.rndStream["spk-1"]

	if err := h.e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !capSt.closed || !rndSt.closed {
		t.Error("device streams survived Stop")
	}
	if h.e.Status().Running {
		t.Error("running after Stop")
	}
	if err := h.e.Stop(); err != nil {
		t.Errorf("second Stop = %v, want no-op", err)
	}
}

func TestRestartSwapsConfig(t *testing.T) {
	h := newHarness(t, matrix.DefaultSnapshot())
	if err := h.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.e.AddOutput("spk-1")
	old := h.rndStream["spk-1"]

	cfg := Config{
		StreamSocket: filepath.Join(t.TempDir(), "other.sock"),
		SampleRate:   44100,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if err := h.e.Restart(cfg); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if !h.e.Status().Running {
		t.Fatal("not running after Restart")
	}
	h.e.mu.Lock()
	socket, rate := h.e.cfg.StreamSocket, h.e.cfg.SampleRate
	h.e.mu.Unlock()
	if socket != cfg.StreamSocket || rate != 44100 {
		t.Errorf("config = %q/%d, want %q/44100", socket, rate, cfg.StreamSocket)
	}
	if !old.closed {
		t.Error("old sink stream survived Restart")
	}
	if h.rndStream["spk-1"] == old {
		t.Error("sink was not rebound on Restart")
	}
}

func TestRecordingLifecycle(t *testing.T) {
	h := newHarness(t, matrix.DefaultSnapshot())
	if err := h.e.StartRecording(1, "x.wav"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("StartRecording on stopped engine = %v", err)
	}
	if err := h.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	out := h.e.AddOutput("spk-1")
	path := filepath.Join(t.TempDir(), "take.wav")

	if err := h.e.StartRecording(out.ID, path); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if err := h.e.StartRecording(out.ID, path); !errors.Is(err, ErrRecording) {
		t.Fatalf("second StartRecording = %v", err)
	}
	buf := make([]float32, 2048)
	for range 4 {
		h.renders["spk-1"](buf)
	}
	if err := h.e.StopRecording(out.ID); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("recorded file: %v", err)
	}
	if err := h.e.StopRecording(out.ID); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("StopRecording again = %v", err)
	}
}

func TestOpsWhileStoppedConfigureOnly(t *testing.T) {
	h := newHarness(t, matrix.DefaultSnapshot())
	in := h.e.AddInput("mic-1")
	out := h.e.AddOutput("spk-1")
	if err := h.e.SetRoute(matrix.InputSource(in.ID), out.ID, true); err != nil {
		t.Fatalf("SetRoute: %v", err)
	}
	if len(h.captures) != 0 || len(h.renders) != 0 {
		t.Fatal("stopped engine touched devices")
	}

	if err := h.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// The route existed before the chain, so the gain is snapped at build
	// and the first block already plays.
	last := h.feedRender("mic-1", "spk-1", 0.5, 1)
	if last[0] != 0.5 {
		t.Errorf("first block = %v, want 0.5", last[0])
	}
}

func TestTargetBufferFloor(t *testing.T) {
	h := newHarness(t, matrix.DefaultSnapshot())
	h.e.SetTargetBuffer(0.001)
	if got := h.e.Status().TargetBufferSeconds; got != sched.MinTargetBufferSeconds {
		t.Errorf("stopped floor = %v, want %v", got, sched.MinTargetBufferSeconds)
	}
	if err := h.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.e.SetTargetBuffer(0.001)
	if got := h.e.Status().TargetBufferSeconds; got != sched.MinTargetBufferSeconds {
		t.Errorf("running floor = %v, want %v", got, sched.MinTargetBufferSeconds)
	}
	h.e.SetTargetBuffer(0.5)
	if got := h.e.Snapshot().TargetBufferSeconds; got != 0.5 {
		t.Errorf("target = %v, want 0.5", got)
	}
}

func TestSetOutputSinkKeepsStrip(t *testing.T) {
	h := newHarness(t, matrix.DefaultSnapshot())
	if err := h.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	out := h.e.AddOutput("spk-1")
	h.e.mu.Lock()
	before := h.e.chains[out.ID].st
	h.e.mu.Unlock()
	old := h.rndStream["spk-1"]

	if err := h.e.SetOutputSink(out.ID, "spk-9"); err != nil {
		t.Fatalf("SetOutputSink: %v", err)
	}
	if !old.closed {
		t.Error("old sink stream still open")
	}
	if _, ok := h.renders["spk-9"]; !ok {
		t.Error("new sink not bound")
	}
	h.e.mu.Lock()
	after := h.e.chains[out.ID].st
	h.e.mu.Unlock()
	if before != after {
		t.Error("strip was rebuilt on sink change; parameters must survive")
	}
}

func TestInputLevelsFollowCapture(t *testing.T) {
	h := newHarness(t, matrix.DefaultSnapshot())
	if err := h.e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	in := h.e.AddInput("mic-1")

	block := make([]float32, 128*stereoChannels)
	for f := range 128 {
		block[f*2] = 0.25
		block[f*2+1] = -0.5
	}
	h.captures["mic-1"](block)

	lv := h.e.Levels()
	if len(lv.Inputs) != 1 || lv.Inputs[0].ID != in.ID {
		t.Fatalf("levels inputs = %+v", lv.Inputs)
	}
	got := lv.Inputs[0].Levels
	if got.LeftPeak != 0.25 || got.RightPeak != 0.5 {
		t.Errorf("peaks = %v/%v, want 0.25/0.5", got.LeftPeak, got.RightPeak)
	}
}
