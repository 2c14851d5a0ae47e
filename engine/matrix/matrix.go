// Package matrix holds the routing state: hardware inputs, output strips,
// the direct stream pseudo-input, and the boolean route edges between them.
// It is pure data with invariant-enforcing operations; the engine serializes
// access and reacts to changes. Ids are allocated gap-filling (the smallest
// unused positive integer) and never shared by two live entities of the
// same kind.
package matrix

import (
	"errors"
	"maps"
	"math"
	"slices"

	"github.com/uxdesk/uxdesk/engine/dsp"
)

// ErrUnknownID reports an operation that referenced a dead or never-created
// entity. The operation is a no-op.
var ErrUnknownID = errors.New("matrix: unknown id")

// ErrInvalidBand reports an equalizer band outside 0..dsp.EQBands-1.
var ErrInvalidBand = errors.New("matrix: eq band out of range")

const (
	// MaxOutputVolume caps output strip volume; inputs are only floored
	// at zero.
	MaxOutputVolume = 1.5

	// MaxDelayMS caps the per-output delay line.
	MaxDelayMS = 1000
)

// Compressor default parameters, applied to every new output.
const (
	DefaultCompThresholdDB = -18.0
	DefaultCompRatio       = 3.0
	DefaultCompAttackSec   = 0.01
	DefaultCompReleaseSec  = 0.25
)

// SourceKind distinguishes hardware inputs from the direct stream input.
type SourceKind uint8

const (
	// SourceInput is a hardware capture input, identified by InputID.
	SourceInput SourceKind = iota

	// SourceDirect is the singleton network stream pseudo-input.
	SourceDirect
)

// Source identifies one side of a route edge. It is comparable and usable
// as a map key.
type Source struct {
	Kind    SourceKind
	InputID int
}

// InputSource returns the source for hardware input id.
func InputSource(id int) Source { return Source{Kind: SourceInput, InputID: id} }

// DirectSource returns the direct stream source.
func DirectSource() Source { return Source{Kind: SourceDirect} }

// Compressor is one output's dynamics settings.
type Compressor struct {
	Enabled     bool
	ThresholdDB float64
	Ratio       float64
	AttackSec   float64
	ReleaseSec  float64
}

// DefaultCompressor returns the settings applied to a new output: disabled,
// with usable values already dialed in.
func DefaultCompressor() Compressor {
	return Compressor{
		ThresholdDB: DefaultCompThresholdDB,
		Ratio:       DefaultCompRatio,
		AttackSec:   DefaultCompAttackSec,
		ReleaseSec:  DefaultCompReleaseSec,
	}
}

func (c Compressor) sanitized() Compressor {
	c.ThresholdDB = sanitize(c.ThresholdDB)
	c.Ratio = clamp(c.Ratio, 1, 100)
	c.AttackSec = clamp(c.AttackSec, 0.0001, 1)
	c.ReleaseSec = clamp(c.ReleaseSec, 0.001, 5)
	return c
}

// Input is a hardware capture input snapshot. Routes is sorted.
type Input struct {
	ID        int
	DeviceRef string
	Volume    float64
	Muted     bool
	Routes    []int
}

// Output is an output strip snapshot.
type Output struct {
	ID         int
	SinkRef    string
	Volume     float64
	Muted      bool
	EQGains    [dsp.EQBands]float64
	Compressor Compressor
	DelayMS    float64
}

// Direct is the stream pseudo-input snapshot. Routes is sorted.
type Direct struct {
	Volume float64
	Muted  bool
	Routes []int
}

type inputState struct {
	deviceRef string
	volume    float64
	muted     bool
	routes    map[int]struct{}
}

type outputState struct {
	sinkRef    string
	volume     float64
	muted      bool
	eqGains    [dsp.EQBands]float64
	compressor Compressor
	delayMS    float64
}

type directState struct {
	volume float64
	muted  bool
	routes map[int]struct{}
}

// Matrix is the routing state. Not safe for concurrent use; the engine
// serializes all access.
type Matrix struct {
	inputs  map[int]*inputState
	outputs map[int]*outputState
	direct  directState
}

// New returns an empty matrix with the direct input at volume 1, unmuted,
// routed nowhere.
func New() *Matrix {
	return &Matrix{
		inputs:  make(map[int]*inputState),
		outputs: make(map[int]*outputState),
		direct: directState{
			volume: 1,
			routes: make(map[int]struct{}),
		},
	}
}

// AddInput creates a hardware input bound to deviceRef with the smallest
// free id, volume 1, unmuted, no routes.
func (m *Matrix) AddInput(deviceRef string) Input {
	id := smallestFreeID(m.inputs)
	m.inputs[id] = &inputState{
		deviceRef: deviceRef,
		volume:    1,
		routes:    make(map[int]struct{}),
	}
	return m.inputSnapshot(id)
}

// RemoveInput deletes an input and its routes.
func (m *Matrix) RemoveInput(id int) error {
	if _, ok := m.inputs[id]; !ok {
		return ErrUnknownID
	}
	delete(m.inputs, id)
	return nil
}

// AddOutput creates an output strip bound to sinkRef with the smallest free
// id and default settings: volume 1, unmuted, flat EQ, default compressor,
// no delay.
func (m *Matrix) AddOutput(sinkRef string) Output {
	id := smallestFreeID(m.outputs)
	m.outputs[id] = &outputState{
		sinkRef:    sinkRef,
		volume:     1,
		compressor: DefaultCompressor(),
	}
	return m.outputSnapshot(id)
}

// RemoveOutput deletes an output and cascades into every input's routing
// set and the direct-routing set, so no dangling route survives.
func (m *Matrix) RemoveOutput(id int) error {
	if _, ok := m.outputs[id]; !ok {
		return ErrUnknownID
	}
	delete(m.outputs, id)
	for _, in := range m.inputs {
		delete(in.routes, id)
	}
	delete(m.direct.routes, id)
	return nil
}

// Input returns a snapshot of one input.
func (m *Matrix) Input(id int) (Input, error) {
	if _, ok := m.inputs[id]; !ok {
		return Input{}, ErrUnknownID
	}
	return m.inputSnapshot(id), nil
}

// Output returns a snapshot of one output.
func (m *Matrix) Output(id int) (Output, error) {
	if _, ok := m.outputs[id]; !ok {
		return Output{}, ErrUnknownID
	}
	return m.outputSnapshot(id), nil
}

// Direct returns the stream pseudo-input snapshot.
func (m *Matrix) Direct() Direct {
	return Direct{
		Volume: m.direct.volume,
		Muted:  m.direct.muted,
		Routes: sortedIDs(m.direct.routes),
	}
}

// Inputs returns all inputs sorted by id.
func (m *Matrix) Inputs() []Input {
	ids := slices.Sorted(maps.Keys(m.inputs))
	out := make([]Input, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.inputSnapshot(id))
	}
	return out
}

// Outputs returns all outputs sorted by id.
func (m *Matrix) Outputs() []Output {
	ids := slices.Sorted(maps.Keys(m.outputs))
	out := make([]Output, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.outputSnapshot(id))
	}
	return out
}

// SetInputDevice rebinds an input to a new capture device handle.
func (m *Matrix) SetInputDevice(id int, deviceRef string) error {
	in, ok := m.inputs[id]
	if !ok {
		return ErrUnknownID
	}
	in.deviceRef = deviceRef
	return nil
}

// SetInputVolume sets an input's volume, floored at 0.
func (m *Matrix) SetInputVolume(id int, v float64) error {
	in, ok := m.inputs[id]
	if !ok {
		return ErrUnknownID
	}
	v = sanitize(v)
	if v < 0 {
		v = 0
	}
	in.volume = v
	return nil
}

// SetInputMuted sets an input's mute flag.
func (m *Matrix) SetInputMuted(id int, muted bool) error {
	in, ok := m.inputs[id]
	if !ok {
		return ErrUnknownID
	}
	in.muted = muted
	return nil
}

// SetOutputSink rebinds an output to a new playback device handle.
func (m *Matrix) SetOutputSink(id int, sinkRef string) error {
	out, ok := m.outputs[id]
	if !ok {
		return ErrUnknownID
	}
	out.sinkRef = sinkRef
	return nil
}

// SetOutputVolume sets an output's master volume, clamped to
// [0, MaxOutputVolume].
func (m *Matrix) SetOutputVolume(id int, v float64) error {
	out, ok := m.outputs[id]
	if !ok {
		return ErrUnknownID
	}
	out.volume = clamp(v, 0, MaxOutputVolume)
	return nil
}

// SetOutputMuted sets an output's mute flag.
func (m *Matrix) SetOutputMuted(id int, muted bool) error {
	out, ok := m.outputs[id]
	if !ok {
		return ErrUnknownID
	}
	out.muted = muted
	return nil
}

// SetEQGain sets one equalizer band of an output in dB.
func (m *Matrix) SetEQGain(id, band int, gainDB float64) error {
	out, ok := m.outputs[id]
	if !ok {
		return ErrUnknownID
	}
	if band < 0 || band >= dsp.EQBands {
		return ErrInvalidBand
	}
	out.eqGains[band] = sanitize(gainDB)
	return nil
}

// SetCompressor replaces an output's dynamics settings, with out-of-range
// values clamped.
func (m *Matrix) SetCompressor(id int, c Compressor) error {
	out, ok := m.outputs[id]
	if !ok {
		return ErrUnknownID
	}
	out.compressor = c.sanitized()
	return nil
}

// SetDelayMS sets an output's delay, clamped to [0, MaxDelayMS].
func (m *Matrix) SetDelayMS(id int, ms float64) error {
	out, ok := m.outputs[id]
	if !ok {
		return ErrUnknownID
	}
	out.delayMS = clamp(ms, 0, MaxDelayMS)
	return nil
}

// SetDirectVolume sets the stream input's volume, floored at 0.
func (m *Matrix) SetDirectVolume(v float64) {
	v = sanitize(v)
	if v < 0 {
		v = 0
	}
	m.direct.volume = v
}

// SetDirectMuted sets the stream input's mute flag.
func (m *Matrix) SetDirectMuted(muted bool) {
	m.direct.muted = muted
}

// SetRoute sets the route edge (src, outputID) to on. Both endpoints must
// be live.
func (m *Matrix) SetRoute(src Source, outputID int, on bool) error {
	routes, err := m.routesOf(src)
	if err != nil {
		return err
	}
	if _, ok := m.outputs[outputID]; !ok {
		return ErrUnknownID
	}
	if on {
		routes[outputID] = struct{}{}
	} else {
		delete(routes, outputID)
	}
	return nil
}

// ToggleRoute flips the route edge (src, outputID) and returns its new
// state.
func (m *Matrix) ToggleRoute(src Source, outputID int) (bool, error) {
	routes, err := m.routesOf(src)
	if err != nil {
		return false, err
	}
	if _, ok := m.outputs[outputID]; !ok {
		return false, ErrUnknownID
	}
	if _, on := routes[outputID]; on {
		delete(routes, outputID)
		return false, nil
	}
	routes[outputID] = struct{}{}
	return true, nil
}

// IsRouted reports whether the route edge (src, outputID) exists. Unknown
// endpoints read as not routed.
func (m *Matrix) IsRouted(src Source, outputID int) bool {
	routes, err := m.routesOf(src)
	if err != nil {
		return false
	}
	_, on := routes[outputID]
	return on
}

// TargetGain is the automation law for one (source, output) pair: the
// source's volume if routed and unmuted, otherwise exactly 0.
func (m *Matrix) TargetGain(src Source, outputID int) float64 {
	if !m.IsRouted(src, outputID) {
		return 0
	}
	switch src.Kind {
	case SourceDirect:
		if m.direct.muted {
			return 0
		}
		return m.direct.volume
	default:
		in, ok := m.inputs[src.InputID]
		if !ok || in.muted {
			return 0
		}
		return in.volume
	}
}

func (m *Matrix) routesOf(src Source) (map[int]struct{}, error) {
	if src.Kind == SourceDirect {
		return m.direct.routes, nil
	}
	in, ok := m.inputs[src.InputID]
	if !ok {
		return nil, ErrUnknownID
	}
	return in.routes, nil
}

func (m *Matrix) inputSnapshot(id int) Input {
	in := m.inputs[id]
	return Input{
		ID:        id,
		DeviceRef: in.deviceRef,
		Volume:    in.volume,
		Muted:     in.muted,
		Routes:    sortedIDs(in.routes),
	}
}

func (m *Matrix) outputSnapshot(id int) Output {
	out := m.outputs[id]
	return Output{
		ID:         id,
		SinkRef:    out.sinkRef,
		Volume:     out.volume,
		Muted:      out.muted,
		EQGains:    out.eqGains,
		Compressor: out.compressor,
		DelayMS:    out.delayMS,
	}
}

func smallestFreeID[T any](m map[int]T) int {
	for id := 1; ; id++ {
		if _, ok := m[id]; !ok {
			return id
		}
	}
}

func sortedIDs(set map[int]struct{}) []int {
	return slices.Sorted(maps.Keys(set))
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	v = sanitize(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
