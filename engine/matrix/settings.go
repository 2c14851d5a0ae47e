package matrix

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	bstd "github.com/banditmoscow1337/benc/std/golang"

	"github.com/uxdesk/uxdesk/engine/dsp"
)

// Settings files carry a 4-byte magic, a schema version byte, and a benc
// payload. Version 1 is the legacy single-input layout where routes lived
// on the outputs as a pair of flags; loading it runs the migration once and
// the next save writes version 2.
const (
	settingsMagic      = "UXDS"
	settingsHeaderSize = 5

	schemaV1 = 1

	// SchemaVersion is the settings layout written by SaveSettings.
	SchemaVersion = 2

	maxSettingsFile = 1 << 20

	defaultTargetBufferSeconds = 0.1
)

// ErrCorruptSettings reports a settings file that is not a settings file:
// wrong magic, truncated header, or an absurd size.
var ErrCorruptSettings = errors.New("matrix: corrupt settings file")

// Snapshot is the persisted state: the full matrix plus engine tunables.
type Snapshot struct {
	Inputs              []Input
	Outputs             []Output
	Direct              Direct
	TargetBufferSeconds float64
}

// DefaultSnapshot is the state of a first run: no inputs, no outputs, the
// direct input at unity gain.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Direct:              Direct{Volume: 1},
		TargetBufferSeconds: defaultTargetBufferSeconds,
	}
}

// Settings captures the matrix for persistence.
func (m *Matrix) Settings(targetBufferSeconds float64) Snapshot {
	return Snapshot{
		Inputs:              m.Inputs(),
		Outputs:             m.Outputs(),
		Direct:              m.Direct(),
		TargetBufferSeconds: targetBufferSeconds,
	}
}

// Restore rebuilds a matrix from a snapshot. Values are clamped the same
// way the setters clamp them, and routes to outputs the snapshot does not
// contain are dropped, so a hand-edited file cannot break the invariants.
func (s Snapshot) Restore() *Matrix {
	m := New()
	for _, out := range s.Outputs {
		if out.ID < 1 {
			continue
		}
		st := &outputState{
			sinkRef:    out.SinkRef,
			volume:     clamp(out.Volume, 0, MaxOutputVolume),
			muted:      out.Muted,
			compressor: out.Compressor.sanitized(),
			delayMS:    clamp(out.DelayMS, 0, MaxDelayMS),
		}
		for band, g := range out.EQGains {
			st.eqGains[band] = sanitize(g)
		}
		m.outputs[out.ID] = st
	}
	for _, in := range s.Inputs {
		if in.ID < 1 {
			continue
		}
		vol := sanitize(in.Volume)
		if vol < 0 {
			vol = 0
		}
		st := &inputState{
			deviceRef: in.DeviceRef,
			volume:    vol,
			muted:     in.Muted,
			routes:    make(map[int]struct{}),
		}
		for _, id := range in.Routes {
			if _, ok := m.outputs[id]; ok {
				st.routes[id] = struct{}{}
			}
		}
		m.inputs[in.ID] = st
	}
	vol := sanitize(s.Direct.Volume)
	if vol < 0 {
		vol = 0
	}
	m.direct.volume = vol
	m.direct.muted = s.Direct.Muted
	for _, id := range s.Direct.Routes {
		if _, ok := m.outputs[id]; ok {
			m.direct.routes[id] = struct{}{}
		}
	}
	return m
}

// LoadSettings reads a settings file, migrating older schemas. A missing
// file is a first run and yields the defaults.
func LoadSettings(path string) (Snapshot, error) {
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return DefaultSnapshot(), nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("matrix: stat settings: %w", err)
	}
	if fi.Size() > maxSettingsFile {
		return Snapshot{}, ErrCorruptSettings
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("matrix: read settings: %w", err)
	}
	if len(data) < settingsHeaderSize || string(data[:len(settingsMagic)]) != settingsMagic {
		return Snapshot{}, ErrCorruptSettings
	}
	version := data[settingsHeaderSize-1]
	payload := data[settingsHeaderSize:]

	switch version {
	case schemaV1:
		var legacy legacySettingsV1
		if _, err := legacy.Unmarshal(0, payload); err != nil {
			return Snapshot{}, fmt.Errorf("matrix: decode v1 settings: %w", err)
		}
		return migrateV1(legacy), nil
	case SchemaVersion:
		var snap Snapshot
		if _, err := snap.Unmarshal(0, payload); err != nil {
			return Snapshot{}, fmt.Errorf("matrix: decode settings: %w", err)
		}
		if !(snap.TargetBufferSeconds > 0) {
			snap.TargetBufferSeconds = defaultTargetBufferSeconds
		}
		return snap, nil
	default:
		return Snapshot{}, fmt.Errorf("matrix: unsupported settings schema %d", version)
	}
}

// SaveSettings writes the snapshot atomically: a temp file in the target
// directory, synced, then renamed over the destination.
func SaveSettings(path string, snap Snapshot) error {
	buf := make([]byte, settingsHeaderSize+snap.Size())
	copy(buf, settingsMagic)
	buf[settingsHeaderSize-1] = SchemaVersion
	snap.Marshal(settingsHeaderSize, buf)

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "settings_*.tmp")
	if err != nil {
		return fmt.Errorf("matrix: create temp settings: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("matrix: write settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("matrix: sync settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("matrix: close settings: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("matrix: replace settings: %w", err)
	}
	return nil
}

func (in *Input) Size() (s int) {
	s += bstd.SizeInt32()
	s += bstd.SizeString(in.DeviceRef)
	s += bstd.SizeFloat64()
	s += bstd.SizeBool()
	s += bstd.SizeSlice(in.Routes, func(v int) int { return bstd.SizeInt32() })
	return
}

func (in *Input) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalInt32(n, b, int32(in.ID))
	n = bstd.MarshalString(n, b, in.DeviceRef)
	n = bstd.MarshalFloat64(n, b, in.Volume)
	n = bstd.MarshalBool(n, b, in.Muted)
	n = bstd.MarshalSlice(n, b, in.Routes, func(n int, b []byte, v int) int {
		return bstd.MarshalInt32(n, b, int32(v))
	})
	return
}

func (in *Input) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	var id int32
	if n, id, err = bstd.UnmarshalInt32(n, b); err != nil {
		return
	}
	in.ID = int(id)
	if n, in.DeviceRef, err = bstd.UnmarshalString(n, b); err != nil {
		return
	}
	if n, in.Volume, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	if n, in.Muted, err = bstd.UnmarshalBool(n, b); err != nil {
		return
	}
	if n, in.Routes, err = unmarshalIDSlice(n, b); err != nil {
		return
	}
	return
}

func (out *Output) Size() (s int) {
	s += bstd.SizeInt32()
	s += bstd.SizeString(out.SinkRef)
	s += bstd.SizeFloat64()
	s += bstd.SizeBool()
	s += bstd.SizeSlice(out.EQGains[:], func(v float64) int { return bstd.SizeFloat64() })
	s += out.Compressor.Size()
	s += bstd.SizeFloat64()
	return
}

func (out *Output) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalInt32(n, b, int32(out.ID))
	n = bstd.MarshalString(n, b, out.SinkRef)
	n = bstd.MarshalFloat64(n, b, out.Volume)
	n = bstd.MarshalBool(n, b, out.Muted)
	n = bstd.MarshalSlice(n, b, out.EQGains[:], bstd.MarshalFloat64)
	n = out.Compressor.Marshal(n, b)
	n = bstd.MarshalFloat64(n, b, out.DelayMS)
	return
}

func (out *Output) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	var id int32
	if n, id, err = bstd.UnmarshalInt32(n, b); err != nil {
		return
	}
	out.ID = int(id)
	if n, out.SinkRef, err = bstd.UnmarshalString(n, b); err != nil {
		return
	}
	if n, out.Volume, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	if n, out.Muted, err = bstd.UnmarshalBool(n, b); err != nil {
		return
	}
	var gains []float64
	if n, gains, err = bstd.UnmarshalSlice[float64](n, b, unmarshalGain); err != nil {
		return
	}
	out.EQGains = [dsp.EQBands]float64{}
	copy(out.EQGains[:], gains)
	if n, err = out.Compressor.Unmarshal(n, b); err != nil {
		return
	}
	if n, out.DelayMS, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	return
}

func (c *Compressor) Size() (s int) {
	s += bstd.SizeBool()
	s += bstd.SizeFloat64()
	s += bstd.SizeFloat64()
	s += bstd.SizeFloat64()
	s += bstd.SizeFloat64()
	return
}

func (c *Compressor) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalBool(n, b, c.Enabled)
	n = bstd.MarshalFloat64(n, b, c.ThresholdDB)
	n = bstd.MarshalFloat64(n, b, c.Ratio)
	n = bstd.MarshalFloat64(n, b, c.AttackSec)
	n = bstd.MarshalFloat64(n, b, c.ReleaseSec)
	return
}

func (c *Compressor) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	if n, c.Enabled, err = bstd.UnmarshalBool(n, b); err != nil {
		return
	}
	if n, c.ThresholdDB, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	if n, c.Ratio, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	if n, c.AttackSec, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	if n, c.ReleaseSec, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	return
}

func (d *Direct) Size() (s int) {
	s += bstd.SizeFloat64()
	s += bstd.SizeBool()
	s += bstd.SizeSlice(d.Routes, func(v int) int { return bstd.SizeInt32() })
	return
}

func (d *Direct) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalFloat64(n, b, d.Volume)
	n = bstd.MarshalBool(n, b, d.Muted)
	n = bstd.MarshalSlice(n, b, d.Routes, func(n int, b []byte, v int) int {
		return bstd.MarshalInt32(n, b, int32(v))
	})
	return
}

func (d *Direct) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	if n, d.Volume, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	if n, d.Muted, err = bstd.UnmarshalBool(n, b); err != nil {
		return
	}
	if n, d.Routes, err = unmarshalIDSlice(n, b); err != nil {
		return
	}
	return
}

func (s *Snapshot) Size() (sz int) {
	sz += bstd.SizeSlice(s.Inputs, func(v Input) int { return v.Size() })
	sz += bstd.SizeSlice(s.Outputs, func(v Output) int { return v.Size() })
	sz += s.Direct.Size()
	sz += bstd.SizeFloat64()
	return
}

func (s *Snapshot) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalSlice(n, b, s.Inputs, func(n int, b []byte, v Input) int {
		return v.Marshal(n, b)
	})
	n = bstd.MarshalSlice(n, b, s.Outputs, func(n int, b []byte, v Output) int {
		return v.Marshal(n, b)
	})
	n = s.Direct.Marshal(n, b)
	n = bstd.MarshalFloat64(n, b, s.TargetBufferSeconds)
	return
}

func (s *Snapshot) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	if n, s.Inputs, err = bstd.UnmarshalSlice[Input](n, b, unmarshalInput); err != nil {
		return
	}
	if n, s.Outputs, err = bstd.UnmarshalSlice[Output](n, b, unmarshalOutput); err != nil {
		return
	}
	if n, err = s.Direct.Unmarshal(n, b); err != nil {
		return
	}
	if n, s.TargetBufferSeconds, err = bstd.UnmarshalFloat64(n, b); err != nil {
		// settings written before the buffer target was persisted
		s.TargetBufferSeconds = defaultTargetBufferSeconds
		err = nil
	}
	return
}

func unmarshalInput(n int, b []byte, v *Input) (int, error) {
	return v.Unmarshal(n, b)
}

func unmarshalOutput(n int, b []byte, v *Output) (int, error) {
	return v.Unmarshal(n, b)
}

func unmarshalGain(n int, b []byte, v *float64) (int, error) {
	var err error
	n, *v, err = bstd.UnmarshalFloat64(n, b)
	return n, err
}

func unmarshalID(n int, b []byte, v *int32) (int, error) {
	var err error
	n, *v, err = bstd.UnmarshalInt32(n, b)
	return n, err
}

func unmarshalIDSlice(tn int, b []byte) (n int, ids []int, err error) {
	n = tn
	var raw []int32
	if n, raw, err = bstd.UnmarshalSlice[int32](n, b, unmarshalID); err != nil {
		return
	}
	if len(raw) == 0 {
		return
	}
	ids = make([]int, len(raw))
	for i, id := range raw {
		ids[i] = int(id)
	}
	return
}

// legacySettingsV1 is the single-input layout. The one capture device had
// no id, and each output carried two flags naming which of the two sources
// fed it.
type legacySettingsV1 struct {
	CaptureRef    string
	CaptureVolume float64
	CaptureMuted  bool
	StreamVolume  float64
	StreamMuted   bool
	Outputs       []legacyOutputV1
}

type legacyOutputV1 struct {
	ID          int32
	SinkRef     string
	Volume      float64
	Muted       bool
	EQGains     []float64
	Compressor  Compressor
	DelayMS     float64
	FromCapture bool
	FromStream  bool
}

func (l *legacySettingsV1) Size() (s int) {
	s += bstd.SizeString(l.CaptureRef)
	s += bstd.SizeFloat64()
	s += bstd.SizeBool()
	s += bstd.SizeFloat64()
	s += bstd.SizeBool()
	s += bstd.SizeSlice(l.Outputs, func(v legacyOutputV1) int { return v.Size() })
	return
}

func (l *legacySettingsV1) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalString(n, b, l.CaptureRef)
	n = bstd.MarshalFloat64(n, b, l.CaptureVolume)
	n = bstd.MarshalBool(n, b, l.CaptureMuted)
	n = bstd.MarshalFloat64(n, b, l.StreamVolume)
	n = bstd.MarshalBool(n, b, l.StreamMuted)
	n = bstd.MarshalSlice(n, b, l.Outputs, func(n int, b []byte, v legacyOutputV1) int {
		return v.Marshal(n, b)
	})
	return
}

func (l *legacySettingsV1) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	if n, l.CaptureRef, err = bstd.UnmarshalString(n, b); err != nil {
		return
	}
	if n, l.CaptureVolume, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	if n, l.CaptureMuted, err = bstd.UnmarshalBool(n, b); err != nil {
		return
	}
	if n, l.StreamVolume, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	if n, l.StreamMuted, err = bstd.UnmarshalBool(n, b); err != nil {
		return
	}
	if n, l.Outputs, err = bstd.UnmarshalSlice[legacyOutputV1](n, b, unmarshalLegacyOutput); err != nil {
		return
	}
	return
}

func (l *legacyOutputV1) Size() (s int) {
	s += bstd.SizeInt32()
	s += bstd.SizeString(l.SinkRef)
	s += bstd.SizeFloat64()
	s += bstd.SizeBool()
	s += bstd.SizeSlice(l.EQGains, func(v float64) int { return bstd.SizeFloat64() })
	s += l.Compressor.Size()
	s += bstd.SizeFloat64()
	s += bstd.SizeBool()
	s += bstd.SizeBool()
	return
}

func (l *legacyOutputV1) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalInt32(n, b, l.ID)
	n = bstd.MarshalString(n, b, l.SinkRef)
	n = bstd.MarshalFloat64(n, b, l.Volume)
	n = bstd.MarshalBool(n, b, l.Muted)
	n = bstd.MarshalSlice(n, b, l.EQGains, bstd.MarshalFloat64)
	n = l.Compressor.Marshal(n, b)
	n = bstd.MarshalFloat64(n, b, l.DelayMS)
	n = bstd.MarshalBool(n, b, l.FromCapture)
	n = bstd.MarshalBool(n, b, l.FromStream)
	return
}

func (l *legacyOutputV1) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	if n, l.ID, err = bstd.UnmarshalInt32(n, b); err != nil {
		return
	}
	if n, l.SinkRef, err = bstd.UnmarshalString(n, b); err != nil {
		return
	}
	if n, l.Volume, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	if n, l.Muted, err = bstd.UnmarshalBool(n, b); err != nil {
		return
	}
	if n, l.EQGains, err = bstd.UnmarshalSlice[float64](n, b, unmarshalGain); err != nil {
		return
	}
	if n, err = l.Compressor.Unmarshal(n, b); err != nil {
		return
	}
	if n, l.DelayMS, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	if n, l.FromCapture, err = bstd.UnmarshalBool(n, b); err != nil {
		return
	}
	if n, l.FromStream, err = bstd.UnmarshalBool(n, b); err != nil {
		return
	}
	return
}

func unmarshalLegacyOutput(n int, b []byte, v *legacyOutputV1) (int, error) {
	return v.Unmarshal(n, b)
}

// migrateV1 lifts the legacy single-input state into the current schema:
// the capture device becomes hardware input 1 and the per-output source
// flags become its routing set and the direct routing set.
func migrateV1(legacy legacySettingsV1) Snapshot {
	in := Input{
		ID:        1,
		DeviceRef: legacy.CaptureRef,
		Volume:    legacy.CaptureVolume,
		Muted:     legacy.CaptureMuted,
	}
	snap := Snapshot{
		Direct: Direct{
			Volume: legacy.StreamVolume,
			Muted:  legacy.StreamMuted,
		},
		TargetBufferSeconds: defaultTargetBufferSeconds,
	}
	for _, lo := range legacy.Outputs {
		out := Output{
			ID:         int(lo.ID),
			SinkRef:    lo.SinkRef,
			Volume:     lo.Volume,
			Muted:      lo.Muted,
			Compressor: lo.Compressor,
			DelayMS:    lo.DelayMS,
		}
		copy(out.EQGains[:], lo.EQGains)
		if lo.FromCapture {
			in.Routes = append(in.Routes, out.ID)
		}
		if lo.FromStream {
			snap.Direct.Routes = append(snap.Direct.Routes, out.ID)
		}
		snap.Outputs = append(snap.Outputs, out)
	}
	slices.Sort(in.Routes)
	slices.Sort(snap.Direct.Routes)
	snap.Inputs = []Input{in}
	return snap
}
