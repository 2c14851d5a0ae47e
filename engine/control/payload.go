package control

import (
	bstd "github.com/banditmoscow1337/benc/std/golang"

	"github.com/uxdesk/uxdesk/engine/matrix"
)

// BindRequest names a device or sink for an entity. AddInput and AddOutput
// send it with ID zero; the engine allocates the id.
type BindRequest struct {
	ID  int32
	Ref string
}

func (r *BindRequest) Size() (s int) {
	s += bstd.SizeInt32()
	s += bstd.SizeString(r.Ref)
	return
}

func (r *BindRequest) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalInt32(n, b, r.ID)
	n = bstd.MarshalString(n, b, r.Ref)
	return
}

func (r *BindRequest) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	if n, r.ID, err = bstd.UnmarshalInt32(n, b); err != nil {
		return
	}
	if n, r.Ref, err = bstd.UnmarshalString(n, b); err != nil {
		return
	}
	return
}

// GainRequest carries one float parameter: a volume, delay milliseconds,
// or the buffer target. Direct-input and global ops ignore ID.
type GainRequest struct {
	ID    int32
	Value float64
}

func (r *GainRequest) Size() (s int) {
	s += bstd.SizeInt32()
	s += bstd.SizeFloat64()
	return
}

func (r *GainRequest) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalInt32(n, b, r.ID)
	n = bstd.MarshalFloat64(n, b, r.Value)
	return
}

func (r *GainRequest) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	if n, r.ID, err = bstd.UnmarshalInt32(n, b); err != nil {
		return
	}
	if n, r.Value, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	return
}

// MuteRequest sets an entity's mute flag. Direct-input ops ignore ID.
type MuteRequest struct {
	ID    int32
	Muted bool
}

func (r *MuteRequest) Size() (s int) {
	s += bstd.SizeInt32()
	s += bstd.SizeBool()
	return
}

func (r *MuteRequest) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalInt32(n, b, r.ID)
	n = bstd.MarshalBool(n, b, r.Muted)
	return
}

func (r *MuteRequest) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	if n, r.ID, err = bstd.UnmarshalInt32(n, b); err != nil {
		return
	}
	if n, r.Muted, err = bstd.UnmarshalBool(n, b); err != nil {
		return
	}
	return
}

// EntityRef names one entity: removals, rebinds, spectrum, recording stop.
type EntityRef struct {
	ID int32
}

func (r *EntityRef) Size() int { return bstd.SizeInt32() }

func (r *EntityRef) Marshal(tn int, b []byte) int {
	return bstd.MarshalInt32(tn, b, r.ID)
}

func (r *EntityRef) Unmarshal(tn int, b []byte) (n int, err error) {
	n, r.ID, err = bstd.UnmarshalInt32(tn, b)
	return
}

// EQRequest moves one equalizer band.
type EQRequest struct {
	ID     int32
	Band   int32
	GainDB float64
}

func (r *EQRequest) Size() (s int) {
	s += bstd.SizeInt32()
	s += bstd.SizeInt32()
	s += bstd.SizeFloat64()
	return
}

func (r *EQRequest) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalInt32(n, b, r.ID)
	n = bstd.MarshalInt32(n, b, r.Band)
	n = bstd.MarshalFloat64(n, b, r.GainDB)
	return
}

func (r *EQRequest) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	if n, r.ID, err = bstd.UnmarshalInt32(n, b); err != nil {
		return
	}
	if n, r.Band, err = bstd.UnmarshalInt32(n, b); err != nil {
		return
	}
	if n, r.GainDB, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	return
}

// CompressorRequest replaces an output's dynamics settings.
type CompressorRequest struct {
	ID   int32
	Comp matrix.Compressor
}

func (r *CompressorRequest) Size() (s int) {
	s += bstd.SizeInt32()
	s += r.Comp.Size()
	return
}

func (r *CompressorRequest) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalInt32(n, b, r.ID)
	n = r.Comp.Marshal(n, b)
	return
}

func (r *CompressorRequest) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	if n, r.ID, err = bstd.UnmarshalInt32(n, b); err != nil {
		return
	}
	if n, err = r.Comp.Unmarshal(n, b); err != nil {
		return
	}
	return
}

// RouteRequest addresses one route edge. Direct selects the stream
// pseudo-input, otherwise InputID names a hardware input. OpToggleRoute
// ignores On.
type RouteRequest struct {
	Direct   bool
	InputID  int32
	OutputID int32
	On       bool
}

func (r *RouteRequest) Size() (s int) {
	s += bstd.SizeBool()
	s += bstd.SizeInt32()
	s += bstd.SizeInt32()
	s += bstd.SizeBool()
	return
}

func (r *RouteRequest) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalBool(n, b, r.Direct)
	n = bstd.MarshalInt32(n, b, r.InputID)
	n = bstd.MarshalInt32(n, b, r.OutputID)
	n = bstd.MarshalBool(n, b, r.On)
	return
}

func (r *RouteRequest) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	if n, r.Direct, err = bstd.UnmarshalBool(n, b); err != nil {
		return
	}
	if n, r.InputID, err = bstd.UnmarshalInt32(n, b); err != nil {
		return
	}
	if n, r.OutputID, err = bstd.UnmarshalInt32(n, b); err != nil {
		return
	}
	if n, r.On, err = bstd.UnmarshalBool(n, b); err != nil {
		return
	}
	return
}

// source converts the addressed edge to a matrix source.
func (r *RouteRequest) source() matrix.Source {
	if r.Direct {
		return matrix.DirectSource()
	}
	return matrix.InputSource(int(r.InputID))
}

// RecordRequest starts a bounce of output ID to Path.
type RecordRequest struct {
	ID   int32
	Path string
}

func (r *RecordRequest) Size() (s int) {
	s += bstd.SizeInt32()
	s += bstd.SizeString(r.Path)
	return
}

func (r *RecordRequest) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalInt32(n, b, r.ID)
	n = bstd.MarshalString(n, b, r.Path)
	return
}

func (r *RecordRequest) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	if n, r.ID, err = bstd.UnmarshalInt32(n, b); err != nil {
		return
	}
	if n, r.Path, err = bstd.UnmarshalString(n, b); err != nil {
		return
	}
	return
}

// RouteState is OpToggleRoute's reply.
type RouteState struct {
	On bool
}

func (r *RouteState) Size() int { return bstd.SizeBool() }

func (r *RouteState) Marshal(tn int, b []byte) int {
	return bstd.MarshalBool(tn, b, r.On)
}

func (r *RouteState) Unmarshal(tn int, b []byte) (n int, err error) {
	n, r.On, err = bstd.UnmarshalBool(tn, b)
	return
}

// StatusReport mirrors the engine's liveness summary.
type StatusReport struct {
	Running             bool
	StreamConnected     bool
	StreamRate          int32
	StreamFrames        uint64
	TargetBufferSeconds float64
	Inputs              int32
	Outputs             int32
}

func (r *StatusReport) Size() (s int) {
	s += bstd.SizeBool()
	s += bstd.SizeBool()
	s += bstd.SizeInt32()
	s += bstd.SizeUint64()
	s += bstd.SizeFloat64()
	s += bstd.SizeInt32()
	s += bstd.SizeInt32()
	return
}

func (r *StatusReport) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalBool(n, b, r.Running)
	n = bstd.MarshalBool(n, b, r.StreamConnected)
	n = bstd.MarshalInt32(n, b, r.StreamRate)
	n = bstd.MarshalUint64(n, b, r.StreamFrames)
	n = bstd.MarshalFloat64(n, b, r.TargetBufferSeconds)
	n = bstd.MarshalInt32(n, b, r.Inputs)
	n = bstd.MarshalInt32(n, b, r.Outputs)
	return
}

func (r *StatusReport) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	if n, r.Running, err = bstd.UnmarshalBool(n, b); err != nil {
		return
	}
	if n, r.StreamConnected, err = bstd.UnmarshalBool(n, b); err != nil {
		return
	}
	if n, r.StreamRate, err = bstd.UnmarshalInt32(n, b); err != nil {
		return
	}
	if n, r.StreamFrames, err = bstd.UnmarshalUint64(n, b); err != nil {
		return
	}
	if n, r.TargetBufferSeconds, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	if n, r.Inputs, err = bstd.UnmarshalInt32(n, b); err != nil {
		return
	}
	if n, r.Outputs, err = bstd.UnmarshalInt32(n, b); err != nil {
		return
	}
	return
}

// LevelValues is one stereo meter reading.
type LevelValues struct {
	LeftRMS   float64
	LeftPeak  float64
	RightRMS  float64
	RightPeak float64
}

func (r *LevelValues) Size() int { return 4 * bstd.SizeFloat64() }

func (r *LevelValues) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalFloat64(n, b, r.LeftRMS)
	n = bstd.MarshalFloat64(n, b, r.LeftPeak)
	n = bstd.MarshalFloat64(n, b, r.RightRMS)
	n = bstd.MarshalFloat64(n, b, r.RightPeak)
	return
}

func (r *LevelValues) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	if n, r.LeftRMS, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	if n, r.LeftPeak, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	if n, r.RightRMS, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	if n, r.RightPeak, err = bstd.UnmarshalFloat64(n, b); err != nil {
		return
	}
	return
}

// EntityLevels pairs an entity id with its reading.
type EntityLevels struct {
	ID     int32
	Levels LevelValues
}

func (r *EntityLevels) Size() (s int) {
	s += bstd.SizeInt32()
	s += r.Levels.Size()
	return
}

func (r *EntityLevels) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalInt32(n, b, r.ID)
	n = r.Levels.Marshal(n, b)
	return
}

func (r *EntityLevels) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	if n, r.ID, err = bstd.UnmarshalInt32(n, b); err != nil {
		return
	}
	if n, err = r.Levels.Unmarshal(n, b); err != nil {
		return
	}
	return
}

// LevelsReport is one poll of every meter on the desk.
type LevelsReport struct {
	Inputs  []EntityLevels
	Direct  LevelValues
	Outputs []EntityLevels
}

func (r *LevelsReport) Size() (s int) {
	s += bstd.SizeSlice(r.Inputs, func(v EntityLevels) int { return v.Size() })
	s += r.Direct.Size()
	s += bstd.SizeSlice(r.Outputs, func(v EntityLevels) int { return v.Size() })
	return
}

func (r *LevelsReport) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalSlice(n, b, r.Inputs, func(n int, b []byte, v EntityLevels) int {
		return v.Marshal(n, b)
	})
	n = r.Direct.Marshal(n, b)
	n = bstd.MarshalSlice(n, b, r.Outputs, func(n int, b []byte, v EntityLevels) int {
		return v.Marshal(n, b)
	})
	return
}

func (r *LevelsReport) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	if n, r.Inputs, err = bstd.UnmarshalSlice[EntityLevels](n, b, unmarshalEntityLevels); err != nil {
		return
	}
	if n, err = r.Direct.Unmarshal(n, b); err != nil {
		return
	}
	if n, r.Outputs, err = bstd.UnmarshalSlice[EntityLevels](n, b, unmarshalEntityLevels); err != nil {
		return
	}
	return
}

// SpectrumReport is one output's magnitude spectrum in dBFS bins.
type SpectrumReport struct {
	Frequencies []float64
	Bins        []float64
}

func (r *SpectrumReport) Size() (s int) {
	s += sizeFloatSlice(r.Frequencies)
	s += sizeFloatSlice(r.Bins)
	return
}

func (r *SpectrumReport) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalSlice(n, b, r.Frequencies, bstd.MarshalFloat64)
	n = bstd.MarshalSlice(n, b, r.Bins, bstd.MarshalFloat64)
	return
}

func (r *SpectrumReport) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	if n, r.Frequencies, err = bstd.UnmarshalSlice[float64](n, b, unmarshalFloat); err != nil {
		return
	}
	if n, r.Bins, err = bstd.UnmarshalSlice[float64](n, b, unmarshalFloat); err != nil {
		return
	}
	return
}

// DeviceList carries device names for one direction.
type DeviceList struct {
	Names []string
}

func (r *DeviceList) Size() int {
	return bstd.SizeSlice(r.Names, bstd.SizeString)
}

func (r *DeviceList) Marshal(tn int, b []byte) int {
	return bstd.MarshalSlice(tn, b, r.Names, bstd.MarshalString)
}

func (r *DeviceList) Unmarshal(tn int, b []byte) (n int, err error) {
	n, r.Names, err = bstd.UnmarshalSlice[string](tn, b, unmarshalString)
	return
}

// CounterRow is one output's telemetry.
type CounterRow struct {
	ID            int32
	Underruns     uint64
	Overruns      uint64
	DroppedChunks uint64
	Recording     bool
	RecordPath    string
	RecorderDrops uint64
}

func (r *CounterRow) Size() (s int) {
	s += bstd.SizeInt32()
	s += bstd.SizeUint64()
	s += bstd.SizeUint64()
	s += bstd.SizeUint64()
	s += bstd.SizeBool()
	s += bstd.SizeString(r.RecordPath)
	s += bstd.SizeUint64()
	return
}

func (r *CounterRow) Marshal(tn int, b []byte) (n int) {
	n = tn
	n = bstd.MarshalInt32(n, b, r.ID)
	n = bstd.MarshalUint64(n, b, r.Underruns)
	n = bstd.MarshalUint64(n, b, r.Overruns)
	n = bstd.MarshalUint64(n, b, r.DroppedChunks)
	n = bstd.MarshalBool(n, b, r.Recording)
	n = bstd.MarshalString(n, b, r.RecordPath)
	n = bstd.MarshalUint64(n, b, r.RecorderDrops)
	return
}

func (r *CounterRow) Unmarshal(tn int, b []byte) (n int, err error) {
	n = tn
	if n, r.ID, err = bstd.UnmarshalInt32(n, b); err != nil {
		return
	}
	if n, r.Underruns, err = bstd.UnmarshalUint64(n, b); err != nil {
		return
	}
	if n, r.Overruns, err = bstd.UnmarshalUint64(n, b); err != nil {
		return
	}
	if n, r.DroppedChunks, err = bstd.UnmarshalUint64(n, b); err != nil {
		return
	}
	if n, r.Recording, err = bstd.UnmarshalBool(n, b); err != nil {
		return
	}
	if n, r.RecordPath, err = bstd.UnmarshalString(n, b); err != nil {
		return
	}
	if n, r.RecorderDrops, err = bstd.UnmarshalUint64(n, b); err != nil {
		return
	}
	return
}

// CounterReport wraps the telemetry rows for framing.
type CounterReport struct {
	Outputs []CounterRow
}

func (r *CounterReport) Size() int {
	return bstd.SizeSlice(r.Outputs, func(v CounterRow) int { return v.Size() })
}

func (r *CounterReport) Marshal(tn int, b []byte) int {
	return bstd.MarshalSlice(tn, b, r.Outputs, func(n int, b []byte, v CounterRow) int {
		return v.Marshal(n, b)
	})
}

func (r *CounterReport) Unmarshal(tn int, b []byte) (n int, err error) {
	n, r.Outputs, err = bstd.UnmarshalSlice[CounterRow](tn, b, unmarshalCounterRow)
	return
}

func unmarshalEntityLevels(n int, b []byte, v *EntityLevels) (int, error) {
	return v.Unmarshal(n, b)
}

func unmarshalCounterRow(n int, b []byte, v *CounterRow) (int, error) {
	return v.Unmarshal(n, b)
}

func unmarshalFloat(n int, b []byte, v *float64) (int, error) {
	var err error
	n, *v, err = bstd.UnmarshalFloat64(n, b)
	return n, err
}

func unmarshalString(n int, b []byte, v *string) (int, error) {
	var err error
	n, *v, err = bstd.UnmarshalString(n, b)
	return n, err
}

func sizeFloatSlice(s []float64) int {
	return bstd.SizeSlice(s, func(v float64) int { return bstd.SizeFloat64() })
}
