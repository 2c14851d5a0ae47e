// Package device wraps the miniaudio context behind stream handles. Inputs
// and outputs address hardware by an opaque ref, which is the device name
// as enumerated; an empty ref selects the system default. The native
// context is created lazily and shared by every stream.
package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// ErrUnavailable reports a ref that matches no present device.
var ErrUnavailable = errors.New("device: unavailable")

const periodMilliseconds = 10

// Info describes one enumerated device. Its Name doubles as the ref used
// to open it.
type Info struct {
	Name string
}

// Manager owns the native audio context and opens streams on it.
type Manager struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewManager returns a manager with no native resources allocated yet.
func NewManager() *Manager {
	return &Manager{}
}

// CaptureDevices enumerates capture hardware.
func (m *Manager) CaptureDevices() ([]Info, error) {
	return m.devices(malgo.Capture)
}

// PlaybackDevices enumerates playback hardware.
func (m *Manager) PlaybackDevices() ([]Info, error) {
	return m.devices(malgo.Playback)
}

func (m *Manager) devices(kind malgo.DeviceType) ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureContext(); err != nil {
		return nil, err
	}
	devs, err := m.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("device: enumerate: %w", err)
	}
	infos := make([]Info, 0, len(devs))
	for _, d := range devs {
		infos = append(infos, Info{Name: d.Name()})
	}
	return infos, nil
}

// OpenCapture starts no hardware; it initializes a capture stream on the
// device named by ref. onBlock runs on the native audio thread with an
// interleaved float32 block that is only valid for the duration of the
// call.
func (m *Manager) OpenCapture(ref string, rate uint32, channels int, onBlock func([]float32)) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureContext(); err != nil {
		return nil, err
	}
	id, err := m.resolve(malgo.Capture, ref)
	if err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = rate
	cfg.PeriodSizeInMilliseconds = periodMilliseconds
	if id != nil {
		cfg.Capture.DeviceID = id.Pointer()
	}

	var block []float32
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, framecount uint32) {
			samples := int(framecount) * channels
			if cap(block) < samples {
				block = make([]float32, samples)
			}
			block = block[:samples]
			bytesToFloat32(block, pInput)
			onBlock(block)
		},
	}
	dev, err := malgo.InitDevice(m.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("device: init capture %q: %w", ref, err)
	}
	return &Stream{dev: dev}, nil
}

// OpenPlayback initializes a playback stream on the device named by ref.
// render runs on the native audio thread and must fill the block it is
// handed; samples are clamped to [-1, 1] on the way out.
func (m *Manager) OpenPlayback(ref string, rate uint32, channels int, render func([]float32)) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureContext(); err != nil {
		return nil, err
	}
	id, err := m.resolve(malgo.Playback, ref)
	if err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(channels)
	cfg.SampleRate = rate
	cfg.PeriodSizeInMilliseconds = periodMilliseconds
	if id != nil {
		cfg.Playback.DeviceID = id.Pointer()
	}

	var block []float32
	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, framecount uint32) {
			samples := int(framecount) * channels
			if cap(block) < samples {
				block = make([]float32, samples)
			}
			block = block[:samples]
			clear(block)
			render(block)
			float32ToBytes(pOutput, block)
		},
	}
	dev, err := malgo.InitDevice(m.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("device: init playback %q: %w", ref, err)
	}
	return &Stream{dev: dev}, nil
}

// Close frees the native context. Streams must be closed first.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx != nil {
		m.ctx.Free()
		m.ctx = nil
	}
}

func (m *Manager) ensureContext() error {
	if m.ctx != nil {
		return nil
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("device: init context: %w", err)
	}
	m.ctx = ctx
	return nil
}

// resolve maps a ref to a concrete device id. The empty ref picks the
// system default, expressed as a nil id.
func (m *Manager) resolve(kind malgo.DeviceType, ref string) (*malgo.DeviceID, error) {
	if ref == "" {
		return nil, nil
	}
	devs, err := m.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("device: enumerate: %w", err)
	}
	for _, d := range devs {
		if d.Name() == ref {
			id := d.ID
			return &id, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnavailable, ref)
}

// Stream is one open hardware stream.
type Stream struct {
	dev *malgo.Device
}

// Start begins hardware I/O and callback delivery.
func (s *Stream) Start() error {
	if err := s.dev.Start(); err != nil {
		return fmt.Errorf("device: start: %w", err)
	}
	return nil
}

// Stop pauses hardware I/O. The stream can be started again.
func (s *Stream) Stop() {
	s.dev.Stop()
}

// Close tears the stream down. The handle is dead afterwards.
func (s *Stream) Close() {
	s.dev.Uninit()
}

func bytesToFloat32(dst []float32, src []byte) {
	for i := range dst {
		off := i * 4
		if off+4 > len(src) {
			dst[i] = 0
			continue
		}
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[off : off+4]))
	}
}

func float32ToBytes(dst []byte, src []float32) {
	for i, sample := range src {
		if sample > 1 {
			sample = 1
		} else if sample < -1 {
			sample = -1
		}
		off := i * 4
		if off+4 > len(dst) {
			return
		}
		binary.LittleEndian.PutUint32(dst[off:off+4], math.Float32bits(sample))
	}
}
