package engine

import (
	"log/slog"
	"time"

	"github.com/uxdesk/uxdesk/engine/matrix"
	"github.com/uxdesk/uxdesk/engine/sched"
)

const (
	// DefaultStreamSocket is where the UXD1 listener binds when the
	// configuration does not say otherwise.
	DefaultStreamSocket = "/tmp/uxdesk-stream.sock"

	// DefaultSampleRate is the working rate for device IO and rendering.
	DefaultSampleRate = 48000
)

// Config is the engine's runtime configuration. It is fixed for the
// lifetime of a Start; Restart is the only way to change it.
type Config struct {
	// StreamSocket is the unix socket path for the audio sender.
	StreamSocket string

	// SampleRate is the rate capture devices, playback devices, and the
	// signal chains run at. The engine never resamples: a sender
	// streaming at another rate plays back at this one.
	SampleRate uint32

	// ChunkFrames and TickInterval tune the scheduler. Zero values take
	// the scheduler defaults.
	ChunkFrames  int
	TickInterval time.Duration

	// TargetBufferSeconds seeds the scheduler latency target when the
	// settings snapshot does not carry one.
	TargetBufferSeconds float64

	// Persist, when set, receives the full settings snapshot after every
	// mutation. Errors are logged and swallowed; the in-memory change has
	// already happened and the next save catches up.
	Persist func(matrix.Snapshot) error

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.StreamSocket == "" {
		c.StreamSocket = DefaultStreamSocket
	}
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.TargetBufferSeconds <= 0 {
		c.TargetBufferSeconds = sched.DefaultTargetBufferSeconds
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
