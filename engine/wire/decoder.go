// Package wire implements the UXD1 ingestion protocol: an 8-byte handshake
// header followed by a continuous stream of interleaved stereo float32
// frames, carried over a local stream socket.
package wire

import (
	"encoding/binary"
	"errors"
	"math"
)

const (
	// Magic is the ASCII stream identifier occupying bytes 0-3 of every
	// connection. Anything else is a fatal protocol error for that
	// connection.
	Magic = "UXD1"

	// HeaderSize is the full handshake size: 4 magic bytes plus a
	// little-endian uint32 sample rate in Hz.
	HeaderSize = 8

	// FrameBytes is one interleaved stereo frame: two little-endian IEEE-754
	// float32 samples (L, R).
	FrameBytes = 8

	// StreamChannels is fixed by the wire format.
	StreamChannels = 2

	// DefaultHeaderCap bounds header accumulation. If a sender trickles
	// bytes without ever completing a valid header, only the most recent
	// DefaultHeaderCap bytes are retained.
	DefaultHeaderCap = 4096
)

// ErrBadMagic reports a connection whose first four bytes were not the UXD1
// identifier. The decoder never guesses an alternate framing; the connection
// must be terminated.
var ErrBadMagic = errors.New("wire: bad stream magic")

type decoderState int

const (
	stateAwaitHeader decoderState = iota
	stateStreaming
)

// Decoder is the two-state demultiplexer for one connection. It is not safe
// for concurrent use; each connection owns one decoder on its read loop.
type Decoder struct {
	state     decoderState
	hdr       []byte
	headerCap int
	rate      uint32
	samples   []float32
}

// NewDecoder returns a decoder in the AWAITING_HEADER state.
func NewDecoder() *Decoder {
	return &Decoder{headerCap: DefaultHeaderCap}
}

// Feed consumes one received chunk and returns any decoded interleaved
// samples. While awaiting the header it accumulates bytes, judging the
// magic as soon as its 4 bytes exist (returning ErrBadMagic on mismatch)
// and publishing the sample rate once all HeaderSize bytes are in; bytes
// beyond the header are decoded immediately. While streaming, the chunk is
// truncated to a multiple of FrameBytes and decoded; a trailing partial
// frame is discarded, not buffered.
//
// The returned slice is reused by the next Feed call.
func (d *Decoder) Feed(chunk []byte) ([]float32, error) {
	if d.state == stateStreaming {
		return d.decodeFrames(chunk), nil
	}

	d.hdr = append(d.hdr, chunk...)

	// The magic verdict lands before the cap so tail retention can never
	// discard a genuine prefix that fragmented across reads. A passed
	// verdict bounds accumulation at HeaderSize on its own; the cap only
	// guards senders that trickle without ever completing the magic.
	if len(d.hdr) >= len(Magic) && string(d.hdr[:len(Magic)]) != Magic {
		return nil, ErrBadMagic
	}
	if len(d.hdr) < HeaderSize {
		if len(d.hdr) < len(Magic) && len(d.hdr) > d.headerCap {
			// Retain the tail, discard the front. Only an undecided
			// magic may be truncated.
			copy(d.hdr, d.hdr[len(d.hdr)-d.headerCap:])
			d.hdr = d.hdr[:d.headerCap]
		}
		return nil, nil
	}

	d.rate = binary.LittleEndian.Uint32(d.hdr[4:HeaderSize])
	d.state = stateStreaming

	// Hand surplus header bytes straight to the streaming path.
	samples := d.decodeFrames(d.hdr[HeaderSize:])
	d.hdr = d.hdr[:0]
	return samples, nil
}

// decodeFrames truncates b to whole frames and reinterprets it as
// little-endian float32 samples.
func (d *Decoder) decodeFrames(b []byte) []float32 {
	usable := len(b) - len(b)%FrameBytes
	n := usable / 4
	if cap(d.samples) < n {
		d.samples = make([]float32, n)
	}
	d.samples = d.samples[:n]
	for i := range n {
		bits := binary.LittleEndian.Uint32(b[i*4 : i*4+4])
		d.samples[i] = math.Float32frombits(bits)
	}
	return d.samples
}

// Rate returns the sample rate published by a completed handshake.
func (d *Decoder) Rate() (uint32, bool) {
	if d.state != stateStreaming {
		return 0, false
	}
	return d.rate, true
}

// Streaming reports whether the handshake has completed.
func (d *Decoder) Streaming() bool { return d.state == stateStreaming }

// Reset rearms the decoder for a new connection.
func (d *Decoder) Reset() {
	d.state = stateAwaitHeader
	d.hdr = d.hdr[:0]
	d.rate = 0
}
