// Package control implements the engine's request/response protocol:
// benc-encoded packets, length-prefix framed, over a local unix socket.
// The server side drives a Desk (the engine); the client side offers typed
// methods for consoles and tools. Multiple clients may be connected at
// once; the engine serializes their operations internally.
package control

import (
	"encoding/binary"
	"errors"
	"io"

	bstd "github.com/banditmoscow1337/benc/std/golang"
)

// OpCode selects the operation a packet requests. Replies echo the opcode
// of the request they answer.
type OpCode uint8

const (
	OpPing OpCode = 0x00

	// Mutations.
	OpAddInput        OpCode = 0x01
	OpRemoveInput     OpCode = 0x02
	OpAddOutput       OpCode = 0x03
	OpRemoveOutput    OpCode = 0x04
	OpSetInputDevice  OpCode = 0x05
	OpSetInputVolume  OpCode = 0x06
	OpSetInputMuted   OpCode = 0x07
	OpSetOutputSink   OpCode = 0x08
	OpSetOutputVolume OpCode = 0x09
	OpSetOutputMuted  OpCode = 0x0A
	OpSetEQGain       OpCode = 0x0B
	OpSetCompressor   OpCode = 0x0C
	OpSetDelay        OpCode = 0x0D
	OpSetDirectVolume OpCode = 0x0E
	OpSetDirectMuted  OpCode = 0x0F
	OpSetRoute        OpCode = 0x10
	OpToggleRoute     OpCode = 0x11
	OpSetTargetBuffer OpCode = 0x12
	OpRebindInput     OpCode = 0x13
	OpRebindOutput    OpCode = 0x14
	OpStartRecording  OpCode = 0x15
	OpStopRecording   OpCode = 0x16
	OpStartEngine     OpCode = 0x17
	OpStopEngine      OpCode = 0x18

	// Queries.
	OpStatus          OpCode = 0x20
	OpSnapshot        OpCode = 0x21
	OpLevels          OpCode = 0x22
	OpSpectrum        OpCode = 0x23
	OpCaptureDevices  OpCode = 0x24
	OpPlaybackDevices OpCode = 0x25
	OpCounters        OpCode = 0x26
)

// MaxFrameSize bounds one framed packet. A full snapshot of a desk with
// hundreds of entities is a few kilobytes; anything near the limit is a
// broken or hostile peer.
const MaxFrameSize = 1 << 20

// ErrFrameTooLarge reports a length prefix over MaxFrameSize.
var ErrFrameTooLarge = errors.New("control: frame exceeds limit")

// Packet is one control frame: a request from a client or the server's
// reply. Replies echo ReqID and Op; OK distinguishes a result payload from
// an Error string.
type Packet struct {
	ReqID   uint64
	Op      OpCode
	IsReply bool
	OK      bool
	Error   string
	Payload []byte
}

// MarshalPacket encodes a packet into a fresh buffer.
func MarshalPacket(p Packet) []byte {
	s := bstd.SizeUint64()
	s += bstd.SizeByte()
	s += bstd.SizeBool()
	s += bstd.SizeBool()
	s += bstd.SizeString(p.Error)
	s += bstd.SizeBytes(p.Payload)

	buf := make([]byte, s)
	n := bstd.MarshalUint64(0, buf, p.ReqID)
	n = bstd.MarshalByte(n, buf, uint8(p.Op))
	n = bstd.MarshalBool(n, buf, p.IsReply)
	n = bstd.MarshalBool(n, buf, p.OK)
	n = bstd.MarshalString(n, buf, p.Error)
	n = bstd.MarshalBytes(n, buf, p.Payload)
	return buf
}

// UnmarshalPacket decodes a packet. The payload aliases data.
func UnmarshalPacket(data []byte) (Packet, error) {
	var p Packet
	var err error
	n := 0
	if n, p.ReqID, err = bstd.UnmarshalUint64(n, data); err != nil {
		return Packet{}, err
	}
	var op uint8
	if n, op, err = bstd.UnmarshalByte(n, data); err != nil {
		return Packet{}, err
	}
	p.Op = OpCode(op)
	if n, p.IsReply, err = bstd.UnmarshalBool(n, data); err != nil {
		return Packet{}, err
	}
	if n, p.OK, err = bstd.UnmarshalBool(n, data); err != nil {
		return Packet{}, err
	}
	if n, p.Error, err = bstd.UnmarshalString(n, data); err != nil {
		return Packet{}, err
	}
	if _, p.Payload, err = bstd.UnmarshalBytesCropped(n, data); err != nil {
		return Packet{}, err
	}
	return p, nil
}

// WriteFrame writes a packet as one length-prefixed frame: a 4-byte
// little-endian size, then the packet bytes, in a single Write.
func WriteFrame(w io.Writer, p Packet) error {
	body := MarshalPacket(p)
	frame := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one length-prefixed packet.
func ReadFrame(r io.Reader) (Packet, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Packet{}, err
	}
	size := binary.LittleEndian.Uint32(hdr[:])
	if size > MaxFrameSize {
		return Packet{}, ErrFrameTooLarge
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Packet{}, err
	}
	return UnmarshalPacket(body)
}

// wireMessage is the benc method-triple shape every payload type carries.
type wireMessage interface {
	Size() int
	Marshal(tn int, b []byte) int
	Unmarshal(tn int, b []byte) (int, error)
}

func encode(m wireMessage) []byte {
	buf := make([]byte, m.Size())
	m.Marshal(0, buf)
	return buf
}

func decode(b []byte, m wireMessage) error {
	_, err := m.Unmarshal(0, b)
	return err
}
