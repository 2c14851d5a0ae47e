package wire

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func header(rate uint32) []byte {
	b := []byte(Magic)
	return binary.LittleEndian.AppendUint32(b, rate)
}

func frames(vals ...float32) []byte {
	b := make([]byte, 0, len(vals)*4)
	for _, v := range vals {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}
	return b
}

func TestHandshake(t *testing.T) {
	d := NewDecoder()

	samples, err := d.Feed(header(48000))
	if err != nil {
		t.Fatalf("Feed(header) error: %v", err)
	}
	if len(samples) != 0 {
		t.Fatalf("header alone decoded %d samples", len(samples))
	}
	if !d.Streaming() {
		t.Fatal("decoder not streaming after valid header")
	}
	rate, ok := d.Rate()
	if !ok || rate != 48000 {
		t.Fatalf("Rate() = %d, %v; want 48000, true", rate, ok)
	}
}

func TestBadMagic(t *testing.T) {
	d := NewDecoder()

	samples, err := d.Feed([]byte("XXXX\x80\xbb\x00\x00"))
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("Feed error = %v, want ErrBadMagic", err)
	}
	if len(samples) != 0 {
		t.Fatal("bad handshake decoded samples")
	}
	if d.Streaming() {
		t.Fatal("decoder streaming after bad magic")
	}

	// Reset rearms for the next connection.
	d.Reset()
	if _, err := d.Feed(header(44100)); err != nil {
		t.Fatalf("Feed after Reset: %v", err)
	}
	if rate, _ := d.Rate(); rate != 44100 {
		t.Fatalf("rate after Reset = %d, want 44100", rate)
	}
}

func TestChunkTruncation(t *testing.T) {
	d := NewDecoder()
	if _, err := d.Feed(header(48000)); err != nil {
		t.Fatal(err)
	}

	// 13 bytes: one whole frame (8 bytes) decodes, 5 trailing bytes vanish.
	chunk := append(frames(0.25, -0.5), 1, 2, 3, 4, 5)
	samples, err := d.Feed(chunk)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 2 {
		t.Fatalf("decoded %d samples from 13-byte chunk, want 2", len(samples))
	}
	if samples[0] != 0.25 || samples[1] != -0.5 {
		t.Fatalf("samples = %v, want [0.25 -0.5]", samples)
	}

	// The discarded tail is not buffered: completing it in the next chunk
	// does not resurrect the frame.
	samples, err = d.Feed([]byte{6, 7, 8})
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 0 {
		t.Fatalf("partial-frame bytes were buffered: got %d samples", len(samples))
	}
}

func TestHeaderSplitAcrossChunks(t *testing.T) {
	d := NewDecoder()
	full := append(header(96000), frames(1.0, -1.0)...)

	var got []float32
	for i := range full {
		samples, err := d.Feed(full[i : i+1])
		if err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
		got = append(got, samples...)
	}

	if rate, ok := d.Rate(); !ok || rate != 96000 {
		t.Fatalf("Rate() = %d, %v; want 96000, true", rate, ok)
	}
	// Byte-at-a-time delivery never completes a frame inside one chunk for
	// the post-header bytes, except the surplus carried by the chunk that
	// completed the header. Here the header completed exactly at byte 8, so
	// the single-byte stream chunks each truncate to zero frames.
	if len(got) != 0 {
		t.Fatalf("got %d samples from single-byte chunks, want 0", len(got))
	}
}

func TestSurplusAfterHeader(t *testing.T) {
	d := NewDecoder()
	chunk := append(header(48000), frames(0.1, 0.2, 0.3, 0.4)...)

	samples, err := d.Feed(chunk)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 4 {
		t.Fatalf("decoded %d surplus samples, want 4", len(samples))
	}
	want := []float32{0.1, 0.2, 0.3, 0.4}
	for i, v := range want {
		if samples[i] != v {
			t.Fatalf("samples[%d] = %v, want %v", i, samples[i], v)
		}
	}
}

func TestSampleBitExact(t *testing.T) {
	d := NewDecoder()
	if _, err := d.Feed(header(48000)); err != nil {
		t.Fatal(err)
	}

	bits := []uint32{0x00000001, 0x80000000, 0x3f800000, 0x7f800000}
	chunk := make([]byte, 0, len(bits)*4)
	for _, b := range bits {
		chunk = binary.LittleEndian.AppendUint32(chunk, b)
	}

	samples, err := d.Feed(chunk)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != len(bits) {
		t.Fatalf("decoded %d samples, want %d", len(samples), len(bits))
	}
	for i, b := range bits {
		if got := math.Float32bits(samples[i]); got != b {
			t.Fatalf("sample %d bits = %#x, want %#x", i, got, b)
		}
	}
}

func TestHeaderBelowThresholdAccumulates(t *testing.T) {
	d := NewDecoder()

	// Sub-magic chunks accumulate without a verdict; the magic is judged
	// the moment its 4 bytes exist.
	if _, err := d.Feed([]byte{'X', 'X'}); err != nil {
		t.Fatalf("2-byte chunk errored early: %v", err)
	}
	if _, err := d.Feed([]byte{'X'}); err != nil {
		t.Fatalf("3rd byte errored early: %v", err)
	}
	if d.Streaming() {
		t.Fatal("streaming before header complete")
	}

	// The 4th byte completes the magic, and the junk front is fatal.
	if _, err := d.Feed([]byte{'X'}); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("err = %v, want ErrBadMagic", err)
	}
}

func TestFragmentedHeaderSurvivesLargeChunk(t *testing.T) {
	d := NewDecoder()
	full := header(48000)

	// 5 bytes first: magic complete and valid, rate still pending.
	if _, err := d.Feed(full[:5]); err != nil {
		t.Fatalf("partial header errored: %v", err)
	}
	if d.Streaming() {
		t.Fatal("streaming before rate bytes arrived")
	}

	// The rest of the header rides in with enough audio to blow past the
	// accumulation cap. The already-judged prefix must not be truncated
	// away.
	audio := make([]byte, 0, DefaultHeaderCap)
	for i := 0; i < DefaultHeaderCap/FrameBytes; i++ {
		audio = append(audio, frames(0.5, -0.5)...)
	}
	samples, err := d.Feed(append(append([]byte{}, full[5:]...), audio...))
	if err != nil {
		t.Fatalf("valid handshake rejected: %v", err)
	}
	if rate, ok := d.Rate(); !ok || rate != 48000 {
		t.Fatalf("Rate() = %d, %v; want 48000, true", rate, ok)
	}
	if want := len(audio) / 4; len(samples) != want {
		t.Fatalf("decoded %d samples, want %d", len(samples), want)
	}
	if samples[0] != 0.5 || samples[1] != -0.5 {
		t.Fatalf("samples start %v, want [0.5 -0.5]", samples[:2])
	}
}

func TestOversizedJunkChunkFatal(t *testing.T) {
	d := NewDecoder()

	// A header buried in the tail of an oversized junk chunk never locks
	// on: the first four bytes of the connection are the whole verdict.
	chunk := append(make([]byte, DefaultHeaderCap+13), header(48000)...)
	if _, err := d.Feed(chunk); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("err = %v, want ErrBadMagic", err)
	}
	if d.Streaming() {
		t.Fatal("streaming after junk-front chunk")
	}
}
