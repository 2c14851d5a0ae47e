package wire

import (
	"math"
	"testing"
)

// FuzzDecoder feeds arbitrary byte streams in arbitrary chunk sizes and
// checks the two decoding laws: nothing decodes before a completed
// handshake, and frame-aligned chunkings of one valid stream always decode
// to the same sample sequence.
func FuzzDecoder(f *testing.F) {
	f.Add([]byte("UXD1\x80\xbb\x00\x00\x00\x00\x80\x3f\x00\x00\x00\xbf"), byte(3))
	f.Add([]byte("XXXXXXXX"), byte(1))
	f.Add([]byte{}, byte(0))
	f.Add([]byte("UXD"), byte(7))

	f.Fuzz(func(t *testing.T, data []byte, step byte) {
		d := NewDecoder()
		chunk := int(step%16) + 1
		for off := 0; off < len(data); off += chunk {
			end := min(off+chunk, len(data))
			samples, err := d.Feed(data[off:end])
			if err != nil {
				if d.Streaming() {
					t.Fatalf("error %v while streaming", err)
				}
				break
			}
			if len(samples) > 0 && !d.Streaming() {
				t.Fatal("samples decoded before handshake")
			}
		}

		body := data[:len(data)-len(data)%FrameBytes]
		one := NewDecoder()
		ref, err := one.Feed(append(header(48000), body...))
		if err != nil {
			t.Fatalf("reference decode: %v", err)
		}
		refCopy := append([]float32(nil), ref...)

		split := NewDecoder()
		if _, err := split.Feed(header(48000)); err != nil {
			t.Fatalf("split header: %v", err)
		}
		var got []float32
		frameChunk := (int(step%4) + 1) * FrameBytes
		for off := 0; off < len(body); off += frameChunk {
			end := min(off+frameChunk, len(body))
			samples, err := split.Feed(body[off:end])
			if err != nil {
				t.Fatalf("split decode: %v", err)
			}
			got = append(got, samples...)
		}

		if len(got) != len(refCopy) {
			t.Fatalf("chunked decode yielded %d samples, reference %d", len(got), len(refCopy))
		}
		for i := range refCopy {
			if math.Float32bits(got[i]) != math.Float32bits(refCopy[i]) {
				t.Fatalf("sample %d differs: %#x vs %#x",
					i, math.Float32bits(got[i]), math.Float32bits(refCopy[i]))
			}
		}
	})
}
