// uxcast streams a WAV file into a running desk's direct input over the
// UXD1 stream socket. It is the reference sender for the wire protocol:
// 8-byte header, then raw interleaved stereo float32 frames.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/uxdesk/uxdesk/engine"
	"github.com/uxdesk/uxdesk/engine/wire"
)

// chunkDuration is how much audio each paced write carries. Small enough
// that the desk's jitter buffer sees a steady trickle, large enough that
// syscall overhead stays negligible.
const chunkDuration = 20 * time.Millisecond

func main() {
	socket := flag.String("socket", engine.DefaultStreamSocket, "desk stream socket path")
	fast := flag.Bool("fast", false, "send at full speed instead of real time")
	loop := flag.Bool("loop", false, "restart the file when it ends")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: uxcast [flags] file.wav")
		flag.PrintDefaults()
		os.Exit(2)
	}
	path := flag.Arg(0)

	for {
		if err := cast(path, *socket, *fast); err != nil {
			fmt.Fprintln(os.Stderr, "uxcast:", err)
			os.Exit(1)
		}
		if !*loop {
			return
		}
	}
}

func cast(path, socket string, fast bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return fmt.Errorf("%s: not a valid WAV file", path)
	}
	rate := dec.SampleRate
	channels := int(dec.NumChans)
	if channels < 1 {
		return fmt.Errorf("%s: no channels", path)
	}
	if dec.BitDepth == 0 || dec.BitDepth > 32 {
		return fmt.Errorf("%s: unsupported bit depth %d", path, dec.BitDepth)
	}
	scale := 1.0 / float64(int(1)<<(dec.BitDepth-1))

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return fmt.Errorf("dial %s: %w", socket, err)
	}
	defer conn.Close()

	header := make([]byte, wire.HeaderSize)
	copy(header, wire.Magic)
	binary.LittleEndian.PutUint32(header[len(wire.Magic):], rate)
	if _, err := conn.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	chunkFrames := int(float64(rate) * chunkDuration.Seconds())
	buf := &audio.IntBuffer{
		Data:   make([]int, chunkFrames*channels),
		Format: &audio.Format{NumChannels: channels, SampleRate: int(rate)},
	}
	out := make([]byte, chunkFrames*8)

	var ticker *time.Ticker
	if !fast {
		ticker = time.NewTicker(chunkDuration)
		defer ticker.Stop()
	}

	for {
		n, err := dec.PCMBuffer(buf)
		if err != nil && err != io.EOF {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		if n == 0 {
			return nil
		}
		frames := n / channels
		encodeFrames(out, buf.Data[:frames*channels], channels, scale)
		if _, err := conn.Write(out[:frames*8]); err != nil {
			return fmt.Errorf("write frames: %w", err)
		}
		if ticker != nil {
			<-ticker.C
		}
	}
}

// encodeFrames converts integer PCM frames to the wire layout: interleaved
// stereo little-endian float32. Mono duplicates into both channels; extra
// channels past the first two are dropped.
func encodeFrames(dst []byte, samples []int, channels int, scale float64) {
	frames := len(samples) / channels
	for i := 0; i < frames; i++ {
		l := float32(float64(samples[i*channels]) * scale)
		r := l
		if channels > 1 {
			r = float32(float64(samples[i*channels+1]) * scale)
		}
		binary.LittleEndian.PutUint32(dst[i*8:], math.Float32bits(l))
		binary.LittleEndian.PutUint32(dst[i*8+4:], math.Float32bits(r))
	}
}
