package meter

import (
	"fmt"
	"math"
	"sync"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-vecmath"
)

// FloorDB is the analyzer noise floor. Bins never read below it, and an
// analyzer that has not yet filled its ring reports it for every bin.
const FloorDB = -130.0

const (
	defaultFFTSize = 2048
	analyzerEps    = 1e-12
)

// Analyzer computes a smoothed magnitude spectrum from a mono mix of the
// blocks pushed into it. A frame is produced every half window once the
// ring has filled; between frames the bins hold, and across frames they
// blend by the smoothing factor. Push runs on the render goroutine and
// Bins on the control plane, serialized by a mutex.
type Analyzer struct {
	mu sync.Mutex

	plan       *algofft.Plan[complex128]
	fftSize    int
	hop        int
	smoothing  float64
	sampleRate float64

	window     []float64
	windowGain float64

	ring   []float64
	write  int
	filled int
	toHop  int

	input  []complex128
	output []complex128
	re     []float64
	im     []float64
	mags   []float64

	db    []float64
	ready bool
}

// NewAnalyzer builds an analyzer. fftSize must be one of the supported
// powers of two or it falls back to 2048; smoothing is clamped to
// [0, 0.95] where 0 means every frame replaces the previous one.
func NewAnalyzer(sampleRate float64, fftSize int, smoothing float64) (*Analyzer, error) {
	switch fftSize {
	case 256, 512, 1024, 2048, 4096, 8192:
	default:
		fftSize = defaultFFTSize
	}
	if !(smoothing >= 0) {
		smoothing = 0
	}
	if smoothing > 0.95 {
		smoothing = 0.95
	}
	if !(sampleRate > 0) {
		sampleRate = 48000
	}

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, fmt.Errorf("meter: fft plan: %w", err)
	}

	win := hannWindow(fftSize)
	sum := 0.0
	for _, w := range win {
		sum += w
	}

	bins := fftSize/2 + 1
	a := &Analyzer{
		plan:       plan,
		fftSize:    fftSize,
		hop:        fftSize / 2,
		smoothing:  smoothing,
		sampleRate: sampleRate,
		window:     win,
		windowGain: sum / float64(fftSize),
		ring:       make([]float64, fftSize),
		input:      make([]complex128, fftSize),
		output:     make([]complex128, fftSize),
		re:         make([]float64, bins),
		im:         make([]float64, bins),
		mags:       make([]float64, bins),
		db:         make([]float64, bins),
	}
	for i := range a.db {
		a.db[i] = FloorDB
	}
	return a, nil
}

// Push mixes a stereo block down to mono and feeds it to the ring,
// producing spectrum frames as hops complete.
func (a *Analyzer) Push(left, right []float64) {
	n := len(left)
	if len(right) < n {
		n = len(right)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range n {
		a.pushSample(0.5 * (left[i] + right[i]))
	}
}

// Bins returns a copy of the current spectrum in dBFS, one value per bin
// from DC to nyquist.
func (a *Analyzer) Bins() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]float64, len(a.db))
	copy(out, a.db)
	return out
}

// BinCount returns the number of spectrum bins, fftSize/2+1.
func (a *Analyzer) BinCount() int { return a.fftSize/2 + 1 }

// Frequencies returns the center frequency of every bin in Hz.
func (a *Analyzer) Frequencies() []float64 {
	a.mu.Lock()
	rate := a.sampleRate
	a.mu.Unlock()
	out := make([]float64, len(a.db))
	binHz := rate / float64(a.fftSize)
	for k := range out {
		out[k] = float64(k) * binHz
	}
	return out
}

// Reset drops all buffered audio and returns every bin to the floor.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	a.write = 0
	a.filled = 0
	a.toHop = 0
	a.ready = false
	for i := range a.db {
		a.db[i] = FloorDB
	}
}

// SetRate changes the sample rate the bin frequencies are derived from
// and resets the analyzer.
func (a *Analyzer) SetRate(sampleRate float64) {
	if !(sampleRate > 0) {
		return
	}
	a.Reset()
	a.mu.Lock()
	a.sampleRate = sampleRate
	a.mu.Unlock()
}

func (a *Analyzer) pushSample(x float64) {
	a.ring[a.write] = x
	a.write++
	if a.write >= a.fftSize {
		a.write = 0
	}
	if a.filled < a.fftSize {
		a.filled++
	}
	a.toHop++
	if a.filled < a.fftSize || a.toHop < a.hop {
		return
	}
	a.toHop = 0
	a.updateFrame()
}

func (a *Analyzer) updateFrame() {
	read := a.write
	for i := range a.fftSize {
		a.input[i] = complex(a.ring[read]*a.window[i], 0)
		read++
		if read >= a.fftSize {
			read = 0
		}
	}

	if err := a.plan.Forward(a.output, a.input); err != nil {
		return
	}

	last := len(a.db) - 1
	for k := 0; k <= last; k++ {
		a.re[k] = real(a.output[k])
		a.im[k] = imag(a.output[k])
	}
	vecmath.Magnitude(a.mags, a.re, a.im)

	norm := float64(a.fftSize) * math.Max(a.windowGain, analyzerEps)
	for k := 0; k <= last; k++ {
		mag := a.mags[k] / norm
		if k > 0 && k < last {
			mag *= 2
		}
		valDB := 20 * math.Log10(math.Max(analyzerEps, mag))
		if valDB < FloorDB {
			valDB = FloorDB
		}
		if !a.ready {
			a.db[k] = valDB
			continue
		}
		a.db[k] = a.smoothing*a.db[k] + (1-a.smoothing)*valDB
	}
	a.ready = true
}

// hannWindow returns periodic Hann coefficients.
func hannWindow(size int) []float64 {
	w := make([]float64, size)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(size))
	}
	return w
}
