// Package dsp holds the per-output signal processors: biquad equalizer
// sections, a stereo-linked compressor, a crossfading delay, and the
// parameter smoother that keeps settings changes click-free. Everything
// operates on float64 blocks; conversion to the float32 device format
// happens at the edges.
package dsp

import "math"

const defaultQ = 1 / math.Sqrt2

// Coefficients holds one second-order section's transfer function with a0
// normalized to 1. The sign convention follows Direct Form II Transposed:
//
//	y  = B0*x + d0
//	d0 = B1*x - A1*y + d1
//	d1 = B2*x - A2*y
type Coefficients struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// Identity returns the pass-through section.
func Identity() Coefficients { return Coefficients{B0: 1} }

// Section is a single biquad with coefficients and delay-line state,
// processed in Direct Form II Transposed.
type Section struct {
	Coefficients

	d0, d1 float64
}

// ProcessSample filters one sample.
func (s *Section) ProcessSample(x float64) float64 {
	y := s.B0*x + s.d0
	s.d0 = s.B1*x - s.A1*y + s.d1
	s.d1 = s.B2*x - s.A2*y
	return y
}

// ProcessBlock filters buf in place. The recurrence carries state across
// samples, so this stays scalar.
func (s *Section) ProcessBlock(buf []float64) {
	b0, b1, b2 := s.B0, s.B1, s.B2
	a1, a2 := s.A1, s.A2
	d0, d1 := s.d0, s.d1

	for i, x := range buf {
		y := b0*x + d0
		d0 = b1*x - a1*y + d1
		d1 = b2*x - a2*y
		buf[i] = y
	}

	s.d0, s.d1 = d0, d1
}

// Reset clears the delay-line state.
func (s *Section) Reset() {
	s.d0 = 0
	s.d1 = 0
}

// Peak designs a peaking-EQ biquad with gain in dB using the RBJ cookbook
// formula. A frequency that cannot be realized at the given sample rate
// degrades to Identity, so an out-of-range band bypasses instead of muting.
func Peak(freq, gainDB, q, sampleRate float64) Coefficients {
	w0, ok := normalizedW0(freq, sampleRate)
	if !ok {
		return Identity()
	}

	q = normalizedQ(q)
	cw := math.Cos(w0)
	sw := math.Sin(w0)
	alpha := sw / (2 * q)
	a := math.Pow(10, gainDB/40)

	b0 := 1 + alpha*a
	b1 := -2 * cw
	b2 := 1 - alpha*a
	a0 := 1 + alpha/a
	a1 := -2 * cw
	a2 := 1 - alpha/a

	return normalizeBiquad(b0, b1, b2, a0, a1, a2)
}

func normalizedW0(freq, sampleRate float64) (float64, bool) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return 0, false
	}
	nyquist := sampleRate / 2
	if freq <= 0 || freq >= nyquist || math.IsNaN(freq) || math.IsInf(freq, 0) {
		return 0, false
	}
	return 2 * math.Pi * freq / sampleRate, true
}

func normalizedQ(q float64) float64 {
	if q <= 0 || math.IsNaN(q) || math.IsInf(q, 0) {
		return defaultQ
	}
	return q
}

func normalizeBiquad(b0, b1, b2, a0, a1, a2 float64) Coefficients {
	if a0 == 0 || math.IsNaN(a0) || math.IsInf(a0, 0) {
		return Identity()
	}
	return Coefficients{
		B0: b0 / a0,
		B1: b1 / a0,
		B2: b2 / a0,
		A1: a1 / a0,
		A2: a2 / a0,
	}
}
