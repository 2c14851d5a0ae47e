package dsp

// EQBands is the fixed band count of the output equalizer.
const EQBands = 10

// EQBandQ is the shared quality factor of all bands.
const EQBandQ = 1.4

const eqBaseFreqHz = 31.25

// EQBandFrequency returns the center frequency of band 0..EQBands-1. Bands
// double per step: 31.25 Hz up to 16 kHz.
func EQBandFrequency(band int) float64 {
	return eqBaseFreqHz * float64(uint(1)<<band)
}

// Equalizer is the ten-band stereo peaking cascade. Gain changes ramp at
// block rate; the coefficients of a moving band are redesigned once per
// block until its ramp settles.
type Equalizer struct {
	sampleRate float64
	gains      [EQBands]Smoother
	sections   [EQBands][2]Section
}

// NewEqualizer returns a flat equalizer for the given sample rate. Gain
// changes ramp with time constant rampSeconds.
func NewEqualizer(sampleRate, rampSeconds float64) *Equalizer {
	eq := &Equalizer{sampleRate: sampleRate}
	for b := range eq.gains {
		eq.gains[b] = NewSmoother(0, rampSeconds, sampleRate)
		eq.applyBand(b, 0)
	}
	return eq
}

func (eq *Equalizer) applyBand(band int, gainDB float64) {
	c := Peak(EQBandFrequency(band), gainDB, EQBandQ, eq.sampleRate)
	eq.sections[band][0].Coefficients = c
	eq.sections[band][1].Coefficients = c
}

// SetGain ramps one band toward gainDB. Out-of-range bands are ignored.
func (eq *Equalizer) SetGain(band int, gainDB float64) {
	if band < 0 || band >= EQBands {
		return
	}
	eq.gains[band].SetTarget(gainDB)
}

// SnapGains installs all band gains with no ramp.
func (eq *Equalizer) SnapGains(gains [EQBands]float64) {
	for b, g := range gains {
		eq.gains[b].Snap(g)
		eq.applyBand(b, g)
	}
}

// ProcessStereo runs both channels through the cascade. left and right must
// be the same length.
func (eq *Equalizer) ProcessStereo(left, right []float64) {
	n := len(left)
	for b := range eq.sections {
		if !eq.gains[b].Done() {
			eq.applyBand(b, eq.gains[b].Advance(n))
		}
		eq.sections[b][0].ProcessBlock(left)
		eq.sections[b][1].ProcessBlock(right)
	}
}

// Reset clears the filter state of every band on both channels.
func (eq *Equalizer) Reset() {
	for b := range eq.sections {
		eq.sections[b][0].Reset()
		eq.sections[b][1].Reset()
	}
}
