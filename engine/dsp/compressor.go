package dsp

import "math"

// log2Of10Div20 converts decibels to log2 units: log2(10) / 20.
const log2Of10Div20 = 0.166096404744

const (
	minAttackSeconds  = 0.0001
	minReleaseSeconds = 0.001
)

// Compressor is a stereo-linked hard-knee compressor. Both channels share
// one peak follower fed by the louder channel, so the image does not shift
// under gain reduction. The gain curve works in the log2 domain.
//
// A new compressor is neutral (threshold 0 dB, ratio 1:1); threshold and
// ratio changes ramp at block rate, attack and release apply immediately.
type Compressor struct {
	sampleRate float64
	threshold  Smoother
	ratio      Smoother

	attackCoeff   float64
	releaseCoeff  float64
	thresholdLog2 float64
	ratioFactor   float64

	peakLevel float64
}

// NewCompressor returns a neutral compressor for the given sample rate.
// Threshold and ratio changes ramp with time constant rampSeconds.
func NewCompressor(sampleRate, rampSeconds float64) *Compressor {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	c := &Compressor{
		sampleRate: sampleRate,
		threshold:  NewSmoother(0, rampSeconds, sampleRate),
		ratio:      NewSmoother(1, rampSeconds, sampleRate),
	}
	c.SetAttack(0.01)
	c.SetRelease(0.25)
	c.refreshGainCurve()
	return c
}

// SetThreshold ramps the threshold toward dB.
func (c *Compressor) SetThreshold(dB float64) { c.threshold.SetTarget(dB) }

// SnapThreshold installs the threshold with no ramp.
func (c *Compressor) SnapThreshold(dB float64) {
	c.threshold.Snap(dB)
	c.refreshGainCurve()
}

// SetRatio ramps the ratio toward r. Ratios below 1 clamp to 1.
func (c *Compressor) SetRatio(r float64) {
	if r < 1 {
		r = 1
	}
	c.ratio.SetTarget(r)
}

// SnapRatio installs the ratio with no ramp.
func (c *Compressor) SnapRatio(r float64) {
	if r < 1 {
		r = 1
	}
	c.ratio.Snap(r)
	c.refreshGainCurve()
}

// SetAttack sets the attack time in seconds.
func (c *Compressor) SetAttack(sec float64) {
	if sec < minAttackSeconds {
		sec = minAttackSeconds
	}
	c.attackCoeff = 1 - math.Exp(-math.Ln2/(sec*c.sampleRate))
}

// SetRelease sets the release time in seconds.
func (c *Compressor) SetRelease(sec float64) {
	if sec < minReleaseSeconds {
		sec = minReleaseSeconds
	}
	c.releaseCoeff = math.Exp(-math.Ln2 / (sec * c.sampleRate))
}

// ProcessStereo compresses both channels in place. left and right must be
// the same length.
func (c *Compressor) ProcessStereo(left, right []float64) {
	if !c.threshold.Done() || !c.ratio.Done() {
		n := len(left)
		c.threshold.Advance(n)
		c.ratio.Advance(n)
		c.refreshGainCurve()
	}

	ac, rc := c.attackCoeff, c.releaseCoeff
	peak := c.peakLevel

	for i := range left {
		level := math.Abs(left[i])
		if r := math.Abs(right[i]); r > level {
			level = r
		}
		if level > peak {
			peak += (level - peak) * ac
		} else {
			peak = level + (peak-level)*rc
		}
		if g := c.gainFor(peak); g != 1 {
			left[i] *= g
			right[i] *= g
		}
	}

	c.peakLevel = peak
}

func (c *Compressor) gainFor(peak float64) float64 {
	if peak <= 0 || c.ratioFactor == 0 {
		return 1
	}
	overshoot := math.Log2(peak) - c.thresholdLog2
	if overshoot <= 0 {
		return 1
	}
	return math.Pow(2, -overshoot*c.ratioFactor)
}

func (c *Compressor) refreshGainCurve() {
	c.thresholdLog2 = c.threshold.Value() * log2Of10Div20
	r := c.ratio.Value()
	if r < 1 {
		r = 1
	}
	c.ratioFactor = 1 - 1/r
}

// Reset clears the peak follower.
func (c *Compressor) Reset() { c.peakLevel = 0 }
