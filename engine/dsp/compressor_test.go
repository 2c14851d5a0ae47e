package dsp

import (
	"math"
	"testing"
)

func constBlock(v float64, n int) []float64 {
	buf := make([]float64, n)
	for i := range buf {
		buf[i] = v
	}
	return buf
}

func TestNeutralCompressorTransparent(t *testing.T) {
	c := NewCompressor(48000, 0.05)
	left := signalBlock(512)
	right := signalBlock(512)
	wantL := append([]float64(nil), left...)
	wantR := append([]float64(nil), right...)

	c.ProcessStereo(left, right)

	for i := range wantL {
		if left[i] != wantL[i] || right[i] != wantR[i] {
			t.Fatalf("neutral compressor altered sample %d", i)
		}
	}
}

func TestBelowThresholdUntouched(t *testing.T) {
	c := NewCompressor(48000, 0.05)
	c.SnapThreshold(-18)
	c.SnapRatio(3)

	// -26 dB signal stays well under the -18 dB threshold.
	left := constBlock(0.05, 4800)
	right := constBlock(-0.05, 4800)
	c.ProcessStereo(left, right)

	for i := range left {
		if left[i] != 0.05 || right[i] != -0.05 {
			t.Fatalf("sub-threshold sample %d compressed: L=%v R=%v", i, left[i], right[i])
		}
	}
}

func TestHardKneeGainAboveThreshold(t *testing.T) {
	const fs = 48000.0
	c := NewCompressor(fs, 0.05)
	c.SnapThreshold(-18)
	c.SnapRatio(3)
	c.SetAttack(0.001)
	c.SetRelease(0.25)

	// Full-scale DC drives the follower to 1.0. Overshoot is 18 dB, so the
	// reduction is 18*(1-1/3) = 12 dB: steady gain 10^(-12/20) = 0.2512.
	left := constBlock(1, int(fs))
	right := constBlock(1, int(fs))
	c.ProcessStereo(left, right)

	want := math.Pow(10, -12.0/20)
	got := left[len(left)-1]
	if math.Abs(got-want) > 0.01*want {
		t.Fatalf("steady compressed level = %v, want %v", got, want)
	}
}

func TestStereoLinkedGain(t *testing.T) {
	c := NewCompressor(48000, 0.05)
	c.SnapThreshold(-18)
	c.SnapRatio(4)
	c.SetAttack(0.001)

	// The quiet channel gets the loud channel's gain. Both inputs are
	// power-of-two scaled, so the shared multiplier is exact.
	left := constBlock(1, 9600)
	right := constBlock(0.25, 9600)
	c.ProcessStereo(left, right)

	for i := range left {
		if right[i]*4 != left[i] {
			t.Fatalf("sample %d not linked: L=%v R=%v", i, left[i], right[i])
		}
	}
}

func TestThresholdRampSettles(t *testing.T) {
	c := NewCompressor(48000, 0.005)
	c.SnapThreshold(0)
	c.SetThreshold(-24)

	left := make([]float64, 512)
	right := make([]float64, 512)
	for range 47 {
		c.ProcessStereo(left, right)
	}

	if !c.threshold.Done() || c.threshold.Value() != -24 {
		t.Fatalf("threshold ramp not settled: done=%v value=%v",
			c.threshold.Done(), c.threshold.Value())
	}
	if c.thresholdLog2 != -24*log2Of10Div20 {
		t.Fatalf("gain curve not refreshed: thresholdLog2=%v", c.thresholdLog2)
	}
}

func TestRatioBelowOneClamps(t *testing.T) {
	c := NewCompressor(48000, 0.05)
	c.SnapRatio(0.5)
	if c.ratioFactor != 0 {
		t.Fatalf("ratio below 1 produced factor %v, want 0", c.ratioFactor)
	}
}
