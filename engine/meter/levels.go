// Package meter provides level metering and spectrum analysis for the
// audio path. Writers run on the render goroutine; readers poll from the
// control plane, so the level store is atomic and the analyzer takes a
// short lock per frame.
package meter

import (
	"math"
	"sync/atomic"
)

// LevelSnapshot is one meter reading. RMS and peak are linear sample
// values over the most recent measured block.
type LevelSnapshot struct {
	LeftRMS   float64
	LeftPeak  float64
	RightRMS  float64
	RightPeak float64
}

// Levels is a stereo block meter. Measure and Read may race freely; each
// field tears at worst to a previous block's value.
type Levels struct {
	leftRMS   atomic.Uint64
	leftPeak  atomic.Uint64
	rightRMS  atomic.Uint64
	rightPeak atomic.Uint64
}

// Measure computes RMS and peak for one rendered block and publishes them.
func (l *Levels) Measure(left, right []float64) {
	rms, peak := blockLevels(left)
	l.leftRMS.Store(math.Float64bits(rms))
	l.leftPeak.Store(math.Float64bits(peak))
	rms, peak = blockLevels(right)
	l.rightRMS.Store(math.Float64bits(rms))
	l.rightPeak.Store(math.Float64bits(peak))
}

// MeasureInterleaved meters an interleaved float32 block without
// deinterleaving it first. Channel 0 meters as left, channel 1 as right;
// a mono block reads as silence on the right, matching how capture frames
// land in the mix. Used on the capture and network feed paths.
func (l *Levels) MeasureInterleaved(samples []float32, channels int) {
	if channels <= 0 {
		return
	}
	frames := len(samples) / channels
	if frames == 0 {
		l.Reset()
		return
	}
	var sumL, sumR, peakL, peakR float64
	for f := range frames {
		xl := float64(samples[f*channels])
		sumL += xl * xl
		if a := math.Abs(xl); a > peakL {
			peakL = a
		}
		if channels > 1 {
			xr := float64(samples[f*channels+1])
			sumR += xr * xr
			if a := math.Abs(xr); a > peakR {
				peakR = a
			}
		}
	}
	l.leftRMS.Store(math.Float64bits(math.Sqrt(sumL / float64(frames))))
	l.leftPeak.Store(math.Float64bits(peakL))
	l.rightRMS.Store(math.Float64bits(math.Sqrt(sumR / float64(frames))))
	l.rightPeak.Store(math.Float64bits(peakR))
}

// Read returns the most recent measurement.
func (l *Levels) Read() LevelSnapshot {
	return LevelSnapshot{
		LeftRMS:   math.Float64frombits(l.leftRMS.Load()),
		LeftPeak:  math.Float64frombits(l.leftPeak.Load()),
		RightRMS:  math.Float64frombits(l.rightRMS.Load()),
		RightPeak: math.Float64frombits(l.rightPeak.Load()),
	}
}

// Reset clears the meter to silence.
func (l *Levels) Reset() {
	l.leftRMS.Store(0)
	l.leftPeak.Store(0)
	l.rightRMS.Store(0)
	l.rightPeak.Store(0)
}

func blockLevels(block []float64) (rms, peak float64) {
	if len(block) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range block {
		sum += x * x
		if a := math.Abs(x); a > peak {
			peak = a
		}
	}
	return math.Sqrt(sum / float64(len(block))), peak
}
