package dsp

// Delay is a fixed-capacity circular delay line whose delay time changes
// click-free: a change crossfades from the old tap to the new one. Input is
// always written into the line, so history exists the moment a delay is
// dialed in from zero.
type Delay struct {
	buffer  []float64
	write   int
	current int
	pending int
	fade    float64
	fadeInc float64
	fading  bool
}

// NewDelay returns a pass-through delay able to reach back maxSamples.
func NewDelay(maxSamples int) *Delay {
	if maxSamples < 1 {
		maxSamples = 1
	}
	return &Delay{buffer: make([]float64, maxSamples+1)}
}

// MaxDelay returns the largest reachable delay in samples.
func (d *Delay) MaxDelay() int { return len(d.buffer) - 1 }

// SetDelay moves to a delay of samples, crossfading over fadeSamples. A
// change arriving mid-fade completes the running fade instantly first.
// samples clamps to [0, MaxDelay]; fadeSamples <= 0 switches with no fade.
func (d *Delay) SetDelay(samples, fadeSamples int) {
	if samples < 0 {
		samples = 0
	}
	if m := d.MaxDelay(); samples > m {
		samples = m
	}
	if d.fading {
		d.current = d.pending
		d.fading = false
	}
	if samples == d.current {
		return
	}
	if fadeSamples <= 0 {
		d.current = samples
		return
	}
	d.pending = samples
	d.fade = 0
	d.fadeInc = 1 / float64(fadeSamples)
	d.fading = true
}

// ProcessBlock delays buf in place.
func (d *Delay) ProcessBlock(buf []float64) {
	for i, x := range buf {
		out := d.tap(d.current, x)
		if d.fading {
			d.fade += d.fadeInc
			if d.fade >= 1 {
				d.current = d.pending
				d.fading = false
				out = d.tap(d.current, x)
			} else {
				out += (d.tap(d.pending, x) - out) * d.fade
			}
		}
		d.buffer[d.write] = x
		d.write++
		if d.write >= len(d.buffer) {
			d.write = 0
		}
		buf[i] = out
	}
}

// tap reads the sample delay steps before x, where x is the sample about to
// be written.
func (d *Delay) tap(delay int, x float64) float64 {
	if delay == 0 {
		return x
	}
	read := d.write - delay
	if read < 0 {
		read += len(d.buffer)
	}
	return d.buffer[read]
}

// Reset clears history and cancels any running fade.
func (d *Delay) Reset() {
	for i := range d.buffer {
		d.buffer[i] = 0
	}
	d.write = 0
	d.fading = false
	d.fade = 0
}
