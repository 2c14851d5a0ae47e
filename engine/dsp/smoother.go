package dsp

import "math"

// snapEpsilon ends a ramp once the remaining distance is inaudible,
// relative to the target's magnitude.
const snapEpsilon = 1e-4

// Smoother is a one-pole parameter ramp: Value approaches the target
// exponentially with the configured time constant, then snaps exactly onto
// it. The zero value is unusable; construct with NewSmoother.
type Smoother struct {
	current float64
	target  float64
	decay   float64
	done    bool
}

// NewSmoother returns a settled smoother at initial. tauSeconds is the
// exponential time constant at sampleRate; zero or negative makes every
// change instantaneous.
func NewSmoother(initial, tauSeconds, sampleRate float64) Smoother {
	s := Smoother{current: initial, target: initial, done: true}
	s.SetTimeConstant(tauSeconds, sampleRate)
	return s
}

// SetTimeConstant reconfigures the ramp speed without disturbing the
// current value.
func (s *Smoother) SetTimeConstant(tauSeconds, sampleRate float64) {
	if tauSeconds <= 0 || sampleRate <= 0 {
		s.decay = 0
		return
	}
	s.decay = math.Exp(-1 / (tauSeconds * sampleRate))
}

// SetTarget starts a ramp toward v. Setting the current target again is a
// no-op.
func (s *Smoother) SetTarget(v float64) {
	if v == s.target && s.done {
		return
	}
	s.target = v
	s.done = false
	s.settle()
}

// Snap jumps to v with no ramp.
func (s *Smoother) Snap(v float64) {
	s.current = v
	s.target = v
	s.done = true
}

// Next advances one sample and returns the new value.
func (s *Smoother) Next() float64 {
	if s.done {
		return s.current
	}
	s.current = s.target + (s.current-s.target)*s.decay
	s.settle()
	return s.current
}

// Advance moves the smoother forward by n samples in one step and returns
// the new value.
func (s *Smoother) Advance(n int) float64 {
	if s.done || n <= 0 {
		return s.current
	}
	s.current = s.target + (s.current-s.target)*math.Pow(s.decay, float64(n))
	s.settle()
	return s.current
}

func (s *Smoother) settle() {
	if math.Abs(s.current-s.target) <= snapEpsilon*(1+math.Abs(s.target)) {
		s.current = s.target
		s.done = true
	}
}

// Value returns the current value without advancing.
func (s *Smoother) Value() float64 { return s.current }

// Target returns the value the smoother is ramping toward.
func (s *Smoother) Target() float64 { return s.target }

// Done reports whether the ramp has settled on the target.
func (s *Smoother) Done() bool { return s.done }
