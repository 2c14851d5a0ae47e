package dsp

import "testing"

func TestDelayPassthroughAtZero(t *testing.T) {
	d := NewDelay(480)
	buf := signalBlock(256)
	want := append([]float64(nil), buf...)
	d.ProcessBlock(buf)
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("sample %d: got %v, want %v", i, buf[i], want[i])
		}
	}
}

func TestDelayShiftsImpulse(t *testing.T) {
	d := NewDelay(480)
	d.SetDelay(100, 0)

	buf := make([]float64, 256)
	buf[0] = 1
	d.ProcessBlock(buf)

	for i, v := range buf {
		want := 0.0
		if i == 100 {
			want = 1
		}
		if v != want {
			t.Fatalf("sample %d = %v, want %v", i, v, want)
		}
	}
}

func TestDelayCrossfadeSettlesOnNewTap(t *testing.T) {
	const fadeSamples = 64
	in := signalBlock(512)

	ref := NewDelay(480)
	ref.SetDelay(50, 0)
	want := append([]float64(nil), in...)
	ref.ProcessBlock(want)

	d := NewDelay(480)
	d.SetDelay(50, fadeSamples)
	got := append([]float64(nil), in...)
	d.ProcessBlock(got)

	// Identical input history, so once the fade completes the crossfaded
	// line is indistinguishable from one that switched instantly.
	for i := fadeSamples; i < len(in); i++ {
		if got[i] != want[i] {
			t.Fatalf("sample %d after fade: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDelayMidFadeChangeCompletesFirst(t *testing.T) {
	d := NewDelay(480)
	d.SetDelay(50, 64)

	buf := make([]float64, 10)
	d.ProcessBlock(buf)

	d.SetDelay(80, 32)
	if d.current != 50 || d.pending != 80 || !d.fading {
		t.Fatalf("mid-fade retarget: current=%d pending=%d fading=%v",
			d.current, d.pending, d.fading)
	}
}

func TestDelayClampsToMax(t *testing.T) {
	d := NewDelay(100)
	d.SetDelay(5000, 0)
	if d.current != 100 {
		t.Fatalf("delay = %d, want clamp to 100", d.current)
	}
	d.SetDelay(-3, 0)
	if d.current != 0 {
		t.Fatalf("delay = %d, want clamp to 0", d.current)
	}
}

func TestDelayReset(t *testing.T) {
	d := NewDelay(480)
	d.SetDelay(10, 0)
	d.ProcessBlock(constBlock(1, 50))

	d.Reset()
	buf := make([]float64, 20)
	d.ProcessBlock(buf)
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("sample %d = %v after Reset, want 0", i, v)
		}
	}
}
