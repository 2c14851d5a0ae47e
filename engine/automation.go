package engine

import "github.com/uxdesk/uxdesk/engine/matrix"

// automateLocked recomputes every (source, output) gain target and every
// strip parameter target from the matrix and pushes them into the live
// chains. The gain law is: routed ? (muted ? 0 : volume) : 0. The pass is
// idempotent, so callers run it whole after any matrix change instead of
// tracking which targets moved; re-applying a target a strip already holds
// is a steady-state no-op. snap skips the ramps, which is only right for
// chains with no audible history.
func (e *Engine) automateLocked(snap bool) {
	inputs := e.mat.Inputs()
	for id, ch := range e.chains {
		out, err := e.mat.Output(id)
		if err != nil {
			continue
		}
		st := ch.st
		for _, in := range inputs {
			g := e.mat.TargetGain(matrix.InputSource(in.ID), id)
			if snap {
				st.SnapSourceGain(in.ID, g)
			} else {
				st.SetSourceGain(in.ID, g)
			}
		}
		dg := e.mat.TargetGain(matrix.DirectSource(), id)
		if snap {
			st.SnapDirectGain(dg)
			st.SnapMaster(out.Volume, out.Muted)
			st.SnapEQ(out.EQGains)
			st.SnapDelayMS(out.DelayMS)
		} else {
			st.SetDirectGain(dg)
			st.SetMaster(out.Volume, out.Muted)
			st.ApplyEQ(out.EQGains)
			st.SetDelayMS(out.DelayMS)
		}
		c := out.Compressor
		st.ApplyCompressor(c.Enabled, c.ThresholdDB, c.Ratio, c.AttackSec, c.ReleaseSec, snap)
	}
}
