package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/uxdesk/uxdesk/engine/control"
	"github.com/uxdesk/uxdesk/engine/matrix"
)

const (
	meterWidth   = 40
	meterFloorDB = -60.0
)

func (t *TUI) renderMeters(snap matrix.Snapshot, levels control.LevelsReport) {
	var b strings.Builder

	for _, in := range levels.Inputs {
		writeMeter(&b, fmt.Sprintf("In %d", in.ID), in.Levels)
	}
	writeMeter(&b, "Stream", levels.Direct)
	for _, out := range levels.Outputs {
		writeMeter(&b, fmt.Sprintf("Out %d", out.ID), out.Levels)
	}

	t.MeterView.SetText(b.String())
}

func writeMeter(b *strings.Builder, name string, lv control.LevelValues) {
	fmt.Fprintf(b, "%-8s L %s %6.1f dB\n", name, bar(lv.LeftRMS, lv.LeftPeak), toDB(lv.LeftRMS))
	fmt.Fprintf(b, "%-8s R %s %6.1f dB\n", "", bar(lv.RightRMS, lv.RightPeak), toDB(lv.RightRMS))
}

// bar renders an RMS bar with a peak marker. Green to -12 dB, yellow to
// -3 dB, red above.
func bar(rms, peak float64) string {
	fill := meterPos(rms)
	mark := meterPos(peak)

	var b strings.Builder
	b.WriteString("[green]")
	for i := 0; i < meterWidth; i++ {
		if i == dbPos(-12) {
			b.WriteString("[yellow]")
		}
		if i == dbPos(-3) {
			b.WriteString("[red]")
		}
		switch {
		case i < fill:
			b.WriteByte('|')
		case i == mark && peak > 0:
			b.WriteByte('+')
		default:
			b.WriteByte(' ')
		}
	}
	b.WriteString("[-]")
	return b.String()
}

// meterPos maps a linear level to a bar cell on a dB scale from the floor
// to 0 dBFS.
func meterPos(v float64) int {
	return dbPos(toDB(v))
}

func dbPos(db float64) int {
	if db <= meterFloorDB {
		return 0
	}
	if db > 0 {
		db = 0
	}
	return int((db - meterFloorDB) / -meterFloorDB * float64(meterWidth))
}

func toDB(v float64) float64 {
	if v <= 0 {
		return meterFloorDB
	}
	db := 20 * math.Log10(v)
	if db < meterFloorDB {
		return meterFloorDB
	}
	return db
}
