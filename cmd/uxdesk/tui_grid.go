package main

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/uxdesk/uxdesk/engine/control"
	"github.com/uxdesk/uxdesk/engine/matrix"
)

// Grid layout: row 0 and column 0 are headers. Row 1 is the direct stream
// input, rows 2.. the hardware inputs in id order; columns 1.. the outputs
// in id order. A cell marks whether that source is routed to that output.

func (t *TUI) renderGrid(snap matrix.Snapshot) {
	t.Grid.Clear()

	t.Grid.SetCell(0, 0, headerCell(""))
	for c, out := range snap.Outputs {
		label := fmt.Sprintf("Out %d ×%.2f", out.ID, out.Volume)
		if out.Muted {
			label += " [red]M[-]"
		}
		t.Grid.SetCell(0, c+1, headerCell(label))
	}

	t.Grid.SetCell(1, 0, headerCell(sourceLabel("Stream", snap.Direct.Volume, snap.Direct.Muted)))
	for c, out := range snap.Outputs {
		t.Grid.SetCell(1, c+1, routeCell(contains(snap.Direct.Routes, out.ID)))
	}

	for r, in := range snap.Inputs {
		t.Grid.SetCell(r+2, 0, headerCell(sourceLabel(fmt.Sprintf("In %d", in.ID), in.Volume, in.Muted)))
		for c, out := range snap.Outputs {
			t.Grid.SetCell(r+2, c+1, routeCell(contains(in.Routes, out.ID)))
		}
	}
}

func sourceLabel(name string, volume float64, muted bool) string {
	label := fmt.Sprintf("%s ×%.2f", name, volume)
	if muted {
		label += " [red]M[-]"
	}
	return label
}

func headerCell(label string) *tview.TableCell {
	return tview.NewTableCell(label).
		SetTextColor(tcell.ColorYellow).
		SetSelectable(false)
}

func routeCell(on bool) *tview.TableCell {
	if on {
		return tview.NewTableCell(" ● ").SetTextColor(tcell.ColorGreen)
	}
	return tview.NewTableCell(" · ").SetTextColor(tcell.ColorGray)
}

func contains(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// rowSource maps a grid row to its source. Row 1 is the stream input.
func rowSource(snap matrix.Snapshot, row int) (matrix.Source, bool) {
	if row == 1 {
		return matrix.DirectSource(), true
	}
	i := row - 2
	if i < 0 || i >= len(snap.Inputs) {
		return matrix.Source{}, false
	}
	return matrix.InputSource(snap.Inputs[i].ID), true
}

// colOutput maps a grid column to its output.
func colOutput(snap matrix.Snapshot, col int) (matrix.Output, bool) {
	i := col - 1
	if i < 0 || i >= len(snap.Outputs) {
		return matrix.Output{}, false
	}
	return snap.Outputs[i], true
}

func (t *TUI) onGridSelect(row, col int) {
	snap, ok := t.snapshot()
	if !ok {
		return
	}
	src, okSrc := rowSource(snap, row)
	out, okOut := colOutput(snap, col)
	if !okSrc || !okOut {
		return
	}
	t.do(func(c *control.Client) error {
		_, err := c.ToggleRoute(src, out.ID)
		return err
	})
}

func (t *TUI) onGridKey(event *tcell.EventKey) *tcell.EventKey {
	if event.Key() != tcell.KeyRune {
		return event
	}
	snap, online := t.snapshot()
	if !online {
		if event.Rune() == 'q' {
			t.App.Stop()
			return nil
		}
		return event
	}
	row, col := t.Grid.GetSelection()

	switch event.Rune() {
	case 'q':
		t.App.Stop()
	case 'a':
		t.showAddInputForm()
	case 'o':
		t.showAddOutputForm()
	case 'e':
		if src, ok := rowSource(snap, row); ok {
			if src.Kind == matrix.SourceDirect {
				t.showDirectForm(snap)
			} else if in, ok := inputByID(snap, src.InputID); ok {
				t.showInputForm(in)
			}
		}
	case 'E':
		if out, ok := colOutput(snap, col); ok {
			t.showStripForm(out)
		}
	case 'm':
		if src, ok := rowSource(snap, row); ok {
			t.toggleSourceMute(snap, src)
		}
	case 'M':
		if out, ok := colOutput(snap, col); ok {
			t.do(func(c *control.Client) error {
				return c.SetOutputMuted(out.ID, !out.Muted)
			})
		}
	case 'x':
		if src, ok := rowSource(snap, row); ok && src.Kind == matrix.SourceInput {
			id := src.InputID
			t.do(func(c *control.Client) error { return c.RemoveInput(id) })
		}
	case 'X':
		if out, ok := colOutput(snap, col); ok {
			id := out.ID
			t.do(func(c *control.Client) error { return c.RemoveOutput(id) })
		}
	case 'b':
		t.showBufferForm(snap)
	case 'r':
		if out, ok := colOutput(snap, col); ok {
			t.showRecordForm(out)
		}
	default:
		return event
	}
	return nil
}

func (t *TUI) toggleSourceMute(snap matrix.Snapshot, src matrix.Source) {
	if src.Kind == matrix.SourceDirect {
		muted := snap.Direct.Muted
		t.do(func(c *control.Client) error { return c.SetDirectMuted(!muted) })
		return
	}
	if in, ok := inputByID(snap, src.InputID); ok {
		t.do(func(c *control.Client) error {
			return c.SetInputMuted(in.ID, !in.Muted)
		})
	}
}

func inputByID(snap matrix.Snapshot, id int) (matrix.Input, bool) {
	for _, in := range snap.Inputs {
		if in.ID == id {
			return in, true
		}
	}
	return matrix.Input{}, false
}
