package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rivo/tview"

	"github.com/uxdesk/uxdesk/engine/control"
	"github.com/uxdesk/uxdesk/engine/dsp"
	"github.com/uxdesk/uxdesk/engine/matrix"
)

func (t *TUI) showModal(name string, form *tview.Form, height int) {
	form.AddButton("Cancel", func() { t.closeModal(name) })
	form.SetBorder(true).SetTitleAlign(tview.AlignCenter)

	modal := tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(form, height, 1, true).
			AddItem(nil, 0, 1, false), 60, 1, true).
		AddItem(nil, 0, 1, false)

	t.Pages.AddPage(name, modal, true, true)
	t.App.SetFocus(form)
}

func (t *TUI) closeModal(name string) {
	t.Pages.RemovePage(name)
	t.App.SetFocus(t.Grid)
}

// deviceForm builds an add/rebind form once the daemon has answered the
// device enumeration. The first dropdown entry is the system default.
func (t *TUI) deviceForm(name, title string, fetch func(*control.Client) ([]string, error), apply func(*control.Client, string) error) {
	c := t.ensureClient()
	if c == nil {
		return
	}
	go func() {
		names, err := fetch(c)
		t.App.QueueUpdateDraw(func() {
			options := append([]string{"(system default)"}, names...)
			selected := ""

			form := tview.NewForm().
				AddDropDown("Device", options, 0, func(option string, index int) {
					if index == 0 {
						selected = ""
					} else {
						selected = option
					}
				})
			if err != nil {
				form.SetTitle(fmt.Sprintf(" %s [red](devices: %v)[-] ", title, err))
			} else {
				form.SetTitle(" " + title + " ")
			}
			form.AddButton("OK", func() {
				ref := selected
				t.closeModal(name)
				t.do(func(c *control.Client) error { return apply(c, ref) })
			})
			t.showModal(name, form, 7)
		})
	}()
}

func (t *TUI) showAddInputForm() {
	t.deviceForm("add_input", "Add Input",
		func(c *control.Client) ([]string, error) { return c.CaptureDevices() },
		func(c *control.Client, ref string) error {
			_, err := c.AddInput(ref)
			return err
		})
}

func (t *TUI) showAddOutputForm() {
	t.deviceForm("add_output", "Add Output",
		func(c *control.Client) ([]string, error) { return c.PlaybackDevices() },
		func(c *control.Client, ref string) error {
			_, err := c.AddOutput(ref)
			return err
		})
}

func (t *TUI) showInputForm(in matrix.Input) {
	volume := fmt.Sprintf("%.2f", in.Volume)
	muted := in.Muted

	form := tview.NewForm().
		AddInputField("Volume", volume, 8, nil, func(text string) { volume = text }).
		AddCheckbox("Muted", muted, func(checked bool) { muted = checked })
	form.SetTitle(fmt.Sprintf(" Input %d ", in.ID))

	form.AddButton("Save", func() {
		v, err := strconv.ParseFloat(volume, 64)
		if err != nil {
			form.SetTitle(" [red]bad volume[-] ")
			return
		}
		id, m := in.ID, muted
		t.closeModal("input_form")
		t.do(func(c *control.Client) error {
			if err := c.SetInputVolume(id, v); err != nil {
				return err
			}
			return c.SetInputMuted(id, m)
		})
	})
	form.AddButton("Rebind", func() {
		id := in.ID
		t.closeModal("input_form")
		t.deviceForm("rebind_input", fmt.Sprintf("Rebind Input %d", id),
			func(c *control.Client) ([]string, error) { return c.CaptureDevices() },
			func(c *control.Client, ref string) error { return c.SetInputDevice(id, ref) })
	})
	t.showModal("input_form", form, 9)
}

func (t *TUI) showDirectForm(snap matrix.Snapshot) {
	volume := fmt.Sprintf("%.2f", snap.Direct.Volume)
	muted := snap.Direct.Muted

	form := tview.NewForm().
		AddInputField("Volume", volume, 8, nil, func(text string) { volume = text }).
		AddCheckbox("Muted", muted, func(checked bool) { muted = checked })
	form.SetTitle(" Stream Input ")

	form.AddButton("Save", func() {
		v, err := strconv.ParseFloat(volume, 64)
		if err != nil {
			form.SetTitle(" [red]bad volume[-] ")
			return
		}
		m := muted
		t.closeModal("direct_form")
		t.do(func(c *control.Client) error {
			if err := c.SetDirectVolume(v); err != nil {
				return err
			}
			return c.SetDirectMuted(m)
		})
	})
	t.showModal("direct_form", form, 9)
}

func (t *TUI) showStripForm(out matrix.Output) {
	volume := fmt.Sprintf("%.2f", out.Volume)
	muted := out.Muted
	delay := fmt.Sprintf("%.1f", out.DelayMS)
	eq := formatEQ(out.EQGains[:])
	comp := out.Compressor
	threshold := fmt.Sprintf("%.1f", comp.ThresholdDB)
	ratio := fmt.Sprintf("%.1f", comp.Ratio)
	attack := fmt.Sprintf("%.3f", comp.AttackSec)
	release := fmt.Sprintf("%.3f", comp.ReleaseSec)

	form := tview.NewForm().
		AddInputField("Volume (0..1.5)", volume, 8, nil, func(s string) { volume = s }).
		AddCheckbox("Muted", muted, func(b bool) { muted = b }).
		AddInputField("EQ dB 31Hz..16kHz", eq, 0, nil, func(s string) { eq = s }).
		AddCheckbox("Compressor", comp.Enabled, func(b bool) { comp.Enabled = b }).
		AddInputField("Threshold dB", threshold, 8, nil, func(s string) { threshold = s }).
		AddInputField("Ratio", ratio, 8, nil, func(s string) { ratio = s }).
		AddInputField("Attack s", attack, 8, nil, func(s string) { attack = s }).
		AddInputField("Release s", release, 8, nil, func(s string) { release = s }).
		AddInputField("Delay ms", delay, 8, nil, func(s string) { delay = s })
	form.SetTitle(fmt.Sprintf(" Output %d ", out.ID))

	form.AddButton("Save", func() {
		v, err1 := strconv.ParseFloat(volume, 64)
		d, err2 := strconv.ParseFloat(delay, 64)
		gains, err3 := parseEQ(eq)
		var err4 error
		comp.ThresholdDB, err4 = strconv.ParseFloat(threshold, 64)
		var err5 error
		comp.Ratio, err5 = strconv.ParseFloat(ratio, 64)
		var err6 error
		comp.AttackSec, err6 = strconv.ParseFloat(attack, 64)
		var err7 error
		comp.ReleaseSec, err7 = strconv.ParseFloat(release, 64)
		for _, err := range []error{err1, err2, err3, err4, err5, err6, err7} {
			if err != nil {
				form.SetTitle(fmt.Sprintf(" [red]%v[-] ", err))
				return
			}
		}
		id, m, cp := out.ID, muted, comp
		t.closeModal("strip_form")
		t.do(func(c *control.Client) error {
			if err := c.SetOutputVolume(id, v); err != nil {
				return err
			}
			if err := c.SetOutputMuted(id, m); err != nil {
				return err
			}
			for band, g := range gains {
				if err := c.SetEQGain(id, band, g); err != nil {
					return err
				}
			}
			if err := c.SetCompressor(id, cp); err != nil {
				return err
			}
			return c.SetDelayMS(id, d)
		})
	})
	form.AddButton("Rebind", func() {
		id := out.ID
		t.closeModal("strip_form")
		t.deviceForm("rebind_output", fmt.Sprintf("Rebind Output %d", id),
			func(c *control.Client) ([]string, error) { return c.PlaybackDevices() },
			func(c *control.Client, ref string) error { return c.SetOutputSink(id, ref) })
	})
	t.showModal("strip_form", form, 23)
}

func (t *TUI) showBufferForm(snap matrix.Snapshot) {
	seconds := fmt.Sprintf("%.3f", snap.TargetBufferSeconds)

	form := tview.NewForm().
		AddInputField("Target buffer s", seconds, 8, nil, func(s string) { seconds = s })
	form.SetTitle(" Stream Buffering ")

	form.AddButton("Save", func() {
		v, err := strconv.ParseFloat(seconds, 64)
		if err != nil {
			form.SetTitle(" [red]bad value[-] ")
			return
		}
		t.closeModal("buffer_form")
		t.do(func(c *control.Client) error { return c.SetTargetBuffer(v) })
	})
	t.showModal("buffer_form", form, 7)
}

func (t *TUI) showRecordForm(out matrix.Output) {
	path := fmt.Sprintf("output-%d.wav", out.ID)

	form := tview.NewForm().
		AddInputField("File", path, 0, nil, func(s string) { path = s })
	form.SetTitle(fmt.Sprintf(" Record Output %d ", out.ID))

	form.AddButton("Start", func() {
		id, p := out.ID, path
		t.closeModal("record_form")
		t.do(func(c *control.Client) error { return c.StartRecording(id, p) })
	})
	form.AddButton("Stop", func() {
		id := out.ID
		t.closeModal("record_form")
		t.do(func(c *control.Client) error { return c.StopRecording(id) })
	})
	t.showModal("record_form", form, 7)
}

func formatEQ(gains []float64) string {
	parts := make([]string, len(gains))
	for i, g := range gains {
		parts[i] = strconv.FormatFloat(g, 'f', 1, 64)
	}
	return strings.Join(parts, ",")
}

func parseEQ(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != dsp.EQBands {
		return nil, fmt.Errorf("eq needs %d comma-separated gains", dsp.EQBands)
	}
	gains := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("eq band %d: %w", i, err)
		}
		gains[i] = v
	}
	return gains, nil
}
