package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/uxdesk/uxdesk/engine/control"
	"github.com/uxdesk/uxdesk/engine/matrix"
)

// refreshInterval paces the poll loop. Meter ballistics live in the
// daemon's analysis taps; the console only has to repaint.
const refreshInterval = 250 * time.Millisecond

type TUI struct {
	App        *tview.Application
	Pages      *tview.Pages
	Grid       *tview.Table
	MeterView  *tview.TextView
	StatusView *tview.TextView

	socket string

	mu     sync.Mutex
	client *control.Client
	online bool
	status control.StatusReport
	snap   matrix.Snapshot
	levels control.LevelsReport
	lastErr error
}

func NewTUI(socket string) *TUI {
	return &TUI{
		App:    tview.NewApplication(),
		Pages:  tview.NewPages(),
		socket: socket,
	}
}

func (t *TUI) Run() error {
	t.setupLayout()
	go t.refreshLoop()
	return t.App.Run()
}

func (t *TUI) setupLayout() {
	t.Grid = tview.NewTable().
		SetBorders(false).
		SetFixed(1, 1).
		SetSelectable(true, true)
	t.Grid.SetBorder(true).SetTitle(" Routing ")
	t.Grid.SetSelectedFunc(t.onGridSelect)
	t.Grid.SetInputCapture(t.onGridKey)

	t.MeterView = tview.NewTextView().SetDynamicColors(true)
	t.MeterView.SetBorder(true).SetTitle(" Meters ")

	t.StatusView = tview.NewTextView().SetDynamicColors(true)
	t.StatusView.SetText("connecting...")

	help := tview.NewTextView().SetDynamicColors(true)
	help.SetText("[yellow]Enter[-] toggle route  [yellow]a[-]/[yellow]o[-] add  [yellow]e[-]/[yellow]E[-] edit  [yellow]m[-]/[yellow]M[-] mute  [yellow]x[-]/[yellow]X[-] remove (row/col)  [yellow]b[-] buffer  [yellow]r[-] record  [yellow]q[-] quit")

	main := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(t.Grid, 0, 2, true).
		AddItem(t.MeterView, 0, 1, false).
		AddItem(t.StatusView, 1, 1, false).
		AddItem(help, 1, 1, false)

	t.Pages.AddPage("main", main, true, true)
	t.App.SetRoot(t.Pages, true).SetFocus(t.Grid)

	t.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlC {
			t.App.Stop()
			return nil
		}
		if event.Key() == tcell.KeyTab {
			if t.App.GetFocus() == t.Grid {
				t.App.SetFocus(t.MeterView)
			} else if t.App.GetFocus() == t.MeterView {
				t.App.SetFocus(t.Grid)
			}
			return nil
		}
		return event
	})
}

// ensureClient returns a live client, dialing if the last one died. The
// console stays up against a dead daemon and keeps retrying.
func (t *TUI) ensureClient() *control.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client
	}
	c, err := control.Dial(t.socket)
	if err != nil {
		t.lastErr = err
		return nil
	}
	t.client = c
	return c
}

func (t *TUI) dropClient(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		t.client.Close()
		t.client = nil
	}
	t.online = false
	t.lastErr = err
}

func (t *TUI) refreshLoop() {
	tick := time.NewTicker(refreshInterval)
	defer tick.Stop()
	for range tick.C {
		t.poll()
	}
}

func (t *TUI) poll() {
	c := t.ensureClient()
	if c == nil {
		t.App.QueueUpdateDraw(t.render)
		return
	}
	status, err := c.Status()
	if err != nil {
		t.dropClient(err)
		t.App.QueueUpdateDraw(t.render)
		return
	}
	snap, err := c.Snapshot()
	if err != nil {
		t.dropClient(err)
		t.App.QueueUpdateDraw(t.render)
		return
	}
	levels, err := c.Levels()
	if err != nil {
		t.dropClient(err)
		t.App.QueueUpdateDraw(t.render)
		return
	}

	t.mu.Lock()
	t.online = true
	t.lastErr = nil
	t.status = status
	t.snap = snap
	t.levels = levels
	t.mu.Unlock()
	t.App.QueueUpdateDraw(t.render)
}

func (t *TUI) render() {
	t.mu.Lock()
	online := t.online
	status := t.status
	snap := t.snap
	levels := t.levels
	err := t.lastErr
	t.mu.Unlock()

	if !online {
		t.StatusView.SetText(fmt.Sprintf("[red]daemon unreachable[-] (%v) retrying...", err))
		return
	}

	running := "[red]stopped[-]"
	if status.Running {
		running = "[green]running[-]"
	}
	stream := "[gray]no stream[-]"
	if status.StreamConnected {
		stream = fmt.Sprintf("[green]stream %d Hz[-]", status.StreamRate)
	}
	t.StatusView.SetText(fmt.Sprintf("%s  %s  buffer %.0f ms  %d in / %d out",
		running, stream, status.TargetBufferSeconds*1000, status.Inputs, status.Outputs))

	t.renderGrid(snap)
	t.renderMeters(snap, levels)
}

// snapshot returns the last polled desk state for forms and key handlers.
func (t *TUI) snapshot() (matrix.Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap, t.online
}

// do runs one control call off the UI goroutine and surfaces its error in
// the status bar.
func (t *TUI) do(fn func(c *control.Client) error) {
	c := t.ensureClient()
	if c == nil {
		return
	}
	go func() {
		if err := fn(c); err != nil {
			t.App.QueueUpdateDraw(func() {
				t.StatusView.SetText(fmt.Sprintf("[red]%v[-]", err))
			})
		} else {
			t.poll()
		}
	}()
}
