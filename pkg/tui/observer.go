package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/james-see/sampledump/pkg/transfer"
)

type progressMsg struct {
	slot     int
	fraction float64
}

type transferringMsg struct {
	slot int
	dir  transfer.Direction
}

type invalidateMsg struct{ slot int }

type bulkDoneMsg struct{ report *transfer.BulkReport }

type redrawMsg struct{ paused bool }

// messenger is the part of *tea.Program the observer needs.
type messenger interface {
	Send(msg tea.Msg)
}

// Observer forwards engine events into a bubbletea program. The engine calls
// it from its own goroutine; Program.Send is safe for that.
type Observer struct {
	p messenger
}

// NewObserver creates an observer feeding p.
func NewObserver(p messenger) *Observer {
	return &Observer{p: p}
}

func (o *Observer) Progress(slot int, fraction float64) {
	o.p.Send(progressMsg{slot: slot, fraction: fraction})
}

func (o *Observer) Transferring(slot int, dir transfer.Direction) {
	o.p.Send(transferringMsg{slot: slot, dir: dir})
}

func (o *Observer) Invalidate(slot int) {
	o.p.Send(invalidateMsg{slot: slot})
}

func (o *Observer) BulkDone(report *transfer.BulkReport) {
	o.p.Send(bulkDoneMsg{report: report})
}

func (o *Observer) PauseRedraw()  { o.p.Send(redrawMsg{paused: true}) }
func (o *Observer) ResumeRedraw() { o.p.Send(redrawMsg{paused: false}) }
