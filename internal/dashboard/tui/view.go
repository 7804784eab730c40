package tui

import (
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nerrad567/suntec-core/internal/dashboard"
	"github.com/nerrad567/suntec-core/internal/gateway"
)

// ProgramView implements dashboard.View by sending messages to a running
// bubbletea program. Paints before SetProgram are dropped.
type ProgramView struct {
	program atomic.Pointer[tea.Program]
}

var _ dashboard.View = (*ProgramView)(nil)

// SetProgram attaches the program that receives paints.
func (v *ProgramView) SetProgram(p *tea.Program) {
	v.program.Store(p)
}

func (v *ProgramView) send(msg tea.Msg) {
	if p := v.program.Load(); p != nil {
		p.Send(msg)
	}
}

func (v *ProgramView) PaintKPI(k dashboard.KPI) {
	v.send(kpiMsg(k))
}

func (v *ProgramView) PaintNoData(deviceID string) {
	v.send(noDataMsg(deviceID))
}

func (v *ProgramView) PaintSeries(deviceID string, w dashboard.Window, pts []dashboard.Point) {
	v.send(seriesMsg{deviceID: deviceID, window: w, points: pts})
}

func (v *ProgramView) PaintStream(deviceID string, st gateway.StreamState) {
	v.send(streamMsg{deviceID: deviceID, state: st})
}
