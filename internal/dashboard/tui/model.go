// Package tui renders the dashboard in a terminal with bubbletea.
//
// The Coordinator paints through ProgramView, which turns each paint into
// a bubbletea message. Model keeps the last paint per device and renders
// the selected one: KPI panel, a power sparkline for the last 24 hours,
// an energy sparkline for today, and the live channel state.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nerrad567/suntec-core/internal/dashboard"
	"github.com/nerrad567/suntec-core/internal/gateway"
)

// Activator starts and stops device views. *dashboard.Coordinator
// satisfies it.
type Activator interface {
	Activate(ctx context.Context, deviceID string)
	Deactivate(deviceID string)
}

type (
	kpiMsg    dashboard.KPI
	noDataMsg string
	seriesMsg struct {
		deviceID string
		window   dashboard.Window
		points   []dashboard.Point
	}
	streamMsg struct {
		deviceID string
		state    gateway.StreamState
	}
	activatedMsg string
)

// deviceState is the last paint of one device.
type deviceState struct {
	kpi     *dashboard.KPI
	noData  bool
	series  map[dashboard.Window][]dashboard.Point
	stream  gateway.StreamState
	hasLive bool
	loading bool
}

// Model is the bubbletea model.
type Model struct {
	ctx       context.Context //nolint:containedctx // activations outlive a single Update
	activator Activator
	devices   []string
	selected  int
	states    map[string]*deviceState
	width     int
	loc       *time.Location
}

// NewModel builds a model for devices. The first device is activated on
// Init.
func NewModel(ctx context.Context, activator Activator, devices []string, loc *time.Location) Model {
	if loc == nil {
		loc = time.Local
	}
	states := make(map[string]*deviceState, len(devices))
	for _, id := range devices {
		states[id] = &deviceState{series: make(map[dashboard.Window][]dashboard.Point)}
	}
	return Model{
		ctx:       ctx,
		activator: activator,
		devices:   devices,
		states:    states,
		width:     80,
		loc:       loc,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.activate()
}

func (m Model) current() string {
	if len(m.devices) == 0 {
		return ""
	}
	return m.devices[m.selected]
}

// activate starts the selected device in the background.
func (m Model) activate() tea.Cmd {
	return m.switchFrom("")
}

// switchFrom stops prev, when set, then starts the selected device. It must
// not run inside Update: stopping waits for paints delivered through the
// program loop.
func (m Model) switchFrom(prev string) tea.Cmd {
	id := m.current()
	if id == "" {
		return nil
	}
	m.states[id].loading = true
	return func() tea.Msg {
		if prev != "" && prev != id {
			m.activator.Deactivate(prev)
		}
		m.activator.Activate(m.ctx, id)
		return activatedMsg(id)
	}
}

func (m Model) state(id string) *deviceState {
	st, ok := m.states[id]
	if !ok {
		st = &deviceState{series: make(map[dashboard.Window][]dashboard.Point)}
		m.states[id] = st
	}
	return st
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "tab", "right", "l":
			if len(m.devices) > 1 {
				prev := m.current()
				m.selected = (m.selected + 1) % len(m.devices)
				return m, m.switchFrom(prev)
			}
		case "shift+tab", "left", "h":
			if len(m.devices) > 1 {
				prev := m.current()
				m.selected = (m.selected + len(m.devices) - 1) % len(m.devices)
				return m, m.switchFrom(prev)
			}
		case "r":
			return m, m.activate()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case kpiMsg:
		k := dashboard.KPI(msg)
		st := m.state(k.DeviceID)
		st.kpi, st.noData = &k, false

	case noDataMsg:
		st := m.state(string(msg))
		st.kpi, st.noData = nil, true

	case seriesMsg:
		m.state(msg.deviceID).series[msg.window] = msg.points

	case streamMsg:
		st := m.state(msg.deviceID)
		st.stream, st.hasLive = msg.state, true

	case activatedMsg:
		m.state(string(msg)).loading = false
	}
	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F5A623"))
	tabStyle   = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("245"))
	activeTab  = tabStyle.Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#3C6E71"))
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle = lipgloss.NewStyle().Bold(true)
	faintStyle = lipgloss.NewStyle().Faint(true)
	onStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4CAF50"))
	offStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E53935"))
)

// View implements tea.Model.
func (m Model) View() string {
	if len(m.devices) == 0 {
		return "No devices configured.\n"
	}
	id := m.current()
	st := m.state(id)

	var b strings.Builder
	b.WriteString(titleStyle.Render("SunTec") + "  " + m.tabs() + "\n\n")
	b.WriteString(panelStyle.Render(m.kpiPanel(st)) + "\n")

	chartWidth := max(m.width-6, 10)
	for _, w := range dashboard.Windows {
		b.WriteString(labelStyle.Render(chartTitle(w)) + "\n")
		pts := st.series[w]
		if len(pts) == 0 {
			b.WriteString(faintStyle.Render("sin datos") + "\n")
			continue
		}
		b.WriteString(Sparkline(pts, chartWidth) + "\n")
		b.WriteString(faintStyle.Render(m.span(pts)) + "\n")
	}

	b.WriteString("\n" + faintStyle.Render(m.footer(st)))
	return b.String()
}

func (m Model) tabs() string {
	parts := make([]string, len(m.devices))
	for i, id := range m.devices {
		if i == m.selected {
			parts[i] = activeTab.Render(id)
		} else {
			parts[i] = tabStyle.Render(id)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m Model) kpiPanel(st *deviceState) string {
	if st.noData {
		return valueStyle.Render("Sin datos") + "  " + faintStyle.Render("no hay lecturas para este dispositivo")
	}
	if st.kpi == nil {
		return faintStyle.Render("cargando…")
	}
	k := st.kpi

	status := valueStyle.Render(k.Status.Label())
	switch k.Status {
	case dashboard.StatusOn:
		status = onStyle.Render(k.Status.Label())
	case dashboard.StatusOff:
		status = offStyle.Render(k.Status.Label())
	}

	row := func(label, value string) string {
		return labelStyle.Render(label) + " " + valueStyle.Render(value)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		labelStyle.Render("Estado")+" "+status, "   ",
		row("Disponibilidad", k.AvailabilityText()), "   ",
		row("Energía hoy", k.EnergyText()), "   ",
		row("Potencia", k.PowerText()),
	) + "\n" + faintStyle.Render("actualizado "+time.UnixMilli(k.Timestamp).In(m.loc).Format("2006-01-02 15:04:05"))
}

func chartTitle(w dashboard.Window) string {
	if w == dashboard.WindowToday {
		return "Energía hoy (kWh)"
	}
	return "Potencia 24h (W)"
}

func (m Model) span(pts []dashboard.Point) string {
	first := time.UnixMilli(pts[0].TS).In(m.loc).Format("15:04")
	last := time.UnixMilli(pts[len(pts)-1].TS).In(m.loc).Format("15:04")
	lo, hi := bounds(pts)
	return fmt.Sprintf("%s → %s  min %.2f  max %.2f  (%d puntos)", first, last, lo, hi, len(pts))
}

func (m Model) footer(st *deviceState) string {
	live := "sin conexión en vivo"
	if st.hasLive {
		live = "en vivo: " + st.stream.String()
	}
	if st.loading {
		live += " · sincronizando"
	}
	return live + " · tab cambiar dispositivo · r recargar · q salir"
}
