// Package tui implements the live `monitor` dashboard: a bubbletea program
// that polls the buffer's stats/anomaly surface on an interval and renders
// per-route depth, a sparkline of pending+processing depth, and active
// anomalies. Completed/failed rates are not computed or shown.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/76creates/stickers/flexbox"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/flyingrobots/protocol-bridge/internal/buffer"
	"github.com/flyingrobots/protocol-bridge/internal/message"
	"github.com/flyingrobots/protocol-bridge/internal/operator"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).Padding(0, 1)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	critStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

type tickMsg time.Time

type statsMsg struct {
	stats     message.Stats
	anomalies []operator.Anomaly
	err       error
}

// Model is the bubbletea model for the monitor dashboard.
type Model struct {
	buf      *buffer.Buffer
	detector *operator.Detector
	interval time.Duration
	spinner  spinner.Model

	stats     message.Stats
	anomalies []operator.Anomaly
	history   []float64
	err       error
	width     int
	height    int
}

func NewModel(buf *buffer.Buffer, detector *operator.Detector, interval time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{buf: buf, detector: detector, interval: interval, spinner: sp, width: 100, height: 30}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.poll(), tick(m.interval), m.spinner.Tick)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		stats, err := m.buf.Stats(ctx)
		if err != nil {
			return statsMsg{err: err}
		}
		var anomalies []operator.Anomaly
		if m.detector != nil {
			anomalies, _ = m.detector.Scan(ctx)
		}
		return statsMsg{stats: stats, anomalies: anomalies}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	case tickMsg:
		return m, tea.Batch(m.poll(), tick(m.interval))
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case statsMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.stats = msg.stats
		m.anomalies = msg.anomalies
		total := msg.stats.ByStatus[message.StatusPending] + msg.stats.ByStatus[message.StatusProcessing]
		m.history = append(m.history, float64(total))
		if len(m.history) > 120 {
			m.history = m.history[len(m.history)-120:]
		}
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("bridge monitor")+" "+m.spinner.View() + "\n\n")

	if m.err != nil {
		b.WriteString(critStyle.Render(fmt.Sprintf("error refreshing stats: %v", m.err)) + "\n")
		return b.String()
	}

	b.WriteString(m.renderLayout() + "\n")
	b.WriteString("\npress q to quit\n")
	return b.String()
}

func (m Model) routeTableContent() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-30s %8s\n", "route", "in-flight"))
	for route, n := range m.stats.ByRoute {
		b.WriteString(fmt.Sprintf("%-30s %8d\n", route, n))
	}
	b.WriteString(fmt.Sprintf("\ndead letters: %d   utilization: %.1f%%", m.stats.DeadLetterCount, m.stats.UtilizationPct))
	return b.String()
}

func (m Model) anomalyContent() string {
	if len(m.anomalies) == 0 {
		return "no active anomalies"
	}
	var b strings.Builder
	for _, a := range m.anomalies {
		style := warnStyle
		if a.Severity == operator.SeverityCritical {
			style = critStyle
		}
		b.WriteString(style.Render(fmt.Sprintf("[%s] %s: %s", a.Severity, a.Kind, a.Message)) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) sparklineContent() string {
	if len(m.history) < 2 {
		return "collecting samples..."
	}
	return asciigraph.Plot(m.history, asciigraph.Height(6), asciigraph.Caption("pending+processing depth"))
}

// renderLayout arranges routes and anomalies side by side in a top row and
// the sparkline in a bottom row, sized to the program's last reported
// terminal dimensions.
func (m Model) renderLayout() string {
	width, height := m.width, m.height
	if width <= 0 {
		width = 100
	}
	if height <= 0 {
		height = 30
	}

	fb := flexbox.New(width, height)
	routes := flexbox.NewCell(1, 1).SetStyle(boxStyle).SetContent(m.routeTableContent())
	anomalies := flexbox.NewCell(1, 1).SetStyle(boxStyle).SetContent(titleStyle.Render("anomalies") + "\n" + m.anomalyContent())
	top := fb.NewRow().AddCells(routes, anomalies)

	spark := flexbox.NewCell(1, 1).SetStyle(boxStyle).SetContent(m.sparklineContent())
	bottom := fb.NewRow().AddCells(spark)

	fb.SetRows([]*flexbox.Row{top, bottom})
	return fb.Render()
}

// Run starts the bubbletea program and blocks until the user quits.
func Run(buf *buffer.Buffer, detector *operator.Detector, interval time.Duration) error {
	p := tea.NewProgram(NewModel(buf, detector, interval))
	_, err := p.Run()
	return err
}
