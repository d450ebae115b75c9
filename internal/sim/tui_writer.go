package sim

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"tpwsn-sim/internal/config"
	"tpwsn-sim/internal/telemetry"
	"tpwsn-sim/internal/topology"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// logMsg carries a mote output line for the viewport.
type logMsg struct{ line string }

// faultMsg carries a failure or recovery line.
type faultMsg struct {
	line string
	row  telemetry.FaultEventRow
}

type coverageMsg struct{ telemetry.CoverageRow }

type summaryMsg struct{ telemetry.SummaryRow }

type rolesMsg struct {
	runID        string
	source, sink topology.NodeID
}

// adminMsg reports admin server status.
type adminMsg struct{ active bool }

const (
	maxLogLines         = 1000
	maxSectionHeightPct = 0.25
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	summaryStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// TUIWriter renders a live run using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter.
func NewTUIWriter(cfg *config.ExperimentConfig) *TUIWriter {
	w := &TUIWriter{done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(cfg), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// WriteMoteLog implements MoteLogWriter.
func (w *TUIWriter) WriteMoteLog(row telemetry.MoteLogRow) error {
	line := fmt.Sprintf("%s[%d]%s %smote=%d%s %s",
		colorGray, row.Tick, colorReset, moteColor(row.Node), row.Node, colorReset, row.Message)
	w.program.Send(logMsg{line: line})
	return nil
}

// WriteMoteLogs outputs multiple mote output rows.
func (w *TUIWriter) WriteMoteLogs(rows []telemetry.MoteLogRow) error {
	for _, r := range rows {
		_ = w.WriteMoteLog(r)
	}
	return nil
}

// WriteFault implements FaultWriter.
func (w *TUIWriter) WriteFault(row telemetry.FaultEventRow) error {
	col, label := colorGreen, "RECOVER"
	if row.Event == telemetry.FaultFailed {
		col, label = colorRed, "FAIL"
	}
	line := fmt.Sprintf("%s[%d]%s %s%s%s mote=%d failed=%d",
		colorGray, row.Tick, colorReset, col, label, colorReset, row.Node, row.Failed)
	w.program.Send(faultMsg{line: line, row: row})
	return nil
}

// WriteCoverage implements CoverageWriter.
func (w *TUIWriter) WriteCoverage(row telemetry.CoverageRow) error {
	w.program.Send(coverageMsg{row})
	return nil
}

// WriteSummary implements SummaryWriter.
func (w *TUIWriter) WriteSummary(row telemetry.SummaryRow) error {
	w.program.Send(summaryMsg{row})
	return nil
}

// SetRoles implements RoleWriter.
func (w *TUIWriter) SetRoles(runID string, source, sink topology.NodeID) {
	w.program.Send(rolesMsg{runID: runID, source: source, sink: sink})
}

// SetAdminStatus updates the admin server indicator.
func (w *TUIWriter) SetAdminStatus(active bool) {
	w.program.Send(adminMsg{active: active})
}

// Close shuts down the TUI program and waits for cleanup.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type tuiModel struct {
	cfg          *config.ExperimentConfig
	table        table.Model
	vp           viewport.Model
	faultVP      viewport.Model
	logs         []string
	faultLogs    []string
	runID        string
	source, sink topology.NodeID
	tick         int64
	covered      int
	total        int
	failed       int
	crashes      int
	summary      *telemetry.SummaryRow
	admin        bool
	wrap         bool
	autoscroll   bool
	showFaults   bool
	help         bool
	header       string
	headerHeight int
	height       int
}

func newTUIModel(cfg *config.ExperimentConfig) tuiModel {
	cols := []table.Column{
		{Title: "Config", Width: 20},
		{Title: "Value", Width: 12},
		{Title: "Config", Width: 20},
		{Title: "Value", Width: 12},
	}
	var rows []table.Row
	total := 0
	if cfg != nil {
		rows = []table.Row{
			{"Protocol", cfg.Protocol, "Failure Mode", cfg.FailureMode.String()},
			{"Max Failures", fmt.Sprintf("%d", cfg.MaxFailures), "Recovery Delay", fmt.Sprintf("%d", cfg.RecoveryDelay)},
			{"Failure Prob.", fmt.Sprintf("1/%d", cfg.FailureProbability), "Stop Tick", fmt.Sprintf("%d", cfg.StopTick)},
			{"Seed", fmt.Sprintf("%d", cfg.Seed), "Motes", fmt.Sprintf("%d", cfg.NodeCount())},
		}
		total = cfg.NodeCount()
	}
	t := table.New(table.WithColumns(cols), table.WithRows(rows), table.WithHeight(len(rows)+1))
	return tuiModel{
		cfg:        cfg,
		table:      t,
		vp:         viewport.New(0, 0),
		faultVP:    viewport.New(0, 0),
		total:      total,
		autoscroll: true,
		showFaults: true,
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.faultVP.Width = msg.Width
		m.height = msg.Height
		m.header = m.renderHeader()
		m.headerHeight = lipgloss.Height(m.header)
		m.updateViewportHeight()
		m.refreshViewport()
		m.refreshFaults()
	case tea.KeyMsg:
		if m.help {
			switch msg.String() {
			case "?", "h", "esc":
				m.help = false
			}
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
			m.refreshFaults()
			return m, nil
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
				m.faultVP.GotoBottom()
			}
			return m, nil
		case "f":
			m.showFaults = !m.showFaults
			m.updateViewportHeight()
			return m, nil
		case "?", "h":
			m.help = true
			return m, nil
		}
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	case logMsg:
		m.logs = appendBounded(m.logs, msg.line)
		m.refreshViewport()
	case faultMsg:
		m.faultLogs = appendBounded(m.faultLogs, msg.line)
		m.failed = msg.row.Failed
		if msg.row.Event == telemetry.FaultFailed {
			m.crashes++
		}
		m.tick = msg.row.Tick
		m.updateViewportHeight()
		m.refreshFaults()
	case coverageMsg:
		m.covered = msg.Covered
		m.total = msg.Total
		m.tick = msg.Tick
	case summaryMsg:
		s := msg.SummaryRow
		m.summary = &s
		m.tick = s.EndTick
		m.updateViewportHeight()
	case rolesMsg:
		m.runID, m.source, m.sink = msg.runID, msg.source, msg.sink
		m.header = m.renderHeader()
		m.headerHeight = lipgloss.Height(m.header)
		m.updateViewportHeight()
	case adminMsg:
		m.admin = msg.active
	}
	return m, nil
}

func appendBounded(lines []string, line string) []string {
	lines = append(lines, line)
	if len(lines) > maxLogLines {
		lines = lines[len(lines)-maxLogLines:]
	}
	return lines
}

func (m tuiModel) maxSectionLines() int {
	n := int(float64(m.height) * maxSectionHeightPct)
	if n < 1 {
		n = 1
	}
	return n
}

func (m *tuiModel) updateViewportHeight() {
	bottomHeight := lipgloss.Height(m.renderBottom())
	faultHeight := 0
	if m.showFaults {
		lines := len(m.faultLogs)
		if lines == 0 {
			lines = 1
		}
		if limit := m.maxSectionLines(); lines > limit {
			lines = limit
		}
		m.faultVP.Height = lines
		faultHeight = 2 + lines
	}
	summaryHeight := 0
	if m.summary != nil {
		summaryHeight = lipgloss.Height(m.renderSummary()) + 1
	}
	h := m.height - m.headerHeight - bottomHeight - faultHeight - summaryHeight - 3
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
	if m.autoscroll {
		m.vp.GotoBottom()
		m.faultVP.GotoBottom()
	}
}

func (m *tuiModel) wrapLines(lines []string, width int) string {
	if !m.wrap || width <= 0 {
		return strings.Join(lines, "\n")
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = wordwrap.String(l, width)
	}
	return strings.Join(out, "\n")
}

func (m *tuiModel) refreshViewport() {
	m.vp.SetContent(m.wrapLines(m.logs, m.vp.Width))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshFaults() {
	m.faultVP.SetContent(m.wrapLines(m.faultLogs, m.faultVP.Width))
	if m.autoscroll {
		m.faultVP.GotoBottom()
	}
}

func (m tuiModel) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := strings.Repeat("─", m.vp.Width)
	sections := []string{m.header, divider, m.vp.View()}
	if m.showFaults {
		sections = append(sections, divider, "Faults:", m.faultVP.View())
	}
	if m.summary != nil {
		sections = append(sections, divider, m.renderSummary())
	}
	sections = append(sections, divider, m.renderBottom())
	return strings.Join(sections, "\n")
}

func (m tuiModel) renderHeader() string {
	title := titleStyle.Render("tpwsn-sim")
	if m.runID != "" {
		title += mutedStyle.Render(fmt.Sprintf("  run %s  source=%d sink=%d", m.runID, m.source, m.sink))
	}
	return title + "\n" + m.table.View()
}

func (m tuiModel) renderBottom() string {
	cov := 0.0
	if m.total > 0 {
		cov = float64(m.covered) / float64(m.total) * 100
	}
	status := fmt.Sprintf("tick=%d  covered=%d/%d (%.0f%%)  failed=%d  crashes=%d",
		m.tick, m.covered, m.total, cov, m.failed, m.crashes)
	admin := mutedStyle.Render("admin: off")
	if m.admin {
		admin = okStyle.Render("admin: on")
	}
	keys := mutedStyle.Render("q quit · w wrap · s autoscroll · f faults · ? help")
	return status + "  " + admin + "\n" + keys
}

func (m tuiModel) renderSummary() string {
	s := m.summary
	style := okStyle
	switch {
	case s.Reason == telemetry.ReasonAborted:
		style = errStyle
	case !s.Converged:
		style = warnStyle
	}
	var b strings.Builder
	b.WriteString(style.Render("Finished: "+s.Reason) + "\n")
	fmt.Fprintf(&b, "end tick %d  messages %d  crashes %d\n", s.EndTick, s.Messages, s.TotalCrashes)
	fmt.Fprintf(&b, "correct %d/%d  coverage %.2f%%  incorrect %v", s.CorrectCount, s.Total, s.CoveragePct, s.Incorrect)
	return summaryStyle.Render(b.String())
}

func (m tuiModel) renderHelp() string {
	lines := []string{
		titleStyle.Render("Keys"),
		"q, ctrl+c  quit",
		"w          toggle line wrapping",
		"s          toggle autoscroll",
		"f          show or hide the fault pane",
		"↑/↓        scroll mote output",
		"?, h, esc  close help",
	}
	return strings.Join(lines, "\n")
}
