// ColorStdoutWriter prints human-friendly, colorized run events to STDOUT.
package sim

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"text/tabwriter"

	"tpwsn-sim/internal/config"
	"tpwsn-sim/internal/telemetry"
	"tpwsn-sim/internal/topology"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorGray    = "\x1b[90m"
)

var motePalette = []string{colorRed, colorGreen, colorYellow, colorBlue, colorMagenta, colorCyan}

// ColorStdoutWriter prints faults, coverage changes and the summary using ANSI
// colors. Mote output is printed only when MoteLogs is set.
type ColorStdoutWriter struct {
	cfg      *config.ExperimentConfig
	out      io.Writer
	once     sync.Once
	mu       sync.Mutex
	MoteLogs bool
	source   topology.NodeID
	sink     topology.NodeID
}

// NewColorStdoutWriter creates a ColorStdoutWriter writing to os.Stdout.
func NewColorStdoutWriter(cfg *config.ExperimentConfig) *ColorStdoutWriter {
	return &ColorStdoutWriter{cfg: cfg, out: os.Stdout}
}

func moteColor(node int) string {
	return motePalette[node%len(motePalette)]
}

func (w *ColorStdoutWriter) printOverview() {
	if w.cfg == nil {
		return
	}
	fmt.Fprintln(w.out, "Experiment Configuration:")
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Protocol:\t%s\n", w.cfg.Protocol)
	fmt.Fprintf(tw, "Failure Mode:\t%s\n", w.cfg.FailureMode)
	fmt.Fprintf(tw, "Max Failures:\t%d\n", w.cfg.MaxFailures)
	fmt.Fprintf(tw, "Recovery Delay:\t%d\n", w.cfg.RecoveryDelay)
	fmt.Fprintf(tw, "Failure Probability:\t1/%d\n", w.cfg.FailureProbability)
	fmt.Fprintf(tw, "Stop Tick:\t%d\n", w.cfg.StopTick)
	fmt.Fprintf(tw, "Seed:\t%d\n", w.cfg.Seed)
	fmt.Fprintf(tw, "Motes:\t%d\n", w.cfg.NodeCount())
	if w.source != 0 {
		fmt.Fprintf(tw, "Source / Sink:\t%d / %d\n", w.source, w.sink)
	}
	tw.Flush()
	fmt.Fprintln(w.out)
}

// SetRoles records the run's source and sink for the overview.
func (w *ColorStdoutWriter) SetRoles(_ string, source, sink topology.NodeID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.source, w.sink = source, sink
}

// WriteMoteLog prints a mote output line.
func (w *ColorStdoutWriter) WriteMoteLog(row telemetry.MoteLogRow) error {
	if !w.MoteLogs {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.once.Do(w.printOverview)
	fmt.Fprintf(w.out, "%s[%d]%s %smote=%d%s %s\n",
		colorGray, row.Tick, colorReset, moteColor(row.Node), row.Node, colorReset, row.Message)
	return nil
}

// WriteFault prints a failure or recovery.
func (w *ColorStdoutWriter) WriteFault(row telemetry.FaultEventRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.once.Do(w.printOverview)
	col := colorGreen
	label := "RECOVER"
	if row.Event == telemetry.FaultFailed {
		col = colorRed
		label = "FAIL"
	}
	fmt.Fprintf(w.out, "%s[%d]%s %s%s%s mote=%d failed=%d",
		colorGray, row.Tick, colorReset, col, label, colorReset, row.Node, row.Failed)
	if row.RestartAt > 0 {
		fmt.Fprintf(w.out, " %srestart_at=%d%s", colorGray, row.RestartAt, colorReset)
	}
	fmt.Fprintln(w.out)
	return nil
}

// WriteCoverage prints a coverage change.
func (w *ColorStdoutWriter) WriteCoverage(row telemetry.CoverageRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.once.Do(w.printOverview)
	fmt.Fprintf(w.out, "%s[%d]%s %sCOVERAGE%s %d/%d\n",
		colorGray, row.Tick, colorReset, colorCyan, colorReset, row.Covered, row.Total)
	return nil
}

// WriteSummary prints the end-of-run report.
func (w *ColorStdoutWriter) WriteSummary(row telemetry.SummaryRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.once.Do(w.printOverview)
	reasonColor := colorGreen
	if !row.Converged {
		reasonColor = colorYellow
	}
	if row.Reason == telemetry.ReasonAborted {
		reasonColor = colorRed
	}
	fmt.Fprintf(w.out, "\n%sRun %s finished: %s%s\n", reasonColor, row.RunID, row.Reason, colorReset)
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "End Tick:\t%d\n", row.EndTick)
	if row.ConvergedTick > 0 {
		fmt.Fprintf(tw, "Converged Tick:\t%d\n", row.ConvergedTick)
	}
	fmt.Fprintf(tw, "Messages Sent:\t%d\n", row.Messages)
	if row.Announcements > 0 {
		fmt.Fprintf(tw, "Announcements:\t%d\n", row.Announcements)
	}
	fmt.Fprintf(tw, "Total Crashes:\t%d\n", row.TotalCrashes)
	fmt.Fprintf(tw, "Motes Currently Failed:\t%v\n", row.FailedAtEnd)
	fmt.Fprintf(tw, "Motes Reporting Correctly:\t%d\n", row.CorrectCount)
	incorrect := append([]int(nil), row.Incorrect...)
	sort.Ints(incorrect)
	fmt.Fprintf(tw, "Motes Reporting Incorrectly:\t%v\n", incorrect)
	fmt.Fprintf(tw, "Coverage:\t%.2f%%\n", row.CoveragePct)
	return tw.Flush()
}
