// Writer implementation printing the run summary to STDOUT
package sim

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"tpwsn-sim/internal/telemetry"
)

// StdoutWriter prints only the end-of-run summary, as YAML.
type StdoutWriter struct {
	out io.Writer
}

// NewStdoutWriter creates a StdoutWriter writing to os.Stdout.
func NewStdoutWriter() *StdoutWriter { return &StdoutWriter{out: os.Stdout} }

func (w *StdoutWriter) WriteMoteLog(telemetry.MoteLogRow) error   { return nil }
func (w *StdoutWriter) WriteFault(telemetry.FaultEventRow) error  { return nil }
func (w *StdoutWriter) WriteCoverage(telemetry.CoverageRow) error { return nil }

// WriteSummary outputs the summary.
func (w *StdoutWriter) WriteSummary(row telemetry.SummaryRow) error {
	data, err := yaml.Marshal(row)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w.out, "---\n"+string(data))
	return err
}
