package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"tpwsn-sim/internal/telemetry"
)

// JSONStdoutWriter prints rows as JSON lines to STDOUT. Mote output is skipped
// unless MoteLogs is set.
type JSONStdoutWriter struct {
	out      io.Writer
	MoteLogs bool
	mu       sync.Mutex
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

type jsonEnvelope struct {
	Kind string `json:"kind"`
	Row  any    `json:"row"`
}

func (w *JSONStdoutWriter) emit(kind string, row any) error {
	data, err := json.Marshal(jsonEnvelope{Kind: kind, Row: row})
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// WriteMoteLog outputs a mote output row in JSON format.
func (w *JSONStdoutWriter) WriteMoteLog(row telemetry.MoteLogRow) error {
	if !w.MoteLogs {
		return nil
	}
	return w.emit("mote_log", row)
}

// WriteFault outputs a fault row in JSON format.
func (w *JSONStdoutWriter) WriteFault(row telemetry.FaultEventRow) error {
	return w.emit("fault", row)
}

// WriteCoverage outputs a coverage row in JSON format.
func (w *JSONStdoutWriter) WriteCoverage(row telemetry.CoverageRow) error {
	return w.emit("coverage", row)
}

// WriteSummary outputs the summary in JSON format.
func (w *JSONStdoutWriter) WriteSummary(row telemetry.SummaryRow) error {
	return w.emit("summary", row)
}
