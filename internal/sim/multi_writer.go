package sim

import (
	"tpwsn-sim/internal/telemetry"
	"tpwsn-sim/internal/topology"
)

// MultiWriter fan-outs every row to multiple writers.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a new MultiWriter. Nil writers are skipped.
func NewMultiWriter(ws ...Writer) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range ws {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

// WriteMoteLog sends a mote output row to all writers.
func (mw *MultiWriter) WriteMoteLog(row telemetry.MoteLogRow) error {
	for _, w := range mw.writers {
		if err := w.WriteMoteLog(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteMoteLogs sends multiple mote output rows to all writers, using batch if supported.
func (mw *MultiWriter) WriteMoteLogs(rows []telemetry.MoteLogRow) error {
	for _, w := range mw.writers {
		if bw, ok := w.(batchMoteLogWriter); ok {
			if err := bw.WriteMoteLogs(rows); err != nil {
				return err
			}
			continue
		}
		for _, r := range rows {
			if err := w.WriteMoteLog(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteFault sends a fault row to all writers.
func (mw *MultiWriter) WriteFault(row telemetry.FaultEventRow) error {
	for _, w := range mw.writers {
		if err := w.WriteFault(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteCoverage sends a coverage row to all writers.
func (mw *MultiWriter) WriteCoverage(row telemetry.CoverageRow) error {
	for _, w := range mw.writers {
		if err := w.WriteCoverage(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteSummary sends the summary to all writers. Every writer is tried; the first
// error is returned.
func (mw *MultiWriter) WriteSummary(row telemetry.SummaryRow) error {
	var first error
	for _, w := range mw.writers {
		if err := w.WriteSummary(row); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SetRoles forwards roles to writers that display them.
func (mw *MultiWriter) SetRoles(runID string, source, sink topology.NodeID) {
	for _, w := range mw.writers {
		if rw, ok := w.(RoleWriter); ok {
			rw.SetRoles(runID, source, sink)
		}
	}
}

// SetAdminStatus forwards admin server status to writers that show it.
func (mw *MultiWriter) SetAdminStatus(listening bool) {
	for _, w := range mw.writers {
		if aw, ok := w.(AdminStatusWriter); ok {
			aw.SetAdminStatus(listening)
		}
	}
}

// Close closes every writer that holds resources.
func (mw *MultiWriter) Close() error {
	var first error
	for _, w := range mw.writers {
		if c, ok := w.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
