package sim

import (
	"tpwsn-sim/internal/telemetry"
	"tpwsn-sim/internal/topology"
)

// MoteLogWriter receives every line of mote output.
type MoteLogWriter interface {
	WriteMoteLog(telemetry.MoteLogRow) error
}

// FaultWriter receives failure and recovery events.
type FaultWriter interface {
	WriteFault(telemetry.FaultEventRow) error
}

// CoverageWriter receives coverage changes.
type CoverageWriter interface {
	WriteCoverage(telemetry.CoverageRow) error
}

// SummaryWriter receives the end-of-run report.
type SummaryWriter interface {
	WriteSummary(telemetry.SummaryRow) error
}

// Writer is an interface to support different output writers.
type Writer interface {
	MoteLogWriter
	FaultWriter
	CoverageWriter
	SummaryWriter
}

// Optional: writers may support batch mode for mote output
type batchMoteLogWriter interface {
	WriteMoteLogs([]telemetry.MoteLogRow) error
}

// RoleWriter is implemented by writers that display the run's source and sink.
type RoleWriter interface {
	SetRoles(runID string, source, sink topology.NodeID)
}

// Discard is a Writer that drops everything.
var Discard Writer = discard{}

type discard struct{}

func (discard) WriteMoteLog(telemetry.MoteLogRow) error    { return nil }
func (discard) WriteFault(telemetry.FaultEventRow) error   { return nil }
func (discard) WriteCoverage(telemetry.CoverageRow) error  { return nil }
func (discard) WriteSummary(telemetry.SummaryRow) error    { return nil }
func (discard) WriteMoteLogs([]telemetry.MoteLogRow) error { return nil }
