package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"tpwsn-sim/internal/logging"
	"tpwsn-sim/internal/telemetry"
)

// greptimeClient is the subset of the ingester client used by the writer.
type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// DefaultMoteLogBatch is how many mote output rows are buffered before a write.
const DefaultMoteLogBatch = 500

// GreptimeDBWriter writes run rows to GreptimeDB via the ingester client. Mote output
// is buffered and flushed in batches and before the summary is written.
type GreptimeDBWriter struct {
	client        greptimeClient
	moteLogTable  string
	faultTable    string
	coverageTable string
	summaryTable  string
	batch         int

	mu      sync.Mutex
	pending []telemetry.MoteLogRow
}

// NewGreptimeDBWriter connects to endpoint ("host" or "host:port") and writes into
// database using the table names from the telemetry package.
func NewGreptimeDBWriter(endpoint, database string) (*GreptimeDBWriter, error) {
	host, port, err := splitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptimedb client: %w", err)
	}
	return &GreptimeDBWriter{
		client:        client,
		moteLogTable:  telemetry.MoteLogTableName,
		faultTable:    telemetry.FaultTableName,
		coverageTable: telemetry.CoverageTableName,
		summaryTable:  telemetry.SummaryTableName,
		batch:         DefaultMoteLogBatch,
	}, nil
}

func splitEndpoint(endpoint string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		// no port given
		return endpoint, 4001, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid GreptimeDB port %q: %w", portStr, err)
	}
	return host, port, nil
}

// tableBuilder collects the first schema or row error.
type tableBuilder struct {
	tbl *table.Table
	err error
}

func newTable(name string) *tableBuilder {
	tbl, err := table.New(name)
	return &tableBuilder{tbl: tbl, err: err}
}

func (b *tableBuilder) tag(name string, t types.ColumnType) *tableBuilder {
	if b.err == nil {
		b.err = b.tbl.AddTagColumn(name, t)
	}
	return b
}

func (b *tableBuilder) field(name string, t types.ColumnType) *tableBuilder {
	if b.err == nil {
		b.err = b.tbl.AddFieldColumn(name, t)
	}
	return b
}

func (b *tableBuilder) ts() *tableBuilder {
	if b.err == nil {
		b.err = b.tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND)
	}
	return b
}

func (b *tableBuilder) row(vals ...any) {
	if b.err == nil {
		b.err = b.tbl.AddRow(vals...)
	}
}

func (w *GreptimeDBWriter) write(b *tableBuilder, n int) error {
	if b.err != nil {
		return b.err
	}
	ctx := context.Background()
	if _, err := w.client.Write(ctx, b.tbl); err != nil {
		logging.FromContext(ctx).Error("greptimedb write failed", "err", err)
		return err
	}
	logging.FromContext(ctx).Debug("greptimedb rows written", "rows", n)
	return nil
}

// WriteMoteLog buffers a mote output row.
func (w *GreptimeDBWriter) WriteMoteLog(row telemetry.MoteLogRow) error {
	return w.WriteMoteLogs([]telemetry.MoteLogRow{row})
}

// WriteMoteLogs buffers mote output rows and flushes full batches.
func (w *GreptimeDBWriter) WriteMoteLogs(rows []telemetry.MoteLogRow) error {
	w.mu.Lock()
	w.pending = append(w.pending, rows...)
	full := len(w.pending) >= w.batch
	w.mu.Unlock()
	if full {
		return w.Flush()
	}
	return nil
}

// Flush writes buffered mote output rows.
func (w *GreptimeDBWriter) Flush() error {
	w.mu.Lock()
	rows := w.pending
	w.pending = nil
	w.mu.Unlock()
	if len(rows) == 0 {
		return nil
	}
	b := newTable(w.moteLogTable).
		tag("run_id", types.STRING).
		tag("node", types.INT64).
		field("tick", types.INT64).
		field("message", types.STRING).
		ts()
	for _, r := range rows {
		b.row(r.RunID, int64(r.Node), r.Tick, r.Message, r.Timestamp)
	}
	return w.write(b, len(rows))
}

// WriteFault inserts a fault event row.
func (w *GreptimeDBWriter) WriteFault(r telemetry.FaultEventRow) error {
	b := newTable(w.faultTable).
		tag("run_id", types.STRING).
		tag("node", types.INT64).
		field("event", types.STRING).
		field("tick", types.INT64).
		field("restart_at", types.INT64).
		field("failed", types.INT64).
		ts()
	b.row(r.RunID, int64(r.Node), r.Event, r.Tick, r.RestartAt, int64(r.Failed), r.Timestamp)
	return w.write(b, 1)
}

// WriteCoverage inserts a coverage row.
func (w *GreptimeDBWriter) WriteCoverage(r telemetry.CoverageRow) error {
	b := newTable(w.coverageTable).
		tag("run_id", types.STRING).
		field("tick", types.INT64).
		field("covered", types.INT64).
		field("total", types.INT64).
		ts()
	b.row(r.RunID, r.Tick, int64(r.Covered), int64(r.Total), r.Timestamp)
	return w.write(b, 1)
}

// WriteSummary flushes pending mote output and inserts the summary row. Node lists
// are stored in JSON columns.
func (w *GreptimeDBWriter) WriteSummary(r telemetry.SummaryRow) error {
	if err := w.Flush(); err != nil {
		return err
	}
	incorrect, err := json.Marshal(r.Incorrect)
	if err != nil {
		return err
	}
	failed, err := json.Marshal(r.FailedAtEnd)
	if err != nil {
		return err
	}
	b := newTable(w.summaryTable).
		tag("run_id", types.STRING).
		tag("protocol", types.STRING).
		tag("failure_mode", types.STRING).
		field("max_failures", types.INT64).
		field("recovery_delay", types.INT64).
		field("seed", types.INT64).
		field("run", types.INT64).
		field("source", types.INT64).
		field("sink", types.INT64).
		field("reason", types.STRING).
		field("converged", types.BOOLEAN).
		field("end_tick", types.INT64).
		field("converged_tick", types.INT64).
		field("messages", types.INT64).
		field("announcements", types.INT64).
		field("total_crashes", types.INT64).
		field("correct_count", types.INT64).
		field("coverage_pct", types.FLOAT64).
		field("incorrect", types.JSON).
		field("failed_at_end", types.JSON).
		field("wall_ms", types.INT64).
		ts()
	b.row(r.RunID, r.Protocol, r.FailureMode,
		int64(r.MaxFailures), r.RecoveryDelay, r.Seed, int64(r.Run), int64(r.Source), int64(r.Sink),
		r.Reason, r.Converged, r.EndTick, r.ConvergedTick,
		int64(r.Messages), int64(r.Announcements), int64(r.TotalCrashes), int64(r.CorrectCount),
		r.CoveragePct, string(incorrect), string(failed), r.WallDuration.Milliseconds(), r.Timestamp)
	return w.write(b, 1)
}

// Close flushes pending rows.
func (w *GreptimeDBWriter) Close() error {
	return w.Flush()
}
