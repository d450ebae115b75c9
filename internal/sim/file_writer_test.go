package sim

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tpwsn-sim/internal/telemetry"
)

func TestFileWriterMoteLogs(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(dir, "run0_")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	rows := []telemetry.MoteLogRow{
		{Node: 1, Tick: 100, Message: "Trickle TX"},
		{Node: 2, Tick: 150, Message: "Theirs is newer"},
		{Node: 1, Tick: 200, Message: "Current token: 1"},
	}
	if err := w.WriteMoteLogs(rows); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(MoteLogPath(dir, "run0_", 1))
	if err != nil {
		t.Fatalf("read mote 1: %v", err)
	}
	want := "100;Trickle TX\n200;Current token: 1\n"
	if string(data) != want {
		t.Fatalf("mote 1 log = %q, want %q", data, want)
	}
	if _, err := os.Stat(filepath.Join(dir, "run0_log_2.txt")); err != nil {
		t.Fatalf("mote 2 log missing: %v", err)
	}
}

func TestFileWriterFaultsAndSummary(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(dir, "")
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	ts := time.Unix(0, 0).UTC()
	faults := []telemetry.FaultEventRow{
		{RunID: "r", Node: 3, Event: telemetry.FaultFailed, Tick: 10, RestartAt: 110, Failed: 1, Timestamp: ts},
		{RunID: "r", Node: 3, Event: telemetry.FaultRecovered, Tick: 110, Timestamp: ts},
	}
	for _, f := range faults {
		if err := w.WriteFault(f); err != nil {
			t.Fatalf("fault: %v", err)
		}
	}
	if err := w.WriteCoverage(telemetry.CoverageRow{RunID: "r", Tick: 5, Covered: 2, Total: 4, Timestamp: ts}); err != nil {
		t.Fatalf("coverage: %v", err)
	}
	summary := telemetry.SummaryRow{
		RunID: "r", Protocol: "trickle", Reason: telemetry.ReasonConverged, Converged: true,
		Incorrect: []int{3}, CorrectCount: 3, CoveragePct: 75, Total: 4, Timestamp: ts,
	}
	if err := w.WriteSummary(summary); err != nil {
		t.Fatalf("summary: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, FaultLogName))
	if err != nil {
		t.Fatalf("open faults: %v", err)
	}
	defer f.Close()
	var got []telemetry.FaultEventRow
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r telemetry.FaultEventRow
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("decode fault: %v", err)
		}
		got = append(got, r)
	}
	if len(got) != 2 || got[0].Event != telemetry.FaultFailed || got[1].Tick != 110 {
		t.Fatalf("unexpected faults: %+v", got)
	}

	read, err := ReadSummary(filepath.Join(dir, SummaryName))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if read.Reason != telemetry.ReasonConverged || read.CoveragePct != 75 || len(read.Incorrect) != 1 {
		t.Fatalf("summary mismatch: %+v", read)
	}
}

func TestReadSummaryMissing(t *testing.T) {
	if _, err := ReadSummary(filepath.Join(t.TempDir(), "nope.json")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
