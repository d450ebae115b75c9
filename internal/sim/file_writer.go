package sim

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"tpwsn-sim/internal/telemetry"
)

// File names written by FileWriter below its directory.
const (
	FaultLogName    = "faults.jsonl"
	CoverageLogName = "coverage.jsonl"
	SummaryName     = "summary.json"
)

// MoteLogPath returns the per-mote text log path for node.
func MoteLogPath(dir, prefix string, node int) string {
	return filepath.Join(dir, fmt.Sprintf("%slog_%d.txt", prefix, node))
}

// FileWriter writes one "tick;message" text file per mote plus JSONL files for
// fault and coverage rows and a JSON summary.
type FileWriter struct {
	dir    string
	prefix string

	mu       sync.Mutex
	motes    map[int]*moteFile
	faultF   *os.File
	faultEnc *json.Encoder
	covF     *os.File
	covEnc   *json.Encoder
}

type moteFile struct {
	f *os.File
	w *bufio.Writer
}

// NewFileWriter creates dir if needed. Every file name starts with prefix.
func NewFileWriter(dir, prefix string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	ff, err := os.Create(filepath.Join(dir, prefix+FaultLogName))
	if err != nil {
		return nil, err
	}
	cf, err := os.Create(filepath.Join(dir, prefix+CoverageLogName))
	if err != nil {
		ff.Close()
		return nil, err
	}
	return &FileWriter{
		dir:      dir,
		prefix:   prefix,
		motes:    make(map[int]*moteFile),
		faultF:   ff,
		faultEnc: json.NewEncoder(ff),
		covF:     cf,
		covEnc:   json.NewEncoder(cf),
	}, nil
}

// WriteMoteLog appends a line to the mote's text log.
func (f *FileWriter) WriteMoteLog(row telemetry.MoteLogRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	mf, ok := f.motes[row.Node]
	if !ok {
		file, err := os.Create(MoteLogPath(f.dir, f.prefix, row.Node))
		if err != nil {
			return err
		}
		mf = &moteFile{f: file, w: bufio.NewWriter(file)}
		f.motes[row.Node] = mf
	}
	_, err := fmt.Fprintf(mf.w, "%d;%s\n", row.Tick, row.Message)
	return err
}

// WriteMoteLogs appends multiple lines.
func (f *FileWriter) WriteMoteLogs(rows []telemetry.MoteLogRow) error {
	for _, r := range rows {
		if err := f.WriteMoteLog(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteFault logs a fault event row.
func (f *FileWriter) WriteFault(row telemetry.FaultEventRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.faultEnc.Encode(row)
}

// WriteCoverage logs a coverage row.
func (f *FileWriter) WriteCoverage(row telemetry.CoverageRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.covEnc.Encode(row)
}

// WriteSummary writes the summary file.
func (f *FileWriter) WriteSummary(row telemetry.SummaryRow) error {
	data, err := json.MarshalIndent(row, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(f.dir, f.prefix+SummaryName), append(data, '\n'), 0o644)
}

// Close flushes and closes all files.
func (f *FileWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	keep := func(e error) {
		if e != nil && err == nil {
			err = e
		}
	}
	for _, mf := range f.motes {
		keep(mf.w.Flush())
		keep(mf.f.Close())
	}
	f.motes = map[int]*moteFile{}
	if f.faultF != nil {
		keep(f.faultF.Close())
		f.faultF = nil
	}
	if f.covF != nil {
		keep(f.covF.Close())
		f.covF = nil
	}
	return err
}

// ReadSummary loads a summary written by FileWriter.
func ReadSummary(path string) (telemetry.SummaryRow, error) {
	var row telemetry.SummaryRow
	data, err := os.ReadFile(path)
	if err != nil {
		return row, err
	}
	if err := json.Unmarshal(data, &row); err != nil {
		return row, fmt.Errorf("decode summary %s: %w", path, err)
	}
	return row, nil
}
