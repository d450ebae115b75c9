// Rows emitted by an experiment run
package telemetry

import (
	"os"
	"time"
)

// MoteLogRow is one line of mote output as delivered by the simulator.
type MoteLogRow struct {
	RunID     string    `json:"run_id"`  // TAG
	Node      int       `json:"node"`    // TAG
	Tick      int64     `json:"tick"`    // FIELD
	Message   string    `json:"message"` // FIELD
	Timestamp time.Time `json:"ts"`      // TIME INDEX
}

// Fault event types.
const (
	FaultFailed    = "failed"
	FaultRecovered = "recovered"
)

// FaultEventRow records a mote being failed or brought back.
type FaultEventRow struct {
	RunID     string    `json:"run_id"`
	Node      int       `json:"node"`
	Event     string    `json:"event"`
	Tick      int64     `json:"tick"`
	RestartAt int64     `json:"restart_at,omitempty"`
	Failed    int       `json:"failed"` // motes down after this event
	Timestamp time.Time `json:"ts"`
}

// CoverageRow samples cumulative coverage whenever it changes.
type CoverageRow struct {
	RunID     string    `json:"run_id"`
	Tick      int64     `json:"tick"`
	Covered   int       `json:"covered"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"ts"`
}

// Run end reasons.
const (
	ReasonConverged    = "converged"
	ReasonTimeout      = "timeout"
	ReasonStreamEnded  = "stream-ended"
	ReasonCancelled    = "cancelled"
	ReasonAborted      = "aborted"
	ReasonSinkReceived = "sink-received"
)

// SummaryRow is the end-of-run report.
type SummaryRow struct {
	RunID         string         `json:"run_id" yaml:"run_id"`
	Protocol      string         `json:"protocol" yaml:"protocol"`
	FailureMode   string         `json:"failure_mode" yaml:"failure_mode"`
	MaxFailures   int            `json:"max_failures" yaml:"max_failures"`
	RecoveryDelay int64          `json:"recovery_delay" yaml:"recovery_delay"`
	Seed          int64          `json:"seed" yaml:"seed"`
	Run           int            `json:"run" yaml:"run"`
	Source        int            `json:"source" yaml:"source"`
	Sink          int            `json:"sink" yaml:"sink"`
	Reason        string         `json:"reason" yaml:"reason"`
	Converged     bool           `json:"converged" yaml:"converged"`
	EndTick       int64          `json:"end_tick" yaml:"end_tick"`
	ConvergedTick int64          `json:"converged_tick,omitempty" yaml:"converged_tick,omitempty"`
	Messages      int            `json:"messages" yaml:"messages"`
	Announcements int            `json:"announcements" yaml:"announcements"`
	TotalCrashes  int            `json:"total_crashes" yaml:"total_crashes"`
	FailedAtEnd   []int          `json:"failed_at_end" yaml:"failed_at_end"`
	Correct       map[int]bool   `json:"correct" yaml:"correct"`
	Tokens        map[int]string `json:"tokens" yaml:"tokens"`
	CorrectCount  int            `json:"correct_count" yaml:"correct_count"`
	Incorrect     []int          `json:"incorrect" yaml:"incorrect"`
	CoveragePct   float64        `json:"coverage_pct" yaml:"coverage_pct"`
	Covered       int            `json:"covered" yaml:"covered"`
	Total         int            `json:"total" yaml:"total"`
	WallDuration  time.Duration  `json:"wall_duration" yaml:"wall_duration"`
	Timestamp     time.Time      `json:"ts" yaml:"ts"`
}

// Table names used when writing to GreptimeDB. They can be overridden via
// environment variables.
var (
	MoteLogTableName  = envOr("GREPTIMEDB_MOTE_LOG_TABLE", "mote_log")
	FaultTableName    = envOr("GREPTIMEDB_FAULT_TABLE", "fault_events")
	CoverageTableName = envOr("GREPTIMEDB_COVERAGE_TABLE", "coverage")
	SummaryTableName  = envOr("GREPTIMEDB_SUMMARY_TABLE", "run_summary")
)

func envOr(key, def string) string {
	if env := os.Getenv(key); env != "" {
		return env
	}
	return def
}
