package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"tpwsn-sim/internal/host"
	"tpwsn-sim/internal/telemetry"
	"tpwsn-sim/internal/topology"
)

// MoteLogSource replays recorded mote output rows as a host.Source. It reads
// JSON lines holding either a bare MoteLogRow or the envelope emitted by
// JSONStdoutWriter; other envelope kinds are skipped.
//
// With Speed > 0 playback is paced by the tick difference between rows, Speed
// times faster than real time. TicksPerSecond converts ticks to wall time.
type MoteLogSource struct {
	dec            *json.Decoder
	closer         io.Closer
	Speed          float64
	TicksPerSecond int64
	prev           int64
	started        bool
}

// NewMoteLogSource reads rows from r.
func NewMoteLogSource(r io.Reader) *MoteLogSource {
	s := &MoteLogSource{dec: json.NewDecoder(r), TicksPerSecond: 1_000_000}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// OpenMoteLog opens a recorded JSONL file.
func OpenMoteLog(path string) (*MoteLogSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewMoteLogSource(f), nil
}

type playbackLine struct {
	Kind string          `json:"kind"`
	Row  json.RawMessage `json:"row"`
	telemetry.MoteLogRow
}

// Next implements host.Source.
func (s *MoteLogSource) Next(ctx context.Context) (host.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return host.Event{}, err
		}
		var line playbackLine
		if err := s.dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				return host.Event{}, io.EOF
			}
			return host.Event{}, fmt.Errorf("%w: %v", host.ErrMalformed, err)
		}
		row := line.MoteLogRow
		if line.Kind != "" {
			if line.Kind != "mote_log" {
				continue
			}
			row = telemetry.MoteLogRow{}
			if err := json.Unmarshal(line.Row, &row); err != nil {
				return host.Event{}, fmt.Errorf("%w: %v", host.ErrMalformed, err)
			}
		}
		if err := s.pace(ctx, row.Tick); err != nil {
			return host.Event{}, err
		}
		return host.Event{Node: topology.NodeID(row.Node), Time: row.Tick, Msg: row.Message}, nil
	}
}

func (s *MoteLogSource) pace(ctx context.Context, tick int64) error {
	defer func() { s.prev, s.started = tick, true }()
	if !s.started || s.Speed <= 0 || s.TicksPerSecond <= 0 || tick <= s.prev {
		return nil
	}
	d := time.Duration(float64(tick-s.prev) / float64(s.TicksPerSecond) * float64(time.Second) / s.Speed)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Close closes the underlying reader when it is closable. Later calls do nothing.
func (s *MoteLogSource) Close() error {
	if s.closer == nil {
		return nil
	}
	c := s.closer
	s.closer = nil
	return c.Close()
}

// Terminate closes the recording when the run ends. It implements host.Terminator.
func (s *MoteLogSource) Terminate(context.Context, string) error { return s.Close() }
