package host

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"tpwsn-sim/internal/logging"
	"tpwsn-sim/internal/protocol"
	"tpwsn-sim/internal/topology"
)

// TraceHost replays recorded mote output. Commands cannot reach the recorded motes;
// they are kept so callers can inspect what a run would have sent.
type TraceHost struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int

	mu     sync.Mutex
	sent   []protocol.Command
	reason string
}

// NewTraceHost replays events read from r.
func NewTraceHost(r io.Reader) *TraceHost {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	h := &TraceHost{scanner: sc}
	if c, ok := r.(io.Closer); ok {
		h.closer = c
	}
	return h
}

// OpenTrace opens a trace file for replay.
func OpenTrace(path string) (*TraceHost, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	return NewTraceHost(f), nil
}

// Next returns the next recorded event. Blank lines and lines starting with '#' are skipped.
func (h *TraceHost) Next(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		if !h.scanner.Scan() {
			if err := h.scanner.Err(); err != nil {
				return Event{}, fmt.Errorf("read trace: %w", err)
			}
			return Event{}, io.EOF
		}
		h.line++
		text := strings.TrimRight(h.scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		ev, err := ParseTraceLine(text)
		if err != nil {
			return Event{}, fmt.Errorf("trace line %d: %w", h.line, err)
		}
		return ev, nil
	}
}

// Send records the command.
func (h *TraceHost) Send(node topology.NodeID, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, protocol.Command{Node: node, Text: text})
	return nil
}

// Sent returns every command sent so far.
func (h *TraceHost) Sent() []protocol.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]protocol.Command, len(h.sent))
	copy(out, h.sent)
	return out
}

// Terminate closes the trace.
func (h *TraceHost) Terminate(ctx context.Context, reason string) error {
	h.mu.Lock()
	h.reason = reason
	n := len(h.sent)
	h.mu.Unlock()
	logging.FromContext(ctx).Debug("trace replay finished", "reason", reason, "commands", n)
	if h.closer != nil {
		return h.closer.Close()
	}
	return nil
}

// Reason returns the reason passed to Terminate.
func (h *TraceHost) Reason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}
