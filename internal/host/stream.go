package host

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"tpwsn-sim/internal/topology"
)

// StreamHost speaks a line protocol with a simulator bridge:
//
//	in:  EVT <time> <node> <message>
//	out: CMD <node> <text>
//	out: END <reason>
//
// Inbound lines with other verbs are ignored.
type StreamHost struct {
	r io.Reader

	once    sync.Once
	events  chan Event
	errs    chan error
	done    chan struct{}
	stop    sync.Once
	stopped chan struct{}

	mu sync.Mutex
	w  *bufio.Writer
}

// NewStreamHost reads events from r and writes commands to w.
func NewStreamHost(r io.Reader, w io.Writer) *StreamHost {
	return &StreamHost{
		r:       r,
		w:       bufio.NewWriter(w),
		events:  make(chan Event),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// start launches the reader. Once the host is terminated, or after a terminal error,
// the reader keeps consuming r until it ends so the bridge never blocks on a full pipe.
func (h *StreamHost) start() {
	go func() {
		defer close(h.stopped)
		defer func() { _, _ = io.Copy(io.Discard, h.r) }()
		sc := bufio.NewScanner(h.r)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			ev, ok, err := parseStreamLine(sc.Text())
			if err != nil {
				h.fail(err)
				return
			}
			if !ok {
				continue
			}
			select {
			case h.events <- ev:
			case <-h.done:
				return
			}
		}
		if err := sc.Err(); err != nil {
			h.fail(fmt.Errorf("read stream: %w", err))
			return
		}
		h.fail(io.EOF)
	}()
}

func (h *StreamHost) fail(err error) {
	select {
	case h.errs <- err:
	case <-h.done:
	}
}

// Next blocks until the bridge delivers an event, the stream ends or ctx is done.
func (h *StreamHost) Next(ctx context.Context) (Event, error) {
	h.once.Do(h.start)
	select {
	case ev := <-h.events:
		return ev, nil
	case err := <-h.errs:
		// keep the terminal error for later callers
		h.errs <- err
		return Event{}, err
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-h.done:
		return Event{}, io.EOF
	}
}

func parseStreamLine(line string) (Event, bool, error) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, "EVT ") {
		return Event{}, false, nil
	}
	fields := strings.SplitN(strings.TrimPrefix(line, "EVT "), " ", 3)
	if len(fields) < 2 {
		return Event{}, false, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	msg := ""
	if len(fields) == 3 {
		msg = fields[2]
	}
	ev, err := buildEvent(fields[0], fields[1], msg, line)
	if err != nil {
		return Event{}, false, err
	}
	return ev, true, nil
}

// Send writes a CMD line.
func (h *StreamHost) Send(node topology.NodeID, text string) error {
	return h.writeLine(fmt.Sprintf("CMD %d %s", node, text))
}

// Terminate writes an END line and stops delivering events. Output the bridge
// writes afterwards is read and discarded.
func (h *StreamHost) Terminate(_ context.Context, reason string) error {
	err := h.writeLine("END " + reason)
	h.stop.Do(func() { close(h.done) })
	h.once.Do(h.start)
	return err
}

func (h *StreamHost) writeLine(s string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.w.WriteString(s + "\n"); err != nil {
		return err
	}
	return h.w.Flush()
}
