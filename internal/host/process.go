package host

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"tpwsn-sim/internal/logging"
)

// ProcessHost runs the simulator bridge as a child process and talks to it over
// stdin and stdout using the stream protocol.
type ProcessHost struct {
	*StreamHost
	cmd   *exec.Cmd
	stdin io.WriteCloser
	// Grace bounds how long Terminate waits for the bridge to close its output
	// before the process is killed.
	Grace time.Duration
}

// DefaultGrace is the shutdown grace period of a bridge process.
const DefaultGrace = 10 * time.Second

// StartProcess launches name with args. The process is killed if ctx is cancelled.
func StartProcess(ctx context.Context, name string, args ...string) (*ProcessHost, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = os.Stderr
	// Wait closes the pipes this long after a kill even if grandchildren hold them
	cmd.WaitDelay = DefaultGrace
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	logging.FromContext(ctx).Info("simulator bridge started", "cmd", name, "pid", cmd.Process.Pid)
	return &ProcessHost{StreamHost: NewStreamHost(stdout, stdin), cmd: cmd, stdin: stdin, Grace: DefaultGrace}, nil
}

// Terminate sends END, closes stdin and waits until the bridge has closed its output
// and exited. A bridge still running after Grace, or when ctx ends, is killed.
func (h *ProcessHost) Terminate(ctx context.Context, reason string) error {
	log := logging.FromContext(ctx)
	if err := h.StreamHost.Terminate(ctx, reason); err != nil {
		log.Warn("send END failed", "err", err)
	}
	_ = h.stdin.Close()

	grace := h.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.stopped:
	case <-timer.C:
		log.Warn("simulator bridge did not exit, killing it", "pid", h.cmd.Process.Pid, "grace", grace)
		_ = h.cmd.Process.Kill()
	case <-ctx.Done():
		_ = h.cmd.Process.Kill()
	}
	if err := h.cmd.Wait(); err != nil {
		return fmt.Errorf("simulator bridge exit: %w", err)
	}
	return nil
}
