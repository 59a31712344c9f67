package tunnel

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
)

// Handle bundles a running child process with its collector. Handles
// are constructed only by Start and consumed only by Stop and the
// extraction pass, never partially populated.
type Handle struct {
	Cmd       *exec.Cmd
	Collector *Collector

	stopOnce sync.Once
}

// Pid returns the child process id, or 0 if the process is gone.
func (h *Handle) Pid() int {
	if h.Cmd == nil || h.Cmd.Process == nil {
		return 0
	}
	return h.Cmd.Process.Pid
}

// ParseLaunchCommand normalizes a configured launch string into argv:
// one leading "./" is stripped, then the string is split on
// whitespace. There is no shell interpretation.
func ParseLaunchCommand(launch string) ([]string, error) {
	launch = strings.TrimPrefix(launch, "./")
	argv := strings.Fields(launch)
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	return argv, nil
}

// Start spawns the tunnel client described by launch with stdout and
// stderr merged into a single line stream and a fresh collector
// already pumping it. The child inherits the daemon's environment and
// nothing else is injected.
func Start(name, launch string, historySize int) (*Handle, error) {
	argv, err := ParseLaunchCommand(launch)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		stdout.Close()
		return nil, fmt.Errorf("failed to launch %q: %w", argv[0], err)
	}

	collector := NewCollector(historySize)
	go collector.Run(stdout)

	// Reap the child when it exits so stopped tunnels never linger as
	// zombies. Wait must not run until the collector has drained the
	// pipe, or it would close the pipe under the reader and drop the
	// tail of the output.
	go func(cmd *exec.Cmd, collector *Collector) {
		<-collector.Done()
		if err := cmd.Wait(); err != nil {
			slog.Debug(fmt.Sprintf("Tunnel process for '%s' exited: %v", name, err))
		}
	}(cmd, collector)

	slog.Info(fmt.Sprintf("Tunnel '%s' started (PID %d)", name, cmd.Process.Pid))
	return &Handle{Cmd: cmd, Collector: collector}, nil
}

// Stop requests termination of the handle's process and tears down
// its collector. The terminate signal is fire-and-forget: there is no
// wait and no force-kill escalation. Calling Stop on an already
// stopped handle is a no-op.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.stopOnce.Do(func() {
		if h.Cmd != nil && h.Cmd.Process != nil {
			if err := h.Cmd.Process.Signal(syscall.SIGTERM); err != nil && err != os.ErrProcessDone {
				slog.Debug(fmt.Sprintf("Failed to signal PID %d: %v", h.Cmd.Process.Pid, err))
			}
		}
		// The output view closes whether or not the child honors the
		// signal; a lingering process must not keep feeding viewers of
		// a slot that reads stopped.
		if h.Collector != nil {
			h.Collector.CloseSubscribers()
		}
	})
}
