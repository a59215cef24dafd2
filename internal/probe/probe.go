// Package probe decides whether a tunnel is already running by looking for its
// forward spec in the live process table.
//
// This is a heuristic: a process whose command line contains
// "<localPort>:<remoteHost>" is assumed to be a healthy tunnel. No handshake
// is attempted, so a stale process gives a false positive and a tunnel
// started with a differently formatted command line gives a false negative.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/tunnelmaster/stm/internal/util"
)

// Prober reports whether a tunnel forwarding localPort to remoteHost is live.
type Prober interface {
	Active(ctx context.Context, localPort int, remoteHost string) (bool, error)
}

// ProcessTable scans every process's command line via gopsutil.
type ProcessTable struct {
	// Self is excluded from matches; defaults to the current PID.
	Self int32
}

// NewProcessTable returns a prober that ignores the calling process.
func NewProcessTable() *ProcessTable {
	return &ProcessTable{Self: int32(os.Getpid())}
}

func (p *ProcessTable) Active(ctx context.Context, localPort int, remoteHost string) (bool, error) {
	pids, err := p.Find(ctx, util.ProbePattern(localPort, remoteHost))
	if err != nil {
		return false, err
	}
	return len(pids) > 0, nil
}

// Find returns the PIDs whose command line contains pattern.
func (p *ProcessTable) Find(ctx context.Context, pattern string) ([]int32, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	var out []int32
	for _, proc := range procs {
		if proc.Pid == p.Self {
			continue
		}
		cmdline, err := proc.CmdlineWithContext(ctx)
		if err != nil {
			// Processes exit between listing and reading; that is not an error.
			continue
		}
		if strings.Contains(cmdline, pattern) {
			out = append(out, proc.Pid)
		}
	}
	return out, nil
}

// Pgrep shells out to pgrep -f, the way the tunnels were located before the
// process table backend existed. Useful where /proc is not readable.
type Pgrep struct {
	Binary string
}

func (p Pgrep) Active(ctx context.Context, localPort int, remoteHost string) (bool, error) {
	bin := util.DefaultString(p.Binary, "pgrep")
	out, err := exec.CommandContext(ctx, bin, "-f", util.ProbePattern(localPort, remoteHost)).Output()
	if err != nil {
		var exitErr *exec.ExitError
		// pgrep returns exit code 1 when no processes matched.
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("pgrep failed: %w", err)
	}
	self := os.Getpid()
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			slog.Warn("failed to parse PID from pgrep output", "line", line, "error", err)
			continue
		}
		if pid != self {
			return true, nil
		}
	}
	return false, nil
}

// New returns the prober for kind ("proc" or "pgrep").
func New(kind string) (Prober, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "proc", "process":
		return NewProcessTable(), nil
	case "pgrep":
		return Pgrep{}, nil
	default:
		return nil, fmt.Errorf("unknown prober %q", kind)
	}
}
