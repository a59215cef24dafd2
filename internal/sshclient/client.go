// Package sshclient builds and launches the external ssh, autossh and scp
// processes stm relies on.
//
// This package is responsible for launching SSH processes. It does NOT implement
// the SSH protocol itself. It shells out to the system binaries, so the user's
// full SSH configuration (keys, agents, ~/.ssh/config) applies unchanged.
//
// There are two kinds of operation:
//
//   - Tunnel processes: StartTunnel() runs autossh with -f, which forks a
//     persistent, auto-reconnecting ssh -N -L process and returns. The tunnel
//     outlives stm; it is found again later only through the process table.
//
//   - Interactive commands: RunInteractive() allocates a PTY and connects the
//     user's terminal to a command such as ssh or scp.
//
// All arguments are passed via exec.Command's argv (not via shell
// interpolation), so aliases and hosts containing shell metacharacters cannot
// inject commands.
package sshclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/creack/pty"
	"github.com/tunnelmaster/stm/internal/model"
	"github.com/tunnelmaster/stm/internal/util"
	"golang.org/x/term"
)

// TunnelSpec describes one local port forward and the ssh destination that
// carries it.
type TunnelSpec struct {
	LocalPort  int
	RemoteHost string
	RemotePort int
	// Via is the ssh destination plus any options, e.g. ["ops@jump"] or
	// ["bob@localhost", "-p", "10000"].
	Via []string
}

// Pattern is the process table marker of the spawned tunnel.
func (s TunnelSpec) Pattern() string {
	return util.ProbePattern(s.LocalPort, s.RemoteHost)
}

// PrimarySpec forwards target's port to its SSH daemon through jumpHost.
func PrimarySpec(target model.Target, jumpHost string) TunnelSpec {
	return TunnelSpec{
		LocalPort:  target.Port,
		RemoteHost: target.Host,
		RemotePort: util.DefaultSSHPort,
		Via:        []string{jumpHost},
	}
}

// ServiceSpec forwards svc.LocalPort to the service, logging in through the
// primary tunnel's local port.
func ServiceSpec(target model.Target, svc model.ServiceEntry) TunnelSpec {
	return TunnelSpec{
		LocalPort:  svc.LocalPort,
		RemoteHost: svc.ServiceHost,
		RemotePort: svc.ServicePort,
		Via:        []string{target.Destination(), "-p", target.PortString()},
	}
}

// Binaries names the executables the client runs.
type Binaries struct {
	AutoSSH string
	SSH     string
	SCP     string
}

// Client launches SSH processes.
//
// Client is stateless apart from its binary names and safe for concurrent use.
type Client struct {
	bin Binaries
}

// New creates a new SSH client. Empty binary names fall back to the PATH
// defaults.
func New(bin Binaries) *Client {
	bin.AutoSSH = util.DefaultString(bin.AutoSSH, "autossh")
	bin.SSH = util.DefaultString(bin.SSH, "ssh")
	bin.SCP = util.DefaultString(bin.SCP, "scp")
	return &Client{bin: bin}
}

// Binaries returns the resolved binary names.
func (c *Client) Binaries() Binaries { return c.bin }

// EnsureBinary checks that name is available on the system PATH.
func EnsureBinary(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%s binary not found in PATH", name)
	}
	return nil
}

// BuildTunnelArgs constructs the autossh arguments for spec without starting
// a process.
//
// Example output: ["-M", "0", "-f", "-N", "-L", "10000:db1.internal:22", "ops@jump"]
//
//   - -M 0: disable autossh's monitor port; ssh's own keepalives decide.
//   - -f:   autossh backgrounds itself once ssh is started.
//   - -N:   no remote command, forwarding only.
func (c *Client) BuildTunnelArgs(spec TunnelSpec) []string {
	args := []string{
		"-M", "0",
		"-f",
		"-N",
		"-L", util.ForwardSpec(spec.LocalPort, spec.RemoteHost, spec.RemotePort),
	}
	return append(args, spec.Via...)
}

// TunnelCommand renders the full command line for logs.
func (c *Client) TunnelCommand(spec TunnelSpec) []string {
	return append([]string{c.bin.AutoSSH}, c.BuildTunnelArgs(spec)...)
}

// StartTunnel spawns an auto-reconnecting tunnel for spec and returns once
// autossh has forked into the background. A non-zero exit is reported with
// whatever autossh wrote to stderr.
func (c *Client) StartTunnel(ctx context.Context, spec TunnelSpec) error {
	cmd := exec.CommandContext(ctx, c.bin.AutoSSH, c.BuildTunnelArgs(spec)...)
	var stderr bytes.Buffer
	cmd.Stdin = nil
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// ShellArgs is the interactive login through an established primary tunnel.
func (c *Client) ShellArgs(target model.Target) []string {
	return []string{c.bin.SSH, target.Destination(), "-p", target.PortString()}
}

// Direction selects which way scp copies.
type Direction string

const (
	// DirectionDown copies local files to the remote host.
	DirectionDown Direction = "down"
	// DirectionUp copies remote files to the local host.
	DirectionUp Direction = "up"
)

// SCPArgs builds the scp invocation through target's primary tunnel.
func (c *Client) SCPArgs(target model.Target, dir Direction, from, to string) ([]string, error) {
	remote := func(path string) string { return target.Destination() + ":" + path }
	args := []string{c.bin.SCP, "-P", target.PortString(), "-r"}
	switch dir {
	case DirectionDown:
		return append(args, from, remote(to)), nil
	case DirectionUp:
		return append(args, remote(from), to), nil
	default:
		return nil, fmt.Errorf("unknown direction %q (want up or down)", dir)
	}
}

// RunInteractive runs argv inside a pseudo-terminal wired to the user's
// terminal and blocks until it exits. When stdin is a terminal it is put in
// raw mode for the duration, so control keys reach the remote side.
//
// The ctx parameter can be used to cancel the session. If the context is
// cancelled while the command is active, the process is killed.
func RunInteractive(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)

	f, err := pty.Start(cmd)
	if err != nil {
		return err
	}
	defer f.Close()

	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		_ = pty.InheritSize(os.Stdin, f)
		if old, err := term.MakeRaw(fd); err == nil {
			defer func() { _ = term.Restore(fd, old) }()
		}
	}

	go func() {
		_, _ = io.Copy(f, os.Stdin)
	}()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
		case <-done:
		}
	}()

	_, _ = io.Copy(os.Stdout, f)
	close(done)
	return cmd.Wait()
}
