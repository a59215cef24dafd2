package launcher

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/tunnelmaster/stm/internal/util"
)

// Tmux opens windows in the tmux server the user is attached to.
type Tmux struct {
	Binary string
}

func NewTmux(binary string) *Tmux {
	return &Tmux{Binary: util.DefaultString(binary, "tmux")}
}

func (t *Tmux) Name() string { return KindTmux }

func (t *Tmux) Open(ctx context.Context) (Session, error) {
	out, err := t.run(ctx, "new-window", "-d", "-P", "-F", "#{window_id}")
	if err != nil {
		return nil, launchErr(t.Name(), err)
	}
	id := strings.TrimSpace(out)
	if id == "" {
		return nil, launchErr(t.Name(), fmt.Errorf("tmux returned no window id"))
	}
	return &tmuxSession{tmux: t, window: id}, nil
}

func (t *Tmux) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, t.Binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("tmux %s: %w: %s", args[0], err, msg)
		}
		return "", fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return stdout.String(), nil
}

type tmuxSession struct {
	tmux   *Tmux
	window string
}

func (s *tmuxSession) Run(ctx context.Context, argv []string) error {
	_, err := s.tmux.run(ctx, "send-keys", "-t", s.window, CommandLine(argv), "Enter")
	return launchErr(KindTmux, err)
}

func (s *tmuxSession) SetTitle(ctx context.Context, title string) error {
	_, err := s.tmux.run(ctx, "rename-window", "-t", s.window, title)
	return launchErr(KindTmux, err)
}

func (s *tmuxSession) Close() error { return nil }
