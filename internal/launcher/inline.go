package launcher

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tunnelmaster/stm/internal/sshclient"
)

// Inline runs commands in the invoking terminal through a PTY, one at a time.
type Inline struct {
	Out io.Writer
	run func(ctx context.Context, argv []string) error
}

func NewInline() *Inline {
	return &Inline{Out: os.Stdout, run: sshclient.RunInteractive}
}

func (i *Inline) Name() string { return KindInline }

func (i *Inline) Open(context.Context) (Session, error) {
	return &inlineSession{parent: i}, nil
}

type inlineSession struct {
	parent *Inline
}

func (s *inlineSession) Run(ctx context.Context, argv []string) error {
	return launchErr(KindInline, s.parent.run(ctx, argv))
}

// SetTitle emits the xterm window title sequence.
func (s *inlineSession) SetTitle(_ context.Context, title string) error {
	_, err := fmt.Fprintf(s.parent.Out, "\x1b]0;%s\x07", title)
	return launchErr(KindInline, err)
}

func (s *inlineSession) Close() error { return nil }
