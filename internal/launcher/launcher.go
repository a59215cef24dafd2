// Package launcher opens terminal sessions (tabs, windows or the current
// terminal) and runs commands in them.
package launcher

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/tunnelmaster/stm/internal/model"
)

// Launcher opens a new interactive session.
type Launcher interface {
	// Name identifies the backend in logs and errors.
	Name() string
	Open(ctx context.Context) (Session, error)
}

// Session is one opened terminal.
type Session interface {
	// Run starts argv in the session. Backends that drive an external
	// terminal return as soon as the command was handed over; the inline
	// backend blocks until it exits.
	Run(ctx context.Context, argv []string) error
	SetTitle(ctx context.Context, title string) error
	// Close releases what Open acquired. The terminal itself stays open.
	Close() error
}

const (
	KindInline  = "inline"
	KindTmux    = "tmux"
	KindKonsole = "konsole"
)

// New builds a launcher from an id. Recognised forms:
//
//	inline                    run in the current terminal
//	tmux                      new window in the current tmux server
//	konsole                   Konsole window named by $KONSOLE_DBUS_SERVICE
//	konsole:<dbus-name>       Konsole instance owning <dbus-name>
//	org.kde.konsole-<pid>     bare D-Bus name, as exported by Konsole
func New(id string) (Launcher, error) {
	id = strings.TrimSpace(id)
	switch {
	case id == "" || id == KindInline:
		return NewInline(), nil
	case id == KindTmux:
		return NewTmux(""), nil
	case id == KindKonsole:
		return NewKonsole(os.Getenv("KONSOLE_DBUS_SERVICE"), os.Getenv("KONSOLE_DBUS_WINDOW")), nil
	case strings.HasPrefix(id, KindKonsole+":"):
		return NewKonsole(strings.TrimPrefix(id, KindKonsole+":"), os.Getenv("KONSOLE_DBUS_WINDOW")), nil
	case strings.HasPrefix(id, "org.kde.konsole"):
		return NewKonsole(id, os.Getenv("KONSOLE_DBUS_WINDOW")), nil
	default:
		return nil, fmt.Errorf("unknown launcher %q (want inline, tmux or konsole[:<dbus-name>])", id)
	}
}

// CommandLine renders argv as a single shell-safe string for backends that
// accept text.
func CommandLine(argv []string) string {
	return shellquote.Join(argv...)
}

func launchErr(l string, err error) error {
	if err == nil {
		return nil
	}
	return &model.SessionLaunchError{Launcher: l, Err: err}
}
