package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	konsoleWindowIface   = "org.kde.konsole.Window"
	konsoleSessionIface  = "org.kde.konsole.Session"
	defaultKonsoleWindow = "/Windows/1"
)

// Konsole opens tabs in a running Konsole window over the session bus.
type Konsole struct {
	Service string
	Window  string
}

// NewKonsole targets the Konsole instance owning service. An empty window
// path falls back to the first window.
func NewKonsole(service, window string) *Konsole {
	if window == "" {
		window = defaultKonsoleWindow
	}
	return &Konsole{Service: service, Window: window}
}

func (k *Konsole) Name() string { return KindKonsole }

func (k *Konsole) Open(ctx context.Context) (Session, error) {
	if k.Service == "" {
		return nil, launchErr(k.Name(), errors.New("no Konsole D-Bus service (is KONSOLE_DBUS_SERVICE set?)"))
	}
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, launchErr(k.Name(), fmt.Errorf("connect session bus: %w", err))
	}
	var id int32
	call := conn.Object(k.Service, dbus.ObjectPath(k.Window)).CallWithContext(ctx, konsoleWindowIface+".newSession", 0)
	if err := call.Store(&id); err != nil {
		_ = conn.Close()
		return nil, launchErr(k.Name(), fmt.Errorf("new session in %s: %w", k.Window, err))
	}
	s := &konsoleSession{
		conn: conn,
		obj:  conn.Object(k.Service, dbus.ObjectPath(fmt.Sprintf("/Sessions/%d", id))),
	}
	// New tabs must know their window so aliases typed there open siblings.
	if err := s.exportWindow(ctx, k.Window); err != nil {
		slog.Warn("failed to export window to konsole session", "session", id, "error", err)
	}
	slog.Debug("opened konsole session", "service", k.Service, "session", id)
	return s, nil
}

type konsoleSession struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

func (s *konsoleSession) exportWindow(ctx context.Context, window string) error {
	var env []string
	if err := s.obj.CallWithContext(ctx, konsoleSessionIface+".environment", 0).Store(&env); err != nil {
		return err
	}
	env = append(env, "KONSOLE_DBUS_WINDOW="+window)
	return s.obj.CallWithContext(ctx, konsoleSessionIface+".setEnvironment", 0, env).Err
}

func (s *konsoleSession) Run(ctx context.Context, argv []string) error {
	err := s.obj.CallWithContext(ctx, konsoleSessionIface+".runCommand", 0, CommandLine(argv)).Err
	return launchErr(KindKonsole, err)
}

func (s *konsoleSession) Close() error { return s.conn.Close() }

func (s *konsoleSession) SetTitle(ctx context.Context, title string) error {
	// Role 1 is the remote tab title; Konsole keeps it when the program changes.
	err := s.obj.CallWithContext(ctx, konsoleSessionIface+".setTitle", 0, int32(1), title).Err
	return launchErr(KindKonsole, err)
}
