// Package tunnel builds the chain of SSH tunnels behind an alias: the primary
// tunnel from a local port through the jump host to the target's SSH daemon,
// an optional service tunnel layered over it, and the interactive session on
// top.
//
// Tunnels are detached autossh processes. Nothing is tracked by handle; the
// process table is the only record of what is running, so every step first
// asks the prober whether its tunnel already exists.
package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tunnelmaster/stm/internal/events"
	"github.com/tunnelmaster/stm/internal/launcher"
	"github.com/tunnelmaster/stm/internal/model"
	"github.com/tunnelmaster/stm/internal/probe"
	"github.com/tunnelmaster/stm/internal/registry"
	"github.com/tunnelmaster/stm/internal/security"
	"github.com/tunnelmaster/stm/internal/sshclient"
)

const (
	HopPrimary = "primary"
	HopService = "service"
)

// Starter abstracts tunnel process creation for testing.
type Starter interface {
	StartTunnel(ctx context.Context, spec sshclient.TunnelSpec) error
}

// Recorder receives lifecycle events. *events.Store satisfies it.
type Recorder interface {
	Append(evt events.Event) error
}

// HopStatus is the outcome of ensuring one tunnel.
type HopStatus string

const (
	HopSpawned HopStatus = "spawned"
	HopReused  HopStatus = "reused"
	HopFailed  HopStatus = "failed"
)

// Hop reports one tunnel in the chain.
type Hop struct {
	Name       string
	LocalPort  int
	RemoteHost string
	Status     HopStatus
	Err        error
}

// Request asks for the tunnels behind Alias. With Launch set an interactive
// session is opened on top: a shell for host aliases, the database client
// for service aliases.
type Request struct {
	Alias  string
	Launch bool
}

// Result describes what Open did. Hops that came up stay up even when a later
// step failed.
type Result struct {
	Route   registry.Route
	Hops    []Hop
	Session string
}

// Spawned counts hops that started a new process.
func (r Result) Spawned() int {
	n := 0
	for _, h := range r.Hops {
		if h.Status == HopSpawned {
			n++
		}
	}
	return n
}

// Options tunes a Constructor.
type Options struct {
	JumpHost      string
	PrimarySettle time.Duration
	ServiceSettle time.Duration
}

// Deps are the collaborators of a Constructor. Starter defaults to Client,
// Locker to NopLocker and Events may be nil.
type Deps struct {
	Resolver *registry.Resolver
	Client   *sshclient.Client
	Starter  Starter
	Prober   probe.Prober
	Locker   Locker
	Launcher launcher.Launcher
	Events   Recorder
}

// Constructor brings up tunnel chains.
type Constructor struct {
	deps  Deps
	opts  Options
	sleep func(ctx context.Context, d time.Duration) error
}

// NewConstructor wires a constructor.
func NewConstructor(deps Deps, opts Options) *Constructor {
	if deps.Client == nil {
		deps.Client = sshclient.New(sshclient.Binaries{})
	}
	if deps.Starter == nil {
		deps.Starter = deps.Client
	}
	if deps.Locker == nil {
		deps.Locker = NopLocker{}
	}
	return &Constructor{deps: deps, opts: opts, sleep: sleepCtx}
}

// Open resolves req.Alias and makes sure every tunnel it needs is running,
// then optionally opens the session. A missing alias is a NotFoundError and
// spawns nothing. Tunnel failures are TunnelConstructionErrors; a failing
// session is a SessionLaunchError and leaves the tunnels up.
func (c *Constructor) Open(ctx context.Context, req Request) (Result, error) {
	route, err := c.deps.Resolver.Resolve(req.Alias)
	if err != nil {
		slog.Warn("alias not resolvable", "alias", req.Alias, "error", err)
		return Result{}, err
	}
	res := Result{Route: route}

	primary := sshclient.PrimarySpec(route.Primary, c.opts.JumpHost)
	hop := c.ensure(ctx, req.Alias, HopPrimary, primary, c.opts.PrimarySettle)
	res.Hops = append(res.Hops, hop)
	if hop.Err != nil {
		return res, hop.Err
	}

	if route.Service == nil {
		if !req.Launch {
			return res, nil
		}
		return c.launch(ctx, res, "", c.deps.Client.ShellArgs(route.Primary))
	}

	svc := *route.Service
	hop = c.ensure(ctx, req.Alias, HopService, sshclient.ServiceSpec(route.Primary, svc), c.opts.ServiceSettle)
	res.Hops = append(res.Hops, hop)
	if hop.Err != nil {
		return res, hop.Err
	}
	if !req.Launch {
		return res, nil
	}
	profile, ok := svc.ServiceType.Profile()
	if !ok {
		err := &model.SessionLaunchError{
			Launcher: c.launcherName(),
			Err:      fmt.Errorf("unknown service type %q", svc.ServiceType),
		}
		c.record(events.Event{Alias: req.Alias, Hop: "session", EventType: events.TypeSessionFailed, Message: err.Error()})
		return res, err
	}
	title := fmt.Sprintf("%s :: %s", profile.Label, req.Alias)
	return c.launch(ctx, res, title, profile.ClientArgs(svc.ClientParams()))
}

// ensure brings up one tunnel unless the prober already sees it. The check is
// repeated under the machine lock so a racing invocation reuses our process.
func (c *Constructor) ensure(ctx context.Context, alias, name string, spec sshclient.TunnelSpec, settle time.Duration) Hop {
	hop := Hop{Name: name, LocalPort: spec.LocalPort, RemoteHost: spec.RemoteHost}
	log := slog.With("alias", alias, "hop", name, "local_port", spec.LocalPort, "remote_host", spec.RemoteHost)

	if c.active(ctx, log, spec) {
		return c.reused(alias, hop)
	}

	unlock, err := c.deps.Locker.Lock(ctx, spec.Pattern())
	if err != nil {
		return c.failed(alias, hop, log, err)
	}
	defer unlock()

	if c.active(ctx, log, spec) {
		return c.reused(alias, hop)
	}

	cmd := c.deps.Client.TunnelCommand(spec)
	if err := c.deps.Starter.StartTunnel(ctx, spec); err != nil {
		log.Error("failed to start tunnel", "command", cmd, "error", err)
		return c.failed(alias, hop, log, err)
	}
	if err := c.sleep(ctx, settle); err != nil {
		return c.failed(alias, hop, log, err)
	}
	log.Info("created tunnel", "command", cmd)
	hop.Status = HopSpawned
	c.record(events.Event{Alias: alias, Hop: name, LocalPort: hop.LocalPort, RemoteHost: hop.RemoteHost, EventType: events.TypeSpawned})
	return hop
}

func (c *Constructor) active(ctx context.Context, log *slog.Logger, spec sshclient.TunnelSpec) bool {
	ok, err := c.deps.Prober.Active(ctx, spec.LocalPort, spec.RemoteHost)
	if err != nil {
		// An unreadable process table means "not running"; at worst a
		// duplicate autossh fails to bind and exits.
		log.Warn("tunnel probe failed", "error", err)
		return false
	}
	return ok
}

func (c *Constructor) reused(alias string, hop Hop) Hop {
	hop.Status = HopReused
	slog.Debug("tunnel already running", "alias", alias, "hop", hop.Name, "local_port", hop.LocalPort)
	c.record(events.Event{Alias: alias, Hop: hop.Name, LocalPort: hop.LocalPort, RemoteHost: hop.RemoteHost, EventType: events.TypeReused})
	return hop
}

func (c *Constructor) failed(alias string, hop Hop, log *slog.Logger, err error) Hop {
	hop.Status = HopFailed
	hop.Err = &model.TunnelConstructionError{Alias: alias, Hop: hop.Name, Err: err}
	log.Error("failed to build tunnel", "error", err)
	c.record(events.Event{Alias: alias, Hop: hop.Name, LocalPort: hop.LocalPort, RemoteHost: hop.RemoteHost, EventType: events.TypeFailed, Message: err.Error()})
	return hop
}

func (c *Constructor) launch(ctx context.Context, res Result, title string, argv []string) (Result, error) {
	alias := res.Route.Alias
	log := slog.With("alias", alias, "launcher", c.launcherName(), "command", security.RedactCommand(argv))
	fail := func(err error) (Result, error) {
		log.Error("failed to launch session", "error", security.DebugMessage(err))
		c.record(events.Event{Alias: alias, Hop: "session", EventType: events.TypeSessionFailed, Message: security.DebugMessage(err)})
		return res, err
	}
	if c.deps.Launcher == nil {
		return fail(&model.SessionLaunchError{Launcher: "none", Err: fmt.Errorf("no session launcher configured")})
	}
	sess, err := c.deps.Launcher.Open(ctx)
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("failed to release session", "error", err)
		}
	}()
	if title != "" {
		if err := sess.SetTitle(ctx, title); err != nil {
			log.Warn("failed to set session title", "title", title, "error", err)
		}
	}
	res.Session = title
	c.record(events.Event{Alias: alias, Hop: "session", EventType: events.TypeSessionLaunched, Message: title})
	log.Info("launched session", "title", title)
	if err := sess.Run(ctx, argv); err != nil {
		return fail(err)
	}
	return res, nil
}

func (c *Constructor) launcherName() string {
	if c.deps.Launcher == nil {
		return "none"
	}
	return c.deps.Launcher.Name()
}

func (c *Constructor) record(evt events.Event) {
	if c.deps.Events == nil {
		return
	}
	if err := c.deps.Events.Append(evt); err != nil {
		slog.Warn("failed to append tunnel event", "alias", evt.Alias, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
