package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tunnelmaster/stm/internal/events"
	"github.com/tunnelmaster/stm/internal/history"
	"github.com/tunnelmaster/stm/internal/launcher"
	"github.com/tunnelmaster/stm/internal/model"
	"github.com/tunnelmaster/stm/internal/probe"
	"github.com/tunnelmaster/stm/internal/registry"
	"github.com/tunnelmaster/stm/internal/tunnel"
	"github.com/tunnelmaster/stm/internal/util"
)

func newSSHCmd(a *app) *cobra.Command {
	var (
		service string
		alias   string
		count   int
		launch  int
	)
	cmd := &cobra.Command{
		Use:   "ssh [count]",
		Short: "Bring up the tunnels behind an alias and open sessions on them",
		Long: "Bring up the tunnels behind an alias and open sessions on them.\n\n" +
			"A host alias opens an ssh shell; a service alias opens its database client.\n" +
			"--service names the session launcher: inline, tmux, konsole or a Konsole\n" +
			"D-Bus service name. A trailing number overrides --count.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("count must be a number: %s", args[0])
				}
				count = n
			}
			if count < 1 {
				return fmt.Errorf("count must be at least 1")
			}
			if launch != 0 && launch != 1 {
				return fmt.Errorf("--launch must be 0 or 1")
			}

			reg := a.loadRegistry(cmd)
			c, err := a.constructor(reg, util.DefaultString(service, a.cfg.Launcher))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i := 0; i < count; i++ {
				res, err := c.Open(cmd.Context(), tunnel.Request{Alias: alias, Launch: launch == 1})
				printResult(out, res)
				if err != nil {
					return a.fail("ssh", err)
				}
			}
			if err := history.Touch(alias); err != nil {
				slog.Warn("failed to record alias usage", "alias", alias, "error", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&service, "service", "", "session launcher id (default from config)")
	cmd.Flags().StringVar(&alias, "alias", "", "host or service alias")
	cmd.Flags().IntVar(&count, "count", 1, "number of sessions to open")
	cmd.Flags().IntVar(&launch, "launch", 1, "1 opens a session, 0 only brings the tunnels up")
	_ = cmd.MarkFlagRequired("alias")
	return cmd
}

// constructor wires a tunnel constructor over reg with the configured
// binaries, prober, machine lock and event journal.
func (a *app) constructor(reg *model.Registry, launcherID string) (*tunnel.Constructor, error) {
	if a.cfg.JumpHost == "" {
		return nil, errors.New("no jump host configured: set jump_host in config.yaml or export STM_JUMP_HOST")
	}
	l, err := launcher.New(launcherID)
	if err != nil {
		return nil, err
	}
	prober, err := probe.New(a.cfg.Tunnel.Prober)
	if err != nil {
		return nil, err
	}
	return tunnel.NewConstructor(tunnel.Deps{
		Resolver: registry.NewResolver(reg),
		Client:   a.client(),
		Prober:   prober,
		Locker:   tunnel.NewMachineLocker(a.cfg.LockTimeout()),
		Launcher: l,
		Events:   events.NewStore(),
	}, tunnel.Options{
		JumpHost:      a.cfg.JumpHost,
		PrimarySettle: a.cfg.PrimarySettle(),
		ServiceSettle: a.cfg.ServiceSettle(),
	}), nil
}

func printResult(out io.Writer, res tunnel.Result) {
	for _, h := range res.Hops {
		fmt.Fprintf(out, "%-8s %s %s\n", h.Name, util.ProbePattern(h.LocalPort, h.RemoteHost), h.Status)
	}
	if res.Session != "" {
		fmt.Fprintf(out, "session  %s\n", res.Session)
	}
}
