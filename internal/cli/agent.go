package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/spf13/cobra"
	"github.com/tunnelmaster/stm/internal/agent"
	"github.com/tunnelmaster/stm/internal/model"
	"github.com/tunnelmaster/stm/internal/ports"
	"github.com/tunnelmaster/stm/internal/shellalias"
	"github.com/tunnelmaster/stm/internal/sshconfig"
	"github.com/tunnelmaster/stm/internal/ui"
)

func newAgentCmd(a *app) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Register a client (user on a host) or a service interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := ui.ParseKind(kind)
			if err != nil {
				return err
			}
			reg, err := a.loadRegistryForWrite()
			if err != nil {
				return a.fail("agent", err)
			}
			err = ui.Run(cmd.Context(), k, a.registrar(reg))
			if errors.Is(err, ui.ErrCancelled) {
				fmt.Fprintln(cmd.OutOrStdout(), "cancelled, nothing saved")
				return nil
			}
			if err != nil {
				return a.fail("agent", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run `source %s` to use the new alias in this shell\n", a.cfg.StmAliases)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "type", "", "client or service")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func (a *app) registrar(reg *model.Registry) *agent.Registrar {
	known := ports.NewKnownHosts(a.cfg.KnownHosts)
	r := &agent.Registrar{
		Reg:   reg,
		Store: a.store(),
		Alloc: ports.NewAllocator(reg, a.cfg.Tunnel.AutoPortStart, known),
		Known: known,
		Aliases: shellalias.Files{
			Own:    a.cfg.StmAliases,
			Others: []string{a.cfg.BashAliases},
		},
		DNS: net.DefaultResolver,
	}
	if path, err := sshconfig.DefaultPath(); err == nil {
		if ssh, err := sshconfig.Load(path); err == nil {
			r.SSH = ssh
		} else {
			slog.Warn("failed to parse ssh config", "path", path, "error", err)
		}
	}
	return r
}
