package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/spf13/cobra"
	"github.com/tunnelmaster/stm/internal/history"
	"github.com/tunnelmaster/stm/internal/model"
	"github.com/tunnelmaster/stm/internal/probe"
	"github.com/tunnelmaster/stm/internal/util"
	"golang.org/x/sync/errgroup"
)

// aliasRow is one line of `info --aliases`.
type aliasRow struct {
	Alias  string
	Host   string
	Port   int
	Via    string // backing alias of a service
	probeP int
	probeH string
	Active bool
}

func newInfoCmd(a *app) *cobra.Command {
	var aliases, recent bool
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show configuration, or the registered aliases with --aliases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := a.loadRegistry(cmd)
			out := cmd.OutOrStdout()
			if !aliases {
				printInfo(out, a, reg)
				return nil
			}
			rows := aliasRows(reg)
			if recent {
				rows = sortRowsRecent(rows)
			}
			prober, err := probe.New(a.cfg.Tunnel.Prober)
			if err != nil {
				return err
			}
			if err := probeRows(cmd.Context(), prober, rows); err != nil {
				return err
			}
			printRows(out, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&aliases, "aliases", false, "list aliases with their tunnel state")
	cmd.Flags().BoolVar(&recent, "recent", false, "sort aliases by most recent use")
	return cmd
}

func printInfo(out io.Writer, a *app, reg *model.Registry) {
	users := 0
	reg.Hosts.Each(func(_ string, h model.HostEntry) bool {
		users += len(h.Users)
		return true
	})
	fmt.Fprintf(out, "%-16s %s\n", "jump host", util.EmptyDash(a.cfg.JumpHost))
	fmt.Fprintf(out, "%-16s %s\n", "registry", a.cfg.RegistryPath())
	fmt.Fprintf(out, "%-16s %s\n", "aliases file", a.cfg.StmAliases)
	fmt.Fprintf(out, "%-16s %s\n", "log file", a.cfg.LogPath())
	fmt.Fprintf(out, "%-16s %s\n", "launcher", a.cfg.Launcher)
	fmt.Fprintf(out, "%-16s %d hosts, %d users, %d services\n", "entries", reg.Hosts.Len(), users, reg.Services.Len())
	fmt.Fprintf(out, "%-16s %d\n", "last auto port", reg.Misc.LastAutoPort)
}

// aliasRows lists user aliases in registry order (users sorted per host),
// then services.
func aliasRows(reg *model.Registry) []aliasRow {
	var rows []aliasRow
	reg.Hosts.Each(func(_ string, h model.HostEntry) bool {
		users := make([]string, 0, len(h.Users))
		for u := range h.Users {
			users = append(users, u)
		}
		sort.Strings(users)
		for _, u := range users {
			rows = append(rows, aliasRow{Alias: h.Users[u], Host: h.Host, Port: h.Port, probeP: h.Port, probeH: h.Host})
		}
		return true
	})
	reg.Services.Each(func(key string, s model.ServiceEntry) bool {
		rows = append(rows, aliasRow{
			Alias:  key,
			Host:   s.ServiceHost,
			Port:   s.ServicePort,
			Via:    s.RemoteTunnelAlias,
			probeP: s.LocalPort,
			probeH: s.ServiceHost,
		})
		return true
	})
	return rows
}

func sortRowsRecent(rows []aliasRow) []aliasRow {
	lastUsed, err := history.LastUsed()
	if err != nil {
		slog.Warn("failed to read alias history", "error", err)
		return rows
	}
	// A hand-edited registry may repeat an alias, so sort the rows themselves.
	return history.SortRecent(rows, func(r aliasRow) string { return r.Alias }, lastUsed)
}

// probeRows fills Active for every row concurrently. A failing probe counts
// as inactive.
func probeRows(ctx context.Context, prober probe.Prober, rows []aliasRow) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := range rows {
		g.Go(func() error {
			ok, err := prober.Active(gctx, rows[i].probeP, rows[i].probeH)
			if err != nil {
				slog.Warn("tunnel probe failed", "alias", rows[i].Alias, "error", err)
				return nil
			}
			rows[i].Active = ok
			return nil
		})
	}
	return g.Wait()
}

func printRows(out io.Writer, rows []aliasRow) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "no aliases registered; add one with `stm agent --type client`")
		return
	}
	for _, r := range rows {
		state := "inactive"
		if r.Active {
			state = "active"
		}
		line := fmt.Sprintf("%-30s - %s:%d", r.Alias, r.Host, r.Port)
		if r.Via != "" {
			line += " via " + r.Via
		}
		fmt.Fprintf(out, "%s  [%s]\n", line, state)
	}
}
