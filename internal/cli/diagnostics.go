package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tunnelmaster/stm/internal/doctor"
	"github.com/tunnelmaster/stm/internal/events"
	"github.com/tunnelmaster/stm/internal/ports"
	"github.com/tunnelmaster/stm/internal/sshconfig"
)

func newDoctorCmd(a *app) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check binaries, the jump host, the registry and file permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := doctor.Inputs{Config: a.cfg, Known: ports.NewKnownHosts(a.cfg.KnownHosts)}
			in.Registry, in.RegistryErr = a.store().Load()
			if in.RegistryErr != nil {
				in.Registry = nil
			}
			if path, err := sshconfig.DefaultPath(); err == nil {
				if ssh, err := sshconfig.Load(path); err == nil {
					in.SSH = ssh
				} else {
					slog.Warn("failed to parse ssh config", "path", path, "error", err)
				}
			}

			report := doctor.Run(cmd.Context(), in)
			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			if len(report.Issues) == 0 {
				fmt.Fprintln(out, "no issues found")
				return nil
			}
			for _, i := range report.Issues {
				fmt.Fprintf(out, "[%s] %s %s: %s\n", strings.ToUpper(string(i.Severity)), i.Check, i.Target, i.Message)
				if i.Recommendation != "" {
					fmt.Fprintf(out, "    -> %s\n", i.Recommendation)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newEventsCmd(a *app) *cobra.Command {
	var (
		alias   string
		limit   int
		since   time.Duration
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the tunnel event journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := events.Query{Alias: alias, Limit: limit}
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}
			evts, err := events.NewStore().Read(q)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				if evts == nil {
					evts = []events.Event{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(evts)
			}
			fmt.Fprintf(out, "%-20s %-16s %-8s %-16s %-26s %s\n", "TIME", "ALIAS", "HOP", "EVENT", "TUNNEL", "MESSAGE")
			for _, e := range evts {
				tun := "-"
				if e.LocalPort != 0 {
					tun = fmt.Sprintf("%d:%s", e.LocalPort, e.RemoteHost)
				}
				fmt.Fprintf(out, "%-20s %-16s %-8s %-16s %-26s %s\n",
					e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Alias, e.Hop, e.EventType, tun, e.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&alias, "alias", "", "only events for this alias")
	cmd.Flags().IntVar(&limit, "limit", 50, "show at most this many recent events (0 for all)")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this, e.g. 24h")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}
