package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tunnelmaster/stm/internal/history"
	"github.com/tunnelmaster/stm/internal/registry"
	"github.com/tunnelmaster/stm/internal/sshclient"
	"github.com/tunnelmaster/stm/internal/tunnel"
)

func newSCPCmd(a *app) *cobra.Command {
	var alias, direction, from, to string
	cmd := &cobra.Command{
		Use:   "scp",
		Short: "Copy files through the primary tunnel of a host alias",
		Long: "Copy files through the primary tunnel of an alias.\n\n" +
			"down copies the local --from-files to the remote --to-files;\n" +
			"up copies the remote --from-files to the local --to-files.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := sshclient.Direction(direction)
			if dir != sshclient.DirectionDown && dir != sshclient.DirectionUp {
				return fmt.Errorf("--direction must be up or down, got %q", direction)
			}
			reg := a.loadRegistry(cmd)
			// Copies ride the primary tunnel only; a service alias would also
			// bring up its database forward.
			if svc, ok := registry.NewResolver(reg).ResolveService(alias); ok {
				return fmt.Errorf("scp needs a host alias: %s is a service, use its tunnel alias %s", alias, svc.RemoteTunnelAlias)
			}
			c, err := a.constructor(reg, "inline")
			if err != nil {
				return err
			}
			res, err := c.Open(cmd.Context(), tunnel.Request{Alias: alias})
			printResult(cmd.OutOrStdout(), res)
			if err != nil {
				return a.fail("scp", err)
			}
			argv, err := a.client().SCPArgs(res.Route.Primary, dir, from, to)
			if err != nil {
				return err
			}
			if err := sshclient.RunInteractive(cmd.Context(), argv); err != nil {
				return a.fail("scp", err)
			}
			_ = history.Touch(alias)
			return nil
		},
	}
	cmd.Flags().StringVar(&alias, "alias", "", "host alias")
	cmd.Flags().StringVar(&direction, "direction", "", "up or down")
	cmd.Flags().StringVar(&from, "from-files", "", "source path")
	cmd.Flags().StringVar(&to, "to-files", "", "destination path")
	for _, f := range []string{"alias", "direction", "from-files", "to-files"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
