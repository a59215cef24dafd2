// Package cli provides the command-line interface for stm.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/tunnelmaster/stm/internal/appconfig"
	"github.com/tunnelmaster/stm/internal/logging"
	"github.com/tunnelmaster/stm/internal/model"
	"github.com/tunnelmaster/stm/internal/registry"
	"github.com/tunnelmaster/stm/internal/security"
	"github.com/tunnelmaster/stm/internal/sshclient"
)

// app is the state shared by every subcommand once the persistent pre-run
// has loaded the configuration.
type app struct {
	cfg     appconfig.Config
	logFile io.Closer
	verbose bool
}

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "stm",
		Short:         "SSH tunnel master: chained tunnels and sessions through a jump host",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logFile != nil {
				_ = a.logFile.Close()
			}
		},
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "also write log records to stderr")

	root.AddCommand(newAgentCmd(a))
	root.AddCommand(newSSHCmd(a))
	root.AddCommand(newSCPCmd(a))
	root.AddCommand(newInfoCmd(a))
	root.AddCommand(newDoctorCmd(a))
	root.AddCommand(newEventsCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := appconfig.Init(cfg); err != nil {
		return err
	}
	var mirror io.Writer
	if a.verbose {
		mirror = cmd.ErrOrStderr()
	}
	_, a.logFile = logging.Setup(cfg, mirror)
	a.cfg = cfg
	slog.Debug("configuration loaded", "command", cmd.CommandPath(), "data_dir", cfg.DataDir, "launcher", cfg.Launcher)
	return nil
}

func (a *app) store() *registry.Store {
	return registry.NewStore(a.cfg.RegistryPath())
}

// loadRegistry returns the registry for read-only commands. An unreadable
// or malformed file is reported and the empty registry is used instead.
func (a *app) loadRegistry(cmd *cobra.Command) *model.Registry {
	reg, err := a.store().Load()
	if err != nil && !registry.IsMissing(err) {
		slog.Warn("registry unreadable, continuing with an empty registry", "error", err)
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s; continuing with an empty registry\n", security.UserMessage(err, true))
	}
	return reg
}

// loadRegistryForWrite is loadRegistry for commands that save. A malformed
// file is an error so the rewrite does not clobber hand-edited entries.
func (a *app) loadRegistryForWrite() (*model.Registry, error) {
	reg, err := a.store().Load()
	if err != nil && !registry.IsMissing(err) {
		return nil, err
	}
	return reg, nil
}

func (a *app) client() *sshclient.Client {
	return sshclient.New(sshclient.Binaries{
		AutoSSH: a.cfg.Binaries.AutoSSH,
		SSH:     a.cfg.Binaries.SSH,
		SCP:     a.cfg.Binaries.SCP,
	})
}

// fail logs err with full (redacted) detail and returns the message the
// operator sees.
func (a *app) fail(op string, err error) error {
	err = classify(err)
	slog.Error(op+" failed", "error", security.DebugMessage(err))
	return errors.New(security.UserMessage(err, true))
}

func classify(err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return security.Classify(err.Error()+" (list aliases with `stm info --aliases`)", err)
	case errors.Is(err, model.ErrTunnelConstruction):
		return security.Classify(err.Error()+" (run `stm doctor` to check binaries and the jump host)", err)
	case errors.Is(err, model.ErrSessionLaunch):
		return security.Classify(err.Error()+" (tunnels stay up; retry or pick another --service)", err)
	case errors.Is(err, model.ErrPersistence):
		return security.Classify(err.Error(), err)
	default:
		return err
	}
}
