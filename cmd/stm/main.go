// Package main is the entry point for the stm binary.
//
// stm brings up chains of autossh tunnels through a jump host and opens
// sessions on top of them: an ssh shell for a user alias, a database client
// for a service alias. Aliases are registered with the interactive wizard.
//
// Usage:
//
//	stm agent --type client         # register a user on a host
//	stm agent --type service        # register a database behind a user alias
//	stm ssh --alias db1bob          # tunnel + shell
//	stm ssh --alias shopdb 3        # tunnels + three client sessions
//	stm info --aliases              # list aliases and tunnel state
//
// The CLI is constructed in internal/cli. This file wires signal handling and
// top-level error reporting.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tunnelmaster/stm/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "stm:", err)
		stop()
		os.Exit(1)
	}
}
