// Package cli implements the peerlink command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	logLevel string
	feed     bool
	feedAddr string
}

// NewRootCommand builds the peerlink command tree.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "peerlink",
		Short:         "exchange text messages over radio, group and tag links",
		Long:          `peerlink pairs two nearby devices over a radio link or a shared group network and keeps every message in a local encrypted history`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to the configured level")
	root.PersistentFlags().BoolVar(&flags.feed, "feed", false, "serve live states and messages over a websocket feed")
	root.PersistentFlags().StringVar(&flags.feedAddr, "feed-addr", "", "feed bind address; defaults to the configured address")

	root.AddCommand(newInfoCommand(flags))
	root.AddCommand(newGroupCommand(flags))
	root.AddCommand(newRadioCommand(flags))
	root.AddCommand(newHistoryCommand(flags))
	return root
}

// Execute runs the command line and exits non-zero on failure.
func Execute(ctx context.Context) {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "peerlink: %v\n", err)
		os.Exit(1)
	}
}
