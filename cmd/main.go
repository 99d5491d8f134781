package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dagucloud/herd/internal/cmd"
	"github.com/dagucloud/herd/internal/cmn/config"
)

var rootCmd = &cobra.Command{
	Use:   config.AppSlug,
	Short: "Herd runs scripted commands across a fleet of hosts",
	Long: `Herd runs scripted commands across a fleet of hosts.

A plan assigns scripts to roles and roles to hosts. Each run walks through
pre-setup, setup, run and cleanup, with hosts coordinating through named
signals and sharing a common state.
`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(cmd.Run())
	rootCmd.AddCommand(cmd.Validate())
	rootCmd.AddCommand(cmd.Version())

	config.Version = version
}

var version = "0.0.0"
