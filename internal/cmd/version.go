package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dagucloud/herd/internal/cmn/config"
)

func Version() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display the binary version",
		Long:  `Print the current version of the Herd executable.`,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.Version)
		},
	}
}
