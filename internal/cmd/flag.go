package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

type commandLineFlag struct {
	name, shorthand, defaultValue, usage string
	isBool                               bool
	// isArray flags may be repeated.
	isArray  bool
	required bool
}

var (
	configFlag = commandLineFlag{
		name:      "config",
		shorthand: "c",
		usage:     "config file (default is $XDG_CONFIG_HOME/herd/config.yaml)",
	}
	quietFlag = commandLineFlag{
		name:      "quiet",
		shorthand: "q",
		usage:     "suppress log output",
		isBool:    true,
	}
	stateFlag = commandLineFlag{
		name:      "state",
		shorthand: "s",
		usage:     "initial state value as key=value, may be repeated",
		isArray:   true,
	}
	skipStageFlag = commandLineFlag{
		name:    "skip-stage",
		usage:   "stage to skip (pre-setup, setup, run, cleanup), may be repeated",
		isArray: true,
	}
	workersFlag = commandLineFlag{
		name:      "workers",
		shorthand: "w",
		usage:     "size of the worker pool (overrides the config)",
	}
	debugAddrFlag = commandLineFlag{
		name:  "debug-addr",
		usage: "serve the debug API and metrics on this address, e.g. localhost:9090",
	}
	checkExitCodeFlag = commandLineFlag{
		name:   "check-exit-code",
		usage:  "abort when a shell command exits non-zero",
		isBool: true,
	}
)

var commonFlags = []commandLineFlag{configFlag, quietFlag}

func initFlags(cmd *cobra.Command, additionalFlags ...commandLineFlag) {
	flags := append(append([]commandLineFlag{}, commonFlags...), additionalFlags...)
	for _, flag := range flags {
		switch {
		case flag.isBool:
			cmd.Flags().BoolP(flag.name, flag.shorthand, false, flag.usage)
		case flag.isArray:
			cmd.Flags().StringArrayP(flag.name, flag.shorthand, nil, flag.usage)
		default:
			cmd.Flags().StringP(flag.name, flag.shorthand, flag.defaultValue, flag.usage)
		}
		if flag.required {
			if err := cmd.MarkFlagRequired(flag.name); err != nil {
				fmt.Printf("failed to mark flag %s as required: %v\n", flag.name, err)
			}
		}
	}
}
