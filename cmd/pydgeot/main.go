// Command pydgeot is the CLI front end for the incremental build engine:
// it wires pydgeot.App to the create, build, watch, reset, clean,
// commands, processors, and plugins subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootDir string

func main() {
	root := &cobra.Command{
		Use:           "pydgeot",
		Short:         "Incremental static-content build engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&rootDir, "root", ".", "application root directory")

	root.AddCommand(
		newCreateCommand(),
		newBuildCommand(),
		newWatchCommand(),
		newResetCommand(),
		newCleanCommand(),
		newCommandsCommand(root),
		newProcessorsCommand(),
		newPluginsCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, formatCLIError(err))
		os.Exit(1)
	}
}
