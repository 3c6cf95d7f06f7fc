// Command dev builds, tests and runs fanmon on a development machine.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mklimuk/fanmon/cmd/dev/cmd"
	"github.com/mklimuk/fanmon/logging"
)

func newRoot() *cobra.Command {
	var debug bool
	root := &cobra.Command{
		Use:           "dev",
		Short:         "fanmon development tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logging.Setup(logging.Options{Verbose: debug, Prefix: "dev"})
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging")
	root.AddCommand(
		cmd.BuildCmd(),
		cmd.TestCmd(),
		cmd.LintCmd(),
		cmd.IntegrationTestCmd(),
		cmd.SimulateCmd(),
	)
	return root
}

func main() {
	if err := newRoot().Execute(); err != nil {
		slog.Error("dev task failed", "error", err)
		os.Exit(1)
	}
}
