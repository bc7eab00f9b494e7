// Command agentcored is the orchestration core's process entrypoint:
// it loads one project's configuration, brings up every wired
// subsystem through internal/server, and blocks until interrupted.
// Grounded on the teacher's internal/cli root command (a cobra root
// with PersistentPreRunE loading config/logger before every subcommand)
// and its serve command (build server, Start, wait on os.Signal,
// graceful Stop), narrowed to the commands this core needs: serve,
// migrate and agents list.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	projectID  string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "agentcored",
		Short:         "agentcored runs the agent orchestration core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file path (default ~/.agentcore/config.yaml)")
	root.PersistentFlags().StringVar(&flags.projectID, "project-id", "", "project id this process hosts (default \"default\")")

	root.AddCommand(newServeCmd(&flags))
	root.AddCommand(newMigrateCmd(&flags))
	root.AddCommand(newAgentsCmd(&flags))
	return root
}
