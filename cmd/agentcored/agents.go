package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"agentcore/internal/config"
)

func newAgentsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect this project's configured agents",
	}
	cmd.AddCommand(newAgentsListCmd(flags))
	return cmd
}

func newAgentsListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the agents defined in this project's config",
		Long: `Lists every agent in the loaded config, the way it was defined,
not the live registry — use this before "serve" to sanity-check a
config file, or run it against a different --config than the one a
running agentcored process uses.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentsList(flags)
		},
	}
}

func runAgentsList(flags *globalFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	names := make([]string, 0, len(cfg.Agents))
	for name := range cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENABLED\tPROVIDER\tMODEL\tTOOLS")
	for _, name := range names {
		a := cfg.Agents[name]
		provider := a.Provider
		if provider == "" {
			provider = "(default)"
		}
		fmt.Fprintf(w, "%s\t%v\t%s\t%s\t%d\n", name, a.IsEnabled(), provider, a.Model, len(a.Tools))
	}
	return w.Flush()
}
