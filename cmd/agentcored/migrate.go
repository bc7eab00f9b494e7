package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"agentcore/internal/config"
	"agentcore/internal/store"
)

func newMigrateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the project's task store",
		Long: `store.Open already applies every pending migration on open, so
this command exists for operators who want to run migrations without
bringing up the rest of the process (e.g. before a first deploy).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(flags)
		},
	}
}

func runMigrate(flags *globalFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dataPath := cfg.Storage.Path
	if dataPath == "" {
		dataPath, err = config.DefaultDataPath()
		if err != nil {
			return err
		}
	}

	db, err := store.Open(dataPath)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer db.Close()

	fmt.Printf("migrations applied, store at %s\n", db.Path())
	return nil
}
