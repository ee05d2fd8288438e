package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/finmetrics/grounding/internal/database"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Create or upgrade the fact store schema to the latest version
and print the resulting version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			v, err := database.Version(engine.DB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database %s at version %d\n", cfg.Database.Path, v)
			return nil
		},
	}
}
