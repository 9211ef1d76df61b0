package main

import (
	"fmt"

	"github.com/kiranshivaraju/mediagen/internal/store"
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	var statusOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !statusOnly {
				if err := store.RunMigrations(a.cfg.Database.URL, a.migrationsDir); err != nil {
					return err
				}
			}
			version, dirty, err := store.MigrationVersion(a.cfg.Database.URL, a.migrationsDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version=%d dirty=%t\n", version, dirty)
			return nil
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "Only print the current schema version")
	return cmd
}
