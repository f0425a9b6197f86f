package main

import (
	"github.com/alxbtnk/duck/internal/database"
	"github.com/alxbtnk/duck/internal/migrations"
	"github.com/spf13/cobra"
)

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Open(a.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer closeDB(db)

			applied, err := migrations.NewMigrator(db).Run()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(applied) == 0 {
				success(out, "Schema is up to date")
				return nil
			}
			for _, id := range applied {
				success(out, "Applied %s", id)
			}
			return nil
		},
	}
}
