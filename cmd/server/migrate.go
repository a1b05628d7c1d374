package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/campaignops/flowengine/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close(db)

		if err := database.Migrate(db); err != nil {
			return err
		}
		color.New(color.FgGreen, color.Bold).Fprintf(cmd.OutOrStdout(), "✓ schema up to date (%s)\n", cfg.Database.Driver)
		return nil
	},
}
