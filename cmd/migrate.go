package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrelhq/kestrel/db"
	"github.com/kestrelhq/kestrel/internal/config"
)

// NewMigrateCmd creates the migrate command (factory pattern).
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			if err := db.Migrate(cfg.PostgresURL()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
