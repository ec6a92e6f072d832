package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/archive-indexer/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Creates the story tables in Postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			store, err := postgres.NewStoryStore(cmd.Context(), postgres.StoreConfig{
				DSN:      e.cfg.DB.DSN,
				MaxConns: e.cfg.DB.MaxConns,
			})
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
