package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/citro80/app"
	"github.com/kilianp07/citro80/core/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st store.Store) error {
			if err := st.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		})
	},
}

var revokeSuperuser bool

var superuserCmd = &cobra.Command{
	Use:   "createsuperuser <email>",
	Short: "Grant admin rights to a user, creating it when needed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st store.Store) error {
			u, err := st.GetOrCreateUser(ctx, args[0])
			if err != nil {
				return err
			}
			if err := st.SetSuperuser(ctx, u.ID, !revokeSuperuser); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s superuser=%t\n", u.Email, !revokeSuperuser)
			return nil
		})
	},
}

func withStore(fn func(ctx context.Context, st store.Store) error) error {
	ctx, stop := signalContext()
	defer stop()
	st, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(ctx, st)
}

func init() {
	superuserCmd.Flags().BoolVar(&revokeSuperuser, "revoke", false, "remove admin rights instead")
	rootCmd.AddCommand(migrateCmd, superuserCmd)
}
