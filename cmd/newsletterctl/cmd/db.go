package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unclebandit/newsletter-backend/internal/db"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			conn, err := db.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := db.Migrate(cmd.Context(), conn); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var seed db.SeedOptions
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a published newsletter and sample subscribers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			conn, err := db.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			res, err := db.Seed(cmd.Context(), conn, seed)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().IntVarP(&seed.Subscribers, "subscribers", "n", 25, "number of subscribers to create")
	cmd.Flags().StringSliceVar(&seed.Sources, "sources", []string{"footer", "blog"}, "signup sources to rotate through")
	cmd.Flags().StringVar(&seed.Domain, "domain", "example.com", "email domain for generated subscribers")
	return cmd
}
