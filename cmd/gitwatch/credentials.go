package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newCredentialsCommand(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Inspect and extend the token pool",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pooled credentials by fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			st, err := openStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.close()

			creds, err := st.pool.Stats(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFINGERPRINT\tACTIVE\tUSES\tREMAINING\tRESETS")
			for _, c := range creds {
				reset := "-"
				if c.RateLimitResetAt.Unix() > 0 {
					reset = c.RateLimitResetAt.Local().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%d\t%s\t%t\t%d\t%d\t%s\n",
					c.ID, c.Label(), c.IsActive, c.UsageCount, c.RateLimitRemaining, reset)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <token>",
		Short: "Register a token in the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := openStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.close()

			return st.pool.Add(ctx, args[0])
		},
	})

	return cmd
}
