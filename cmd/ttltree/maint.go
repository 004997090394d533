package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ttltree/pkg/ttl"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Evict every expired key once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(st *ttl.Store) error {
				n, err := st.Sweeper().Sweep(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "swept %d keys\n", n)
				return nil
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	var adopt bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check and repair the tree's expiry indices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Reconcile explicitly below so the report is printed.
			cfg.TTL.ReconcileOnOpen = false
			return withStore(cmd.Context(), func(st *ttl.Store) error {
				var adoptTTL = st.DefaultTTL()
				if !adopt {
					adoptTTL = 0
				}
				rep, err := st.Index().Reconcile(cmd.Context(), adoptTTL)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "forward rows:    %d\n", rep.Forward)
				fmt.Fprintf(out, "reverse rows:    %d\n", rep.Reverse)
				fmt.Fprintf(out, "orphan reverse:  %d\n", rep.OrphanReverse)
				fmt.Fprintf(out, "missing reverse: %d\n", rep.MissingReverse)
				fmt.Fprintf(out, "dangling:        %d\n", rep.Dangling)
				fmt.Fprintf(out, "malformed:       %d\n", rep.Malformed)
				fmt.Fprintf(out, "adopted:         %d\n", rep.Adopted)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&adopt, "adopt", false, "Give keys without a deadline the tree's TTL")

	return cmd
}
