package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ttltree/pkg/ttl"
)

func setCmd() *cobra.Command {
	var keyTTL time.Duration

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a key that expires after the tree's TTL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(st *ttl.Store) error {
				var (
					old   []byte
					found bool
					err   error
				)
				if keyTTL > 0 {
					old, found, err = st.SetWithTTL(cmd.Context(), []byte(args[0]), []byte(args[1]), keyTTL)
				} else {
					old, found, err = st.Set(cmd.Context(), []byte(args[0]), []byte(args[1]))
				}
				if err != nil {
					return err
				}
				if found {
					fmt.Fprintf(cmd.OutOrStdout(), "OK (replaced %q)\n", old)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "OK")
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&keyTTL, "expire", 0, "Per-key time to live (defaults to the tree's TTL)")

	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get the value of a live key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(st *ttl.Store) error {
				value, found, err := st.Get(cmd.Context(), []byte(args[0]))
				if err != nil {
					return err
				}
				if !found {
					fmt.Fprintln(cmd.OutOrStdout(), "(nil)")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", value)
				return nil
			})
		},
	}
}

func delCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "del <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(st *ttl.Store) error {
				old, found, err := st.Del(cmd.Context(), []byte(args[0]))
				if err != nil {
					return err
				}
				if !found {
					fmt.Fprintln(cmd.OutOrStdout(), "(nil)")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", old)
				return nil
			})
		},
	}
}

func ttlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ttl <key>",
		Short: "Show how long a key has left",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(st *ttl.Store) error {
				left, found, err := st.TTL(cmd.Context(), []byte(args[0]))
				if err != nil {
					return err
				}
				if !found {
					fmt.Fprintln(cmd.OutOrStdout(), "-2")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", left.Round(time.Second))
				return nil
			})
		},
	}
}

func keysCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "keys [prefix]",
		Short: "List live keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prefix []byte
			if len(args) == 1 {
				prefix = []byte(args[0])
			}
			return withStore(cmd.Context(), func(st *ttl.Store) error {
				keys, err := st.Keys(cmd.Context(), prefix, limit)
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\n", k)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of keys to list")

	return cmd
}
