package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ttltree/pkg/ttl"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Keep the tree's sweeper (and observer, in reactive mode) running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := openEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			// Setup signal handling for graceful shutdown
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var errc func() error
			var closeTree func() error
			if cfg.TTL.Reactive {
				tree, err := ttl.OpenTree(ctx, engine, cfg.TTL.Tree, cfg.TTL.Duration, ttlOptions()...)
				if err != nil {
					return err
				}
				errc, closeTree = tree.Err, tree.Close
			} else {
				st, err := ttl.Open(ctx, engine, cfg.TTL.Tree, cfg.TTL.Duration, ttlOptions()...)
				if err != nil {
					return err
				}
				errc, closeTree = st.Err, st.Close
			}
			defer closeTree()

			logger.Info("running", "tree", cfg.TTL.Tree, "reactive", cfg.TTL.Reactive, "pid", os.Getpid())
			ticker := time.NewTicker(cfg.TTL.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					logger.Info("received shutdown signal")
					return errc()
				case <-ticker.C:
					if err := errc(); err != nil {
						return err
					}
				}
			}
		},
	}
}
