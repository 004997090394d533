package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"ttltree/config"
	"ttltree/pkg/ttl"
	"ttltree/storage"
)

var (
	configPath string
	dataDir    string
	treeName   string
	treeTTL    time.Duration

	cfg       *config.Config
	logger    hclog.Logger
	logCloser io.Closer
)

func main() {
	var rootCmd = &cobra.Command{
		Use:          "ttltree",
		Short:        "ttltree - TTL expiration for Badger trees",
		Long:         `ttltree manages key-value trees whose keys expire after a fixed time-to-live`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				_ = logCloser.Close()
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides storage.data_dir)")
	rootCmd.PersistentFlags().StringVar(&treeName, "tree", "", "Tree name (overrides ttl.tree)")
	rootCmd.PersistentFlags().DurationVar(&treeTTL, "ttl", 0, "Default time to live (overrides ttl.duration)")

	rootCmd.AddCommand(setCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(delCmd())
	rootCmd.AddCommand(ttlCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(runCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command) error {
	var err error
	cfg, err = config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	// Override config with command line flags
	if cmd.Flags().Changed("data-dir") {
		cfg.Storage.DataDir = dataDir
	}
	if cmd.Flags().Changed("tree") {
		cfg.TTL.Tree = treeName
	}
	if cmd.Flags().Changed("ttl") {
		if treeTTL <= 0 {
			return ttl.ErrInvalidTTL
		}
		cfg.TTL.Duration = treeTTL
	}

	logger, logCloser, err = config.NewLogger(cfg.Logging)
	return err
}

func openEngine() (*storage.BadgerEngine, error) {
	return storage.NewBadgerEngine(storage.Options{
		DataDir:    cfg.Storage.DataDir,
		InMemory:   cfg.Storage.InMemory,
		GCInterval: cfg.Storage.GCPeriod(),
		Logger:     logger,
	})
}

func ttlOptions() []ttl.Option {
	return []ttl.Option{
		ttl.WithLogger(logger),
		ttl.WithSweepInterval(cfg.TTL.SweepInterval),
		ttl.WithSweepBatch(cfg.TTL.SweepBatch),
		ttl.WithReconcile(cfg.TTL.ReconcileOnOpen),
	}
}

// withStore opens the configured tree in explicit mode for the duration
// of fn.
func withStore(ctx context.Context, fn func(st *ttl.Store) error) error {
	engine, err := openEngine()
	if err != nil {
		return err
	}
	defer engine.Close()

	st, err := ttl.Open(ctx, engine, cfg.TTL.Tree, cfg.TTL.Duration, ttlOptions()...)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(st)
}
