package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lsmengine/pkg/config"
	"lsmengine/pkg/store"
)

var (
	configPath string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:           "lsmdb",
	Short:         "embedded LSM-tree key-value store",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initEnv(); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		loaded, err := initConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		initLogger(cfg.Logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config (default $LSMDB_CONFIG or config.yaml)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withStore opens the configured store for one offline command and closes it afterwards.
func withStore(fn func(s *store.Store) error, opts ...store.Option) (err error) {
	s, err := store.Open(cfg.DB, opts...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close store: %w", cerr)
		}
	}()
	return fn(s)
}
