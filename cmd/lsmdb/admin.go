package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lsmengine/pkg/store"
)

func init() {
	rootCmd.AddCommand(compactCmd, dumpCmd)
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "flush memtables and compact until no level is over capacity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			if err := s.Compact(cmd.Context()); err != nil {
				return err
			}
			desc, err := s.Describe()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), desc)
			return nil
		})
	},
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "print the tree shape and the last sequence number",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			desc, err := s.Describe()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "path:     %s\n", cfg.Persistence.RootPath)
			fmt.Fprintf(cmd.OutOrStdout(), "last seq: %d\n", s.LastSeq())
			fmt.Fprintf(cmd.OutOrStdout(), "tree:     %s\n", desc)
			return nil
		})
	},
}
