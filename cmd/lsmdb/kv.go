package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"lsmengine/pkg/dberrors"
	"lsmengine/pkg/store"
)

var (
	getSeq    uint64
	scanStart string
	scanEnd   string
	scanLimit int
)

func init() {
	getCmd.Flags().Uint64Var(&getSeq, "seq", 0, "read as of this sequence number (0 = latest)")
	scanCmd.Flags().StringVar(&scanStart, "start", "", "first key (inclusive)")
	scanCmd.Flags().StringVar(&scanEnd, "end", "", "last key (exclusive, empty = unbounded)")
	scanCmd.Flags().IntVar(&scanLimit, "limit", 0, "maximum number of keys (0 = no limit)")

	rootCmd.AddCommand(getCmd, putCmd, deleteCmd, scanCmd)
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "print the value of a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			var (
				v     []byte
				found bool
				err   error
			)
			if getSeq > 0 {
				v, found, err = s.GetAt([]byte(args[0]), getSeq)
			} else {
				v, found, err = s.Get([]byte(args[0]))
			}
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%q: %w", args[0], dberrors.ErrNotFound)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(v))
			return nil
		})
	},
}

var putCmd = &cobra.Command{
	Use:   "put <key> <value>",
	Short: "store a value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			if err := s.PutString(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "seq", s.LastSeq())
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "write a tombstone for a key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.Store) error {
			if err := s.DeleteString(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "seq", s.LastSeq())
			return nil
		})
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "list live keys in [start, end)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var end []byte
		if scanEnd != "" {
			end = []byte(scanEnd)
		}
		return withStore(func(s *store.Store) error {
			kvs, err := s.Scan([]byte(scanStart), end, scanLimit)
			if errors.Is(err, dberrors.ErrInvalidArgument) {
				return fmt.Errorf("start %q is after end %q: %w", scanStart, scanEnd, err)
			}
			if err != nil {
				return err
			}
			for _, kv := range kvs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", kv.Key, strconv.Quote(string(kv.Value)))
			}
			return nil
		})
	},
}
