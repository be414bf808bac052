package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironkeep/securestore"
)

func newRecordCmd(flags *globalFlags) *cobra.Command {
	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Read and write secure records",
		Long:  `Commands for the secure record store. Record names and values are encrypted before they reach storage.`,
	}

	// withStore opens the store for one command.
	withStore := func(cmd *cobra.Command, fn func(*securestore.Store) error) error {
		return withApp(cmd.Context(), flags, func(a *app) error {
			s, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			return fn(s)
		})
	}

	recordCmd.AddCommand(
		&cobra.Command{
			Use:   "put NAME VALUE",
			Short: "Store a record, replacing any previous value",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, func(s *securestore.Store) error {
					return s.Put(args[0], args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "get NAME",
			Short: "Print a record's value",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, func(s *securestore.Store) error {
					value, ok, err := s.Get(args[0])
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("record %q not found", args[0])
					}
					fmt.Fprintln(cmd.OutOrStdout(), value)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "remove NAME",
			Short: "Delete a record",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd, func(s *securestore.Store) error {
					return s.Remove(args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List record names",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd, func(s *securestore.Store) error {
					names, err := s.Names()
					if err != nil {
						return err
					}
					for _, n := range names {
						fmt.Fprintln(cmd.OutOrStdout(), n)
					}
					return nil
				})
			},
		},
	)
	return recordCmd
}
