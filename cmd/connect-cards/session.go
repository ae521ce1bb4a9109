package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or discard the saved scan session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the unfinished scan session, if any",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.sessionStore()
			if err != nil {
				return err
			}
			s, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			if s == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No unfinished scan session.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues(sessionPairs(s)))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "discard",
		Short: "Delete the unfinished scan session",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.sessionStore()
			if err != nil {
				return err
			}
			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Scan session discarded.")
			return nil
		},
	})
	return cmd
}
