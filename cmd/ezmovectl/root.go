package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ezmovectl",
		Short:         "Operator tooling for the EZMove tracking service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTokenCmd(), newMigrateCmd(), newETACmd(), newSimulateCmd())
	return root
}
