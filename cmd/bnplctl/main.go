package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "bnplctl",
		Short:         "Operator commands for the BNPL engine database",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("database-url", "", "postgres URL (defaults to DATABASE_URL)")
	rootCmd.PersistentFlags().Bool("json", false, "print results as JSON")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(rescoreCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(profileCmd())
	return rootCmd
}
