/**
 * @description
 * savingsctl is the operator CLI for the savings-service: fee and maturity previews and
 * one-off maturity sweeps against the service database.
 *
 * @dependencies
 * - github.com/spf13/cobra: Command tree and flags.
 * - github.com/joho/godotenv: For loading .env files during local development.
 */
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "savingsctl",
	Short: "Savings-service operator CLI",
	Long:  "Preview deposit fees and maturity dates, and run maturity sweeps against the savings database",
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "savingsctl %s (commit %s)\n", version, commit)
		},
	}
}

func main() {
	_ = godotenv.Load()

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(newQuoteCmd())
	rootCmd.AddCommand(newSweepCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
