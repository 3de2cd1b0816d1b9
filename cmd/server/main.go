package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Coin-metered AI gateway",
	Long: `server fronts a chain of LLM providers for the career discovery chat and
resume feedback features, and meters successful results against a coin ledger.

Run "server serve" to start the HTTP gateway, or "server coins" to inspect
and adjust balances on the configured ledger store.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(coinsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
