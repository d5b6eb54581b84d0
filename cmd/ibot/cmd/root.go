package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ibot",
	Short: "An automated trading bot for the IBKR desktop gateway",
	Long: `ibot is an automated trading bot that connects to a local
TWS or IB Gateway instance.

It provides:
  - Supervised gateway sessions with automatic reconnection
  - Multi-provider market data with caching and failover
  - Risk-gated order submission with daily loss protection
  - Pluggable strategies fanned out over a shared quote stream
  - Order and fill journaling to CSV or SQLite`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
