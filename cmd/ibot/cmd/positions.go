package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantfold/ibot/journal"
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Show net positions from the journal",
	Long: `Aggregate recorded fills in a SQLite journal into net
positions per symbol.

Example:
  ibot positions -d ./ibot.sqlite`,
	Args: cobra.NoArgs,
	RunE: runPositions,
}

var positionsDBPath string

func init() {
	rootCmd.AddCommand(positionsCmd)
	positionsCmd.Flags().StringVarP(&positionsDBPath, "db", "d", "./ibot.sqlite", "path to SQLite journal DB")
}

func runPositions(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(positionsDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	positions, err := j.Positions()
	if err != nil {
		return fmt.Errorf("query positions: %w", err)
	}
	if len(positions) == 0 {
		fmt.Println("no open positions")
		return nil
	}

	fmt.Printf("%-10s %10s %12s\n", "SYMBOL", "QTY", "AVG PRICE")
	for _, p := range positions {
		fmt.Printf("%-10s %10d %12.2f\n", p.Symbol, p.Quantity, p.AvgPrice)
	}
	return nil
}
