// Package cli defines the referrald command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "referrald",
	Short: "referrald - multi-level referral accrual daemon",
	Long: `referrald ingests trade fee events from the trading platform, splits
each fee between trader cashback, up to three upline commissions and the
treasury, and keeps a double-entry record (journal plus aggregate ledger)
that users claim against. It exposes the referral graph, earnings views and
the claim protocol over HTTP.`,
	Version: "0.1.0",
}

// Execute runs the command tree. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "conf", "", "configuration file path (default referrald.toml if present)")
}
