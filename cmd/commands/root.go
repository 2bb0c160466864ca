package commands

// Root command: serve runs the platform, the rest are operator tools.

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cryptobotics",
	Short: "CryptoBotics - hosted blockchain data bots for Discord communities",
	Long: `CryptoBotics schedules per-bot blockchain reads (prices, supplies, balances,
custom contract calls), stores the latest values and streams them to dashboards.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(rpcCmd)
	rootCmd.AddCommand(vaultCmd)
}
