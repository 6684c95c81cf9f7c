// Package cli implements the Anuvruddhi command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "anuvruddhi",
	Short: "Anuvruddhi: XP, tiers and milestones for daily habits",
	Long: `Anuvruddhi tracks habit and task completions, awards XP with tier
multipliers and chain-reaction bonuses, and announces each milestone once.

Run 'anuvruddhi serve' for the HTTP API, or record completions directly
from the command line.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $ANUVRUDDHI_HOME/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides config)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
