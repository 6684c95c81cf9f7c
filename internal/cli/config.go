package cli

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/anuvruddhi/anuvruddhi/internal/daemon"
)

func init() {
	configCmd.Flags().BoolVar(&configInit, "init", false, "Write the effective config to the default config path")
	rootCmd.AddCommand(configCmd)
}

var configInit bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as TOML",
	RunE:  runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if configInit {
		path := daemon.ConfigPath()
		if err := daemon.SaveConfig(cfg, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	}
	return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
}
