package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anuvruddhi/anuvruddhi/internal/daemon"
	"github.com/anuvruddhi/anuvruddhi/internal/domain"
	"github.com/anuvruddhi/anuvruddhi/internal/logger"
)

// loadConfig reads the config selected by --config.
func loadConfig() (daemon.Config, error) {
	return daemon.LoadConfig(configPath)
}

// openDaemon loads config, builds the logger and wires a Daemon.
// The caller must Close it.
func openDaemon(cmd *cobra.Command, cfg daemon.Config) (*daemon.Daemon, error) {
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	log, err := logger.New(cfg.Logging.Mode, level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return daemon.NewWithConfig(cmd.Context(), cfg, log)
}

// userFlag returns the trimmed --user value or an error when it is empty.
func userFlag(user string) (string, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", fmt.Errorf("%w: --user is required", domain.ErrInvalidArgument)
	}
	return user, nil
}

// printMilestones reports notifications raised by a one-shot check.
func printMilestones(w io.Writer, notes []domain.MilestoneNotification) {
	for _, n := range notes {
		fmt.Fprintf(w, "%s %s\n", n.Title(), n.Body())
	}
}
