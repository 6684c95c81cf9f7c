package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	profileCmd.Flags().StringVar(&profileUser, "user", "", "User id")
	profileCmd.Flags().StringVar(&profileName, "name", "", "Display name used in outbound messages")
	rootCmd.AddCommand(profileCmd)
}

var (
	profileUser string
	profileName string
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or set a user's display name",
	Example: `  anuvruddhi profile --user u1
  anuvruddhi profile --user u1 --name "Asha"`,
	RunE: runProfile,
}

func runProfile(cmd *cobra.Command, args []string) error {
	user, err := userFlag(profileUser)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := openDaemon(cmd, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := cmd.Context()
	if cmd.Flags().Changed("name") {
		if err := d.DB.SetDisplayName(ctx, user, strings.TrimSpace(profileName)); err != nil {
			return err
		}
	}
	name, err := d.DB.DisplayName(ctx, user)
	if err != nil {
		return err
	}
	if name == "" {
		name = "(not set)"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Display name for %s: %s\n", user, name)
	return nil
}
