package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	milestonesCmd.Flags().StringVar(&milestonesUser, "user", "", "User id")
	rootCmd.AddCommand(milestonesCmd)
}

var milestonesUser string

var milestonesCmd = &cobra.Command{
	Use:   "milestones",
	Short: "List milestones and their notification state",
	RunE:  runMilestones,
}

func runMilestones(cmd *cobra.Command, args []string) error {
	user, err := userFlag(milestonesUser)
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
	tasks, err := d.Store.TaskRecords(ctx, user)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tTARGET\tSTATE")
	for _, def := range d.Accumulator.Rules().MilestoneDefinitions(tasks) {
		state, err := d.Notifier.State(ctx, user, def)
		if err != nil {
			return err
		}
		target := fmt.Sprintf("%d XP", def.Threshold)
		if def.TaskID != "" {
			target = tasks[def.TaskID].Name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", def.ID, def.Kind, target, state)
	}
	return w.Flush()
}
