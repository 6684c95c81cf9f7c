package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	completeCmd.Flags().StringVar(&completeUser, "user", "", "User id")
	completeCmd.Flags().StringVar(&completeHabit, "habit", "", "Habit or task id")
	completeCmd.Flags().Int64Var(&completeXP, "xp", 0, "Base XP of the habit")
	rootCmd.AddCommand(completeCmd)
}

var (
	completeUser  string
	completeHabit string
	completeXP    int64
)

var completeCmd = &cobra.Command{
	Use:     "complete",
	Short:   "Record a habit completion and award XP",
	Example: `  anuvruddhi complete --user u1 --habit meditation --xp 20`,
	RunE:    runComplete,
}

func runComplete(cmd *cobra.Command, args []string) error {
	user, err := userFlag(completeUser)
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

	res, err := d.Accumulator.Complete(cmd.Context(), user, completeHabit, completeXP, time.Time{})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "+%d XP", res.Award.Granted)
	if res.Event.IsChainReaction {
		fmt.Fprintf(out, " (chain reaction +%d)", res.Award.ChainBonus)
	}
	fmt.Fprintf(out, " → %d XP, %s, level %d\n", res.XPAfter, res.Tier, res.Level)
	if res.Streak != nil {
		fmt.Fprintf(out, "Streak: %d day(s)\n", res.Streak.CurrentDays)
	}

	notes, err := d.Notifier.Check(cmd.Context(), user)
	if err != nil {
		return fmt.Errorf("milestone check: %w", err)
	}
	printMilestones(out, notes)
	return nil
}
