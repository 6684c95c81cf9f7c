package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/anuvruddhi/anuvruddhi/internal/app/engagement"
)

func init() {
	progressCmd.Flags().StringVar(&progressUser, "user", "", "User id")
	rootCmd.AddCommand(progressCmd)
}

var progressUser string

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Show a user's XP, tier, level and streaks",
	RunE:  runProgress,
}

func runProgress(cmd *cobra.Command, args []string) error {
	user, err := userFlag(progressUser)
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

	summary, err := engagement.LoadSummary(cmd.Context(), d.Accumulator.Rules(), d.Store, user)
	if err != nil {
		return err
	}
	return printSummary(cmd.OutOrStdout(), summary)
}

func printSummary(out io.Writer, s engagement.Summary) error {
	fmt.Fprintf(out, "User:       %s\n", s.UserID)
	fmt.Fprintf(out, "XP:         %d (level %d, %d to next)\n", s.CumulativeXP, s.Level, s.XPToNextLevel)
	fmt.Fprintf(out, "Tier:       %s  %s\n", s.Tier, renderBar(s.TierProgressPct))
	fmt.Fprintf(out, "Multiplier: x%g\n", s.Multiplier)
	if s.NextMilestone > 0 {
		fmt.Fprintf(out, "Next:       %d XP milestone (%d to go)\n", s.NextMilestone, s.XPToMilestone)
	}
	fmt.Fprintf(out, "Soul gems:  %d\n", s.SoulGems)
	if len(s.RareGems) > 0 {
		fmt.Fprintf(out, "Rare gems:  %s\n", strings.Join(s.RareGems, ", "))
	}

	if len(s.Streaks) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HABIT\tSTREAK\tLONGEST\tSTAGE\tLAST")
	for _, id := range slices.Sorted(maps.Keys(s.Streaks)) {
		st := s.Streaks[id]
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
			id, st.CurrentDays, st.LongestDays,
			engagement.GrowthStage(st.CurrentDays),
			st.LastDate.Format("2006-01-02"),
		)
	}
	return w.Flush()
}

// ─── Progress Bar ───────────────────────────────────────────────────────────
// Tier progress as [=========>..........]  45%

const barWidth = 20 // Characters for the progress bar

func renderBar(pct float64) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	empty := barWidth - filled

	var bar string
	if filled == barWidth {
		bar = strings.Repeat("=", filled)
	} else if filled > 0 {
		bar = strings.Repeat("=", filled-1) + ">" + strings.Repeat(".", empty)
	} else {
		bar = strings.Repeat(".", barWidth)
	}
	return fmt.Sprintf("[%s] %3.0f%%", bar, pct)
}
