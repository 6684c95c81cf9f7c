package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
)

func init() {
	taskCmd.Flags().StringVar(&taskUser, "user", "", "User id")
	taskCmd.Flags().StringVar(&taskID, "id", "", "Task id")
	taskCmd.Flags().StringVar(&taskName, "name", "", "Task name")
	taskCmd.Flags().BoolVar(&taskCompleted, "completed", false, "Mark the task completed")
	taskCmd.Flags().BoolVar(&taskCertified, "certified", false, "Mark the task certified")
	taskCmd.Flags().StringVar(&taskDate, "date", "", "Completion date YYYY-MM-DD (default today)")
	rootCmd.AddCommand(taskCmd)
}

var (
	taskUser      string
	taskID        string
	taskName      string
	taskCompleted bool
	taskCertified bool
	taskDate      string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create or update a task record",
	Long: `Create or update a task record. A task that is both completed and
certified unlocks its certificate milestone.`,
	Example: `  anuvruddhi task --user u1 --id t1 --name "Read a book" --completed --certified`,
	RunE:    runTask,
}

func runTask(cmd *cobra.Command, args []string) error {
	user, err := userFlag(taskUser)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(taskID)
	if id == "" {
		return fmt.Errorf("%w: --id is required", domain.ErrInvalidArgument)
	}
	rec := domain.TaskRecord{
		Name:          taskName,
		Completed:     taskCompleted,
		Certified:     taskCertified,
		CompletedDate: taskDate,
	}
	if rec.Completed && rec.CompletedDate == "" {
		rec.CompletedDate = time.Now().Format(time.DateOnly)
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

	if err := d.Store.PutTaskRecord(cmd.Context(), user, id, rec); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Saved task %s (completed=%t certified=%t)\n", id, rec.Completed, rec.Certified)

	notes, err := d.Notifier.Check(cmd.Context(), user)
	if err != nil {
		return fmt.Errorf("milestone check: %w", err)
	}
	printMilestones(out, notes)
	return nil
}
