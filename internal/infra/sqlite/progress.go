package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
)

// ─── Cumulative XP ──────────────────────────────────────────────────────────

// CumulativeXP returns the user's XP total. Unknown users have 0.
func (d *DB) CumulativeXP(ctx context.Context, userID string) (int64, error) {
	var xp int64
	err := d.db.QueryRowContext(ctx,
		`SELECT xp FROM user_progress WHERE user_id = ?`, userID,
	).Scan(&xp)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("read_xp", err)
	}
	return xp, nil
}

// AddXP atomically adds delta to the user's total and returns the new total.
func (d *DB) AddXP(ctx context.Context, userID string, delta int64) (int64, error) {
	if delta < 0 {
		return 0, fmt.Errorf("%w: xp delta must be >= 0, got %d", domain.ErrInvalidArgument, delta)
	}
	var xp int64
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO user_progress (user_id, xp, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET xp = xp + excluded.xp, updated_at = excluded.updated_at
		 RETURNING xp`,
		userID, delta, time.Now().Unix(),
	).Scan(&xp)
	if err != nil {
		return 0, storeErr("add_xp", err)
	}
	return xp, nil
}

// ─── Last Completion ────────────────────────────────────────────────────────

// LastCompletion returns the id of the most recently completed habit or task.
func (d *DB) LastCompletion(ctx context.Context, userID string) (string, error) {
	var id string
	err := d.db.QueryRowContext(ctx,
		`SELECT last_completed FROM user_progress WHERE user_id = ?`, userID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storeErr("read_last_completion", err)
	}
	return id, nil
}

// SetLastCompletion records habitID as the most recent completion.
func (d *DB) SetLastCompletion(ctx context.Context, userID, habitID string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO user_progress (user_id, last_completed, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET last_completed = excluded.last_completed, updated_at = excluded.updated_at`,
		userID, habitID, time.Now().Unix(),
	)
	if err != nil {
		return storeErr("write_last_completion", err)
	}
	return nil
}

// ─── Milestone Ledger ───────────────────────────────────────────────────────

// ShownMilestones returns every milestone id already announced to the user,
// in the order they were marked.
func (d *DB) ShownMilestones(ctx context.Context, userID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT milestone_id FROM shown_milestones WHERE user_id = ?
		 ORDER BY shown_at, milestone_id`,
		userID,
	)
	if err != nil {
		return nil, storeErr("read_ledger", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("read_ledger", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("read_ledger", err)
	}
	return ids, nil
}

// SetShownMilestone marks a milestone as announced. Idempotent.
func (d *DB) SetShownMilestone(ctx context.Context, userID, milestoneID string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO shown_milestones (user_id, milestone_id, shown_at) VALUES (?, ?, ?)`,
		userID, milestoneID, time.Now().UnixNano(),
	)
	if err != nil {
		return storeErr("write_marker", err)
	}
	return nil
}

// ─── Task Records ───────────────────────────────────────────────────────────

// TaskRecords returns the user's tasks keyed by task id.
func (d *DB) TaskRecords(ctx context.Context, userID string) (map[string]domain.TaskRecord, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT task_id, name, completed, certified, completed_date
		 FROM task_records WHERE user_id = ?`,
		userID,
	)
	if err != nil {
		return nil, storeErr("read_tasks", err)
	}
	defer rows.Close()

	records := make(map[string]domain.TaskRecord)
	for rows.Next() {
		var id string
		var r domain.TaskRecord
		if err := rows.Scan(&id, &r.Name, &r.Completed, &r.Certified, &r.CompletedDate); err != nil {
			return nil, storeErr("read_tasks", err)
		}
		records[id] = r
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("read_tasks", err)
	}
	return records, nil
}

// PutTaskRecord inserts or replaces one task record.
func (d *DB) PutTaskRecord(ctx context.Context, userID, taskID string, rec domain.TaskRecord) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO task_records (user_id, task_id, name, completed, certified, completed_date)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, task_id) DO UPDATE SET
			name = excluded.name,
			completed = excluded.completed,
			certified = excluded.certified,
			completed_date = excluded.completed_date`,
		userID, taskID, rec.Name, rec.Completed, rec.Certified, rec.CompletedDate,
	)
	if err != nil {
		return storeErr("write_task", err)
	}
	return nil
}

// ─── Habit Streaks ──────────────────────────────────────────────────────────

// HabitStreaks returns the user's streaks keyed by habit id.
func (d *DB) HabitStreaks(ctx context.Context, userID string) (map[string]domain.Streak, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT habit_id, current_days, longest_days, last_date
		 FROM habit_streaks WHERE user_id = ?`,
		userID,
	)
	if err != nil {
		return nil, storeErr("read_streaks", err)
	}
	defer rows.Close()

	streaks := make(map[string]domain.Streak)
	for rows.Next() {
		var s domain.Streak
		var last int64
		if err := rows.Scan(&s.HabitID, &s.CurrentDays, &s.LongestDays, &last); err != nil {
			return nil, storeErr("read_streaks", err)
		}
		s.LastDate = timeOrZero(last)
		streaks[s.HabitID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("read_streaks", err)
	}
	return streaks, nil
}

// PutHabitStreak inserts or replaces one habit streak.
func (d *DB) PutHabitStreak(ctx context.Context, userID string, s domain.Streak) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO habit_streaks (user_id, habit_id, current_days, longest_days, last_date)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, habit_id) DO UPDATE SET
			current_days = excluded.current_days,
			longest_days = excluded.longest_days,
			last_date = excluded.last_date`,
		userID, s.HabitID, s.CurrentDays, s.LongestDays, unixOrZero(s.LastDate),
	)
	if err != nil {
		return storeErr("write_streak", err)
	}
	return nil
}
