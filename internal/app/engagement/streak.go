// Package engagement implements the progression engine: the tier/level
// resolver, the XP accumulator, the milestone dedup notifier and the
// per-habit streak counters that feed the habit garden.
package engagement

import (
	"context"
	"fmt"
	"time"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
)

// StreakService manages per-habit consecutive-day streaks.
// A habit completed on consecutive calendar days extends its streak; a
// second completion on the same day is a no-op; a gap of more than one day
// starts the streak over at 1. The longest streak is kept.
type StreakService struct {
	store domain.CompletionStore
}

// NewStreakService creates a streak service.
func NewStreakService(store domain.CompletionStore) *StreakService {
	return &StreakService{store: store}
}

// Streaks returns all habit streaks for a user.
func (s *StreakService) Streaks(ctx context.Context, userID string) (map[string]domain.Streak, error) {
	return s.store.HabitStreaks(ctx, userID)
}

// RecordDay records that habitID was completed on day and returns the
// updated streak.
func (s *StreakService) RecordDay(ctx context.Context, userID, habitID string, day time.Time) (domain.Streak, error) {
	all, err := s.store.HabitStreaks(ctx, userID)
	if err != nil {
		return domain.Streak{}, err
	}
	streak, ok := all[habitID]
	if !ok {
		streak = domain.Streak{HabitID: habitID}
	}

	next, changed := advanceStreak(streak, day)
	if !changed {
		return streak, nil
	}
	if err := s.store.PutHabitStreak(ctx, userID, next); err != nil {
		return streak, fmt.Errorf("save streak %s: %w", habitID, err)
	}
	return next, nil
}

// advanceStreak applies one completion on day. Returns false when the day
// was already counted.
func advanceStreak(streak domain.Streak, day time.Time) (domain.Streak, bool) {
	today := day.UTC().Truncate(24 * time.Hour)

	if !streak.LastDate.IsZero() {
		last := streak.LastDate.UTC().Truncate(24 * time.Hour)
		if !today.After(last) {
			return streak, false
		}
		if today.Sub(last) <= 24*time.Hour {
			streak.CurrentDays++
		} else {
			streak.CurrentDays = 1
		}
	} else {
		streak.CurrentDays = 1
	}

	streak.LastDate = today
	if streak.CurrentDays > streak.LongestDays {
		streak.LongestDays = streak.CurrentDays
	}
	return streak, true
}

// GrowthStage maps a streak length to the habit garden's plant stage.
func GrowthStage(days int) string {
	switch {
	case days >= 7:
		return "blooming"
	case days >= 3:
		return "growing"
	case days >= 1:
		return "sprouting"
	default:
		return "seed"
	}
}
