package engagement

import (
	"context"
	"fmt"
	"slices"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
)

// XPPerSoulGem is how much XP one soul gem represents.
const XPPerSoulGem = 10

// RareGem is unlocked once cumulative XP reaches Threshold.
type RareGem struct {
	Name      string `json:"name"`
	Threshold int64  `json:"threshold"`
}

// RareGems is the rare gem catalog, ascending by threshold.
var RareGems = []RareGem{
	{Name: "Clarity", Threshold: 100},
	{Name: "Focus", Threshold: 200},
	{Name: "Resolve", Threshold: 300},
}

// Summary is the profile hub view of a user's progression.
type Summary struct {
	UserID          string                   `json:"user_id"`
	CumulativeXP    int64                    `json:"cumulative_xp"`
	Level           int                      `json:"level"`
	XPToNextLevel   int64                    `json:"xp_to_next_level"`
	Tier            domain.Tier              `json:"tier"`
	TierProgressPct float64                  `json:"tier_progress_pct"`
	Multiplier      float64                  `json:"multiplier"`
	NextMilestone   int64                    `json:"next_milestone,omitempty"`
	XPToMilestone   int64                    `json:"xp_to_milestone,omitempty"`
	SoulGems        int64                    `json:"soul_gems"`
	RareGems        []string                 `json:"rare_gems"`
	ShownMilestones []string                 `json:"shown_milestones"`
	Streaks         map[string]domain.Streak `json:"streaks"`
}

// BuildSummary derives the profile view from raw numbers. Pure.
func (r Rules) BuildSummary(userID string, xp int64, streaks map[string]domain.Streak, shown []string) (Summary, error) {
	tier, err := r.ResolveTier(xp)
	if err != nil {
		return Summary{}, err
	}
	pct, _ := r.ProgressWithinTier(xp)
	level, _ := r.LevelNumber(xp)
	toNext, _ := r.XPToNextLevel(xp)

	s := Summary{
		UserID:          userID,
		CumulativeXP:    xp,
		Level:           level,
		XPToNextLevel:   toNext,
		Tier:            tier,
		TierProgressPct: pct,
		Multiplier:      r.Multipliers[tier].Float64(),
		SoulGems:        xp / XPPerSoulGem,
		RareGems:        []string{},
		ShownMilestones: slices.Sorted(slices.Values(shown)),
		Streaks:         streaks,
	}
	if s.ShownMilestones == nil {
		s.ShownMilestones = []string{}
	}
	if s.Streaks == nil {
		s.Streaks = map[string]domain.Streak{}
	}
	if next, ok := r.NextXPMilestone(xp); ok {
		s.NextMilestone = next
		s.XPToMilestone = next - xp
	}
	for _, g := range RareGems {
		if xp >= g.Threshold {
			s.RareGems = append(s.RareGems, g.Name)
		}
	}
	return s, nil
}

// SummaryStore is the read-only slice of the store the summary needs.
type SummaryStore interface {
	domain.XPStore
	domain.MilestoneLedger
	domain.CompletionStore
}

// LoadSummary reads the user's progress and builds the profile view.
func LoadSummary(ctx context.Context, rules Rules, store SummaryStore, userID string) (Summary, error) {
	xp, err := store.CumulativeXP(ctx, userID)
	if err != nil {
		return Summary{}, fmt.Errorf("read xp: %w", err)
	}
	shown, err := store.ShownMilestones(ctx, userID)
	if err != nil {
		return Summary{}, fmt.Errorf("read ledger: %w", err)
	}
	streaks, err := store.HabitStreaks(ctx, userID)
	if err != nil {
		return Summary{}, fmt.Errorf("read streaks: %w", err)
	}
	return rules.BuildSummary(userID, xp, streaks, shown)
}
