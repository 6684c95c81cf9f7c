package engagement

import (
	"fmt"
	"slices"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
)

// Rules is the single configuration table for progression: tier thresholds,
// per-tier multipliers, the chain-reaction bonus, level span and XP
// milestones. Both the engine and any UI rendering progress read it, so the
// numbers cannot drift apart.
//
// All methods are pure and safe for concurrent use.
type Rules struct {
	// TierThresholds[i] is the inclusive lower bound of tier i+1.
	TierThresholds [domain.TierCount - 1]int64 `json:"tier_thresholds"`
	// Multipliers[i] applies to awards earned while in tier i.
	// Higher tiers get smaller multipliers (diminishing returns).
	Multipliers   [domain.TierCount]domain.Multiplier `json:"multipliers"`
	ChainBonus    int64                               `json:"chain_bonus"`
	LevelSpan     int64                               `json:"level_span"`
	TopTierWindow int64                               `json:"top_tier_window"`
	XPMilestones  []int64                             `json:"xp_milestones"`
}

// DefaultRules returns the shipped progression table.
func DefaultRules() Rules {
	return Rules{
		TierThresholds: [domain.TierCount - 1]int64{100, 200},
		Multipliers: [domain.TierCount]domain.Multiplier{
			domain.MultiplierFromFloat(1.0),
			domain.MultiplierFromFloat(0.5),
			domain.MultiplierFromFloat(0.2),
		},
		ChainBonus:    20,
		LevelSpan:     100,
		TopTierWindow: 100,
		XPMilestones:  []int64{100, 200},
	}
}

// Validate checks the table's internal consistency.
func (r Rules) Validate() error {
	prev := int64(0)
	for i, t := range r.TierThresholds {
		if t <= prev {
			return fmt.Errorf("%w: tier threshold %d (%d) must be > %d", domain.ErrInvalidArgument, i, t, prev)
		}
		prev = t
	}
	for i, m := range r.Multipliers {
		if m <= 0 || m > domain.MultiplierScale {
			return fmt.Errorf("%w: multiplier for %s must be in (0,1], got %s", domain.ErrInvalidArgument, domain.Tier(i), m)
		}
		if i > 0 && m > r.Multipliers[i-1] {
			return fmt.Errorf("%w: multiplier for %s exceeds %s", domain.ErrInvalidArgument, domain.Tier(i), domain.Tier(i-1))
		}
	}
	if r.ChainBonus < 0 {
		return fmt.Errorf("%w: chain bonus must be >= 0, got %d", domain.ErrInvalidArgument, r.ChainBonus)
	}
	if r.LevelSpan <= 0 {
		return fmt.Errorf("%w: level span must be > 0, got %d", domain.ErrInvalidArgument, r.LevelSpan)
	}
	if r.TopTierWindow <= 0 {
		return fmt.Errorf("%w: top tier window must be > 0, got %d", domain.ErrInvalidArgument, r.TopTierWindow)
	}
	prev = 0
	for _, m := range r.XPMilestones {
		if m <= prev {
			return fmt.Errorf("%w: xp milestones must be positive and ascending, got %v", domain.ErrInvalidArgument, r.XPMilestones)
		}
		prev = m
	}
	return nil
}

func checkXP(xp int64) error {
	if xp < 0 {
		return fmt.Errorf("%w: xp must be >= 0, got %d", domain.ErrInvalidArgument, xp)
	}
	return nil
}

// ResolveTier maps cumulative XP to a tier. Intervals are closed-open, so a
// value exactly on a threshold belongs to the higher tier.
func (r Rules) ResolveTier(xp int64) (domain.Tier, error) {
	if err := checkXP(xp); err != nil {
		return domain.TierBeginner, err
	}
	tier := domain.TierBeginner
	for i, t := range r.TierThresholds {
		if xp >= t {
			tier = domain.Tier(i + 1)
		}
	}
	return tier, nil
}

// TierBounds returns the lower bound of the tier and its exclusive upper
// bound. The top tier is open-ended and reports upper = -1.
func (r Rules) TierBounds(t domain.Tier) (lower, upper int64) {
	switch t {
	case domain.TierBeginner:
		return 0, r.TierThresholds[0]
	case domain.TierGrowing:
		return r.TierThresholds[0], r.TierThresholds[1]
	case domain.TierMaster:
		return r.TierThresholds[1], -1
	default:
		panic(fmt.Sprintf("engagement: unknown tier %d", int(t)))
	}
}

// ProgressWithinTier returns linear progress (0–100) from the current tier's
// lower bound toward its upper bound. In the open-ended top tier progress
// wraps every TopTierWindow XP so the bar is never permanently full.
func (r Rules) ProgressWithinTier(xp int64) (float64, error) {
	tier, err := r.ResolveTier(xp)
	if err != nil {
		return 0, err
	}
	lower, upper := r.TierBounds(tier)
	if upper < 0 {
		into := (xp - lower) % r.TopTierWindow
		return float64(into) / float64(r.TopTierWindow) * 100.0, nil
	}
	span := upper - lower
	progress := float64(xp-lower) / float64(span) * 100.0
	if progress > 100 {
		progress = 100
	}
	return progress, nil
}

// XPMultiplier returns the award multiplier for the tier xp falls in.
func (r Rules) XPMultiplier(xp int64) (domain.Multiplier, error) {
	tier, err := r.ResolveTier(xp)
	if err != nil {
		return 0, err
	}
	return r.Multipliers[tier], nil
}

// LevelNumber returns floor(xp / LevelSpan) + 1.
func (r Rules) LevelNumber(xp int64) (int, error) {
	if err := checkXP(xp); err != nil {
		return 0, err
	}
	return int(xp/r.LevelSpan) + 1, nil
}

// XPToNextLevel returns XP remaining until the next level.
func (r Rules) XPToNextLevel(xp int64) (int64, error) {
	if err := checkXP(xp); err != nil {
		return 0, err
	}
	return r.LevelSpan - xp%r.LevelSpan, nil
}

// MilestoneDefinitions returns every milestone that can currently exist for
// a user: XP thresholds in ascending order, then one task-certified
// milestone per certifiable task, ordered by task id.
func (r Rules) MilestoneDefinitions(tasks map[string]domain.TaskRecord) []domain.MilestoneDefinition {
	defs := make([]domain.MilestoneDefinition, 0, len(r.XPMilestones)+len(tasks))
	for _, t := range r.XPMilestones {
		defs = append(defs, domain.MilestoneDefinition{
			ID:        domain.XPMilestoneID(t),
			Kind:      domain.MilestoneXPThreshold,
			Threshold: t,
		})
	}

	ids := make([]string, 0, len(tasks))
	for id, rec := range tasks {
		if rec.Certifiable() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		defs = append(defs, domain.MilestoneDefinition{
			ID:     domain.TaskMilestoneID(id),
			Kind:   domain.MilestoneTaskCertified,
			TaskID: id,
		})
	}
	return defs
}

// NextXPMilestone returns the smallest XP milestone above xp, or false when
// every milestone has been reached.
func (r Rules) NextXPMilestone(xp int64) (int64, bool) {
	for _, t := range r.XPMilestones {
		if xp < t {
			return t, true
		}
	}
	return 0, false
}
