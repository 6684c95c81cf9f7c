package engagement

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
	"github.com/anuvruddhi/anuvruddhi/internal/infra/metrics"
	"github.com/anuvruddhi/anuvruddhi/internal/logger"
)

// ComputeAward converts a completion into granted XP:
//
//	granted = roundHalfUp(baseXP × multiplier(before)) + (chain ? ChainBonus : 0)
//
// It is pure and never touches the store.
func (r Rules) ComputeAward(baseXP, xpBefore int64, isChainReaction bool) (domain.AwardResult, error) {
	if baseXP < 0 {
		return domain.AwardResult{}, fmt.Errorf("%w: base xp must be >= 0, got %d", domain.ErrInvalidArgument, baseXP)
	}
	if baseXP > domain.MaxApplyXP {
		return domain.AwardResult{}, fmt.Errorf("%w: base xp %d exceeds %d", domain.ErrInvalidArgument, baseXP, domain.MaxApplyXP)
	}
	mult, err := r.XPMultiplier(xpBefore)
	if err != nil {
		return domain.AwardResult{}, err
	}

	res := domain.AwardResult{
		Discounted:        mult.Apply(baseXP),
		MultiplierApplied: mult,
	}
	if isChainReaction {
		res.ChainBonus = r.ChainBonus
	}
	if res.Discounted > math.MaxInt64-res.ChainBonus {
		return domain.AwardResult{}, fmt.Errorf("%w: award overflows", domain.ErrInvalidArgument)
	}
	res.Granted = res.Discounted + res.ChainBonus
	return res, nil
}

// IsChainReaction reports whether completing current right after previous
// earns the chain bonus: only a different habit/task counts. The very first
// completion (previous == "") does not.
func IsChainReaction(previous, current string) bool {
	return previous != "" && previous != current
}

// AccumulatorStore is the slice of the progress store the accumulator needs.
type AccumulatorStore interface {
	domain.XPStore
	domain.CompletionStore
}

// Accumulator records completions: it derives the chain-reaction flag from
// the user's last completed id, computes the award and persists it.
type Accumulator struct {
	rules   Rules
	store   AccumulatorStore
	streaks *StreakService
	log     *logger.Logger
	now     func() time.Time

	locks userLocks
}

// NewAccumulator creates an accumulator over the given store.
func NewAccumulator(rules Rules, store AccumulatorStore, log *logger.Logger) *Accumulator {
	return &Accumulator{
		rules:   rules,
		store:   store,
		streaks: NewStreakService(store),
		log:     log.With("service", "Accumulator"),
		now:     time.Now,
	}
}

// Rules returns the progression table in use.
func (a *Accumulator) Rules() Rules { return a.rules }

// Complete records one completion of habitID worth baseXP.
//
// If the XP write fails nothing else is mutated and the error wraps
// domain.ErrStoreUnavailable, so the caller can keep its optimistic state
// and ask the user to retry. Failures after the XP write (last-completed id,
// streak) are logged and do not fail the call.
//
// Completions for the same user are serialised, so each one sees the XP and
// last-completed id left by the one before it.
func (a *Accumulator) Complete(ctx context.Context, userID, habitID string, baseXP int64, at time.Time) (domain.CompletionResult, error) {
	var res domain.CompletionResult
	userID = strings.TrimSpace(userID)
	habitID = strings.TrimSpace(habitID)
	if userID == "" || habitID == "" {
		return res, fmt.Errorf("%w: user id and habit id are required", domain.ErrInvalidArgument)
	}
	if baseXP < 0 {
		return res, fmt.Errorf("%w: base xp must be >= 0, got %d", domain.ErrInvalidArgument, baseXP)
	}
	if at.IsZero() {
		at = a.now()
	}

	l := a.locks.lock(userID)
	defer a.locks.unlock(userID, l)

	previous, err := a.store.LastCompletion(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("read last completion: %w", err)
	}
	before, err := a.store.CumulativeXP(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("read xp: %w", err)
	}

	event := domain.CompletionEvent{
		UserID:          userID,
		HabitOrTaskID:   habitID,
		BaseXP:          baseXP,
		Timestamp:       at,
		IsChainReaction: IsChainReaction(previous, habitID),
	}
	award, err := a.rules.ComputeAward(baseXP, before, event.IsChainReaction)
	if err != nil {
		return res, err
	}
	if award.Granted > math.MaxInt64-before {
		return res, fmt.Errorf("%w: cumulative xp would overflow", domain.ErrInvalidArgument)
	}

	after, err := a.store.AddXP(ctx, userID, award.Granted)
	if err != nil {
		a.log.Warn("xp write failed", "user_id", userID, "habit_id", habitID, "granted", award.Granted, "error", err)
		return res, fmt.Errorf("save xp: %w", err)
	}

	metrics.XPAwarded.Add(float64(award.Granted))
	metrics.Completions.WithLabelValues(strconv.FormatBool(event.IsChainReaction)).Inc()

	if err := a.store.SetLastCompletion(ctx, userID, habitID); err != nil {
		a.log.Warn("last completion write failed", "user_id", userID, "habit_id", habitID, "error", err)
	}

	res = domain.CompletionResult{
		Event:    event,
		Award:    award,
		XPBefore: before,
		XPAfter:  after,
	}
	res.Tier, _ = a.rules.ResolveTier(after)
	res.Level, _ = a.rules.LevelNumber(after)

	streak, err := a.streaks.RecordDay(ctx, userID, habitID, at)
	if err != nil {
		a.log.Warn("streak write failed", "user_id", userID, "habit_id", habitID, "error", err)
	} else {
		res.Streak = &streak
	}

	a.log.Debug("completion recorded",
		"user_id", userID, "habit_id", habitID,
		"granted", award.Granted, "chain", event.IsChainReaction,
		"xp_before", before, "xp_after", after, "tier", res.Tier)
	return res, nil
}
