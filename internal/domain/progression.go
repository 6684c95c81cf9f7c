// Package domain holds the progression engine's core types.
// Users complete habits and tasks, accumulate XP, move through tiers,
// and unlock milestones that are announced exactly once per session.
package domain

import (
	"fmt"
	"math"
	"time"
)

// ─── Tiers ──────────────────────────────────────────────────────────────────

// Tier is a discrete progression stage derived from cumulative XP.
// The set is closed: every switch over Tier must handle all three values.
type Tier int

const (
	TierBeginner Tier = iota
	TierGrowing
	TierMaster
)

// TierCount is the number of defined tiers.
const TierCount = 3

// AllTiers returns the tiers in ascending order.
func AllTiers() []Tier {
	return []Tier{TierBeginner, TierGrowing, TierMaster}
}

func (t Tier) String() string {
	switch t {
	case TierBeginner:
		return "Beginner"
	case TierGrowing:
		return "Growing"
	case TierMaster:
		return "Master"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// MarshalText renders the tier by name in JSON and TOML.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tier name as produced by MarshalText.
func (t *Tier) UnmarshalText(b []byte) error {
	for _, v := range AllTiers() {
		if v.String() == string(b) {
			*t = v
			return nil
		}
	}
	return fmt.Errorf("%w: unknown tier %q", ErrInvalidArgument, string(b))
}

// ─── Multiplier ─────────────────────────────────────────────────────────────

// MultiplierScale is the denominator of Multiplier (basis points).
const MultiplierScale = 10000

// MaxApplyXP is the largest xp Multiplier.Apply accepts without overflow.
const MaxApplyXP = (math.MaxInt64 - MultiplierScale/2) / MultiplierScale

// Multiplier is an exact rational in (0,1], stored in basis points so that
// discounted awards can be rounded without floating-point drift.
type Multiplier int64

// MultiplierFromFloat converts e.g. 0.5 into 5000 basis points.
func MultiplierFromFloat(f float64) Multiplier {
	return Multiplier(f*MultiplierScale + 0.5)
}

// Float64 returns the multiplier as a float for display.
func (m Multiplier) Float64() float64 {
	return float64(m) / MultiplierScale
}

// Apply multiplies xp by m, rounding half up to the nearest integer.
// xp must be in [0, MaxApplyXP] and m at most MultiplierScale.
func (m Multiplier) Apply(xp int64) int64 {
	return (xp*int64(m) + MultiplierScale/2) / MultiplierScale
}

func (m Multiplier) String() string {
	return fmt.Sprintf("%g", m.Float64())
}

// ─── Progress ───────────────────────────────────────────────────────────────

// UserProgress is the per-user record kept in the progress store.
// CumulativeXP never decreases and ShownMilestones only grows.
type UserProgress struct {
	UserID          string            `json:"user_id"`
	CumulativeXP    int64             `json:"cumulative_xp"`
	Streaks         map[string]Streak `json:"streaks"`
	ShownMilestones []string          `json:"shown_milestones"`
	LastCompletedID string            `json:"last_completed_id,omitempty"`
}

// Streak is a per-habit consecutive-day counter.
type Streak struct {
	HabitID     string    `json:"habit_id"`
	CurrentDays int       `json:"current_days"`
	LongestDays int       `json:"longest_days"`
	LastDate    time.Time `json:"last_date"`
}

// CompletionEvent is one user action: a habit, task or exercise completion.
type CompletionEvent struct {
	UserID          string    `json:"user_id"`
	HabitOrTaskID   string    `json:"habit_or_task_id"`
	BaseXP          int64     `json:"base_xp"`
	Timestamp       time.Time `json:"timestamp"`
	IsChainReaction bool      `json:"is_chain_reaction"`
}

// AwardResult is the XP granted for one completion.
type AwardResult struct {
	Granted           int64      `json:"granted"`
	Discounted        int64      `json:"discounted"`
	ChainBonus        int64      `json:"chain_bonus"`
	MultiplierApplied Multiplier `json:"multiplier_applied"`
}

// CompletionResult is what the accumulator reports back after persisting an award.
type CompletionResult struct {
	Event    CompletionEvent `json:"event"`
	Award    AwardResult     `json:"award"`
	XPBefore int64           `json:"xp_before"`
	XPAfter  int64           `json:"xp_after"`
	Tier     Tier            `json:"tier"`
	Level    int             `json:"level"`
	Streak   *Streak         `json:"streak,omitempty"`
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

// TaskRecord is a user's challenge/task entry as written by the task UI.
type TaskRecord struct {
	Name          string `json:"name"`
	Completed     bool   `json:"completed"`
	Certified     bool   `json:"certified"`
	CompletedDate string `json:"completed_date,omitempty"`
}

// Certifiable reports whether the record satisfies a task-certified milestone.
func (r TaskRecord) Certifiable() bool {
	return r.Completed && r.Certified
}

// ─── Milestones ─────────────────────────────────────────────────────────────

// MilestoneKind distinguishes how a milestone is triggered.
type MilestoneKind string

const (
	MilestoneXPThreshold   MilestoneKind = "xp-threshold"
	MilestoneTaskCertified MilestoneKind = "task-certified"
)

// MilestoneDefinition is static configuration, not user data.
type MilestoneDefinition struct {
	ID        string        `json:"id"`
	Kind      MilestoneKind `json:"kind"`
	Threshold int64         `json:"threshold,omitempty"`
	TaskID    string        `json:"task_id,omitempty"`
}

// XPMilestoneID returns the ledger id for an XP threshold, e.g. "xp100".
func XPMilestoneID(threshold int64) string {
	return fmt.Sprintf("xp%d", threshold)
}

// TaskMilestoneID returns the ledger id for a certified task, e.g. "task:abc".
func TaskMilestoneID(taskID string) string {
	return "task:" + taskID
}

// MilestoneState is the per-(user, milestone) lifecycle.
type MilestoneState int

const (
	MilestoneUnreached MilestoneState = iota
	MilestoneReachedUnnotified
	MilestoneNotified
)

func (s MilestoneState) String() string {
	switch s {
	case MilestoneUnreached:
		return "unreached"
	case MilestoneReachedUnnotified:
		return "reached-unnotified"
	case MilestoneNotified:
		return "notified"
	default:
		return fmt.Sprintf("MilestoneState(%d)", int(s))
	}
}

// MilestonePayload carries the details sinks need to render a message.
type MilestonePayload struct {
	Threshold int64  `json:"threshold,omitempty"`
	XP        int64  `json:"xp,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	TaskName  string `json:"task_name,omitempty"`
	Date      string `json:"date"`
}

// MilestoneNotification is emitted once per newly reached milestone.
type MilestoneNotification struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	MilestoneID string           `json:"milestone_id"`
	Kind        MilestoneKind    `json:"kind"`
	Payload     MilestonePayload `json:"payload"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Title returns a short human-readable headline for the notification.
func (n MilestoneNotification) Title() string {
	switch n.Kind {
	case MilestoneXPThreshold:
		return "🏆 XP Milestone Achieved!"
	case MilestoneTaskCertified:
		return "🌟 New Certificate Available!"
	default:
		return "Milestone reached"
	}
}

// Body returns the message body shown in toasts and the inbox.
func (n MilestoneNotification) Body() string {
	switch n.Kind {
	case MilestoneXPThreshold:
		return fmt.Sprintf("You've reached %d XP! Check your certificates.", n.Payload.Threshold)
	case MilestoneTaskCertified:
		return fmt.Sprintf("You've earned a certificate for: %s", n.Payload.TaskName)
	default:
		return n.MilestoneID
	}
}

// ─── Certificates & inbox ───────────────────────────────────────────────────

// Certificate records that a milestone certificate is available to the user.
type Certificate struct {
	UserID      string        `json:"user_id"`
	MilestoneID string        `json:"milestone_id"`
	Kind        MilestoneKind `json:"kind"`
	Name        string        `json:"name"`
	XP          int64         `json:"xp"`
	Date        string        `json:"date"`
	IssuedAt    time.Time     `json:"issued_at"`
}

// InboxNotification is a persisted, user-facing message.
type InboxNotification struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	MilestoneID string    `json:"milestone_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
	Shown       bool      `json:"shown"`
}
