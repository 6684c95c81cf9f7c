package domain

import "context"

// ─── Store Interfaces ───────────────────────────────────────────────────────
// The progress store is an opaque key-value store with atomic per-field
// read, write and listen operations. Infrastructure implements these; the
// engagement engine depends only on them. Implementations wrap every
// failure with ErrStoreUnavailable.

// XPStore holds the cumulative XP counter.
type XPStore interface {
	// CumulativeXP returns the user's current total. Unknown users have 0.
	CumulativeXP(ctx context.Context, userID string) (int64, error)

	// AddXP atomically adds delta (≥ 0) and returns the new total.
	AddXP(ctx context.Context, userID string, delta int64) (int64, error)
}

// TaskStore holds the per-user task records.
type TaskStore interface {
	TaskRecords(ctx context.Context, userID string) (map[string]TaskRecord, error)
	PutTaskRecord(ctx context.Context, userID, taskID string, rec TaskRecord) error
}

// MilestoneLedger is the append-only set of milestones already announced.
type MilestoneLedger interface {
	ShownMilestones(ctx context.Context, userID string) ([]string, error)

	// SetShownMilestone is idempotent: writing an existing marker is a no-op.
	SetShownMilestone(ctx context.Context, userID, milestoneID string) error
}

// CompletionStore tracks the most recently completed habit/task id and
// the per-habit streak counters.
type CompletionStore interface {
	LastCompletion(ctx context.Context, userID string) (string, error)
	SetLastCompletion(ctx context.Context, userID, habitID string) error
	HabitStreaks(ctx context.Context, userID string) (map[string]Streak, error)
	PutHabitStreak(ctx context.Context, userID string, s Streak) error
}

// Unsubscribe unregisters a listener. Safe to call more than once.
type Unsubscribe func()

// Subscriber delivers change notifications for one user, in commit order.
// Both subscriptions fire immediately with the current value and then on
// every subsequent change until unsubscribed.
type Subscriber interface {
	OnCumulativeXPChange(ctx context.Context, userID string, fn func(xp int64)) (Unsubscribe, error)
	OnTaskRecordsChange(ctx context.Context, userID string, fn func(records map[string]TaskRecord)) (Unsubscribe, error)
}

// ProgressStore is the full contract the engine needs from its store.
type ProgressStore interface {
	XPStore
	TaskStore
	MilestoneLedger
	CompletionStore
	Subscriber

	Ping(ctx context.Context) error
	Close() error
}

// ─── Notification Interfaces ────────────────────────────────────────────────

// NotificationSink receives milestone notifications. A failing sink never
// affects other sinks or the dedup ledger.
type NotificationSink interface {
	Name() string
	Notify(ctx context.Context, n MilestoneNotification) error
}
